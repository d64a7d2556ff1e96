package client

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ReconnectConfig bounds automatic reconnection.
type ReconnectConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// Config configures a client Session.
type Config struct {
	ServerURL    string          `yaml:"server_url"`
	APIURL       string          `yaml:"api_url"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
	PingInterval time.Duration   `yaml:"ping_interval"`
	PongWait     time.Duration   `yaml:"pong_wait"`
	SendBuffer   int             `yaml:"send_buffer"`
	// Retention bounds how long live events are kept for conversations that
	// were never opened.
	Retention time.Duration `yaml:"retention"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ServerURL: "ws://localhost:3000/ws",
		APIURL:    "http://localhost:3000",
		Reconnect: ReconnectConfig{
			MaxAttempts:    5,
			BaseDelay:      time.Second,
			MaxDelay:       5 * time.Second,
			AttemptTimeout: 10 * time.Second,
		},
		PingInterval: 25 * time.Second,
		PongWait:     60 * time.Second,
		SendBuffer:   256,
		Retention:    10 * time.Minute,
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a bounded,
// non-decreasing backoff or a working heartbeat.
func (c Config) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if err := c.Reconnect.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.PingInterval <= 0 {
		errs = append(errs, errors.New("ping_interval must be positive"))
	}
	if c.PongWait <= c.PingInterval {
		errs = append(errs, errors.New("pong_wait must exceed ping_interval"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}
	return errors.Join(errs...)
}

// Validate checks the reconnection bounds.
func (r ReconnectConfig) Validate() error {
	var errs []error
	if r.MaxAttempts <= 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must be positive"))
	}
	if r.BaseDelay <= 0 {
		errs = append(errs, errors.New("reconnect.base_delay must be positive"))
	}
	if r.MaxDelay < r.BaseDelay {
		errs = append(errs, errors.New("reconnect.max_delay must not be below base_delay"))
	}
	if r.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("reconnect.attempt_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Backoff returns the delay before reconnection attempt n (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (r ReconnectConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= r.MaxDelay/2 {
			return r.MaxDelay
		}
		delay *= 2
	}
	return min(delay, r.MaxDelay)
}
