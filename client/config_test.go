package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no server url", mutate: func(c *Config) { c.ServerURL = "" }},
		{name: "no api url", mutate: func(c *Config) { c.APIURL = "" }},
		{name: "zero attempts", mutate: func(c *Config) { c.Reconnect.MaxAttempts = 0 }},
		{name: "zero base delay", mutate: func(c *Config) { c.Reconnect.BaseDelay = 0 }},
		{name: "max below base", mutate: func(c *Config) { c.Reconnect.MaxDelay = c.Reconnect.BaseDelay / 2 }},
		{name: "no attempt timeout", mutate: func(c *Config) { c.Reconnect.AttemptTimeout = 0 }},
		{name: "pong wait not above ping", mutate: func(c *Config) { c.PongWait = c.PingInterval }},
		{name: "zero send buffer", mutate: func(c *Config) { c.SendBuffer = 0 }},
		{name: "zero retention", mutate: func(c *Config) { c.Retention = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	data := []byte(`
server_url: ws://chat.example:9000/ws
reconnect:
  max_attempts: 8
  base_delay: 250ms
  max_delay: 4s
retention: 2m
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://chat.example:9000/ws", cfg.ServerURL)
	assert.Equal(t, "http://localhost:3000", cfg.APIURL, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 4*time.Second, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Reconnect.AttemptTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Retention)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconnect:\n  base_delay: 10s\n  max_delay: 1s\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReconnectConfig_Backoff(t *testing.T) {
	r := ReconnectConfig{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, r.Backoff(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, r.Backoff(0))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 80; attempt++ {
		d := r.Backoff(attempt)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, r.MaxDelay)
		prev = d
	}
}
