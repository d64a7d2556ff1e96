package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/chatsync/modules/auth"
	"github.com/example/chatsync/modules/broadcast"
	"github.com/example/chatsync/modules/history"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	gonanoid "github.com/jaevor/go-nanoid"
)

// Config holds the HTTP gateway settings.
type Config struct {
	Port string
	// RatePerSecond and RateBurst bound inbound WebSocket events per connection.
	RatePerSecond float64
	RateBurst     int
	CORSOrigins   string
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Port:          "3000",
		RatePerSecond: 20,
		RateBurst:     40,
		CORSOrigins:   "*",
	}
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	app     *fiber.App
	config  Config
	history history.HistoryPort
	auth    auth.AuthPort
	hub     *broadcast.Hub
	session broadcast.SessionConfig
	newID   func() string
	logger  types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(config Config, logger types.Logger) (*APIModule, error) {
	newID, err := gonanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("failed to create session id generator: %w", err)
	}
	if config.Port == "" {
		config.Port = DefaultConfig().Port
	}
	return &APIModule{
		config:  config,
		session: broadcast.DefaultSessionConfig(),
		newID:   newID,
		logger:  logger.WithModule("api"),
	}, nil
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"history", "auth"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "history":
		m.history = history.NewHistoryAdapter(container)
	case "auth":
		m.auth = auth.NewAuthAdapter(container)
	}
}

// SetHub sets the broadcast hub and the session settings (called from main.go).
func (m *APIModule) SetHub(hub *broadcast.Hub, session broadcast.SessionConfig) {
	m.hub = hub
	m.session = session
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.history == nil {
		return fmt.Errorf("history adapter dependency not set")
	}
	if m.auth == nil {
		return fmt.Errorf("auth adapter dependency not set")
	}
	if m.hub == nil {
		return fmt.Errorf("broadcast hub dependency not set")
	}

	m.app = m.newApp()

	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(":" + m.config.Port); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "port", m.config.Port)
	return nil
}

// newApp builds the Fiber application with middleware and routes.
func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "chatsync",
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		Next: func(c *fiber.Ctx) bool {
			return c.Get("Upgrade") == "websocket"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.config.CORSOrigins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.setupRoutes(app)
	return app
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(_ context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	return m.app.Shutdown()
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{
		"port": m.config.Port,
	}
	if m.hub != nil {
		details["sessions"] = m.hub.SessionCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
