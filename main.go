package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/example/chatsync/modules/api"
	"github.com/example/chatsync/modules/auth"
	"github.com/example/chatsync/modules/broadcast"
	"github.com/example/chatsync/modules/history"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
)

func main() {
	log.Println("=== chatsync - Real-time Messaging Broker ===")

	shutdownTimeout := getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	logger := app.Logger()

	jwtConfig := auth.DefaultJWTConfig()
	jwtConfig.SecretKey = getEnv("JWT_SECRET", jwtConfig.SecretKey)
	jwtConfig.AccessTokenDuration = getEnvDuration("JWT_TTL", jwtConfig.AccessTokenDuration)

	sessionConfig := broadcast.SessionConfig{
		SendBuffer:   getEnvInt("WS_SEND_BUFFER", 256),
		PingInterval: getEnvDuration("WS_PING_INTERVAL", 25*time.Second),
	}

	apiConfig := api.DefaultConfig()
	apiConfig.Port = getEnv("PORT", apiConfig.Port)
	apiConfig.RatePerSecond = getEnvFloat("WS_RATE_LIMIT", apiConfig.RatePerSecond)
	apiConfig.RateBurst = getEnvInt("WS_RATE_BURST", apiConfig.RateBurst)
	apiConfig.CORSOrigins = getEnv("CORS_ALLOWED_ORIGINS", apiConfig.CORSOrigins)

	// Create modules
	historyModule := history.NewModule(history.Config{
		DBPath:    getEnv("CHAT_DB_PATH", "chatsync.db"),
		RedisAddr: getEnv("REDIS_ADDR", ""),
		CacheTTL:  getEnvDuration("CACHE_TTL", 5*time.Minute),
	}, logger)
	authModule := auth.NewModule(jwtConfig, getEnvInt("BCRYPT_COST", 0), logger)
	broadcastModule := broadcast.NewModule(sessionConfig, logger)
	apiModule, err := api.NewModule(apiConfig, logger)
	if err != nil {
		log.Fatalf("Failed to create api module: %v", err)
	}

	// The hub is shared in-process; it is not exposed via ServiceContainer.
	apiModule.SetHub(broadcastModule.GetHub(), broadcastModule.SessionConfig())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - history: users, groups, messages (ServiceProviderModule + EventEmitterModule)
	// - auth: registration, login, token validation (depends on history)
	// - broadcast: room fan-out (EventConsumerModule)
	// - api: Fiber HTTP/WebSocket gateway (depends on history and auth)
	app.Register(historyModule)
	app.Register(authModule)
	app.Register(broadcastModule)
	app.Register(apiModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(apiConfig.Port)

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(port string) {
	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Println("Event-Driven Delivery:")
	log.Println("  - MessageCreated events -> broadcast module -> personal or group rooms")
	log.Println("  - MessageDeleted events -> broadcast module -> personal or group rooms")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                               - Health check")
	log.Println("  POST   /api/v1/auth/register                 - Create an account")
	log.Println("  POST   /api/v1/auth/login                    - Obtain an access token")
	log.Println("  GET    /api/v1/users                         - List users")
	log.Println("  GET    /api/v1/messages                      - All messages visible to you")
	log.Println("  POST   /api/v1/messages                      - Send a message")
	log.Println("  GET    /api/v1/messages/conversation/:peerId - Direct conversation")
	log.Println("  DELETE /api/v1/messages/:id                  - Delete your message")
	log.Println("  GET    /api/v1/groups                        - Your groups")
	log.Println("  POST   /api/v1/groups                        - Create a group")
	log.Println("  GET    /api/v1/groups/:id/messages           - Group conversation")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws?token=<jwt>):", port)
	log.Println("  Client events: join, join_group, leave_group, send_message, send_group_message")
	log.Println("  Server events: new_message, new_group_message, message_deleted, connection_response, error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: invalid int value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvFloat returns environment variable as float64 or default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Warning: invalid float value for %s: %s, using default: %g", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration returns environment variable as time.Duration or default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}
