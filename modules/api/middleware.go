package api

import (
	"strings"

	"github.com/example/chatsync/modules/auth"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	// UserIDKey is the key used to store the authenticated user ID in the Fiber context.
	UserIDKey = "user_id"
	// UsernameKey is the key used to store the authenticated username.
	UsernameKey = "username"
)

// AuthMiddleware creates a middleware that validates Bearer JWT tokens.
func AuthMiddleware(authPort auth.AuthPort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Use: Bearer <token>")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return unauthorized(c, "Token is required")
		}

		identity, err := authPort.ValidateToken(c.UserContext(), token)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(UserIDKey, identity.UserID)
		c.Locals(UsernameKey, identity.Username)
		return c.Next()
	}
}

// WebSocketAuthMiddleware authenticates the handshake of /ws. Browsers cannot
// set headers on a WebSocket upgrade, so the token travels in the query string.
func WebSocketAuthMiddleware(authPort auth.AuthPort) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			return unauthorized(c, "Token is required")
		}

		identity, err := authPort.ValidateToken(c.UserContext(), token)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(UserIDKey, identity.UserID)
		c.Locals(UsernameKey, identity.Username)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

// currentUser returns the authenticated user ID set by the auth middleware.
func currentUser(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals(UserIDKey).(int64)
	return id, ok && id != 0
}
