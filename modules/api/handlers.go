package api

import (
	"errors"
	"strconv"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/modules/auth"
	"github.com/example/chatsync/modules/history"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", WebSocketAuthMiddleware(m.auth))
	app.Get("/ws", websocket.New(m.handleWebSocket))

	api := app.Group("/api/v1")

	// Public
	api.Post("/auth/register", m.register)
	api.Post("/auth/login", m.login)

	// Protected
	protected := api.Group("", AuthMiddleware(m.auth))
	protected.Get("/users", m.listUsers)

	protected.Get("/messages", m.listMessages)
	protected.Post("/messages", m.sendMessage)
	protected.Get("/messages/conversation/:peerId", m.directConversation)
	protected.Delete("/messages/:id", m.deleteMessage)

	protected.Get("/groups", m.listGroups)
	protected.Post("/groups", m.createGroup)
	protected.Get("/groups/:id", m.getGroup)
	protected.Post("/groups/:id/members", m.addMember)
	protected.Delete("/groups/:id/members/:userId", m.removeMember)
	protected.Get("/groups/:id/messages", m.groupConversation)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	stats := m.hub.Stats()
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":     "api",
			"sessions":   m.hub.SessionCount(),
			"rooms":      m.hub.Registry().RoomCount(),
			"dispatched": stats.Dispatched,
			"delivered":  stats.Delivered,
		},
	})
}

// register handles POST /api/v1/auth/register.
func (m *APIModule) register(c *fiber.Ctx) error {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	user, err := m.auth.Register(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// login handles POST /api/v1/auth/login.
func (m *APIModule) login(c *fiber.Ctx) error {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	tokens, err := m.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.JSON(tokens)
}

// listUsers handles GET /api/v1/users.
func (m *APIModule) listUsers(c *fiber.Ctx) error {
	users, err := m.history.ListUsers(c.UserContext())
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.JSON(UserListResponse{Users: users, Total: len(users)})
}

// listMessages handles GET /api/v1/messages: every message the caller sent,
// received, or can read as a group member.
func (m *APIModule) listMessages(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	messages, err := m.history.ListMessages(c.UserContext(), userID)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.JSON(MessageListResponse{Messages: messages, Total: len(messages)})
}

// sendMessage handles POST /api/v1/messages. The stored message is fanned
// out exactly like one sent over the WebSocket.
func (m *APIModule) sendMessage(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	msg, created, err := m.history.CreateMessage(c.UserContext(), history.CreateMessageRequest{
		ID:          req.ID,
		SenderID:    userID,
		RecipientID: req.RecipientID,
		GroupID:     req.GroupID,
		Content:     req.Content,
	})
	if err != nil {
		return m.errorResponse(c, err)
	}
	if !created {
		return c.JSON(msg)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// directConversation handles GET /api/v1/messages/conversation/:peerId.
func (m *APIModule) directConversation(c *fiber.Ctx) error {
	userID, _ := currentUser(c)
	peerID, err := paramID(c, "peerId")
	if err != nil {
		return badRequest(c, "Invalid peer ID")
	}

	messages, err := m.history.DirectConversation(c.UserContext(), userID, peerID)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.JSON(MessageListResponse{
		Room:     chat.DirectRoom(userID, peerID),
		Messages: messages,
		Total:    len(messages),
	})
}

// deleteMessage handles DELETE /api/v1/messages/:id.
func (m *APIModule) deleteMessage(c *fiber.Ctx) error {
	userID, _ := currentUser(c)
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Message ID is required")
	}

	if err := m.history.DeleteMessage(c.UserContext(), id, userID); err != nil {
		return m.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// listGroups handles GET /api/v1/groups.
func (m *APIModule) listGroups(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	groups, err := m.history.ListGroups(c.UserContext(), userID)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.JSON(GroupListResponse{Groups: groups, Total: len(groups)})
}

// createGroup handles POST /api/v1/groups.
func (m *APIModule) createGroup(c *fiber.Ctx) error {
	userID, _ := currentUser(c)

	var req CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	group, err := m.history.CreateGroup(c.UserContext(), req.Name, userID, req.MemberIDs)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(group)
}

// getGroup handles GET /api/v1/groups/:id.
func (m *APIModule) getGroup(c *fiber.Ctx) error {
	groupID, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid group ID")
	}

	group, err := m.history.GetGroup(c.UserContext(), groupID)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.JSON(group)
}

// addMember handles POST /api/v1/groups/:id/members. Only members may add others.
func (m *APIModule) addMember(c *fiber.Ctx) error {
	userID, _ := currentUser(c)
	groupID, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid group ID")
	}

	var req AddMemberRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return badRequest(c, "user_id is required")
	}

	if err := m.requireMember(c, groupID, userID); err != nil {
		return m.errorResponse(c, err)
	}
	if err := m.history.AddMember(c.UserContext(), groupID, req.UserID); err != nil {
		return m.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"group_id": groupID,
		"user_id":  req.UserID,
	})
}

// removeMember handles DELETE /api/v1/groups/:id/members/:userId. Members
// may remove themselves; the group creator may remove anyone.
func (m *APIModule) removeMember(c *fiber.Ctx) error {
	userID, _ := currentUser(c)
	groupID, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid group ID")
	}
	target, err := paramID(c, "userId")
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	if target != userID {
		group, err := m.history.GetGroup(c.UserContext(), groupID)
		if err != nil {
			return m.errorResponse(c, err)
		}
		if group.CreatedBy != userID {
			return m.errorResponse(c, history.ErrForbidden)
		}
	}

	if err := m.history.RemoveMember(c.UserContext(), groupID, target); err != nil {
		return m.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// groupConversation handles GET /api/v1/groups/:id/messages.
func (m *APIModule) groupConversation(c *fiber.Ctx) error {
	userID, _ := currentUser(c)
	groupID, err := paramID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid group ID")
	}

	if err := m.requireMember(c, groupID, userID); err != nil {
		return m.errorResponse(c, err)
	}

	messages, err := m.history.GroupConversation(c.UserContext(), groupID)
	if err != nil {
		return m.errorResponse(c, err)
	}
	return c.JSON(MessageListResponse{
		Room:     chat.GroupRoom(groupID),
		Messages: messages,
		Total:    len(messages),
	})
}

// requireMember returns ErrForbidden when userID is not a member of groupID.
func (m *APIModule) requireMember(c *fiber.Ctx, groupID, userID int64) error {
	ok, err := m.history.IsMember(c.UserContext(), groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return history.ErrForbidden
	}
	return nil
}

// errorResponse maps domain errors to HTTP status codes.
func (m *APIModule) errorResponse(c *fiber.Ctx, err error) error {
	status, code := statusFor(err)
	if status == fiber.StatusInternalServerError {
		m.logger.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(status).JSON(ErrorResponse{
			Error:   code,
			Message: "Internal Server Error",
		})
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, history.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, history.ErrUsernameTaken), errors.Is(err, auth.ErrUsernameTaken):
		return fiber.StatusConflict, "conflict"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fiber.StatusUnauthorized, "unauthorized"
	case history.IsValidation(err),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidRequest):
		return fiber.StatusBadRequest, "validation_error"
	default:
		return fiber.StatusInternalServerError, "server_error"
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	return strconv.ParseInt(c.Params(name), 10, 64)
}
