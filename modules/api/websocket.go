package api

import (
	"context"
	"errors"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/modules/broadcast"
	"github.com/example/chatsync/modules/history"
	"github.com/example/chatsync/protocol"
	"github.com/gofiber/contrib/websocket"
	"golang.org/x/time/rate"
)

const (
	// eventTimeout bounds the service calls made for one inbound event.
	eventTimeout = 10 * time.Second
	// pongWaitFactor scales the ping interval into the read deadline.
	pongWaitFactor = 2
)

var (
	errUserMismatch = errors.New("user does not match the authenticated session")
	errRateLimited  = errors.New("rate limit exceeded, please slow down")
	errUnknownEvent = errors.New("unknown event")
)

// handleWebSocket handles WebSocket connections at /ws. The handshake has
// already been authenticated by WebSocketAuthMiddleware.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals(UserIDKey).(int64)
	username, _ := c.Locals(UsernameKey).(string)

	sess := broadcast.NewSession(m.newID(), userID, c, m.session, m.logger)
	m.hub.Register(sess)
	defer m.hub.Unregister(sess)

	m.logger.Info("WebSocket connected", "session", sess.ID, "user", userID, "username", username)

	m.reply(sess, protocol.EventConnectionResponse, protocol.ConnectionResponse{
		Status:    protocol.StatusConnected,
		UserID:    userID,
		SessionID: sess.ID,
	})

	if m.session.PingInterval > 0 {
		pongWait := m.session.PingInterval * pongWaitFactor
		_ = c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	limiter := rate.NewLimiter(rate.Limit(m.config.RatePerSecond), m.config.RateBurst)

	for {
		messageType, frame, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("WebSocket read error", "session", sess.ID, "error", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if m.session.PingInterval > 0 {
			_ = c.SetReadDeadline(time.Now().Add(m.session.PingInterval * pongWaitFactor))
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			m.replyError(sess, "", "", err)
			continue
		}
		if m.config.RatePerSecond > 0 && !limiter.Allow() {
			m.replyError(sess, env.Event, clientIDOf(env), errRateLimited)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		m.handleEvent(ctx, sess, env)
		cancel()
	}

	m.logger.Info("WebSocket disconnected", "session", sess.ID, "user", userID)
}

// handleEvent processes one inbound wire event for a session.
func (m *APIModule) handleEvent(ctx context.Context, sess *broadcast.Session, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoin:
		m.handleJoin(sess, env)
	case protocol.EventJoinGroup:
		m.handleJoinGroup(ctx, sess, env)
	case protocol.EventLeaveGroup:
		m.handleLeaveGroup(sess, env)
	case protocol.EventSendMessage:
		m.handleSendMessage(ctx, sess, env)
	case protocol.EventSendGroupMessage:
		m.handleSendGroupMessage(ctx, sess, env)
	default:
		m.replyError(sess, env.Event, "", errUnknownEvent)
	}
}

func (m *APIModule) handleJoin(sess *broadcast.Session, env protocol.Envelope) {
	var p protocol.JoinPayload
	if err := env.DecodePayload(&p); err != nil {
		m.replyError(sess, env.Event, "", err)
		return
	}
	if p.UserID != sess.UserID {
		m.replyError(sess, env.Event, "", errUserMismatch)
		return
	}

	room := chat.PersonalRoom(sess.UserID)
	m.hub.Join(sess, room)
	m.ack(sess, protocol.StatusJoined, env.Event, room)
}

func (m *APIModule) handleJoinGroup(ctx context.Context, sess *broadcast.Session, env protocol.Envelope) {
	var p protocol.GroupPayload
	if err := env.DecodePayload(&p); err != nil {
		m.replyError(sess, env.Event, "", err)
		return
	}
	if p.UserID != 0 && p.UserID != sess.UserID {
		m.replyError(sess, env.Event, "", errUserMismatch)
		return
	}

	member, err := m.history.IsMember(ctx, p.GroupID, sess.UserID)
	if err != nil {
		m.replyError(sess, env.Event, "", err)
		return
	}
	if !member {
		m.replyError(sess, env.Event, "", history.ErrForbidden)
		return
	}

	room := chat.GroupRoom(p.GroupID)
	m.hub.Join(sess, room)
	m.ack(sess, protocol.StatusJoined, env.Event, room)
}

func (m *APIModule) handleLeaveGroup(sess *broadcast.Session, env protocol.Envelope) {
	var p protocol.GroupPayload
	if err := env.DecodePayload(&p); err != nil {
		m.replyError(sess, env.Event, "", err)
		return
	}

	room := chat.GroupRoom(p.GroupID)
	m.hub.Leave(sess, room)
	m.ack(sess, protocol.StatusLeft, env.Event, room)
}

// handleSendMessage persists a direct message. Delivery, including the
// sender's own echo, happens through the broadcast module. A resent client
// id is not fanned out again; only the resending session gets the echo.
func (m *APIModule) handleSendMessage(ctx context.Context, sess *broadcast.Session, env protocol.Envelope) {
	var p protocol.SendMessagePayload
	if err := env.DecodePayload(&p); err != nil {
		m.replyError(sess, env.Event, "", err)
		return
	}
	if p.SenderID != 0 && p.SenderID != sess.UserID {
		m.replyError(sess, env.Event, p.ClientID, errUserMismatch)
		return
	}

	msg, created, err := m.history.CreateMessage(ctx, history.CreateMessageRequest{
		ID:          p.ClientID,
		SenderID:    sess.UserID,
		RecipientID: p.RecipientID,
		Content:     p.Content,
	})
	if err != nil {
		m.replyError(sess, env.Event, p.ClientID, err)
		return
	}
	if !created {
		m.reply(sess, protocol.EventNewMessage, msg)
	}
}

func (m *APIModule) handleSendGroupMessage(ctx context.Context, sess *broadcast.Session, env protocol.Envelope) {
	var p protocol.SendGroupMessagePayload
	if err := env.DecodePayload(&p); err != nil {
		m.replyError(sess, env.Event, "", err)
		return
	}
	if p.SenderID != 0 && p.SenderID != sess.UserID {
		m.replyError(sess, env.Event, p.ClientID, errUserMismatch)
		return
	}

	msg, created, err := m.history.CreateMessage(ctx, history.CreateMessageRequest{
		ID:       p.ClientID,
		SenderID: sess.UserID,
		GroupID:  p.GroupID,
		Content:  p.Content,
	})
	if err != nil {
		m.replyError(sess, env.Event, p.ClientID, err)
		return
	}
	if !created {
		m.reply(sess, protocol.EventNewGroupMessage, msg)
	}
}

func (m *APIModule) ack(sess *broadcast.Session, status, event string, room chat.RoomID) {
	m.reply(sess, protocol.EventConnectionResponse, protocol.ConnectionResponse{
		Status: status,
		Event:  event,
		Room:   room,
		UserID: sess.UserID,
	})
}

func (m *APIModule) replyError(sess *broadcast.Session, event, clientID string, err error) {
	m.logger.Debug("Event rejected", "session", sess.ID, "event", event, "client_id", clientID, "error", err)
	m.reply(sess, protocol.EventError, protocol.ErrorPayload{
		Event:    event,
		ClientID: clientID,
		Message:  err.Error(),
	})
}

func (m *APIModule) reply(sess *broadcast.Session, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		m.logger.Error("Failed to encode reply", "event", event, "error", err)
		return
	}
	if !m.hub.Send(sess, frame) {
		m.logger.Warn("Reply dropped", "session", sess.ID, "event", event)
	}
}

// clientIDOf extracts the client id of a send event, if any.
func clientIDOf(env protocol.Envelope) string {
	var p struct {
		ClientID string `json:"client_id"`
	}
	if len(env.Data) == 0 || env.DecodePayload(&p) != nil {
		return ""
	}
	return p.ClientID
}
