// Package protocol defines the JSON wire format spoken between chat clients
// and the broker over a WebSocket text stream.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/chatsync/domain/chat"
)

// Client to broker events.
const (
	EventJoin             = "join"
	EventJoinGroup        = "join_group"
	EventLeaveGroup       = "leave_group"
	EventSendMessage      = "send_message"
	EventSendGroupMessage = "send_group_message"
)

// Broker to client events.
const (
	EventNewMessage         = "new_message"
	EventNewGroupMessage    = "new_group_message"
	EventMessageDeleted     = "message_deleted"
	EventConnectionResponse = "connection_response"
	EventError              = "error"
)

// Ack statuses carried by connection_response.
const (
	StatusConnected = "connected"
	StatusJoined    = "joined"
	StatusLeft      = "left"
)

// ErrEmptyEvent is returned when an envelope carries no event name.
var ErrEmptyEvent = errors.New("envelope has no event name")

// Envelope is the frame carried by every text message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload subscribes a session to its personal room.
type JoinPayload struct {
	UserID int64 `json:"user_id"`
}

// GroupPayload is used by join_group and leave_group.
type GroupPayload struct {
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id"`
}

// SendMessagePayload creates a direct message. ClientID, when a UUID, becomes
// the message id so the echo can be matched to the pending send.
type SendMessagePayload struct {
	ClientID    string `json:"client_id,omitempty"`
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
}

// SendGroupMessagePayload creates a group message.
type SendGroupMessagePayload struct {
	ClientID string `json:"client_id,omitempty"`
	SenderID int64  `json:"sender_id"`
	GroupID  int64  `json:"group_id"`
	Content  string `json:"content"`
}

// MessageDeletedPayload announces a removal from the authoritative store.
type MessageDeletedPayload struct {
	ID          string `json:"id"`
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
}

// Conversation returns the room the deleted message belonged to.
func (p MessageDeletedPayload) Conversation() chat.RoomID {
	return chat.Message{SenderID: p.SenderID, RecipientID: p.RecipientID, GroupID: p.GroupID}.Conversation()
}

// ConnectionResponse acknowledges a processed join, join_group or leave_group,
// and is also sent once right after the handshake.
type ConnectionResponse struct {
	Status    string      `json:"status"`
	Event     string      `json:"event,omitempty"`
	Room      chat.RoomID `json:"room,omitempty"`
	UserID    int64       `json:"user_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
}

// ErrorPayload reports a rejected client event.
type ErrorPayload struct {
	Event    string `json:"event,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Message  string `json:"message"`
}

// Encode wraps a payload into an envelope and serialises it.
func Encode(event string, payload any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode parses a raw frame into an envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEvent
	}
	return env, nil
}

// DecodePayload unmarshals the envelope data into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Event, err)
	}
	return nil
}
