package events

import (
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/go-monolith/mono/pkg/helper"
)

// MessageCreatedEvent is emitted once a message has been stored.
type MessageCreatedEvent struct {
	Message chat.Message `json:"message"`
}

// MessageDeletedEvent is emitted when a sender removes one of their messages.
type MessageDeletedEvent struct {
	MessageID   string    `json:"message_id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id,omitempty"`
	GroupID     int64     `json:"group_id,omitempty"`
	DeletedAt   time.Time `json:"deleted_at"`
}

// Event definitions for the history domain.
var (
	MessageCreatedV1 = helper.EventDefinition[MessageCreatedEvent](
		"history",
		"MessageCreated",
		"v1",
	)

	MessageDeletedV1 = helper.EventDefinition[MessageDeletedEvent](
		"history",
		"MessageDeleted",
		"v1",
	)
)
