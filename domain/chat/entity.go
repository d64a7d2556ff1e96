package chat

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DeliveryState tracks a message from the sender's point of view.
type DeliveryState string

// Delivery states.
const (
	StatePending   DeliveryState = "pending"
	StateDelivered DeliveryState = "delivered"
	StateFailed    DeliveryState = "failed"
)

// TargetKind distinguishes direct messages from group messages.
type TargetKind string

// Target kinds.
const (
	TargetDirect TargetKind = "direct"
	TargetGroup  TargetKind = "group"
)

// Target is the addressee of a message: a recipient user or a group.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   int64      `json:"id"`
}

// DirectTarget addresses a single user.
func DirectTarget(userID int64) Target {
	return Target{Kind: TargetDirect, ID: userID}
}

// GroupTarget addresses a group.
func GroupTarget(groupID int64) Target {
	return Target{Kind: TargetGroup, ID: groupID}
}

// Message is an immutable chat message. Only State changes after creation,
// and State is never persisted.
type Message struct {
	ID          string        `json:"id" gorm:"primaryKey;type:text"`
	SenderID    int64         `json:"sender_id" gorm:"index;not null"`
	RecipientID int64         `json:"recipient_id,omitempty" gorm:"index"`
	GroupID     int64         `json:"group_id,omitempty" gorm:"index"`
	Content     string        `json:"content" gorm:"not null;type:text"`
	CreatedAt   time.Time     `json:"created_at" gorm:"index"`
	State       DeliveryState `json:"state,omitempty" gorm:"-"`
}

// TableName returns the table name for the Message entity.
func (Message) TableName() string {
	return "messages"
}

// Target returns the message target.
func (m Message) Target() Target {
	if m.GroupID != 0 {
		return GroupTarget(m.GroupID)
	}
	return DirectTarget(m.RecipientID)
}

// Conversation returns the room this message belongs to. Both parties of a
// direct message resolve the same room.
func (m Message) Conversation() RoomID {
	if m.GroupID != 0 {
		return GroupRoom(m.GroupID)
	}
	return DirectRoom(m.SenderID, m.RecipientID)
}

// DeliveryRooms returns the rooms a message is fanned out to: both personal
// rooms for a direct message, the group room plus the sender's personal room
// otherwise. The sender may not be a group member and still needs its echo.
func (m Message) DeliveryRooms() []RoomID {
	if m.GroupID != 0 {
		return []RoomID{GroupRoom(m.GroupID), PersonalRoom(m.SenderID)}
	}
	if m.SenderID == m.RecipientID {
		return []RoomID{PersonalRoom(m.SenderID)}
	}
	return []RoomID{PersonalRoom(m.SenderID), PersonalRoom(m.RecipientID)}
}

// Less orders messages by creation time, breaking ties by ID.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortMessages sorts msgs in conversation order.
func SortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool { return Less(msgs[i], msgs[j]) })
}

// SameContent reports whether two records with the same ID carry the same payload.
func (m Message) SameContent(o Message) bool {
	return m.SenderID == o.SenderID &&
		m.RecipientID == o.RecipientID &&
		m.GroupID == o.GroupID &&
		m.Content == o.Content &&
		m.CreatedAt.Equal(o.CreatedAt)
}

// User is a registered chat user.
type User struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"uniqueIndex;not null;type:text"`
	PasswordHash string    `json:"-" gorm:"not null;type:text"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the table name for the User entity.
func (User) TableName() string {
	return "users"
}

// Group is a named set of users sharing one group room.
type Group struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"not null;type:text"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Members   []int64   `json:"members,omitempty" gorm:"-"`
}

// TableName returns the table name for the Group entity.
func (Group) TableName() string {
	return "chat_groups"
}

// GroupMember links a user to a group.
type GroupMember struct {
	GroupID  int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID   int64 `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt time.Time
}

// TableName returns the table name for the GroupMember entity.
func (GroupMember) TableName() string {
	return "user_groups"
}

// RoomID identifies a fan-out room.
//
//	user:<id>        personal room of a user
//	dm:<lo>:<hi>     direct conversation, smaller id first
//	group:<id>       group room
type RoomID string

const (
	personalPrefix = "user:"
	directPrefix   = "dm:"
	groupPrefix    = "group:"
)

// PersonalRoom returns the room every session of a user subscribes to at connect.
func PersonalRoom(userID int64) RoomID {
	return RoomID(personalPrefix + strconv.FormatInt(userID, 10))
}

// DirectRoom returns the canonical conversation key for a pair of users.
// DirectRoom(a, b) == DirectRoom(b, a).
func DirectRoom(a, b int64) RoomID {
	if a > b {
		a, b = b, a
	}
	return RoomID(directPrefix + strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10))
}

// GroupRoom returns the room of a group.
func GroupRoom(groupID int64) RoomID {
	return RoomID(groupPrefix + strconv.FormatInt(groupID, 10))
}

// IsGroup reports whether the room is a group room.
func (r RoomID) IsGroup() bool {
	return strings.HasPrefix(string(r), groupPrefix)
}

// IsDirect reports whether the room is a direct conversation.
func (r RoomID) IsDirect() bool {
	return strings.HasPrefix(string(r), directPrefix)
}

// GroupID returns the group id of a group room.
func (r RoomID) GroupID() (int64, error) {
	if !r.IsGroup() {
		return 0, fmt.Errorf("room %q is not a group room", r)
	}
	return strconv.ParseInt(strings.TrimPrefix(string(r), groupPrefix), 10, 64)
}

// Peer returns the other participant of a direct room as seen by self.
func (r RoomID) Peer(self int64) (int64, error) {
	if !r.IsDirect() {
		return 0, fmt.Errorf("room %q is not a direct room", r)
	}
	parts := strings.Split(strings.TrimPrefix(string(r), directPrefix), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed direct room %q", r)
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed direct room %q: %w", r, err)
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed direct room %q: %w", r, err)
	}
	switch self {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return 0, fmt.Errorf("user %d is not part of room %q", self, r)
}

// ParseRoomID validates a textual room id.
func ParseRoomID(s string) (RoomID, error) {
	r := RoomID(s)
	switch {
	case r.IsGroup():
		if _, err := r.GroupID(); err != nil {
			return "", fmt.Errorf("invalid group room %q: %w", s, err)
		}
	case r.IsDirect():
		parts := strings.Split(strings.TrimPrefix(s, directPrefix), ":")
		if len(parts) != 2 {
			return "", fmt.Errorf("invalid direct room %q", s)
		}
		a, errA := strconv.ParseInt(parts[0], 10, 64)
		b, errB := strconv.ParseInt(parts[1], 10, 64)
		if errA != nil || errB != nil || a > b {
			return "", fmt.Errorf("invalid direct room %q", s)
		}
	case strings.HasPrefix(s, personalPrefix):
		if _, err := strconv.ParseInt(strings.TrimPrefix(s, personalPrefix), 10, 64); err != nil {
			return "", fmt.Errorf("invalid personal room %q: %w", s, err)
		}
	default:
		return "", fmt.Errorf("unknown room %q", s)
	}
	return r, nil
}
