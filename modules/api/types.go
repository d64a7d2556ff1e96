package api

import "github.com/example/chatsync/domain/chat"

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SendMessageRequest is the body of POST /api/v1/messages. Exactly one of
// RecipientID and GroupID must be set.
type SendMessageRequest struct {
	ID          string `json:"id,omitempty"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
	Content     string `json:"content"`
}

// CreateGroupRequest is the body of POST /api/v1/groups.
type CreateGroupRequest struct {
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"member_ids,omitempty"`
}

// AddMemberRequest is the body of POST /api/v1/groups/:id/members.
type AddMemberRequest struct {
	UserID int64 `json:"user_id"`
}

// MessageListResponse is the API response for a message snapshot.
type MessageListResponse struct {
	Room     chat.RoomID    `json:"room,omitempty"`
	Messages []chat.Message `json:"messages"`
	Total    int            `json:"total"`
}

// UserListResponse is the API response for listing users.
type UserListResponse struct {
	Users []chat.User `json:"users"`
	Total int         `json:"total"`
}

// GroupListResponse is the API response for listing groups.
type GroupListResponse struct {
	Groups []chat.Group `json:"groups"`
	Total  int          `json:"total"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
