package history

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/example/chatsync/domain/chat"
)

// Validation constants
const (
	MaxUsernameLength  = 50
	MaxGroupNameLength = 100
	MaxMessageLength   = 5000
)

// Domain errors
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrUsernameTaken = errors.New("username already taken")
	ErrInvalidInput  = errors.New("invalid input")
)

// Validation errors
var (
	ErrUsernameEmpty    = errors.New("username cannot be empty")
	ErrUsernameTooLong  = errors.New("username exceeds maximum length")
	ErrUsernameInvalid  = errors.New("username contains invalid characters")
	ErrGroupNameEmpty   = errors.New("group name cannot be empty")
	ErrGroupNameTooLong = errors.New("group name exceeds maximum length")
	ErrMessageEmpty     = errors.New("message content cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrMessageInvalid   = errors.New("message contains invalid characters")
	ErrTargetInvalid    = errors.New("message must target exactly one user or group")
)

var validationErrors = []error{
	ErrInvalidInput,
	ErrUsernameEmpty, ErrUsernameTooLong, ErrUsernameInvalid,
	ErrGroupNameEmpty, ErrGroupNameTooLong,
	ErrMessageEmpty, ErrMessageTooLong, ErrMessageInvalid,
	ErrTargetInvalid,
}

// ValidateUsername validates a username.
func ValidateUsername(username string) error {
	if username == "" {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !utf8.ValidString(username) {
		return ErrUsernameInvalid
	}
	return nil
}

// ValidateGroupName validates a group name.
func ValidateGroupName(name string) error {
	if name == "" {
		return ErrGroupNameEmpty
	}
	if len(name) > MaxGroupNameLength {
		return ErrGroupNameTooLong
	}
	return nil
}

// ValidateMessage validates a message content.
func ValidateMessage(content string) error {
	if content == "" {
		return ErrMessageEmpty
	}
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}

// Fault codes carried across the service container.
const (
	CodeNotFound  = "not_found"
	CodeForbidden = "forbidden"
	CodeConflict  = "conflict"
	CodeInvalid   = "invalid"
)

// Fault is embedded in every service response. Domain failures travel as a
// Fault so callers can still tell a missing record from a broken bus.
type Fault struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Failure converts the fault back into an error wrapping the domain sentinel.
func (f Fault) Failure() error {
	switch f.Code {
	case "":
		return nil
	case CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, f.Message)
	case CodeForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, f.Message)
	case CodeConflict:
		return fmt.Errorf("%w: %s", ErrUsernameTaken, f.Message)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidInput, f.Message)
	}
}

// toFault splits err into a domain fault or an internal error.
func toFault(err error) (Fault, error) {
	switch {
	case errors.Is(err, ErrNotFound):
		return Fault{Code: CodeNotFound, Message: err.Error()}, nil
	case errors.Is(err, ErrForbidden):
		return Fault{Code: CodeForbidden, Message: err.Error()}, nil
	case errors.Is(err, ErrUsernameTaken):
		return Fault{Code: CodeConflict, Message: err.Error()}, nil
	}
	if IsValidation(err) {
		return Fault{Code: CodeInvalid, Message: err.Error()}, nil
	}
	return Fault{}, err
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// Service names
const (
	ServiceCreateUser         = "create-user"
	ServiceGetUser            = "get-user"
	ServiceFindUser           = "find-user"
	ServiceListUsers          = "list-users"
	ServiceCreateGroup        = "create-group"
	ServiceGetGroup           = "get-group"
	ServiceListGroups         = "list-groups"
	ServiceAddMember          = "add-member"
	ServiceRemoveMember       = "remove-member"
	ServiceIsMember           = "is-member"
	ServiceCreateMessage      = "create-message"
	ServiceListMessages       = "list-messages"
	ServiceDirectConversation = "direct-conversation"
	ServiceGroupConversation  = "group-conversation"
	ServiceDeleteMessage      = "delete-message"
)

// CreateUserRequest registers a user with an already hashed password.
type CreateUserRequest struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

// UserResponse carries a single user.
type UserResponse struct {
	Fault
	User *chat.User `json:"user,omitempty"`
}

// GetUserRequest looks a user up by id.
type GetUserRequest struct {
	UserID int64 `json:"user_id"`
}

// FindUserRequest looks a user up by username.
type FindUserRequest struct {
	Username string `json:"username"`
}

// FindUserResponse includes the password hash, which chat.User never serialises.
type FindUserResponse struct {
	Fault
	User         *chat.User `json:"user,omitempty"`
	PasswordHash string     `json:"password_hash,omitempty"`
}

// ListUsersRequest lists all users.
type ListUsersRequest struct{}

// ListUsersResponse carries all users.
type ListUsersResponse struct {
	Fault
	Users []chat.User `json:"users"`
}

// CreateGroupRequest creates a group; the creator always becomes a member.
type CreateGroupRequest struct {
	Name      string  `json:"name"`
	CreatedBy int64   `json:"created_by"`
	MemberIDs []int64 `json:"member_ids,omitempty"`
}

// GroupResponse carries a single group with its member ids.
type GroupResponse struct {
	Fault
	Group *chat.Group `json:"group,omitempty"`
}

// GetGroupRequest looks a group up by id.
type GetGroupRequest struct {
	GroupID int64 `json:"group_id"`
}

// ListGroupsRequest lists the groups a user belongs to.
type ListGroupsRequest struct {
	UserID int64 `json:"user_id"`
}

// ListGroupsResponse carries groups.
type ListGroupsResponse struct {
	Fault
	Groups []chat.Group `json:"groups"`
}

// MembershipRequest is used by add-member, remove-member and is-member.
type MembershipRequest struct {
	GroupID int64 `json:"group_id"`
	UserID  int64 `json:"user_id"`
}

// MembershipResponse reports membership after the operation.
type MembershipResponse struct {
	Fault
	Member bool `json:"member"`
}

// CreateMessageRequest stores a message. ID is optional.
type CreateMessageRequest struct {
	ID          string `json:"id,omitempty"`
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	GroupID     int64  `json:"group_id,omitempty"`
	Content     string `json:"content"`
}

// MessageResponse carries a single message.
type MessageResponse struct {
	Fault
	Message *chat.Message `json:"message,omitempty"`
	Created bool          `json:"created"`
}

// ListMessagesRequest fetches every message visible to a user.
type ListMessagesRequest struct {
	UserID int64 `json:"user_id"`
}

// DirectConversationRequest fetches the direct conversation between two users.
type DirectConversationRequest struct {
	UserID int64 `json:"user_id"`
	PeerID int64 `json:"peer_id"`
}

// GroupConversationRequest fetches a group conversation.
type GroupConversationRequest struct {
	GroupID int64 `json:"group_id"`
}

// MessagesResponse carries an ordered message collection.
type MessagesResponse struct {
	Fault
	Messages []chat.Message `json:"messages"`
}

// DeleteMessageRequest removes a message on behalf of RequesterID.
type DeleteMessageRequest struct {
	MessageID   string `json:"message_id"`
	RequesterID int64  `json:"requester_id"`
}
