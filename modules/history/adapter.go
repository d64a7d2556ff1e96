package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/chatsync/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// HistoryPort defines the history operations other modules depend on.
type HistoryPort interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*chat.User, error)
	GetUser(ctx context.Context, userID int64) (*chat.User, error)
	FindUser(ctx context.Context, username string) (*chat.User, error)
	ListUsers(ctx context.Context) ([]chat.User, error)
	CreateGroup(ctx context.Context, name string, createdBy int64, memberIDs []int64) (*chat.Group, error)
	GetGroup(ctx context.Context, groupID int64) (*chat.Group, error)
	ListGroups(ctx context.Context, userID int64) ([]chat.Group, error)
	AddMember(ctx context.Context, groupID, userID int64) error
	RemoveMember(ctx context.Context, groupID, userID int64) error
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	CreateMessage(ctx context.Context, req CreateMessageRequest) (*chat.Message, bool, error)
	ListMessages(ctx context.Context, userID int64) ([]chat.Message, error)
	DirectConversation(ctx context.Context, userID, peerID int64) ([]chat.Message, error)
	GroupConversation(ctx context.Context, groupID int64) ([]chat.Message, error)
	DeleteMessage(ctx context.Context, messageID string, requesterID int64) error
}

// HistoryAdapter implements HistoryPort using the service container.
type HistoryAdapter struct {
	container mono.ServiceContainer
}

// NewHistoryAdapter creates a new HistoryAdapter.
func NewHistoryAdapter(container mono.ServiceContainer) HistoryPort {
	if container == nil {
		panic("history: ServiceContainer is nil")
	}
	return &HistoryAdapter{container: container}
}

type faulted interface {
	Failure() error
}

func call[Req any, Resp faulted](ctx context.Context, container mono.ServiceContainer, service string, req Req) (Resp, error) {
	var resp Resp
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return resp, fmt.Errorf("%s request failed: %w", service, err)
	}
	if err := resp.Failure(); err != nil {
		return resp, err
	}
	return resp, nil
}

// CreateUser registers a user.
func (a *HistoryAdapter) CreateUser(ctx context.Context, username, passwordHash string) (*chat.User, error) {
	resp, err := call[CreateUserRequest, UserResponse](ctx, a.container, ServiceCreateUser,
		CreateUserRequest{Username: username, PasswordHash: passwordHash})
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

// GetUser retrieves a user by ID.
func (a *HistoryAdapter) GetUser(ctx context.Context, userID int64) (*chat.User, error) {
	resp, err := call[GetUserRequest, UserResponse](ctx, a.container, ServiceGetUser, GetUserRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	return resp.User, nil
}

// FindUser retrieves a user by username, including the password hash.
func (a *HistoryAdapter) FindUser(ctx context.Context, username string) (*chat.User, error) {
	resp, err := call[FindUserRequest, FindUserResponse](ctx, a.container, ServiceFindUser, FindUserRequest{Username: username})
	if err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("user %w", ErrNotFound)
	}
	user := *resp.User
	user.PasswordHash = resp.PasswordHash
	return &user, nil
}

// ListUsers returns all users.
func (a *HistoryAdapter) ListUsers(ctx context.Context) ([]chat.User, error) {
	resp, err := call[ListUsersRequest, ListUsersResponse](ctx, a.container, ServiceListUsers, ListUsersRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// CreateGroup creates a group.
func (a *HistoryAdapter) CreateGroup(ctx context.Context, name string, createdBy int64, memberIDs []int64) (*chat.Group, error) {
	resp, err := call[CreateGroupRequest, GroupResponse](ctx, a.container, ServiceCreateGroup,
		CreateGroupRequest{Name: name, CreatedBy: createdBy, MemberIDs: memberIDs})
	if err != nil {
		return nil, err
	}
	return resp.Group, nil
}

// GetGroup retrieves a group.
func (a *HistoryAdapter) GetGroup(ctx context.Context, groupID int64) (*chat.Group, error) {
	resp, err := call[GetGroupRequest, GroupResponse](ctx, a.container, ServiceGetGroup, GetGroupRequest{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	return resp.Group, nil
}

// ListGroups returns the groups a user belongs to.
func (a *HistoryAdapter) ListGroups(ctx context.Context, userID int64) ([]chat.Group, error) {
	resp, err := call[ListGroupsRequest, ListGroupsResponse](ctx, a.container, ServiceListGroups, ListGroupsRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// AddMember adds a user to a group.
func (a *HistoryAdapter) AddMember(ctx context.Context, groupID, userID int64) error {
	_, err := call[MembershipRequest, MembershipResponse](ctx, a.container, ServiceAddMember,
		MembershipRequest{GroupID: groupID, UserID: userID})
	return err
}

// RemoveMember removes a user from a group.
func (a *HistoryAdapter) RemoveMember(ctx context.Context, groupID, userID int64) error {
	_, err := call[MembershipRequest, MembershipResponse](ctx, a.container, ServiceRemoveMember,
		MembershipRequest{GroupID: groupID, UserID: userID})
	return err
}

// IsMember reports whether a user belongs to a group.
func (a *HistoryAdapter) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	resp, err := call[MembershipRequest, MembershipResponse](ctx, a.container, ServiceIsMember,
		MembershipRequest{GroupID: groupID, UserID: userID})
	if err != nil {
		return false, err
	}
	return resp.Member, nil
}

// CreateMessage stores a message. created is false when req.ID was already
// stored and the existing message is returned.
func (a *HistoryAdapter) CreateMessage(ctx context.Context, req CreateMessageRequest) (*chat.Message, bool, error) {
	resp, err := call[CreateMessageRequest, MessageResponse](ctx, a.container, ServiceCreateMessage, req)
	if err != nil {
		return nil, false, err
	}
	return resp.Message, resp.Created, nil
}

// ListMessages returns every message visible to a user.
func (a *HistoryAdapter) ListMessages(ctx context.Context, userID int64) ([]chat.Message, error) {
	resp, err := call[ListMessagesRequest, MessagesResponse](ctx, a.container, ServiceListMessages, ListMessagesRequest{UserID: userID})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// DirectConversation returns the conversation between two users.
func (a *HistoryAdapter) DirectConversation(ctx context.Context, userID, peerID int64) ([]chat.Message, error) {
	resp, err := call[DirectConversationRequest, MessagesResponse](ctx, a.container, ServiceDirectConversation,
		DirectConversationRequest{UserID: userID, PeerID: peerID})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GroupConversation returns the messages of a group.
func (a *HistoryAdapter) GroupConversation(ctx context.Context, groupID int64) ([]chat.Message, error) {
	resp, err := call[GroupConversationRequest, MessagesResponse](ctx, a.container, ServiceGroupConversation,
		GroupConversationRequest{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// DeleteMessage removes a message on behalf of requesterID.
func (a *HistoryAdapter) DeleteMessage(ctx context.Context, messageID string, requesterID int64) error {
	_, err := call[DeleteMessageRequest, MessageResponse](ctx, a.container, ServiceDeleteMessage,
		DeleteMessageRequest{MessageID: messageID, RequesterID: requesterID})
	return err
}
