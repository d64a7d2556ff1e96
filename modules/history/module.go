package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/chatsync/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Config holds history module configuration.
type Config struct {
	DBPath    string
	RedisAddr string // empty disables the snapshot cache
	CacheTTL  time.Duration
}

// Module stores users, groups and messages and announces message changes.
type Module struct {
	config   Config
	db       *gorm.DB
	cache    *Cache
	service  *Service
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new history module.
func NewModule(config Config, logger types.Logger) *Module {
	if config.DBPath == "" {
		config.DBPath = "chatsync.db"
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	return &Module{
		config: config,
		logger: logger.WithModule("history"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "history"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.MessageCreatedV1.ToBase(),
		events.MessageDeletedV1.ToBase(),
	}
}

// Start opens the database and, when configured, the Redis cache.
func (m *Module) Start(ctx context.Context) error {
	db, err := OpenDB(m.config.DBPath)
	if err != nil {
		return err
	}
	m.db = db

	var cache snapshotCache
	if m.config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: m.config.RedisAddr})
		c := NewCache(client, "chatsync:", m.config.CacheTTL)
		if err := c.Ping(ctx); err != nil {
			m.logger.Warn("Redis unavailable, snapshot cache disabled", "addr", m.config.RedisAddr, "error", err)
			_ = c.Close()
		} else {
			m.cache = c
			cache = c
		}
	}

	m.service = NewService(NewRepository(db), cache, m.logger)
	m.logger.Info("History module started", "database", m.config.DBPath, "cache", m.cache != nil)
	return nil
}

// Stop closes the database and cache connections.
func (m *Module) Stop(_ context.Context) error {
	if m.cache != nil {
		_ = m.cache.Close()
	}
	if m.db != nil {
		if sqlDB, err := m.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	m.logger.Info("History module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{Healthy: false, Message: "database not initialized"}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("failed to get database connection: %v", err)}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("database ping failed: %v", err)}
	}

	details := map[string]any{"database": m.config.DBPath}
	if m.cache != nil {
		details["cache"] = m.cache.GetStats()
	}
	return mono.HealthStatus{Healthy: true, Message: "operational", Details: details}
}

func register[Req, Resp any](container mono.ServiceContainer, name string, handler func(context.Context, Req, *mono.Msg) (Resp, error)) error {
	if err := helper.RegisterTypedRequestReplyService(container, name, json.Unmarshal, json.Marshal, handler); err != nil {
		return fmt.Errorf("failed to register %s service: %w", name, err)
	}
	return nil
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	registrations := []func() error{
		func() error { return register(container, ServiceCreateUser, m.handleCreateUser) },
		func() error { return register(container, ServiceGetUser, m.handleGetUser) },
		func() error { return register(container, ServiceFindUser, m.handleFindUser) },
		func() error { return register(container, ServiceListUsers, m.handleListUsers) },
		func() error { return register(container, ServiceCreateGroup, m.handleCreateGroup) },
		func() error { return register(container, ServiceGetGroup, m.handleGetGroup) },
		func() error { return register(container, ServiceListGroups, m.handleListGroups) },
		func() error { return register(container, ServiceAddMember, m.handleAddMember) },
		func() error { return register(container, ServiceRemoveMember, m.handleRemoveMember) },
		func() error { return register(container, ServiceIsMember, m.handleIsMember) },
		func() error { return register(container, ServiceCreateMessage, m.handleCreateMessage) },
		func() error { return register(container, ServiceListMessages, m.handleListMessages) },
		func() error { return register(container, ServiceDirectConversation, m.handleDirectConversation) },
		func() error { return register(container, ServiceGroupConversation, m.handleGroupConversation) },
		func() error { return register(container, ServiceDeleteMessage, m.handleDeleteMessage) },
	}
	for _, r := range registrations {
		if err := r(); err != nil {
			return err
		}
	}

	m.logger.Info("Registered history services", "count", len(registrations))
	return nil
}

func (m *Module) handleCreateUser(ctx context.Context, req CreateUserRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.CreateUser(ctx, req.Username, req.PasswordHash)
	if err != nil {
		f, err := toFault(err)
		return UserResponse{Fault: f}, err
	}
	return UserResponse{User: user}, nil
}

func (m *Module) handleGetUser(ctx context.Context, req GetUserRequest, _ *mono.Msg) (UserResponse, error) {
	user, err := m.service.GetUser(ctx, req.UserID)
	if err != nil {
		f, err := toFault(err)
		return UserResponse{Fault: f}, err
	}
	return UserResponse{User: user}, nil
}

func (m *Module) handleFindUser(ctx context.Context, req FindUserRequest, _ *mono.Msg) (FindUserResponse, error) {
	user, err := m.service.FindUser(ctx, req.Username)
	if err != nil {
		f, err := toFault(err)
		return FindUserResponse{Fault: f}, err
	}
	return FindUserResponse{User: user, PasswordHash: user.PasswordHash}, nil
}

func (m *Module) handleListUsers(ctx context.Context, _ ListUsersRequest, _ *mono.Msg) (ListUsersResponse, error) {
	users, err := m.service.ListUsers(ctx)
	if err != nil {
		f, err := toFault(err)
		return ListUsersResponse{Fault: f}, err
	}
	return ListUsersResponse{Users: users}, nil
}

func (m *Module) handleCreateGroup(ctx context.Context, req CreateGroupRequest, _ *mono.Msg) (GroupResponse, error) {
	group, err := m.service.CreateGroup(ctx, req.Name, req.CreatedBy, req.MemberIDs)
	if err != nil {
		f, err := toFault(err)
		return GroupResponse{Fault: f}, err
	}
	m.logger.Info("Group created", "group", group.ID, "members", len(group.Members))
	return GroupResponse{Group: group}, nil
}

func (m *Module) handleGetGroup(ctx context.Context, req GetGroupRequest, _ *mono.Msg) (GroupResponse, error) {
	group, err := m.service.GetGroup(ctx, req.GroupID)
	if err != nil {
		f, err := toFault(err)
		return GroupResponse{Fault: f}, err
	}
	return GroupResponse{Group: group}, nil
}

func (m *Module) handleListGroups(ctx context.Context, req ListGroupsRequest, _ *mono.Msg) (ListGroupsResponse, error) {
	groups, err := m.service.ListGroups(ctx, req.UserID)
	if err != nil {
		f, err := toFault(err)
		return ListGroupsResponse{Fault: f}, err
	}
	return ListGroupsResponse{Groups: groups}, nil
}

func (m *Module) handleAddMember(ctx context.Context, req MembershipRequest, _ *mono.Msg) (MembershipResponse, error) {
	if err := m.service.AddMember(ctx, req.GroupID, req.UserID); err != nil {
		f, err := toFault(err)
		return MembershipResponse{Fault: f}, err
	}
	return MembershipResponse{Member: true}, nil
}

func (m *Module) handleRemoveMember(ctx context.Context, req MembershipRequest, _ *mono.Msg) (MembershipResponse, error) {
	if err := m.service.RemoveMember(ctx, req.GroupID, req.UserID); err != nil {
		f, err := toFault(err)
		return MembershipResponse{Fault: f}, err
	}
	return MembershipResponse{Member: false}, nil
}

func (m *Module) handleIsMember(ctx context.Context, req MembershipRequest, _ *mono.Msg) (MembershipResponse, error) {
	member, err := m.service.IsMember(ctx, req.GroupID, req.UserID)
	if err != nil {
		f, err := toFault(err)
		return MembershipResponse{Fault: f}, err
	}
	return MembershipResponse{Member: member}, nil
}

func (m *Module) handleCreateMessage(ctx context.Context, req CreateMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, created, err := m.service.CreateMessage(ctx, req)
	if err != nil {
		f, err := toFault(err)
		return MessageResponse{Fault: f}, err
	}

	// A resent id is not announced twice; clients dedupe anyway.
	if created {
		if err := events.MessageCreatedV1.Publish(m.eventBus, events.MessageCreatedEvent{Message: *msg}, nil); err != nil {
			m.logger.Warn("Failed to publish MessageCreated event", "message", msg.ID, "error", err)
		}
	}

	m.logger.Debug("Message stored", "message", msg.ID, "sender", msg.SenderID, "created", created)
	return MessageResponse{Message: msg, Created: created}, nil
}

func (m *Module) handleListMessages(ctx context.Context, req ListMessagesRequest, _ *mono.Msg) (MessagesResponse, error) {
	msgs, err := m.service.ListMessages(ctx, req.UserID)
	if err != nil {
		f, err := toFault(err)
		return MessagesResponse{Fault: f}, err
	}
	return MessagesResponse{Messages: msgs}, nil
}

func (m *Module) handleDirectConversation(ctx context.Context, req DirectConversationRequest, _ *mono.Msg) (MessagesResponse, error) {
	msgs, err := m.service.DirectConversation(ctx, req.UserID, req.PeerID)
	if err != nil {
		f, err := toFault(err)
		return MessagesResponse{Fault: f}, err
	}
	return MessagesResponse{Messages: msgs}, nil
}

func (m *Module) handleGroupConversation(ctx context.Context, req GroupConversationRequest, _ *mono.Msg) (MessagesResponse, error) {
	msgs, err := m.service.GroupConversation(ctx, req.GroupID)
	if err != nil {
		f, err := toFault(err)
		return MessagesResponse{Fault: f}, err
	}
	return MessagesResponse{Messages: msgs}, nil
}

func (m *Module) handleDeleteMessage(ctx context.Context, req DeleteMessageRequest, _ *mono.Msg) (MessageResponse, error) {
	msg, err := m.service.DeleteMessage(ctx, req.MessageID, req.RequesterID)
	if err != nil {
		f, err := toFault(err)
		return MessageResponse{Fault: f}, err
	}

	event := events.MessageDeletedEvent{
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		GroupID:     msg.GroupID,
		DeletedAt:   time.Now().UTC(),
	}
	if err := events.MessageDeletedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish MessageDeleted event", "message", msg.ID, "error", err)
	}

	m.logger.Info("Message deleted", "message", msg.ID, "sender", msg.SenderID)
	return MessageResponse{Message: msg}, nil
}
