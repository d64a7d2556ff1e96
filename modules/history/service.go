package history

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// snapshotCache is the subset of Cache the service relies on.
type snapshotCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Generation(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, keys ...string) error
}

// Service implements the history operations on top of the repository.
type Service struct {
	repo   *Repository
	cache  snapshotCache
	logger types.Logger
	now    func() time.Time
}

// NewService creates a new history service. cache may be nil.
func NewService(repo *Repository, cache snapshotCache, logger types.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func inboxKey(userID int64) string {
	return "inbox:" + strconv.FormatInt(userID, 10)
}

func conversationKey(room chat.RoomID) string {
	return "conv:" + string(room)
}

// CreateUser registers a new user.
func (s *Service) CreateUser(ctx context.Context, username, passwordHash string) (*chat.User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("%w: password hash is required", ErrInvalidInput)
	}
	if _, err := s.repo.FindUserByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	}

	user := &chat.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*chat.User, error) {
	return s.repo.GetUser(ctx, id)
}

// FindUser retrieves a user by username, password hash included.
func (s *Service) FindUser(ctx context.Context, username string) (*chat.User, error) {
	return s.repo.FindUserByUsername(ctx, username)
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]chat.User, error) {
	return s.repo.ListUsers(ctx)
}

// CreateGroup creates a group. The creator is always a member.
func (s *Service) CreateGroup(ctx context.Context, name string, createdBy int64, memberIDs []int64) (*chat.Group, error) {
	if err := ValidateGroupName(name); err != nil {
		return nil, err
	}

	members := []int64{createdBy}
	for _, id := range memberIDs {
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	for _, id := range members {
		if _, err := s.repo.GetUser(ctx, id); err != nil {
			return nil, err
		}
	}

	group := &chat.Group{
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateGroup(ctx, group, members); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	slices.Sort(members)
	group.Members = members
	s.invalidate(ctx, inboxKeys(members)...)
	return group, nil
}

// GetGroup retrieves a group with its member ids.
func (s *Service) GetGroup(ctx context.Context, id int64) (*chat.Group, error) {
	group, err := s.repo.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.MemberIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	group.Members = members
	return group, nil
}

// ListGroups returns the groups a user belongs to.
func (s *Service) ListGroups(ctx context.Context, userID int64) ([]chat.Group, error) {
	return s.repo.ListGroupsForUser(ctx, userID)
}

// AddMember adds a user to a group. Adding an existing member succeeds.
func (s *Service) AddMember(ctx context.Context, groupID, userID int64) error {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	member := chat.GroupMember{GroupID: groupID, UserID: userID, JoinedAt: s.now()}
	if err := s.repo.AddMember(ctx, member); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	s.invalidate(ctx, inboxKey(userID))
	return nil
}

// RemoveMember removes a user from a group. Removing a non-member succeeds.
func (s *Service) RemoveMember(ctx context.Context, groupID, userID int64) error {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.repo.RemoveMember(ctx, groupID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	s.invalidate(ctx, inboxKey(userID))
	return nil
}

// IsMember reports whether a user belongs to a group.
func (s *Service) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	return s.repo.IsMember(ctx, groupID, userID)
}

// CreateMessage validates and stores a message. A valid UUID in req.ID is kept
// as the message id; resending an id already stored returns the stored
// message with created == false.
func (s *Service) CreateMessage(ctx context.Context, req CreateMessageRequest) (*chat.Message, bool, error) {
	if err := ValidateMessage(req.Content); err != nil {
		return nil, false, err
	}
	if (req.RecipientID == 0) == (req.GroupID == 0) {
		return nil, false, ErrTargetInvalid
	}
	if _, err := s.repo.GetUser(ctx, req.SenderID); err != nil {
		return nil, false, fmt.Errorf("sender: %w", err)
	}
	if req.GroupID != 0 {
		if _, err := s.repo.GetGroup(ctx, req.GroupID); err != nil {
			return nil, false, err
		}
	} else if _, err := s.repo.GetUser(ctx, req.RecipientID); err != nil {
		return nil, false, fmt.Errorf("recipient: %w", err)
	}

	id := req.ID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.New().String()
	}

	msg := &chat.Message{
		ID:          id,
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		GroupID:     req.GroupID,
		Content:     req.Content,
		CreatedAt:   s.now(),
	}
	stored, created, err := s.repo.CreateMessage(ctx, msg)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store message: %w", err)
	}
	if created {
		s.invalidateFor(ctx, *stored)
	}
	return stored, created, nil
}

// ListMessages returns every message visible to a user.
func (s *Service) ListMessages(ctx context.Context, userID int64) ([]chat.Message, error) {
	return s.cached(ctx, inboxKey(userID), func() ([]chat.Message, error) {
		return s.repo.MessagesForUser(ctx, userID)
	})
}

// DirectConversation returns the conversation between two users.
func (s *Service) DirectConversation(ctx context.Context, userID, peerID int64) ([]chat.Message, error) {
	if _, err := s.repo.GetUser(ctx, peerID); err != nil {
		return nil, err
	}
	return s.cached(ctx, conversationKey(chat.DirectRoom(userID, peerID)), func() ([]chat.Message, error) {
		return s.repo.DirectConversation(ctx, userID, peerID)
	})
}

// GroupConversation returns the messages of a group.
func (s *Service) GroupConversation(ctx context.Context, groupID int64) ([]chat.Message, error) {
	if _, err := s.repo.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.cached(ctx, conversationKey(chat.GroupRoom(groupID)), func() ([]chat.Message, error) {
		return s.repo.GroupConversation(ctx, groupID)
	})
}

// DeleteMessage removes a message. Only its sender may delete it.
func (s *Service) DeleteMessage(ctx context.Context, id string, requesterID int64) (*chat.Message, error) {
	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("only the sender can delete a message: %w", ErrForbidden)
	}
	if err := s.repo.DeleteMessage(ctx, id); err != nil {
		return nil, err
	}
	s.invalidateFor(ctx, *msg)
	return msg, nil
}

// cached serves a snapshot through the cache. The generation is read before
// loading, so a snapshot loaded before a concurrent write is stored under a
// generation the write has already retired.
func (s *Service) cached(ctx context.Context, key string, load func() ([]chat.Message, error)) ([]chat.Message, error) {
	cache := s.cache
	var genKey string
	if cache != nil {
		gen, err := cache.Generation(ctx, key)
		if err != nil {
			s.logger.Warn("Snapshot cache read failed", "key", key, "error", err)
			cache = nil
		} else {
			genKey = GenerationKey(key, gen)
		}
	}
	if cache != nil {
		var msgs []chat.Message
		hit, err := cache.Get(ctx, genKey, &msgs)
		if err != nil {
			s.logger.Warn("Snapshot cache read failed", "key", genKey, "error", err)
		}
		if hit {
			return msgs, nil
		}
	}

	msgs, err := load()
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	chat.SortMessages(msgs)

	if cache != nil {
		if err := cache.Set(ctx, genKey, msgs); err != nil {
			s.logger.Warn("Snapshot cache write failed", "key", genKey, "error", err)
		}
	}
	return msgs, nil
}

// invalidateFor drops every snapshot a message appears in.
func (s *Service) invalidateFor(ctx context.Context, msg chat.Message) {
	if s.cache == nil {
		return
	}
	keys := []string{conversationKey(msg.Conversation()), inboxKey(msg.SenderID)}
	if msg.GroupID != 0 {
		members, err := s.repo.MemberIDs(ctx, msg.GroupID)
		if err != nil {
			s.logger.Warn("Failed to load group members for invalidation", "group", msg.GroupID, "error", err)
		}
		keys = append(keys, inboxKeys(members)...)
	} else {
		keys = append(keys, inboxKey(msg.RecipientID))
	}
	s.invalidate(ctx, keys...)
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil || len(keys) == 0 {
		return
	}
	if err := s.cache.Bump(ctx, keys...); err != nil {
		s.logger.Warn("Snapshot cache invalidation failed", "keys", keys, "error", err)
	}
}

func inboxKeys(userIDs []int64) []string {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, inboxKey(id))
	}
	return keys
}
