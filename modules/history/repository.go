package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/chatsync/domain/chat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// OpenDB opens the SQLite database at path and migrates the schema.
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite serialises writers; one connection also keeps ":memory:" databases
	// from splitting across the pool.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&chat.User{}, &chat.Group{}, &chat.GroupMember{}, &chat.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Repository provides persistence for users, groups and messages.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return err
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *chat.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetUser retrieves a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (*chat.User, error) {
	var user chat.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// FindUserByUsername retrieves a user by username.
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*chat.User, error) {
	var user chat.User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// ListUsers returns all users ordered by username.
func (r *Repository) ListUsers(ctx context.Context) ([]chat.User, error) {
	var users []chat.User
	if err := r.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CreateGroup inserts a group and its initial members in one transaction.
func (r *Repository) CreateGroup(ctx context.Context, group *chat.Group, memberIDs []int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		for _, uid := range memberIDs {
			member := chat.GroupMember{GroupID: group.ID, UserID: uid, JoinedAt: group.CreatedAt}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetGroup retrieves a group by ID.
func (r *Repository) GetGroup(ctx context.Context, id int64) (*chat.Group, error) {
	var group chat.Group
	if err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "group")
	}
	return &group, nil
}

// ListGroupsForUser returns the groups a user is a member of.
func (r *Repository) ListGroupsForUser(ctx context.Context, userID int64) ([]chat.Group, error) {
	var groups []chat.Group
	err := r.db.WithContext(ctx).
		Joins("JOIN user_groups ON user_groups.group_id = chat_groups.id").
		Where("user_groups.user_id = ?", userID).
		Order("chat_groups.id").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// AddMember adds a user to a group. Adding an existing member is a no-op.
func (r *Repository) AddMember(ctx context.Context, member chat.GroupMember) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
}

// RemoveMember removes a user from a group and reports whether a row was deleted.
func (r *Repository) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&chat.GroupMember{}, "group_id = ? AND user_id = ?", groupID, userID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// IsMember reports whether a user belongs to a group.
func (r *Repository) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&chat.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&n).Error
	return n > 0, err
}

// MemberIDs returns the ids of a group's members.
func (r *Repository) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&chat.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// CreateMessage inserts a message unless one with the same ID already exists,
// in which case the stored message is returned with created == false.
func (r *Repository) CreateMessage(ctx context.Context, msg *chat.Message) (stored *chat.Message, created bool, err error) {
	existing, err := r.GetMessage(ctx, msg.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// GetMessage retrieves a message by ID.
func (r *Repository) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	var msg chat.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "message")
	}
	return &msg, nil
}

// DeleteMessage removes a message by ID.
func (r *Repository) DeleteMessage(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&chat.Message{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %w", ErrNotFound)
	}
	return nil
}

// MessagesForUser returns every message a user sent or can see: direct
// messages either way plus the messages of their groups.
func (r *Repository) MessagesForUser(ctx context.Context, userID int64) ([]chat.Message, error) {
	groups := r.db.Model(&chat.GroupMember{}).Select("group_id").Where("user_id = ?", userID)

	var msgs []chat.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? OR (group_id = 0 AND recipient_id = ?) OR group_id IN (?)", userID, userID, groups).
		Order("created_at, id").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// DirectConversation returns the direct messages exchanged between two users.
func (r *Repository) DirectConversation(ctx context.Context, a, b int64) ([]chat.Message, error) {
	var msgs []chat.Message
	err := r.db.WithContext(ctx).
		Where("group_id = 0 AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))", a, b, b, a).
		Order("created_at, id").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// GroupConversation returns the messages of a group.
func (r *Repository) GroupConversation(ctx context.Context, groupID int64) ([]chat.Message, error) {
	var msgs []chat.Message
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at, id").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
