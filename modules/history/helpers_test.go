package history

import (
	"context"
	"testing"

	"github.com/example/chatsync/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

func newMockLogger() types.Logger {
	return &mockLogger{}
}

// setupTestService creates a service over a fresh in-memory database.
func setupTestService(t *testing.T) (*Service, *Repository) {
	t.Helper()

	db, err := OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB() unexpected error: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := NewRepository(db)
	return NewService(repo, nil, newMockLogger()), repo
}

func mustCreateUser(t *testing.T, s *Service, username string) *chat.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), username, "hash")
	if err != nil {
		t.Fatalf("CreateUser(%q) unexpected error: %v", username, err)
	}
	return user
}
