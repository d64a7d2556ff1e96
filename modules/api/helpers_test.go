package api

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/modules/auth"
	"github.com/example/chatsync/modules/broadcast"
	"github.com/example/chatsync/modules/history"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
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

// mockAuthPort implements auth.AuthPort for testing
type mockAuthPort struct {
	registerFunc      func(ctx context.Context, username, password string) (*chat.User, error)
	loginFunc         func(ctx context.Context, username, password string) (*auth.TokenPair, error)
	validateTokenFunc func(ctx context.Context, token string) (*auth.Identity, error)
}

func (m *mockAuthPort) Register(ctx context.Context, username, password string) (*chat.User, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, username, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthPort) Login(ctx context.Context, username, password string) (*auth.TokenPair, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, username, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthPort) ValidateToken(ctx context.Context, token string) (*auth.Identity, error) {
	if m.validateTokenFunc != nil {
		return m.validateTokenFunc(ctx, token)
	}
	return nil, errors.New("not implemented")
}

// tokenAuth accepts tokens of the form "token-<username>" for users created
// through the history service.
func tokenAuth(users map[string]int64) *mockAuthPort {
	return &mockAuthPort{
		validateTokenFunc: func(_ context.Context, token string) (*auth.Identity, error) {
			for name, id := range users {
				if token == "token-"+name {
					return &auth.Identity{UserID: id, Username: name}, nil
				}
			}
			return nil, auth.ErrInvalidToken
		},
	}
}

// servicePort exposes a history.Service through the HistoryPort interface.
type servicePort struct {
	*history.Service
}

func (p servicePort) DeleteMessage(ctx context.Context, id string, requesterID int64) error {
	_, err := p.Service.DeleteMessage(ctx, id, requesterID)
	return err
}

var _ history.HistoryPort = servicePort{}

func newHistory(t *testing.T) servicePort {
	t.Helper()
	db, err := history.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return servicePort{history.NewService(history.NewRepository(db), nil, &mockLogger{})}
}

func mustUser(t *testing.T, h servicePort, name string) int64 {
	t.Helper()
	u, err := h.CreateUser(context.Background(), name, "hash")
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", name, err)
	}
	return u.ID
}

// newTestModule wires an APIModule with a running hub and builds its app.
func newTestModule(t *testing.T, h history.HistoryPort, a auth.AuthPort) *APIModule {
	t.Helper()
	m, err := NewModule(DefaultConfig(), &mockLogger{})
	if err != nil {
		t.Fatalf("NewModule() error = %v", err)
	}
	m.history = h
	m.auth = a

	hub := broadcast.NewHub(&mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		hub.Wait()
	})

	m.SetHub(hub, broadcast.SessionConfig{SendBuffer: 64})
	m.app = m.newApp()
	return m
}

// fakeTransport records frames written by a session.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan struct{}, 256)}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) next(t *testing.T, i int) []byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		if len(f.frames) > i {
			frame := f.frames[i]
			f.mu.Unlock()
			return frame
		}
		f.mu.Unlock()
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
