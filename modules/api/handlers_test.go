package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/modules/auth"
	"github.com/example/chatsync/modules/history"
)

func doRequest(t *testing.T, m *APIModule, method, url, token, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := m.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	return resp.StatusCode, data
}

func TestMessagesEndpoints(t *testing.T) {
	h := newHistory(t)
	alice := mustUser(t, h, "alice")
	bob := mustUser(t, h, "bob")
	carol := mustUser(t, h, "carol")
	m := newTestModule(t, h, tokenAuth(map[string]int64{"alice": alice, "bob": bob, "carol": carol}))

	status, body := doRequest(t, m, "POST", "/api/v1/messages", "token-alice",
		`{"id":"6f1c8f8e-3c1e-4c36-9d55-2b8f1e2d4a10","recipient_id":`+itoa(bob)+`,"content":"hi"}`)
	if status != http.StatusCreated {
		t.Fatalf("send status = %d, body = %s", status, body)
	}
	var sent chat.Message
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sent.ID != "6f1c8f8e-3c1e-4c36-9d55-2b8f1e2d4a10" || sent.SenderID != alice {
		t.Errorf("sent = %+v, want client id and sender %d", sent, alice)
	}

	t.Run("fetch all for session", func(t *testing.T) {
		status, body := doRequest(t, m, "GET", "/api/v1/messages", "token-bob", "")
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		var resp MessageListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Total != 1 || resp.Messages[0].Content != "hi" {
			t.Errorf("messages = %+v, want the one message", resp.Messages)
		}
	})

	t.Run("conversation for peer", func(t *testing.T) {
		status, body := doRequest(t, m, "GET", "/api/v1/messages/conversation/"+itoa(alice), "token-bob", "")
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		var resp MessageListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Room != chat.DirectRoom(alice, bob) || resp.Total != 1 {
			t.Errorf("resp = %+v, want one message in %s", resp, chat.DirectRoom(alice, bob))
		}
	})

	t.Run("outsider sees nothing", func(t *testing.T) {
		_, body := doRequest(t, m, "GET", "/api/v1/messages", "token-carol", "")
		var resp MessageListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.Total != 0 {
			t.Errorf("carol sees %d messages, want 0", resp.Total)
		}
	})

	t.Run("only sender deletes", func(t *testing.T) {
		status, _ := doRequest(t, m, "DELETE", "/api/v1/messages/"+sent.ID, "token-bob", "")
		if status != http.StatusForbidden {
			t.Errorf("delete by recipient status = %d, want 403", status)
		}
		status, _ = doRequest(t, m, "DELETE", "/api/v1/messages/"+sent.ID, "token-alice", "")
		if status != http.StatusNoContent {
			t.Errorf("delete by sender status = %d, want 204", status)
		}
		status, _ = doRequest(t, m, "DELETE", "/api/v1/messages/"+sent.ID, "token-alice", "")
		if status != http.StatusNotFound {
			t.Errorf("second delete status = %d, want 404", status)
		}
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			want int
		}{
			{name: "empty content", body: `{"recipient_id":` + itoa(bob) + `,"content":""}`, want: http.StatusBadRequest},
			{name: "no target", body: `{"content":"x"}`, want: http.StatusBadRequest},
			{name: "unknown recipient", body: `{"recipient_id":999,"content":"x"}`, want: http.StatusNotFound},
			{name: "malformed body", body: `{`, want: http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				status, body := doRequest(t, m, "POST", "/api/v1/messages", "token-alice", tt.body)
				if status != tt.want {
					t.Errorf("status = %d, want %d (body %s)", status, tt.want, body)
				}
			})
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		status, _ := doRequest(t, m, "GET", "/api/v1/messages", "", "")
		if status != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", status)
		}
	})
}

func TestGroupEndpoints(t *testing.T) {
	h := newHistory(t)
	alice := mustUser(t, h, "alice")
	bob := mustUser(t, h, "bob")
	carol := mustUser(t, h, "carol")
	m := newTestModule(t, h, tokenAuth(map[string]int64{"alice": alice, "bob": bob, "carol": carol}))

	status, body := doRequest(t, m, "POST", "/api/v1/groups", "token-alice", `{"name":"team"}`)
	if status != http.StatusCreated {
		t.Fatalf("create group status = %d, body = %s", status, body)
	}
	var group chat.Group
	if err := json.Unmarshal(body, &group); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	groupURL := "/api/v1/groups/" + itoa(group.ID)

	status, _ = doRequest(t, m, "POST", groupURL+"/members", "token-carol", `{"user_id":`+itoa(carol)+`}`)
	if status != http.StatusForbidden {
		t.Errorf("non-member add status = %d, want 403", status)
	}

	status, _ = doRequest(t, m, "POST", groupURL+"/members", "token-alice", `{"user_id":`+itoa(bob)+`}`)
	if status != http.StatusCreated {
		t.Errorf("add member status = %d, want 201", status)
	}

	if _, _, err := h.CreateMessage(context.Background(), history.CreateMessageRequest{SenderID: bob, GroupID: group.ID, Content: "hello team"}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	status, body = doRequest(t, m, "GET", groupURL+"/messages", "token-bob", "")
	if status != http.StatusOK {
		t.Fatalf("group messages status = %d", status)
	}
	var resp MessageListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Room != chat.GroupRoom(group.ID) || resp.Total != 1 {
		t.Errorf("resp = %+v, want one message in %s", resp, chat.GroupRoom(group.ID))
	}

	status, _ = doRequest(t, m, "GET", groupURL+"/messages", "token-carol", "")
	if status != http.StatusForbidden {
		t.Errorf("non-member read status = %d, want 403", status)
	}

	status, _ = doRequest(t, m, "DELETE", groupURL+"/members/"+itoa(alice), "token-bob", "")
	if status != http.StatusForbidden {
		t.Errorf("member removing creator status = %d, want 403", status)
	}
	status, _ = doRequest(t, m, "DELETE", groupURL+"/members/"+itoa(bob), "token-bob", "")
	if status != http.StatusNoContent {
		t.Errorf("self removal status = %d, want 204", status)
	}

	status, body = doRequest(t, m, "GET", "/api/v1/groups", "token-bob", "")
	if status != http.StatusOK {
		t.Fatalf("list groups status = %d", status)
	}
	var groups GroupListResponse
	if err := json.Unmarshal(body, &groups); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if groups.Total != 0 {
		t.Errorf("bob still lists %d groups after leaving", groups.Total)
	}

	status, _ = doRequest(t, m, "GET", "/api/v1/groups/999", "token-alice", "")
	if status != http.StatusNotFound {
		t.Errorf("unknown group status = %d, want 404", status)
	}
}

func TestAuthEndpoints(t *testing.T) {
	mockAuth := &mockAuthPort{
		registerFunc: func(_ context.Context, username, password string) (*chat.User, error) {
			if username == "taken" {
				return nil, auth.ErrUsernameTaken
			}
			if len(password) < auth.MinPasswordLength {
				return nil, auth.ErrWeakPassword
			}
			return &chat.User{ID: 1, Username: username}, nil
		},
		loginFunc: func(_ context.Context, username, password string) (*auth.TokenPair, error) {
			if password != "secret1" {
				return nil, auth.ErrInvalidCredentials
			}
			return &auth.TokenPair{AccessToken: "tok", TokenType: "Bearer", User: &chat.User{ID: 1, Username: username}}, nil
		},
	}
	m := newTestModule(t, newHistory(t), mockAuth)

	tests := []struct {
		name string
		url  string
		body string
		want int
	}{
		{name: "register", url: "/api/v1/auth/register", body: `{"username":"alice","password":"secret1"}`, want: http.StatusCreated},
		{name: "register taken", url: "/api/v1/auth/register", body: `{"username":"taken","password":"secret1"}`, want: http.StatusConflict},
		{name: "register weak", url: "/api/v1/auth/register", body: `{"username":"bob","password":"x"}`, want: http.StatusBadRequest},
		{name: "login", url: "/api/v1/auth/login", body: `{"username":"alice","password":"secret1"}`, want: http.StatusOK},
		{name: "login wrong password", url: "/api/v1/auth/login", body: `{"username":"alice","password":"nope"}`, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, m, "POST", tt.url, "", tt.body)
			if status != tt.want {
				t.Errorf("status = %d, want %d (body %s)", status, tt.want, body)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	m := newTestModule(t, newHistory(t), &mockAuthPort{})
	status, body := doRequest(t, m, "GET", "/health", "", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(string(body), `"healthy"`) {
		t.Errorf("body = %s, want healthy status", body)
	}
}
