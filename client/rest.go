package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/valyala/fasthttp"
)

// TokenPair is the body of a successful login.
type TokenPair struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	TokenType   string     `json:"token_type"`
	User        *chat.User `json:"user"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type messageList struct {
	Room     chat.RoomID    `json:"room,omitempty"`
	Messages []chat.Message `json:"messages"`
}

type userList struct {
	Users []chat.User `json:"users"`
}

type groupList struct {
	Groups []chat.Group `json:"groups"`
}

type apiErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RESTClient talks to the broker's HTTP API. It serves snapshots to the
// Reconciler and covers the account and group operations that have no
// WebSocket event.
type RESTClient struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client

	mu     sync.RWMutex
	userID int64
	token  string
}

// NewRESTClient creates a client for the API rooted at baseURL.
func NewRESTClient(baseURL string, timeout time.Duration) (*RESTClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url scheme %q", u.Scheme)
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http: &fasthttp.Client{
			Name:         "chatsync-client",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}, nil
}

// SetIdentity sets the user and bearer token used by authenticated calls.
func (c *RESTClient) SetIdentity(userID int64, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.token = token
}

func (c *RESTClient) identity() (int64, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.token
}

// Register creates an account.
func (c *RESTClient) Register(ctx context.Context, username, password string) (*chat.User, error) {
	var user chat.User
	if err := c.do(ctx, fasthttp.MethodPost, "/api/v1/auth/register", credentials{username, password}, &user, false); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for an access token and adopts it.
func (c *RESTClient) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	var tokens TokenPair
	if err := c.do(ctx, fasthttp.MethodPost, "/api/v1/auth/login", credentials{username, password}, &tokens, false); err != nil {
		return nil, err
	}
	if tokens.User != nil {
		c.SetIdentity(tokens.User.ID, tokens.AccessToken)
	}
	return &tokens, nil
}

// FetchAll returns every message visible to the current user.
func (c *RESTClient) FetchAll(ctx context.Context) ([]chat.Message, error) {
	var list messageList
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/messages", nil, &list, true); err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// FetchConversation returns the authoritative snapshot of one conversation.
func (c *RESTClient) FetchConversation(ctx context.Context, room chat.RoomID) ([]chat.Message, error) {
	var path string
	switch {
	case room.IsGroup():
		groupID, err := room.GroupID()
		if err != nil {
			return nil, err
		}
		path = "/api/v1/groups/" + strconv.FormatInt(groupID, 10) + "/messages"
	case room.IsDirect():
		self, _ := c.identity()
		peer, err := room.Peer(self)
		if err != nil {
			return nil, err
		}
		path = "/api/v1/messages/conversation/" + strconv.FormatInt(peer, 10)
	default:
		return nil, fmt.Errorf("room %q has no conversation", room)
	}

	var list messageList
	if err := c.do(ctx, fasthttp.MethodGet, path, nil, &list, true); err != nil {
		return nil, err
	}
	return list.Messages, nil
}

// DeleteMessage removes a message the current user sent.
func (c *RESTClient) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, fasthttp.MethodDelete, "/api/v1/messages/"+url.PathEscape(id), nil, nil, true)
}

// ListUsers returns every registered user.
func (c *RESTClient) ListUsers(ctx context.Context) ([]chat.User, error) {
	var list userList
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/users", nil, &list, true); err != nil {
		return nil, err
	}
	return list.Users, nil
}

// ListGroups returns the groups the current user belongs to.
func (c *RESTClient) ListGroups(ctx context.Context) ([]chat.Group, error) {
	var list groupList
	if err := c.do(ctx, fasthttp.MethodGet, "/api/v1/groups", nil, &list, true); err != nil {
		return nil, err
	}
	return list.Groups, nil
}

// CreateGroup creates a group with the current user as creator and member.
func (c *RESTClient) CreateGroup(ctx context.Context, name string, memberIDs []int64) (*chat.Group, error) {
	body := struct {
		Name      string  `json:"name"`
		MemberIDs []int64 `json:"member_ids,omitempty"`
	}{name, memberIDs}

	var group chat.Group
	if err := c.do(ctx, fasthttp.MethodPost, "/api/v1/groups", body, &group, true); err != nil {
		return nil, err
	}
	return &group, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if authed {
		_, token := c.identity()
		if token == "" {
			return ErrUnauthorized
		}
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		apiErr := &APIError{Status: status}
		var eb apiErrorBody
		if json.Unmarshal(resp.Body(), &eb) == nil {
			apiErr.Code, apiErr.Message = eb.Error, eb.Message
		}
		if status == fasthttp.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		}
		return apiErr
	}

	if out == nil || status == fasthttp.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
