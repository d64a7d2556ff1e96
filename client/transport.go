package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fasthttp/websocket"
)

// Conn is one established transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer establishes transports to the broker.
type Dialer interface {
	Dial(ctx context.Context, serverURL, token string) (Conn, error)
}

// WebsocketDialer dials the broker over WebSocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to serverURL, passing the identity token as a query parameter.
func (d WebsocketDialer) Dial(ctx context.Context, serverURL, token string) (Conn, error) {
	target, err := withToken(serverURL, token)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

func withToken(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyReadError wraps a read failure, telling broker close frames apart
// from network drops.
func classifyReadError(err error) *TransportError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &TransportError{Op: "read", Err: err, ServerClosed: true}
	}
	return &TransportError{Op: "read", Err: err}
}
