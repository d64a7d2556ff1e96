package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when sending without a live transport.
	ErrNotConnected = errors.New("client: not connected")
	// ErrAlreadyActive is returned by Connect while a connection is active or retrying.
	ErrAlreadyActive = errors.New("client: connection already active")
	// ErrReconnectExhausted is the terminal error after every reconnection attempt failed.
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")
	// ErrSendBufferFull is returned when the outbound queue cannot take another frame.
	ErrSendBufferFull = errors.New("client: send buffer full")
	// ErrUnauthorized is returned when the broker rejects the identity token.
	ErrUnauthorized = errors.New("client: unauthorized")
	// ErrEmptyContent is returned when sending a message without content.
	ErrEmptyContent = errors.New("client: message content is empty")
)

// TransportError reports a lost or failed connection.
type TransportError struct {
	Op  string
	Err error
	// ServerClosed is set when the broker closed the session with a close
	// frame rather than the network dropping.
	ServerClosed bool
}

func (e *TransportError) Error() string {
	if e.ServerClosed {
		return fmt.Sprintf("client: %s: closed by server: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("client: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an inbound event that could not be understood.
// The event is dropped and the session continues.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("client: protocol error on %q: %v", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: api %d %s: %s", e.Status, e.Code, e.Message)
}
