package broadcast

import (
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
)

// Transport is the write side of a client connection.
// *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// SessionConfig tunes per-connection buffering and heartbeat.
type SessionConfig struct {
	SendBuffer   int
	PingInterval time.Duration
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SendBuffer:   256,
		PingInterval: 25 * time.Second,
	}
}

// Session is one live transport of an authenticated user. All writes to the
// transport happen on the session's writer goroutine, in enqueue order.
type Session struct {
	ID     string
	UserID int64

	transport Transport
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	ping      time.Duration
	logger    types.Logger
}

// NewSession creates a session. Call Start to begin writing.
func NewSession(id string, userID int64, transport Transport, cfg SessionConfig, logger types.Logger) *Session {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSessionConfig().SendBuffer
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		transport: transport,
		send:      make(chan []byte, cfg.SendBuffer),
		done:      make(chan struct{}),
		ping:      cfg.PingInterval,
		logger:    logger,
	}
}

// Start launches the writer goroutine.
func (s *Session) Start() {
	go s.writeLoop()
}

// Enqueue queues a frame and reports false when the session is closed or its
// buffer is full.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Close stops the writer and closes the transport. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.transport.Close()
	})
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writeLoop() {
	var tick <-chan time.Time
	if s.ping > 0 {
		ticker := time.NewTicker(s.ping)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("Write failed, closing session", "session", s.ID, "error", err)
				s.Close()
				return
			}
		case <-tick:
			if err := s.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("Ping failed, closing session", "session", s.ID, "error", err)
				s.Close()
				return
			}
		}
	}
}
