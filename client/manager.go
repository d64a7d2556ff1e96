package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/chatsync/protocol"
	"github.com/fasthttp/websocket"
)

// Identity is the authenticated principal a session connects as.
type Identity struct {
	UserID int64
	Token  string
}

// ManagerHooks connect a Manager to the rest of the session. Every hook is
// called from the Manager's loop goroutine, one at a time. Hooks and
// subscription handlers may call Disconnect.
type ManagerHooks struct {
	// Inbound receives every decoded broker event.
	Inbound func(env protocol.Envelope)
	// Connected runs after each successful (re)connect, once rejoin events are written.
	Connected func(reconnected bool)
	// Terminated runs when the connection ends for good: err is nil after
	// Disconnect and wraps ErrReconnectExhausted otherwise.
	Terminated func(err error)
}

// Manager owns one logical connection to the broker.
type Manager struct {
	cfg    Config
	dialer Dialer
	rooms  *RoomSet
	subs   *Subscriptions
	hooks  ManagerHooks
	logger *slog.Logger

	mu       sync.Mutex
	state    ConnectionState
	lastErr  error
	identity Identity
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	out      chan []byte

	// callbacks counts hook and handler calls in progress.
	callbacks atomic.Int32
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config, dialer Dialer, rooms *RoomSet, subs *Subscriptions, hooks ManagerHooks, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		rooms:  rooms,
		subs:   subs,
		hooks:  hooks,
		logger: logger,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error that ended the last connection, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect makes one attempt to establish the transport, bounded by the
// per-attempt timeout. On success the subscriptions recorded in the RoomSet
// are re-issued and the connection is supervised until Disconnect or until
// reconnection is exhausted.
func (m *Manager) Connect(ctx context.Context, id Identity) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done
	m.identity = id
	m.lastErr = nil
	m.mu.Unlock()

	m.rooms.SetUser(id.UserID)
	m.transition(StateConnecting, 0, nil)

	conn, err := m.dial(ctx, runCtx)
	if err != nil {
		terr := asTransportError("connect", err)
		m.finish(done, terr, false)
		cancel()
		return terr
	}

	go m.run(runCtx, conn, done)
	return nil
}

// Disconnect closes the transport and stops any reconnection in progress.
// It is never followed by an automatic reconnect. It waits for the teardown
// unless called from a hook or handler, where waiting would block the loop
// that performs it; the teardown then completes once the callback returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if m.callbacks.Load() > 0 {
		return
	}
	<-done
}

// callback runs fn as a hook or handler call.
func (m *Manager) callback(fn func()) {
	m.callbacks.Add(1)
	defer m.callbacks.Add(-1)
	fn()
}

// Send encodes and queues one event. It fails fast when there is no live
// transport or the outbound queue is full.
func (m *Manager) Send(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	out := m.out
	m.mu.Unlock()
	if out == nil {
		return ErrNotConnected
	}

	select {
	case out <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// dial makes one transport attempt. It gives up when the attempt times out,
// when ctx ends, or when runCtx is cancelled by Disconnect.
func (m *Manager) dial(ctx, runCtx context.Context) (Conn, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.Reconnect.AttemptTimeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	m.mu.Lock()
	id := m.identity
	m.mu.Unlock()

	return m.dialer.Dial(attemptCtx, m.cfg.ServerURL, id.Token)
}

// run supervises a connection and its replacements.
func (m *Manager) run(ctx context.Context, conn Conn, done chan struct{}) {
	reconnected := false
	for {
		err := m.serve(ctx, conn, reconnected)
		if ctx.Err() != nil {
			m.finish(done, nil, true)
			return
		}

		m.logger.Warn("connection lost", "error", err)
		conn, err = m.reconnect(ctx, err)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(done, nil, true)
				return
			}
			m.finish(done, err, true)
			return
		}
		reconnected = true
	}
}

// reconnect retries with capped exponential backoff. The wait between
// attempts ends early on Disconnect.
func (m *Manager) reconnect(ctx context.Context, cause error) (Conn, error) {
	attempts := m.cfg.Reconnect.MaxAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		m.transition(StateReconnecting, attempt, cause)

		delay := m.cfg.Reconnect.Backoff(attempt)
		m.logger.Info("reconnecting", "attempt", attempt, "max_attempts", attempts, "delay", delay)
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}

		conn, err := m.dial(ctx, ctx)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cause = asTransportError("reconnect", err)
		m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		if errors.Is(err, ErrUnauthorized) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrReconnectExhausted, cause)
}

// serve owns conn until it fails or ctx ends. All writes happen here and
// inbound events are handed to the hooks one at a time.
func (m *Manager) serve(ctx context.Context, conn Conn, reconnected bool) error {
	out := make(chan []byte, m.cfg.SendBuffer)
	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.readLoop(conn, inbound, readErr, stop)
	}()
	defer func() {
		m.setOut(nil)
		close(stop)
		_ = conn.Close()
		wg.Wait()
	}()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	// Rejoin before anything else is written; the broker treats repeated
	// joins as no-ops.
	for _, ev := range m.rooms.joinEvents() {
		frame, err := protocol.Encode(ev.event, ev.payload)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return &TransportError{Op: "rejoin", Err: err}
		}
	}
	m.setOut(out)
	m.transition(StateConnected, 0, nil)
	if m.hooks.Connected != nil {
		m.callback(func() { m.hooks.Connected(reconnected) })
	}

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()

		case frame := <-out:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return &TransportError{Op: "write", Err: err}
			}

		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return &TransportError{Op: "ping", Err: err}
			}

		case frame := <-inbound:
			m.handleFrame(frame)

		case err := <-readErr:
			return err
		}
	}
}

func (m *Manager) readLoop(conn Conn, inbound chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	_ = conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			readErr <- classifyReadError(err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case inbound <- frame:
		case <-stop:
			return
		}
	}
}

func (m *Manager) handleFrame(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		perr := &ProtocolError{Event: "", Err: err}
		m.logger.Warn("dropping malformed frame", "error", perr)
		return
	}
	if m.hooks.Inbound != nil {
		m.callback(func() { m.hooks.Inbound(env) })
	}
}

func (m *Manager) setOut(out chan []byte) {
	m.mu.Lock()
	m.out = out
	m.mu.Unlock()
}

// transition records and publishes a state change.
func (m *Manager) transition(to ConnectionState, attempt int, cause error) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	m.logger.Debug("state changed", "from", from, "to", to, "attempt", attempt)
	m.callback(func() {
		m.subs.Publish(Event{
			Type:  EventStateChanged,
			State: &StateChange{From: from, To: to, Attempt: attempt, Err: cause},
			Err:   cause,
		})
	})
}

// finish ends the connection lifecycle. The terminal state and the running
// flag change together, so a Connect racing with it either fails with
// ErrAlreadyActive or starts a fresh lifecycle.
func (m *Manager) finish(done chan struct{}, err error, notify bool) {
	m.mu.Lock()
	from := m.state
	m.state = StateDisconnected
	m.running = false
	m.cancel = nil
	m.out = nil
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("connection terminated", "error", err)
	} else {
		m.logger.Info("disconnected")
	}
	m.callback(func() {
		m.subs.Publish(Event{
			Type:  EventStateChanged,
			State: &StateChange{From: from, To: StateDisconnected, Err: err},
			Err:   err,
		})
		if notify && m.hooks.Terminated != nil {
			m.hooks.Terminated(err)
		}
	})
	close(done)
}

func asTransportError(op string, err error) error {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr
	}
	return &TransportError{Op: op, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
