package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/example/chatsync/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
)

// Dispatch is one frame to deliver to the subscribers of a set of rooms.
type Dispatch struct {
	Rooms []chat.RoomID
	Frame []byte
}

// Stats counts fan-out outcomes.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Delivered  uint64 `json:"delivered"`
	NoTarget   uint64 `json:"no_target"`
	Dropped    uint64 `json:"dropped"`
}

// Hub owns live sessions and fans frames out through the Registry.
// Dispatches are processed one at a time by Run, so every subscriber sees the
// frames of a room in dispatch order.
type Hub struct {
	registry   *Registry
	sessions   map[string]*Session
	mu         sync.RWMutex
	dispatch   chan *Dispatch
	unregister chan *Session
	done       chan struct{}
	logger     types.Logger

	dispatched atomic.Uint64
	delivered  atomic.Uint64
	noTarget   atomic.Uint64
	dropped    atomic.Uint64
}

// NewHub creates a new Hub.
func NewHub(logger types.Logger) *Hub {
	return &Hub{
		registry:   NewRegistry(),
		sessions:   make(map[string]*Session),
		dispatch:   make(chan *Dispatch, 256),
		unregister: make(chan *Session, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes dispatches until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down")
			h.closeAllSessions()
			close(h.done)
			return
		case s := <-h.unregister:
			h.Unregister(s)
		case d := <-h.dispatch:
			h.fanout(d)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAllSessions() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		h.registry.DropSession(s.ID)
		s.Close()
	}
}

// Register adds a session and starts its writer.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	s.Start()
	h.logger.Info("Session registered", "session", s.ID, "user", s.UserID)
}

// Unregister drops every room membership of a session and closes it.
// The session's user keeps its logical rooms; the client rejoins on reconnect.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	rooms := h.registry.DropSession(s.ID)
	s.Close()
	if ok {
		h.logger.Info("Session unregistered", "session", s.ID, "user", s.UserID, "rooms", len(rooms))
	}
}

// Join subscribes a session to a room. It reports false if the session was
// already subscribed or is no longer registered.
func (h *Hub) Join(s *Session, roomID chat.RoomID) bool {
	if h.Session(s.ID) == nil {
		return false
	}
	joined := h.registry.Join(s.ID, roomID)
	// Unregister removes the session before dropping its rooms, so a join
	// that raced it is seen here and undone.
	if h.Session(s.ID) == nil {
		h.registry.Leave(s.ID, roomID)
		return false
	}
	if joined {
		h.logger.Debug("Session joined room", "session", s.ID, "room", roomID)
	}
	return joined
}

// Leave unsubscribes a session from a room.
func (h *Hub) Leave(s *Session, roomID chat.RoomID) bool {
	left := h.registry.Leave(s.ID, roomID)
	if left {
		h.logger.Debug("Session left room", "session", s.ID, "room", roomID)
	}
	return left
}

// Fanout queues a frame for the subscribers of rooms. It reports false when
// the hub has stopped.
func (h *Hub) Fanout(rooms []chat.RoomID, frame []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.dispatch <- &Dispatch{Rooms: rooms, Frame: frame}:
		return true
	case <-h.done:
		return false
	}
}

// fanout delivers a frame once to every session subscribed to any of the
// rooms. Membership of each room is snapshotted before delivery starts.
func (h *Hub) fanout(d *Dispatch) {
	h.dispatched.Add(1)

	targets := make(map[string]struct{})
	var order []string
	for _, roomID := range d.Rooms {
		for _, id := range h.registry.MembersOf(roomID) {
			if _, seen := targets[id]; seen {
				continue
			}
			targets[id] = struct{}{}
			order = append(order, id)
		}
	}

	if len(order) == 0 {
		// Recipient offline: the message reaches them through their next snapshot.
		h.noTarget.Add(1)
		h.logger.Debug("No subscribers for dispatch", "rooms", d.Rooms)
		return
	}

	for _, id := range order {
		s := h.Session(id)
		if s == nil {
			continue
		}
		if s.Enqueue(d.Frame) {
			h.delivered.Add(1)
			continue
		}
		h.dropped.Add(1)
		h.logger.Warn("Session send buffer full, disconnecting", "session", s.ID, "user", s.UserID)
		h.Unregister(s)
	}
}

// Send queues a frame for a single session.
func (h *Hub) Send(s *Session, frame []byte) bool {
	if s.Enqueue(frame) {
		return true
	}
	select {
	case h.unregister <- s:
	default:
	}
	return false
}

// Session returns a registered session by ID.
func (h *Hub) Session(id string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Registry returns the room registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Stats returns a snapshot of the fan-out counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Dispatched: h.dispatched.Load(),
		Delivered:  h.delivered.Load(),
		NoTarget:   h.noTarget.Load(),
		Dropped:    h.dropped.Load(),
	}
}
