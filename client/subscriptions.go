package client

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/protocol"
)

// EventType names an event published to subscribers.
type EventType string

const (
	EventStateChanged       EventType = "state_changed"
	EventNewMessage         EventType = protocol.EventNewMessage
	EventNewGroupMessage    EventType = protocol.EventNewGroupMessage
	EventMessageDeleted     EventType = protocol.EventMessageDeleted
	EventConnectionResponse EventType = protocol.EventConnectionResponse
	EventError              EventType = protocol.EventError
	// EventDeliveryChanged reports a message moving between pending,
	// delivered and failed.
	EventDeliveryChanged EventType = "delivery_changed"
)

// Event is delivered to handlers. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	Room      chat.RoomID
	Message   *chat.Message
	MessageID string
	State     *StateChange
	Ack       *protocol.ConnectionResponse
	Err       error
}

// Handler consumes events.
type Handler func(Event)

// Token identifies one registration returned by On.
type Token struct {
	scope string
	event EventType
	seq   uint64
}

type subKey struct {
	scope string
	event EventType
}

type registration struct {
	seq     uint64
	handler Handler
}

// Subscriptions holds at most one handler per (scope, event) pair.
type Subscriptions struct {
	mu       sync.Mutex
	handlers map[subKey]registration
	seq      uint64
	logger   *slog.Logger
}

// NewSubscriptions creates an empty registry.
func NewSubscriptions(logger *slog.Logger) *Subscriptions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriptions{
		handlers: make(map[subKey]registration),
		logger:   logger,
	}
}

// On registers h for event within scope, replacing any handler already
// registered for the same pair.
func (s *Subscriptions) On(scope string, event EventType, h Handler) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	key := subKey{scope: scope, event: event}
	if _, ok := s.handlers[key]; ok {
		s.logger.Debug("replacing handler", "scope", scope, "event", event)
	}
	s.handlers[key] = registration{seq: s.seq, handler: h}
	return Token{scope: scope, event: event, seq: s.seq}
}

// Off removes exactly the registration identified by t. A token whose
// registration has since been replaced is a no-op.
func (s *Subscriptions) Off(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey{scope: t.scope, event: t.event}
	if reg, ok := s.handlers[key]; ok && reg.seq == t.seq {
		delete(s.handlers, key)
		return true
	}
	return false
}

// OffEvent removes the handler of scope for event.
func (s *Subscriptions) OffEvent(scope string, event EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey{scope: scope, event: event}
	_, ok := s.handlers[key]
	delete(s.handlers, key)
	return ok
}

// OffScope removes every handler of scope and returns how many were removed.
func (s *Subscriptions) OffScope(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.handlers {
		if key.scope == scope {
			delete(s.handlers, key)
			n++
		}
	}
	return n
}

// Count returns the number of active registrations.
func (s *Subscriptions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Publish delivers ev to every handler registered for its type, in scope
// order. Handlers run outside the lock and a panicking handler is logged.
func (s *Subscriptions) Publish(ev Event) {
	s.mu.Lock()
	var scopes []string
	byScope := make(map[string]Handler)
	for key, reg := range s.handlers {
		if key.event == ev.Type {
			scopes = append(scopes, key.scope)
			byScope[key.scope] = reg.handler
		}
	}
	s.mu.Unlock()

	sort.Strings(scopes)
	for _, scope := range scopes {
		s.call(scope, byScope[scope], ev)
	}
}

func (s *Subscriptions) call(scope string, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "scope", scope, "event", ev.Type, "panic", r)
		}
	}()
	h(ev)
}
