package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/protocol"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithFetcher replaces the REST snapshot source.
func WithFetcher(f Fetcher) Option {
	return func(s *Session) { s.fetcher = f }
}

// WithClock replaces the clock used for message timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one logical participation in the chat. It owns its connection,
// rooms, views and handlers, so several sessions can live in one process.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	dialer  Dialer
	fetcher Fetcher
	rest    *RESTClient
	now     func() time.Time

	subs       *Subscriptions
	rooms      *RoomSet
	reconciler *Reconciler
	dispatcher *Dispatcher
	manager    *Manager
}

// NewSession validates cfg and wires a disconnected session.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Session{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.dialer == nil {
		s.dialer = WebsocketDialer{HandshakeTimeout: cfg.Reconnect.AttemptTimeout}
	}
	if s.fetcher == nil {
		rest, err := NewRESTClient(cfg.APIURL, cfg.Reconnect.AttemptTimeout)
		if err != nil {
			return nil, err
		}
		s.rest = rest
		s.fetcher = rest
	}

	s.subs = NewSubscriptions(s.logger)
	s.rooms = NewRoomSet()
	s.reconciler = NewReconciler(s.fetcher, cfg.Retention, s.logger)
	s.manager = NewManager(cfg, s.dialer, s.rooms, s.subs, ManagerHooks{
		Inbound:    s.onInbound,
		Connected:  s.onConnected,
		Terminated: s.onTerminated,
	}, s.logger)
	s.dispatcher = NewDispatcher(s.manager, s.reconciler, s.rooms, s.subs, s.logger)

	if s.now != nil {
		s.reconciler.now = s.now
		s.dispatcher.now = s.now
	}
	return s, nil
}

func (s *Session) onInbound(env protocol.Envelope) {
	s.dispatcher.HandleInbound(env)
}

// onConnected runs after rejoin. Anything sent or deleted during an outage
// is only visible through a fresh snapshot, so every view is refetched on
// next use; unacknowledged sends are retried under their original ids.
func (s *Session) onConnected(reconnected bool) {
	if reconnected {
		s.reconciler.MarkAllStale()
	}
	s.dispatcher.ResendPending()
}

func (s *Session) onTerminated(err error) {
	if err == nil {
		err = ErrNotConnected
	}
	s.dispatcher.FailPending(err)
}

// Open connects as id. REST calls made by the session use the same token.
func (s *Session) Open(ctx context.Context, id Identity) error {
	if s.rest != nil {
		s.rest.SetIdentity(id.UserID, id.Token)
	}
	return s.manager.Connect(ctx, id)
}

// Close disconnects without retry. Rooms and views are kept for a later Open.
// Called from an event handler, it returns before the transport is closed.
func (s *Session) Close() {
	s.manager.Disconnect()
}

// UserID returns the identity the session last opened as.
func (s *Session) UserID() int64 {
	return s.rooms.User()
}

// SendDirect sends content to a user.
func (s *Session) SendDirect(recipientID int64, content string) (chat.Message, error) {
	return s.dispatcher.SendDirect(s.UserID(), recipientID, content)
}

// SendGroup sends content to a group.
func (s *Session) SendGroup(groupID int64, content string) (chat.Message, error) {
	return s.dispatcher.SendGroup(s.UserID(), groupID, content)
}

// JoinGroup subscribes to a group room. While offline the join is recorded
// and issued on the next connect.
func (s *Session) JoinGroup(groupID int64) error {
	s.rooms.AddGroup(groupID)
	err := s.manager.Send(protocol.EventJoinGroup, protocol.GroupPayload{UserID: s.UserID(), GroupID: groupID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// LeaveGroup unsubscribes from a group room and ends interest in its view.
func (s *Session) LeaveGroup(groupID int64) error {
	if !s.rooms.RemoveGroup(groupID) {
		return nil
	}
	s.reconciler.CloseConversation(chat.GroupRoom(groupID))
	err := s.manager.Send(protocol.EventLeaveGroup, protocol.GroupPayload{UserID: s.UserID(), GroupID: groupID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Conversation returns the reconciled view of room, fetching a snapshot
// when the current one is missing or stale.
func (s *Session) Conversation(ctx context.Context, room chat.RoomID) ([]chat.Message, error) {
	return s.reconciler.Reconcile(ctx, room)
}

// DirectConversation is Conversation for the direct room with peerID.
func (s *Session) DirectConversation(ctx context.Context, peerID int64) ([]chat.Message, error) {
	return s.Conversation(ctx, chat.DirectRoom(s.UserID(), peerID))
}

// CloseConversation ends interest in the view of room.
func (s *Session) CloseConversation(room chat.RoomID) {
	s.reconciler.CloseConversation(room)
}

// Sync installs a fetch-all snapshot for every conversation.
func (s *Session) Sync(ctx context.Context) error {
	return s.reconciler.SyncAll(ctx)
}

// On registers h for event within scope, replacing any handler already there.
func (s *Session) On(scope string, event EventType, h Handler) Token {
	return s.subs.On(scope, event, h)
}

// Off removes the registration identified by t.
func (s *Session) Off(t Token) bool {
	return s.subs.Off(t)
}

// OffScope removes every handler of scope.
func (s *Session) OffScope(scope string) int {
	return s.subs.OffScope(scope)
}

// State returns the connection state.
func (s *Session) State() ConnectionState {
	return s.manager.State()
}

// LastError returns the error that ended the last connection.
func (s *Session) LastError() error {
	return s.manager.LastError()
}

// Pending returns the sends still waiting for their echo.
func (s *Session) Pending() []chat.Message {
	return s.dispatcher.Pending()
}

// Conflicts returns how many reconciliation conflicts were resolved.
func (s *Session) Conflicts() int {
	return s.reconciler.Conflicts()
}

// REST returns the session's API client, or nil when a custom Fetcher was
// supplied.
func (s *Session) REST() *RESTClient {
	return s.rest
}
