package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/protocol"
	"github.com/fasthttp/websocket"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig keeps heartbeats out of the way and backoff short.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PingInterval = time.Hour
	cfg.PongWait = 2 * time.Hour
	cfg.Reconnect = ReconnectConfig{
		MaxAttempts:    3,
		BaseDelay:      5 * time.Millisecond,
		MaxDelay:       20 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
	return cfg
}

var errRefused = errors.New("connection refused")

// fakeBroker is an in-memory broker: it accepts transports, keeps room
// subscriptions, stores messages and serves snapshots.
type fakeBroker struct {
	mu       sync.Mutex
	tokens   map[string]int64
	groups   map[int64]map[int64]bool
	subs     map[chat.RoomID]map[*fakeConn]bool
	conns    map[*fakeConn]bool
	messages map[string]chat.Message
	clock    time.Time
	down     bool
	dials    map[int64]int
	fetches  int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		tokens:   make(map[string]int64),
		groups:   make(map[int64]map[int64]bool),
		subs:     make(map[chat.RoomID]map[*fakeConn]bool),
		conns:    make(map[*fakeConn]bool),
		messages: make(map[string]chat.Message),
		clock:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		dials:    make(map[int64]int),
	}
}

func (b *fakeBroker) addUser(id int64) Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := "token-" + strconv.FormatInt(id, 10)
	b.tokens[token] = id
	return Identity{UserID: id, Token: token}
}

func (b *fakeBroker) addGroup(id int64, members ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := make(map[int64]bool)
	for _, m := range members {
		set[m] = true
	}
	b.groups[id] = set
}

func (b *fakeBroker) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *fakeBroker) dialCount(userID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials[userID]
}

func (b *fakeBroker) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func (b *fakeBroker) subscribers(room chat.RoomID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[room])
}

// drop kills every transport of userID as a network failure would.
func (b *fakeBroker) drop(userID int64, serverClose bool) {
	b.mu.Lock()
	var victims []*fakeConn
	for c := range b.conns {
		if c.userID == userID {
			victims = append(victims, c)
		}
	}
	b.mu.Unlock()
	for _, c := range victims {
		c.kill(serverClose)
	}
}

func (b *fakeBroker) Dial(ctx context.Context, _ string, token string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	userID, ok := b.tokens[token]
	b.dials[userID]++
	if b.down {
		return nil, errRefused
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	c := &fakeConn{
		broker:  b,
		userID:  userID,
		inbound: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
	b.conns[c] = true
	return c, nil
}

func (b *fakeBroker) forget(c *fakeConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c)
	for room, set := range b.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(b.subs, room)
		}
	}
}

func (b *fakeBroker) handle(c *fakeConn, env protocol.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch env.Event {
	case protocol.EventJoin:
		var p protocol.JoinPayload
		if env.DecodePayload(&p) != nil || p.UserID != c.userID {
			b.replyLocked(c, protocol.EventError, protocol.ErrorPayload{Event: env.Event, Message: "user mismatch"})
			return
		}
		b.subscribeLocked(c, chat.PersonalRoom(c.userID))
		b.replyLocked(c, protocol.EventConnectionResponse, protocol.ConnectionResponse{
			Status: protocol.StatusJoined, Event: env.Event, Room: chat.PersonalRoom(c.userID),
		})

	case protocol.EventJoinGroup:
		var p protocol.GroupPayload
		if env.DecodePayload(&p) != nil || !b.groups[p.GroupID][c.userID] {
			b.replyLocked(c, protocol.EventError, protocol.ErrorPayload{Event: env.Event, Message: "forbidden"})
			return
		}
		b.subscribeLocked(c, chat.GroupRoom(p.GroupID))
		b.replyLocked(c, protocol.EventConnectionResponse, protocol.ConnectionResponse{
			Status: protocol.StatusJoined, Event: env.Event, Room: chat.GroupRoom(p.GroupID),
		})

	case protocol.EventLeaveGroup:
		var p protocol.GroupPayload
		if env.DecodePayload(&p) != nil {
			return
		}
		delete(b.subs[chat.GroupRoom(p.GroupID)], c)

	case protocol.EventSendMessage:
		var p protocol.SendMessagePayload
		if env.DecodePayload(&p) != nil {
			return
		}
		msg, created := b.storeLocked(chat.Message{ID: p.ClientID, SenderID: c.userID, RecipientID: p.RecipientID, Content: p.Content})
		if created {
			b.fanoutLocked(msg.DeliveryRooms(), protocol.EventNewMessage, msg)
		} else {
			b.replyLocked(c, protocol.EventNewMessage, msg)
		}

	case protocol.EventSendGroupMessage:
		var p protocol.SendGroupMessagePayload
		if env.DecodePayload(&p) != nil {
			return
		}
		if _, ok := b.groups[p.GroupID]; !ok {
			b.replyLocked(c, protocol.EventError, protocol.ErrorPayload{Event: env.Event, ClientID: p.ClientID, Message: "group not found"})
			return
		}
		msg, created := b.storeLocked(chat.Message{ID: p.ClientID, SenderID: c.userID, GroupID: p.GroupID, Content: p.Content})
		if created {
			b.fanoutLocked(msg.DeliveryRooms(), protocol.EventNewGroupMessage, msg)
		} else {
			b.replyLocked(c, protocol.EventNewGroupMessage, msg)
		}
	}
}

func (b *fakeBroker) subscribeLocked(c *fakeConn, room chat.RoomID) {
	set, ok := b.subs[room]
	if !ok {
		set = make(map[*fakeConn]bool)
		b.subs[room] = set
	}
	set[c] = true
}

func (b *fakeBroker) storeLocked(msg chat.Message) (chat.Message, bool) {
	if existing, ok := b.messages[msg.ID]; ok {
		return existing, false
	}
	b.clock = b.clock.Add(time.Millisecond)
	msg.CreatedAt = b.clock
	b.messages[msg.ID] = msg
	return msg, true
}

func (b *fakeBroker) fanoutLocked(rooms []chat.RoomID, event string, payload any) {
	frame, _ := protocol.Encode(event, payload)
	seen := make(map[*fakeConn]bool)
	for _, room := range rooms {
		for c := range b.subs[room] {
			if seen[c] {
				continue
			}
			seen[c] = true
			c.deliver(frame)
		}
	}
}

func (b *fakeBroker) replyLocked(c *fakeConn, event string, payload any) {
	frame, _ := protocol.Encode(event, payload)
	c.deliver(frame)
}

// fetcherFor returns the REST view of the broker as seen by userID.
func (b *fakeBroker) fetcherFor(userID int64) Fetcher {
	return brokerFetcher{broker: b, userID: userID}
}

type brokerFetcher struct {
	broker *fakeBroker
	userID int64
}

func (f brokerFetcher) FetchAll(_ context.Context) ([]chat.Message, error) {
	b := f.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	var out []chat.Message
	for _, msg := range b.messages {
		visible := msg.SenderID == f.userID || msg.RecipientID == f.userID ||
			(msg.GroupID != 0 && b.groups[msg.GroupID][f.userID])
		if visible {
			out = append(out, msg)
		}
	}
	chat.SortMessages(out)
	return out, nil
}

func (f brokerFetcher) FetchConversation(_ context.Context, room chat.RoomID) ([]chat.Message, error) {
	b := f.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if room.IsDirect() {
		if _, err := room.Peer(f.userID); err != nil {
			return nil, err
		}
	}
	var out []chat.Message
	for _, msg := range b.messages {
		if msg.Conversation() == room {
			out = append(out, msg)
		}
	}
	chat.SortMessages(out)
	return out, nil
}

// fakeConn is one broker transport.
type fakeConn struct {
	broker      *fakeBroker
	userID      int64
	inbound     chan []byte
	closed      chan struct{}
	once        sync.Once
	mu          sync.Mutex
	serverClose bool
}

func (c *fakeConn) deliver(frame []byte) {
	select {
	case c.inbound <- frame:
	default:
	}
}

func (c *fakeConn) kill(serverClose bool) {
	c.mu.Lock()
	c.serverClose = serverClose
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.inbound:
		return websocket.TextMessage, frame, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.serverClose {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway, Text: "server shutdown"}
		}
		return 0, nil, io.ErrUnexpectedEOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return nil
	}
	c.broker.handle(c, env)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.broker.forget(c)
	})
	return nil
}

// stubFetcher serves fixed snapshots. gate, when set, holds every fetch
// until a value is received; started is signalled as each fetch begins.
type stubFetcher struct {
	mu      sync.Mutex
	rooms   map[chat.RoomID][]chat.Message
	all     []chat.Message
	err     error
	calls   int
	gate    chan struct{}
	started chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{rooms: make(map[chat.RoomID][]chat.Message)}
}

func (f *stubFetcher) set(room chat.RoomID, msgs ...chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[room] = msgs
}

func (f *stubFetcher) wait() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
}

func (f *stubFetcher) FetchAll(context.Context) ([]chat.Message, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]chat.Message(nil), f.all...), f.err
}

func (f *stubFetcher) FetchConversation(_ context.Context, room chat.RoomID) ([]chat.Message, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]chat.Message(nil), f.rooms[room]...), nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder collects published events of one type.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func contents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	sort.Strings(out)
	return out
}

func at(sec int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, sec, 0, time.UTC)
}

func msgAt(id string, sec int, content string) chat.Message {
	return chat.Message{ID: id, SenderID: 1, RecipientID: 2, Content: content, CreatedAt: at(sec), State: chat.StateDelivered}
}

func mustOpen(t *testing.T, s *Session, id Identity) {
	t.Helper()
	if err := s.Open(context.Background(), id); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
}
