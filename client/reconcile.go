package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/chatsync/domain/chat"
	"golang.org/x/sync/singleflight"
)

// Fetcher reads authoritative snapshots. *RESTClient satisfies it.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]chat.Message, error)
	FetchConversation(ctx context.Context, room chat.RoomID) ([]chat.Message, error)
}

type buffered struct {
	msg        chat.Message
	receivedAt time.Time
}

// conversation is the client state of one room: the last installed snapshot
// plus the live events received since.
type conversation struct {
	snapshot    map[string]chat.Message
	hasSnapshot bool
	fetchedAt   time.Time
	buffer      map[string]buffered
	tombstones  map[string]time.Time
	opened      bool
	stale       bool
}

func newConversation() *conversation {
	return &conversation{
		snapshot:   make(map[string]chat.Message),
		buffer:     make(map[string]buffered),
		tombstones: make(map[string]time.Time),
	}
}

func (c *conversation) empty() bool {
	return len(c.snapshot) == 0 && len(c.buffer) == 0 && len(c.tombstones) == 0
}

// Reconciler merges REST snapshots with the live event stream into one
// ordered, duplicate-free view per conversation.
type Reconciler struct {
	fetcher   Fetcher
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
	fetches   singleflight.Group

	mu        sync.Mutex
	rooms     map[chat.RoomID]*conversation
	conflicts int
}

// NewReconciler creates a Reconciler. Buffered events of conversations that
// are not open are dropped once older than retention.
func NewReconciler(fetcher Fetcher, retention time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		fetcher:   fetcher,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		rooms:     make(map[chat.RoomID]*conversation),
	}
}

func (r *Reconciler) get(room chat.RoomID) *conversation {
	conv, ok := r.rooms[room]
	if !ok {
		conv = newConversation()
		r.rooms[room] = conv
	}
	return conv
}

// Apply buffers a live message for room.
func (r *Reconciler) Apply(room chat.RoomID, msg chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.evictLocked(now)

	conv := r.get(room)
	if _, deleted := conv.tombstones[msg.ID]; deleted {
		return
	}
	if existing, ok := conv.lookup(msg.ID); ok {
		if existing.SameContent(msg) {
			return
		}
		msg = r.resolveLocked(room, existing, msg)
		delete(conv.snapshot, msg.ID)
	}
	conv.buffer[msg.ID] = buffered{msg: msg, receivedAt: now}
}

// Remove drops a message from both the snapshot and the buffer of room. A
// tombstone keeps a late echo or an older snapshot from bringing it back.
func (r *Reconciler) Remove(room chat.RoomID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv := r.get(room)
	delete(conv.snapshot, id)
	delete(conv.buffer, id)
	conv.tombstones[id] = r.now()
}

// Reconcile returns the merged view of room, fetching a snapshot first when
// none is installed or the installed one is stale. On fetch failure the
// current view is returned along with the error.
func (r *Reconciler) Reconcile(ctx context.Context, room chat.RoomID) ([]chat.Message, error) {
	r.mu.Lock()
	conv := r.get(room)
	conv.opened = true
	needFetch := !conv.hasSnapshot || conv.stale
	r.mu.Unlock()

	if needFetch {
		_, err, _ := r.fetches.Do(string(room), func() (any, error) {
			started := r.now()
			msgs, err := r.fetcher.FetchConversation(ctx, room)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.installLocked(room, msgs, started)
			r.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return r.View(room), fmt.Errorf("fetch %s: %w", room, err)
		}
	}
	return r.View(room), nil
}

// SyncAll installs a fetch-all snapshot for every conversation it covers and
// for every conversation already known.
func (r *Reconciler) SyncAll(ctx context.Context) error {
	_, err, _ := r.fetches.Do("*", func() (any, error) {
		started := r.now()
		msgs, err := r.fetcher.FetchAll(ctx)
		if err != nil {
			return nil, err
		}

		byRoom := make(map[chat.RoomID][]chat.Message)
		for _, msg := range msgs {
			room := msg.Conversation()
			byRoom[room] = append(byRoom[room], msg)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		for room := range r.rooms {
			if _, ok := byRoom[room]; !ok {
				byRoom[room] = nil
			}
		}
		for room, roomMsgs := range byRoom {
			r.installLocked(room, roomMsgs, started)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("fetch all: %w", err)
	}
	return nil
}

// installLocked replaces the snapshot of room. Buffered events received
// before the fetch started are superseded by it; later ones are kept.
func (r *Reconciler) installLocked(room chat.RoomID, msgs []chat.Message, started time.Time) {
	conv := r.get(room)

	snapshot := make(map[string]chat.Message, len(msgs))
	for _, msg := range msgs {
		msg.State = chat.StateDelivered
		if at, deleted := conv.tombstones[msg.ID]; deleted && !at.Before(started) {
			continue
		}
		if existing, ok := snapshot[msg.ID]; ok && !existing.SameContent(msg) {
			msg = r.resolveLocked(room, existing, msg)
		}
		snapshot[msg.ID] = msg
	}

	for id, b := range conv.buffer {
		if b.receivedAt.Before(started) {
			delete(conv.buffer, id)
			continue
		}
		if existing, ok := snapshot[id]; ok {
			if !existing.SameContent(b.msg) {
				snapshot[id] = r.resolveLocked(room, existing, b.msg)
			}
			delete(conv.buffer, id)
		}
	}
	for id, at := range conv.tombstones {
		if at.Before(started) {
			delete(conv.tombstones, id)
		}
	}

	conv.snapshot = snapshot
	conv.hasSnapshot = true
	conv.stale = false
	conv.fetchedAt = started
}

// resolveLocked settles two records sharing an id with different content:
// the later CreatedAt wins, and the incoming record wins a tie.
func (r *Reconciler) resolveLocked(room chat.RoomID, existing, incoming chat.Message) chat.Message {
	r.conflicts++
	winner := incoming
	if existing.CreatedAt.After(incoming.CreatedAt) {
		winner = existing
	}
	r.logger.Warn("reconciliation conflict",
		"room", room,
		"id", incoming.ID,
		"kept_created_at", winner.CreatedAt,
	)
	return winner
}

// View returns the merged view of room without fetching.
func (r *Reconciler) View(room chat.RoomID) []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.rooms[room]
	if !ok {
		return nil
	}
	view := make([]chat.Message, 0, len(conv.snapshot)+len(conv.buffer))
	for _, msg := range conv.snapshot {
		view = append(view, msg)
	}
	for id, b := range conv.buffer {
		if _, dup := conv.snapshot[id]; dup {
			continue
		}
		view = append(view, b.msg)
	}
	chat.SortMessages(view)
	return view
}

// MarkAllStale forces the next Reconcile of every conversation to refetch.
func (r *Reconciler) MarkAllStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conv := range r.rooms {
		conv.stale = true
	}
}

// IsStale reports whether room needs a refetch before its view is trusted.
func (r *Reconciler) IsStale(room chat.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.rooms[room]
	return !ok || !conv.hasSnapshot || conv.stale
}

// CloseConversation ends interest in room. Its snapshot is released and any
// buffered events are kept only until the retention policy evicts them.
func (r *Reconciler) CloseConversation(room chat.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.rooms[room]
	if !ok {
		return
	}
	conv.opened = false
	conv.hasSnapshot = false
	conv.snapshot = make(map[string]chat.Message)
	r.evictLocked(r.now())
}

// OpenRooms returns the conversations currently open.
func (r *Reconciler) OpenRooms() []chat.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rooms []chat.RoomID
	for room, conv := range r.rooms {
		if conv.opened {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// Evict applies the retention policy now.
func (r *Reconciler) Evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(r.now())
}

func (r *Reconciler) evictLocked(now time.Time) {
	cutoff := now.Add(-r.retention)
	for room, conv := range r.rooms {
		if conv.opened {
			continue
		}
		for id, b := range conv.buffer {
			if b.receivedAt.Before(cutoff) {
				delete(conv.buffer, id)
			}
		}
		for id, at := range conv.tombstones {
			if at.Before(cutoff) {
				delete(conv.tombstones, id)
			}
		}
		if conv.empty() && !conv.hasSnapshot {
			delete(r.rooms, room)
		}
	}
}

// Conflicts returns how many reconciliation conflicts were resolved.
func (r *Reconciler) Conflicts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflicts
}

func (c *conversation) lookup(id string) (chat.Message, bool) {
	if b, ok := c.buffer[id]; ok {
		return b.msg, true
	}
	msg, ok := c.snapshot[id]
	return msg, ok
}
