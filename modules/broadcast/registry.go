package broadcast

import (
	"sort"
	"sync"

	"github.com/example/chatsync/domain/chat"
)

// room holds the subscriber set of one room. Membership changes and fan-out
// snapshots of the same room are serialised on mu.
type room struct {
	mu      sync.Mutex
	members map[string]struct{}
	dead    bool // removed from the registry; joiners must fetch a fresh room
}

// Registry maps rooms to the sessions currently subscribed to them.
// Lock order: room.mu before Registry.mu.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[chat.RoomID]*room
	sessions map[string]map[chat.RoomID]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[chat.RoomID]*room),
		sessions: make(map[string]map[chat.RoomID]struct{}),
	}
}

func (r *Registry) getOrCreate(roomID chat.RoomID) *room {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[roomID]; !ok {
		rm = &room{members: make(map[string]struct{})}
		r.rooms[roomID] = rm
	}
	return rm
}

// Join subscribes a session to a room and reports whether it was newly added.
// Joining a room twice is a no-op.
func (r *Registry) Join(sessionID string, roomID chat.RoomID) bool {
	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		if _, ok := rm.members[sessionID]; ok {
			rm.mu.Unlock()
			return false
		}
		rm.members[sessionID] = struct{}{}

		r.mu.Lock()
		joined, ok := r.sessions[sessionID]
		if !ok {
			joined = make(map[chat.RoomID]struct{})
			r.sessions[sessionID] = joined
		}
		joined[roomID] = struct{}{}
		r.mu.Unlock()

		rm.mu.Unlock()
		return true
	}
}

// Leave unsubscribes a session and reports whether it was a member.
// Leaving a room not joined is a no-op.
func (r *Registry) Leave(sessionID string, roomID chat.RoomID) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.members[sessionID]; !ok {
		return false
	}
	delete(rm.members, sessionID)

	r.mu.Lock()
	if joined, ok := r.sessions[sessionID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.sessions, sessionID)
		}
	}
	if len(rm.members) == 0 {
		rm.dead = true
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
	}
	r.mu.Unlock()
	return true
}

// DropSession removes a session from every room it joined and returns those rooms.
func (r *Registry) DropSession(sessionID string) []chat.RoomID {
	rooms := r.RoomsOf(sessionID)
	for _, roomID := range rooms {
		r.Leave(sessionID, roomID)
	}
	return rooms
}

// MembersOf returns a consistent snapshot of a room's subscribers.
func (r *Registry) MembersOf(roomID chat.RoomID) []string {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	members := make([]string, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	rm.mu.Unlock()

	sort.Strings(members)
	return members
}

// RoomsOf returns the rooms a session has joined.
func (r *Registry) RoomsOf(sessionID string) []chat.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.sessions[sessionID]
	rooms := make([]chat.RoomID, 0, len(joined))
	for roomID := range joined {
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// RoomCount returns the number of rooms with at least one subscriber.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomMemberCount returns the number of subscribers of a room.
func (r *Registry) RoomMemberCount(roomID chat.RoomID) int {
	return len(r.MembersOf(roomID))
}
