package client

import (
	"sort"
	"sync"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/protocol"
)

// RoomSet records the rooms the local session participates in. It outlives
// any single transport and is replayed after every (re)connect.
type RoomSet struct {
	mu     sync.Mutex
	userID int64
	groups map[int64]struct{}
}

// NewRoomSet creates an empty set.
func NewRoomSet() *RoomSet {
	return &RoomSet{groups: make(map[int64]struct{})}
}

// SetUser sets the owner of the personal room.
func (r *RoomSet) SetUser(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userID = userID
}

// User returns the owner of the personal room.
func (r *RoomSet) User() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// AddGroup records a joined group and reports whether it was new.
func (r *RoomSet) AddGroup(groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; ok {
		return false
	}
	r.groups[groupID] = struct{}{}
	return true
}

// RemoveGroup forgets a group and reports whether it was present.
func (r *RoomSet) RemoveGroup(groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		return false
	}
	delete(r.groups, groupID)
	return true
}

// HasGroup reports whether the session participates in a group.
func (r *RoomSet) HasGroup(groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.groups[groupID]
	return ok
}

// Groups returns the joined groups in ascending order.
func (r *RoomSet) Groups() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	groups := make([]int64, 0, len(r.groups))
	for id := range r.groups {
		groups = append(groups, id)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}

// Rooms returns the personal room followed by the group rooms.
func (r *RoomSet) Rooms() []chat.RoomID {
	groups := r.Groups()
	rooms := make([]chat.RoomID, 0, len(groups)+1)
	if user := r.User(); user != 0 {
		rooms = append(rooms, chat.PersonalRoom(user))
	}
	for _, id := range groups {
		rooms = append(rooms, chat.GroupRoom(id))
	}
	return rooms
}

type outbound struct {
	event   string
	payload any
}

// joinEvents returns the events that re-establish every subscription.
func (r *RoomSet) joinEvents() []outbound {
	user := r.User()
	if user == 0 {
		return nil
	}
	events := []outbound{{event: protocol.EventJoin, payload: protocol.JoinPayload{UserID: user}}}
	for _, id := range r.Groups() {
		events = append(events, outbound{
			event:   protocol.EventJoinGroup,
			payload: protocol.GroupPayload{UserID: user, GroupID: id},
		})
	}
	return events
}
