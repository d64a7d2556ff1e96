package broadcast

import (
	"fmt"
	"sync"
	"testing"

	"github.com/example/chatsync/domain/chat"
)

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	r := NewRegistry()
	room := chat.PersonalRoom(1)

	if !r.Join("s1", room) {
		t.Fatal("first Join() = false, want true")
	}
	if r.Join("s1", room) {
		t.Error("second Join() = true, want false")
	}
	if got := r.RoomMemberCount(room); got != 1 {
		t.Errorf("RoomMemberCount() = %d, want 1", got)
	}
}

func TestRegistry_LeaveRemovesEmptyRoom(t *testing.T) {
	r := NewRegistry()
	room := chat.GroupRoom(7)

	if r.Leave("s1", room) {
		t.Error("Leave() of unknown room = true, want false")
	}

	r.Join("s1", room)
	r.Join("s2", room)
	if !r.Leave("s1", room) {
		t.Fatal("Leave() = false, want true")
	}
	if r.Leave("s1", room) {
		t.Error("second Leave() = true, want false")
	}
	if got := r.RoomCount(); got != 1 {
		t.Errorf("RoomCount() = %d, want 1", got)
	}

	r.Leave("s2", room)
	if got := r.RoomCount(); got != 0 {
		t.Errorf("RoomCount() after last leave = %d, want 0", got)
	}

	// A room removed while empty can be joined again.
	if !r.Join("s3", room) {
		t.Error("Join() after removal = false, want true")
	}
	if got := r.MembersOf(room); len(got) != 1 || got[0] != "s3" {
		t.Errorf("MembersOf() = %v, want [s3]", got)
	}
}

func TestRegistry_DropSession(t *testing.T) {
	r := NewRegistry()
	rooms := []chat.RoomID{chat.PersonalRoom(1), chat.GroupRoom(2), chat.GroupRoom(3)}
	for _, room := range rooms {
		r.Join("s1", room)
	}
	r.Join("s2", chat.GroupRoom(2))

	dropped := r.DropSession("s1")
	if len(dropped) != len(rooms) {
		t.Fatalf("DropSession() returned %d rooms, want %d", len(dropped), len(rooms))
	}
	if got := r.RoomsOf("s1"); len(got) != 0 {
		t.Errorf("RoomsOf() after drop = %v, want none", got)
	}
	if got := r.MembersOf(chat.GroupRoom(2)); len(got) != 1 || got[0] != "s2" {
		t.Errorf("MembersOf(group:2) = %v, want [s2]", got)
	}
	if got := r.RoomCount(); got != 1 {
		t.Errorf("RoomCount() = %d, want 1", got)
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	room := chat.GroupRoom(1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			for j := 0; j < 100; j++ {
				r.Join(id, room)
				r.MembersOf(room)
				r.Leave(id, room)
			}
			r.Join(id, room)
		}(i)
	}
	wg.Wait()

	if got := r.RoomMemberCount(room); got != 50 {
		t.Errorf("RoomMemberCount() = %d, want 50", got)
	}
	for i := 0; i < 50; i++ {
		rooms := r.RoomsOf(fmt.Sprintf("s%d", i))
		if len(rooms) != 1 || rooms[0] != room {
			t.Fatalf("RoomsOf(s%d) = %v, want [%s]", i, rooms, room)
		}
	}
}
