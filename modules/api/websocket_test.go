package api

import (
	"context"
	"testing"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/modules/broadcast"
	"github.com/example/chatsync/protocol"
)

type wsFixture struct {
	m     *APIModule
	h     servicePort
	sess  *broadcast.Session
	tr    *fakeTransport
	alice int64
	bob   int64
	seen  int
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	h := newHistory(t)
	alice := mustUser(t, h, "alice")
	bob := mustUser(t, h, "bob")
	m := newTestModule(t, h, tokenAuth(map[string]int64{"alice": alice, "bob": bob}))

	tr := newFakeTransport()
	sess := broadcast.NewSession("sess-alice", alice, tr, broadcast.SessionConfig{SendBuffer: 16}, &mockLogger{})
	m.hub.Register(sess)
	t.Cleanup(func() { m.hub.Unregister(sess) })

	return &wsFixture{m: m, h: h, sess: sess, tr: tr, alice: alice, bob: bob}
}

// send feeds one client event to the gateway.
func (f *wsFixture) send(t *testing.T, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	f.m.handleEvent(context.Background(), f.sess, env)
}

// reply returns the next frame written to the session.
func (f *wsFixture) reply(t *testing.T) protocol.Envelope {
	t.Helper()
	env, err := protocol.Decode(f.tr.next(t, f.seen))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	f.seen++
	return env
}

func (f *wsFixture) expectAck(t *testing.T, status string, room chat.RoomID) {
	t.Helper()
	env := f.reply(t)
	if env.Event != protocol.EventConnectionResponse {
		t.Fatalf("event = %q, want %q (data %s)", env.Event, protocol.EventConnectionResponse, env.Data)
	}
	var ack protocol.ConnectionResponse
	if err := env.DecodePayload(&ack); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if ack.Status != status || ack.Room != room {
		t.Errorf("ack = %+v, want status %q room %q", ack, status, room)
	}
}

func (f *wsFixture) expectError(t *testing.T, event, clientID string) protocol.ErrorPayload {
	t.Helper()
	env := f.reply(t)
	if env.Event != protocol.EventError {
		t.Fatalf("event = %q, want %q (data %s)", env.Event, protocol.EventError, env.Data)
	}
	var p protocol.ErrorPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.Event != event || p.ClientID != clientID {
		t.Errorf("error = %+v, want event %q client_id %q", p, event, clientID)
	}
	return p
}

func TestHandleEvent_Join(t *testing.T) {
	f := newWSFixture(t)

	f.send(t, protocol.EventJoin, protocol.JoinPayload{UserID: f.bob})
	f.expectError(t, protocol.EventJoin, "")

	f.send(t, protocol.EventJoin, protocol.JoinPayload{UserID: f.alice})
	f.expectAck(t, protocol.StatusJoined, chat.PersonalRoom(f.alice))

	members := f.m.hub.Registry().MembersOf(chat.PersonalRoom(f.alice))
	if len(members) != 1 || members[0] != f.sess.ID {
		t.Errorf("MembersOf() = %v, want [%s]", members, f.sess.ID)
	}
}

func TestHandleEvent_GroupMembership(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()

	group, err := f.h.CreateGroup(ctx, "team", f.bob, nil)
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	room := chat.GroupRoom(group.ID)

	f.send(t, protocol.EventJoinGroup, protocol.GroupPayload{UserID: f.alice, GroupID: group.ID})
	f.expectError(t, protocol.EventJoinGroup, "")
	if f.m.hub.Registry().RoomMemberCount(room) != 0 {
		t.Fatal("non-member joined the group room")
	}

	if err := f.h.AddMember(ctx, group.ID, f.alice); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	f.send(t, protocol.EventJoinGroup, protocol.GroupPayload{UserID: f.alice, GroupID: group.ID})
	f.expectAck(t, protocol.StatusJoined, room)

	f.send(t, protocol.EventLeaveGroup, protocol.GroupPayload{UserID: f.alice, GroupID: group.ID})
	f.expectAck(t, protocol.StatusLeft, room)
	if f.m.hub.Registry().RoomMemberCount(room) != 0 {
		t.Error("session still subscribed after leave_group")
	}
}

func TestHandleEvent_SendMessage(t *testing.T) {
	f := newWSFixture(t)
	ctx := context.Background()
	clientID := "0b6f4a52-8f7e-4d8e-9a55-0c1d2e3f4a5b"

	f.send(t, protocol.EventSendMessage, protocol.SendMessagePayload{
		ClientID:    clientID,
		SenderID:    f.alice,
		RecipientID: f.bob,
		Content:     "hi",
	})

	messages, err := f.h.DirectConversation(ctx, f.alice, f.bob)
	if err != nil {
		t.Fatalf("DirectConversation() error = %v", err)
	}
	if len(messages) != 1 || messages[0].ID != clientID || messages[0].Content != "hi" {
		t.Fatalf("messages = %+v, want one message with the client id", messages)
	}

	// Resending the same client id does not store a duplicate.
	f.send(t, protocol.EventSendMessage, protocol.SendMessagePayload{
		ClientID:    clientID,
		SenderID:    f.alice,
		RecipientID: f.bob,
		Content:     "hi",
	})
	messages, _ = f.h.DirectConversation(ctx, f.alice, f.bob)
	if len(messages) != 1 {
		t.Errorf("stored %d messages after retry, want 1", len(messages))
	}

	// The resend is echoed to the sending session only.
	echo := f.reply(t)
	if echo.Event != protocol.EventNewMessage {
		t.Fatalf("event = %q, want %q", echo.Event, protocol.EventNewMessage)
	}
	var msg chat.Message
	if err := echo.DecodePayload(&msg); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if msg.ID != clientID {
		t.Errorf("echo id = %q, want %q", msg.ID, clientID)
	}
}

func TestHandleEvent_SendRejected(t *testing.T) {
	f := newWSFixture(t)

	tests := []struct {
		name    string
		event   string
		payload any
	}{
		{
			name:    "spoofed sender",
			event:   protocol.EventSendMessage,
			payload: protocol.SendMessagePayload{ClientID: "c1", SenderID: 999, RecipientID: 1, Content: "x"},
		},
		{
			name:    "empty content",
			event:   protocol.EventSendMessage,
			payload: protocol.SendMessagePayload{ClientID: "c2", RecipientID: 1, Content: ""},
		},
		{
			name:    "unknown group",
			event:   protocol.EventSendGroupMessage,
			payload: protocol.SendGroupMessagePayload{ClientID: "c3", GroupID: 404, Content: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.send(t, tt.event, tt.payload)
			clientID := ""
			switch p := tt.payload.(type) {
			case protocol.SendMessagePayload:
				clientID = p.ClientID
			case protocol.SendGroupMessagePayload:
				clientID = p.ClientID
			}
			if p := f.expectError(t, tt.event, clientID); p.Message == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestHandleEvent_Unknown(t *testing.T) {
	f := newWSFixture(t)
	f.m.handleEvent(context.Background(), f.sess, protocol.Envelope{Event: "dance"})
	f.expectError(t, "dance", "")
}

func TestClientIDOf(t *testing.T) {
	frame, _ := protocol.Encode(protocol.EventSendMessage, protocol.SendMessagePayload{ClientID: "abc"})
	env, _ := protocol.Decode(frame)
	if got := clientIDOf(env); got != "abc" {
		t.Errorf("clientIDOf() = %q, want abc", got)
	}
	if got := clientIDOf(protocol.Envelope{Event: protocol.EventJoin}); got != "" {
		t.Errorf("clientIDOf() without data = %q, want empty", got)
	}
}
