package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/protocol"
	"github.com/google/uuid"
)

// Sender transmits one wire event. *Manager satisfies it.
type Sender interface {
	Send(event string, payload any) error
}

// Dispatcher turns local sends into wire events and routes inbound events to
// the Reconciler and the Subscriptions. A message sent locally is never
// appended to a view directly; it appears once the broker echoes it back.
type Dispatcher struct {
	sender     Sender
	reconciler *Reconciler
	rooms      *RoomSet
	subs       *Subscriptions
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]chat.Message
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender Sender, reconciler *Reconciler, rooms *RoomSet, subs *Subscriptions, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:     sender,
		reconciler: reconciler,
		rooms:      rooms,
		subs:       subs,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		pending:    make(map[string]chat.Message),
	}
}

// SendDirect sends content to a user. The returned message is pending until
// the broker echoes it.
func (d *Dispatcher) SendDirect(senderID, recipientID int64, content string) (chat.Message, error) {
	msg := d.newMessage(senderID, content)
	msg.RecipientID = recipientID
	return d.send(msg, protocol.EventSendMessage, protocol.SendMessagePayload{
		ClientID:    msg.ID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	})
}

// SendGroup sends content to a group.
func (d *Dispatcher) SendGroup(senderID, groupID int64, content string) (chat.Message, error) {
	msg := d.newMessage(senderID, content)
	msg.GroupID = groupID
	return d.send(msg, protocol.EventSendGroupMessage, protocol.SendGroupMessagePayload{
		ClientID: msg.ID,
		SenderID: senderID,
		GroupID:  groupID,
		Content:  content,
	})
}

func (d *Dispatcher) newMessage(senderID int64, content string) chat.Message {
	return chat.Message{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: d.now(),
		State:     chat.StatePending,
	}
}

func (d *Dispatcher) send(msg chat.Message, event string, payload any) (chat.Message, error) {
	if strings.TrimSpace(msg.Content) == "" {
		msg.State = chat.StateFailed
		return msg, ErrEmptyContent
	}

	d.mu.Lock()
	d.pending[msg.ID] = msg
	d.mu.Unlock()
	d.publishDelivery(msg, nil)

	if err := d.sender.Send(event, payload); err != nil {
		failed, _ := d.settle(msg.ID, chat.StateFailed)
		d.publishDelivery(failed, err)
		return failed, err
	}
	return msg, nil
}

// Pending returns the messages still waiting for their echo, oldest first.
func (d *Dispatcher) Pending() []chat.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]chat.Message, 0, len(d.pending))
	for _, msg := range d.pending {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return chat.Less(out[i], out[j]) })
	return out
}

// ResendPending transmits every pending message again. The broker stores a
// message once per id, so a resend after a lost echo is harmless.
func (d *Dispatcher) ResendPending() {
	for _, msg := range d.Pending() {
		var err error
		if msg.GroupID != 0 {
			err = d.sender.Send(protocol.EventSendGroupMessage, protocol.SendGroupMessagePayload{
				ClientID: msg.ID, SenderID: msg.SenderID, GroupID: msg.GroupID, Content: msg.Content,
			})
		} else {
			err = d.sender.Send(protocol.EventSendMessage, protocol.SendMessagePayload{
				ClientID: msg.ID, SenderID: msg.SenderID, RecipientID: msg.RecipientID, Content: msg.Content,
			})
		}
		if err != nil {
			d.logger.Warn("resend failed", "id", msg.ID, "error", err)
		}
	}
}

// FailPending marks every pending message failed.
func (d *Dispatcher) FailPending(cause error) {
	for _, msg := range d.Pending() {
		if failed, ok := d.settle(msg.ID, chat.StateFailed); ok {
			d.publishDelivery(failed, cause)
		}
	}
}

// settle removes a pending message and returns it with its final state.
func (d *Dispatcher) settle(id string, state chat.DeliveryState) (chat.Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, ok := d.pending[id]
	if !ok {
		return chat.Message{}, false
	}
	delete(d.pending, id)
	msg.State = state
	return msg, true
}

// HandleInbound routes one broker event. Malformed events are logged and
// dropped.
func (d *Dispatcher) HandleInbound(env protocol.Envelope) {
	var err error
	switch env.Event {
	case protocol.EventNewMessage, protocol.EventNewGroupMessage:
		err = d.handleMessage(env)
	case protocol.EventMessageDeleted:
		err = d.handleDeleted(env)
	case protocol.EventConnectionResponse:
		err = d.handleAck(env)
	case protocol.EventError:
		err = d.handleError(env)
	default:
		err = fmt.Errorf("unknown event")
	}
	if err != nil {
		perr := &ProtocolError{Event: env.Event, Err: err}
		d.logger.Warn("dropping inbound event", "event", env.Event, "error", perr)
	}
}

func (d *Dispatcher) handleMessage(env protocol.Envelope) error {
	var msg chat.Message
	if err := env.DecodePayload(&msg); err != nil {
		return err
	}
	if msg.ID == "" || msg.SenderID == 0 {
		return errors.New("message without id or sender")
	}
	isGroup := env.Event == protocol.EventNewGroupMessage
	if isGroup != (msg.GroupID != 0) || (!isGroup && msg.RecipientID == 0) {
		return errors.New("message target does not match event")
	}
	// Our own group sends are echoed to our personal room even when we are
	// not a member of the group.
	own := msg.SenderID == d.rooms.User()
	if isGroup && !own && !d.rooms.HasGroup(msg.GroupID) {
		d.logger.Debug("ignoring message for group not joined", "group", msg.GroupID, "id", msg.ID)
		return nil
	}

	msg.State = chat.StateDelivered
	if sent, ok := d.settle(msg.ID, chat.StateDelivered); ok {
		d.publishDelivery(sent, nil)
	}

	room := msg.Conversation()
	d.reconciler.Apply(room, msg)
	d.subs.Publish(Event{Type: EventType(env.Event), Room: room, Message: &msg, MessageID: msg.ID})
	return nil
}

func (d *Dispatcher) handleDeleted(env protocol.Envelope) error {
	var p protocol.MessageDeletedPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	if p.ID == "" {
		return errors.New("deletion without id")
	}

	room := p.Conversation()
	d.reconciler.Remove(room, p.ID)
	// A deletion proves the broker stored the message, even if its echo was lost.
	if sent, ok := d.settle(p.ID, chat.StateDelivered); ok {
		d.publishDelivery(sent, nil)
	}
	d.subs.Publish(Event{Type: EventMessageDeleted, Room: room, MessageID: p.ID})
	return nil
}

func (d *Dispatcher) handleAck(env protocol.Envelope) error {
	var ack protocol.ConnectionResponse
	if err := env.DecodePayload(&ack); err != nil {
		return err
	}
	d.subs.Publish(Event{Type: EventConnectionResponse, Room: ack.Room, Ack: &ack})
	return nil
}

func (d *Dispatcher) handleError(env protocol.Envelope) error {
	var p protocol.ErrorPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	brokerErr := errors.New(p.Message)
	if p.ClientID != "" {
		if failed, ok := d.settle(p.ClientID, chat.StateFailed); ok {
			d.publishDelivery(failed, brokerErr)
		}
	}
	d.logger.Warn("broker rejected event", "event", p.Event, "client_id", p.ClientID, "message", p.Message)
	d.subs.Publish(Event{Type: EventError, MessageID: p.ClientID, Err: brokerErr})
	return nil
}

func (d *Dispatcher) publishDelivery(msg chat.Message, err error) {
	d.subs.Publish(Event{
		Type:      EventDeliveryChanged,
		Room:      msg.Conversation(),
		Message:   &msg,
		MessageID: msg.ID,
		Err:       err,
	})
}
