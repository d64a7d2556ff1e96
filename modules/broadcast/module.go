package broadcast

import (
	"context"
	"fmt"

	"github.com/example/chatsync/domain/chat"
	"github.com/example/chatsync/events"
	"github.com/example/chatsync/protocol"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// BroadcastModule is an EventConsumerModule that pushes stored messages and
// deletions to the sessions subscribed to the affected rooms.
type BroadcastModule struct {
	hub       *Hub
	config    SessionConfig
	cancelHub context.CancelFunc
	logger    types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule(config SessionConfig, logger types.Logger) *BroadcastModule {
	logger = logger.WithModule("broadcast")
	return &BroadcastModule{
		hub:    NewHub(logger),
		config: config,
		logger: logger,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start initializes the module and starts the hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	m.logger.Info("Module started", "send_buffer", m.config.SendBuffer, "ping_interval", m.config.PingInterval)
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	sessionCount := m.hub.SessionCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	m.logger.Info("Module stopped", "sessions", sessionCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	stats := m.hub.Stats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"sessions":   m.hub.SessionCount(),
			"rooms":      m.hub.Registry().RoomCount(),
			"dispatched": stats.Dispatched,
			"delivered":  stats.Delivered,
			"dropped":    stats.Dropped,
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageCreatedV1, m.handleMessageCreated, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageCreated consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageDeletedV1, m.handleMessageDeleted, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageDeleted consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "MessageCreated, MessageDeleted")
	return nil
}

// GetHub returns the hub for the API module to register sessions with.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}

// SessionConfig returns the per-connection settings new sessions should use.
func (m *BroadcastModule) SessionConfig() SessionConfig {
	return m.config
}

func (m *BroadcastModule) handleMessageCreated(_ context.Context, event events.MessageCreatedEvent, _ *mono.Msg) error {
	msg := event.Message
	name := protocol.EventNewMessage
	if msg.GroupID != 0 {
		name = protocol.EventNewGroupMessage
	}

	frame, err := protocol.Encode(name, msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	rooms := msg.DeliveryRooms()
	m.logger.Debug("Broadcasting message", "id", msg.ID, "event", name, "rooms", rooms)
	if !m.hub.Fanout(rooms, frame) {
		m.logger.Warn("Hub stopped, message not broadcast", "id", msg.ID)
	}
	return nil
}

func (m *BroadcastModule) handleMessageDeleted(_ context.Context, event events.MessageDeletedEvent, _ *mono.Msg) error {
	payload := protocol.MessageDeletedPayload{
		ID:          event.MessageID,
		SenderID:    event.SenderID,
		RecipientID: event.RecipientID,
		GroupID:     event.GroupID,
	}
	frame, err := protocol.Encode(protocol.EventMessageDeleted, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", protocol.EventMessageDeleted, err)
	}

	rooms := chat.Message{
		SenderID:    event.SenderID,
		RecipientID: event.RecipientID,
		GroupID:     event.GroupID,
	}.DeliveryRooms()
	m.logger.Debug("Broadcasting deletion", "id", event.MessageID, "rooms", rooms)
	if !m.hub.Fanout(rooms, frame) {
		m.logger.Warn("Hub stopped, deletion not broadcast", "id", event.MessageID)
	}
	return nil
}
