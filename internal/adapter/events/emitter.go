// Package events implements the events.Emitter port by fanning pipeline
// events out to the NATS event stream and to connected WebSocket clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Wandeon/meta-chat-platform/internal/adapter/ws"
	"github.com/Wandeon/meta-chat-platform/internal/domain/event"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

// Emitter publishes events to the broker and mirrors them to the WebSocket
// hub. Emission is best-effort: a failed publish is logged, never propagated,
// so the pipeline cannot fail on observer trouble.
type Emitter struct {
	broker messagequeue.Broker
	hub    *ws.Hub
	logger *slog.Logger
}

// New creates an Emitter. hub may be nil when no WebSocket surface is running.
func New(broker messagequeue.Broker, hub *ws.Hub, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{broker: broker, hub: hub, logger: logger}
}

// Emit publishes the event on "events.<tenant>.<type>" and broadcasts it to
// the tenant's WebSocket subscribers.
func (e *Emitter) Emit(ctx context.Context, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	subject := fmt.Sprintf("events.%s.%s", ev.TenantID, ev.Type)
	if err := e.broker.Publish(ctx, subject, nil, data); err != nil {
		e.logger.Error("publish event", "subject", subject, "error", err)
	}

	if e.hub != nil {
		e.hub.BroadcastToTenant(ctx, ev.TenantID, ws.Message{
			Type:    ev.Type,
			Payload: json.RawMessage(data),
		})
	}
}
