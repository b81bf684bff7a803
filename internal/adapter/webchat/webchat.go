// Package webchat implements the outbound channel adapter for browser chat
// sessions. Delivery is in-process: the message is broadcast to the tenant's
// WebSocket subscribers and mirrored onto the outbound broker subject for
// external gateways.
package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Wandeon/meta-chat-platform/internal/adapter/ws"
	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
	"github.com/Wandeon/meta-chat-platform/internal/port/channel"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

// Adapter delivers webchat messages over the WebSocket hub and the broker.
type Adapter struct {
	hub    *ws.Hub
	broker messagequeue.Broker
	logger *slog.Logger
}

// New creates a webchat adapter. broker may be nil to skip the mirror publish.
func New(hub *ws.Hub, broker messagequeue.Broker, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{hub: hub, broker: broker, logger: logger}
}

func (a *Adapter) Send(ctx context.Context, out *message.Outbound, sc channel.SendContext) (*channel.SendResult, error) {
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("webchat marshal: %w", err)
	}

	a.hub.BroadcastToTenant(ctx, sc.TenantID, ws.Message{
		Type:    "webchat.outbound",
		Payload: json.RawMessage(payload),
	})

	if a.broker != nil {
		subject := messagequeue.RoutingKey(sc.TenantID, sc.ChannelType, "outbound")
		if err := a.broker.Publish(ctx, subject, nil, payload); err != nil {
			// WebSocket delivery already happened; the mirror is best-effort.
			a.logger.Warn("webchat outbound mirror publish failed", "subject", subject, "error", err)
		}
	}

	return &channel.SendResult{ExternalID: "webchat-" + uuid.NewString()}, nil
}
