// Package channel defines the outbound channel adapter port and its registry.
package channel

import (
	"context"

	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
)

// SendContext carries tenant scope and channel credentials into an adapter.
type SendContext struct {
	TenantID      string
	ChannelType   string
	ChannelConfig map[string]any
}

// SendResult is what a channel adapter reports after a delivery attempt.
type SendResult struct {
	MessageID  string         `json:"message_id,omitempty"`
	ExternalID string         `json:"external_id,omitempty"`
	Raw        any            `json:"raw,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Adapter sends an outbound message over one channel's wire protocol.
// Implementations may return an error on transport failure; the pipeline
// propagates it into the consumer retry policy.
type Adapter interface {
	Send(ctx context.Context, out *message.Outbound, sc SendContext) (*SendResult, error)
}
