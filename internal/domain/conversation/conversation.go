// Package conversation defines the conversation and persisted message models.
package conversation

import (
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive        Status = "active"
	StatusAssignedHuman Status = "assigned_human"
	StatusClosed        Status = "closed"
)

// Conversation represents one chat thread between an end user and a tenant
// on a specific channel. It is uniquely identified by
// (tenant_id, channel_type, external_id).
type Conversation struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ChannelType   string    `json:"channel_type"`
	ExternalID    string    `json:"external_id"`
	UserID        string    `json:"user_id,omitempty"`
	Status        Status    `json:"status"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is a persisted chat message. Immutable once created.
type Message struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	ConversationID string            `json:"conversation_id"`
	ExternalID     string            `json:"external_id,omitempty"`
	Direction      message.Direction `json:"direction"`
	From           string            `json:"from"`
	Type           message.Type      `json:"type"`
	Content        message.Content   `json:"content"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	CreatedAt      time.Time         `json:"created_at"`
}
