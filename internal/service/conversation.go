package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/domain/conversation"
	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
	"github.com/Wandeon/meta-chat-platform/internal/port/database"
)

// ConversationManager coordinates conversation upserts and message
// persistence around the data store.
type ConversationManager struct {
	store        database.Store
	historyLimit int
}

// NewConversationManager creates a manager with the given history window.
func NewConversationManager(store database.Store, historyLimit int) *ConversationManager {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &ConversationManager{store: store, historyLimit: historyLimit}
}

// EnsureConversation finds or creates the conversation for an inbound
// message. The peer identity (From) is the conversation's external ID, so
// all messages from one user on one channel share a thread. Re-upserting a
// closed or handed-off conversation reactivates it.
func (m *ConversationManager) EnsureConversation(ctx context.Context, tenantID, channelType string, msg *message.Normalized) (*conversation.Conversation, error) {
	externalID := msg.ConversationID
	if externalID == "" {
		externalID = msg.From
	}

	conv, err := m.store.UpsertConversation(ctx, &conversation.Conversation{
		TenantID:      tenantID,
		ChannelType:   channelType,
		ExternalID:    externalID,
		UserID:        msg.From,
		LastMessageAt: coerceTimestamp(msg.Timestamp),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return conv, nil
}

// RecordInbound persists an inbound message into the conversation. A zero
// timestamp is coerced to now so ordering queries stay sane.
func (m *ConversationManager) RecordInbound(ctx context.Context, conv *conversation.Conversation, msg *message.Normalized) (*conversation.Message, error) {
	stored, err := m.store.CreateMessage(ctx, &conversation.Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		ExternalID:     msg.ExternalID,
		Direction:      message.DirectionInbound,
		From:           msg.From,
		Type:           msg.Type,
		Content:        msg.Content,
		Metadata:       msg.Metadata,
		Timestamp:      coerceTimestamp(msg.Timestamp),
	})
	if err != nil {
		return nil, fmt.Errorf("record inbound message: %w", err)
	}
	return stored, nil
}

// RecordOutbound persists an assistant or system reply and advances the
// conversation clock.
func (m *ConversationManager) RecordOutbound(ctx context.Context, conv *conversation.Conversation, content message.Content, externalID string, metadata map[string]any) (*conversation.Message, error) {
	now := time.Now()
	stored, err := m.store.CreateMessage(ctx, &conversation.Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		ExternalID:     externalID,
		Direction:      message.DirectionOutbound,
		From:           conv.TenantID,
		Type:           message.TypeText,
		Content:        content,
		Metadata:       metadata,
		Timestamp:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("record outbound message: %w", err)
	}
	if err := m.store.TouchConversation(ctx, conv.ID, now); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return stored, nil
}

// History returns the most recent messages in chronological order, bounded
// by the configured window.
func (m *ConversationManager) History(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	msgs, err := m.store.ListRecentMessages(ctx, conversationID, m.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	// Store returns newest first; the model wants oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AssignToHuman marks the conversation as owned by a human agent.
func (m *ConversationManager) AssignToHuman(ctx context.Context, conversationID string) error {
	if err := m.store.UpdateConversationStatus(ctx, conversationID, conversation.StatusAssignedHuman); err != nil {
		return fmt.Errorf("assign conversation to human: %w", err)
	}
	return nil
}

func coerceTimestamp(ts message.Timestamp) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts.Time
}
