package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/domain"
	"github.com/Wandeon/meta-chat-platform/internal/domain/conversation"
)

// UpsertConversation inserts a conversation keyed by
// (tenant_id, channel_type, external_id). On conflict it refreshes user_id
// and last_message_at, resets status to active and returns the stored row.
func (s *Store) UpsertConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	var out conversation.Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (tenant_id, channel_type, external_id, user_id, status, last_message_at)
		 VALUES ($1, $2, $3, $4, 'active', $5)
		 ON CONFLICT (tenant_id, channel_type, external_id) DO UPDATE SET
		   user_id         = COALESCE(NULLIF(EXCLUDED.user_id, ''), conversations.user_id),
		   status          = 'active',
		   last_message_at = EXCLUDED.last_message_at,
		   updated_at      = now()
		 RETURNING id, tenant_id, channel_type, external_id, user_id, status, last_message_at, created_at, updated_at`,
		c.TenantID, c.ChannelType, c.ExternalID, c.UserID, c.LastMessageAt,
	).Scan(&out.ID, &out.TenantID, &out.ChannelType, &out.ExternalID, &out.UserID,
		&out.Status, &out.LastMessageAt, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation %s/%s/%s: %w", c.TenantID, c.ChannelType, c.ExternalID, err)
	}
	return &out, nil
}

func (s *Store) UpdateConversationStatus(ctx context.Context, conversationID string, status conversation.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2, updated_at = now() WHERE id = $1`,
		conversationID, status)
	if err != nil {
		return fmt.Errorf("update conversation %s status: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update conversation %s status: %w", conversationID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = $2, updated_at = now() WHERE id = $1`,
		conversationID, at)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal message content: %w", err)
	}
	var metadataJSON []byte
	if m.Metadata != nil {
		if metadataJSON, err = json.Marshal(m.Metadata); err != nil {
			return nil, fmt.Errorf("marshal message metadata: %w", err)
		}
	}

	out := *m
	err = s.pool.QueryRow(ctx,
		`INSERT INTO messages (tenant_id, conversation_id, external_id, direction, sender, type, content, metadata, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		m.TenantID, m.ConversationID, m.ExternalID, m.Direction, m.From, m.Type,
		contentJSON, metadataJSON, m.Timestamp,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message in conversation %s: %w", m.ConversationID, err)
	}
	return &out, nil
}

// ListRecentMessages returns up to limit messages for the conversation,
// newest first.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, conversation_id, external_id, direction, sender, type, content, metadata, ts, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY ts DESC, created_at DESC
		 LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var m conversation.Message
		var contentJSON, metadataJSON []byte
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.ExternalID,
			&m.Direction, &m.From, &m.Type, &contentJSON, &metadataJSON, &m.Timestamp, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &m.Content); err != nil {
			return nil, fmt.Errorf("unmarshal message %s content: %w", m.ID, err)
		}
		if metadataJSON != nil {
			_ = json.Unmarshal(metadataJSON, &m.Metadata)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
