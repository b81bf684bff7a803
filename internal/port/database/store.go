// Package database defines the persistence port consumed by the services.
package database

import (
	"context"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/domain/conversation"
	"github.com/Wandeon/meta-chat-platform/internal/domain/retrieval"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
)

// Store is the port interface over the relational data store. Implementations
// must be safe for concurrent use.
type Store interface {
	// Tenants and channels.
	GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error)
	GetChannel(ctx context.Context, tenantID, channelType string) (*tenant.Channel, error)
	ListEnabledChannels(ctx context.Context) ([]tenant.Channel, error)

	// Conversations. UpsertConversation inserts by the composite natural key
	// (tenant_id, channel_type, external_id) or, on conflict, refreshes
	// user_id and last_message_at and resets status to active.
	UpsertConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error)
	UpdateConversationStatus(ctx context.Context, conversationID string, status conversation.Status) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// Messages. ListRecentMessages returns up to limit messages in
	// reverse-chronological order (newest first).
	CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error)

	// Chunk search. Both return at most limit hits scoped to the tenant.
	SearchChunksByEmbedding(ctx context.Context, tenantID string, embedding []float32, minSimilarity float64, limit int) ([]retrieval.Hit, error)
	SearchChunksByKeyword(ctx context.Context, tenantID, query string, limit int) ([]retrieval.Hit, error)
}
