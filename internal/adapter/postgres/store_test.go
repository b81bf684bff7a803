package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wandeon/meta-chat-platform/internal/adapter/postgres"
	"github.com/Wandeon/meta-chat-platform/internal/domain"
	"github.com/Wandeon/meta-chat-platform/internal/domain/conversation"
	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store plus the raw pool for seeding fixtures. The pool is
// closed via t.Cleanup.
func setupStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool), pool
}

// seedTenant inserts an enabled tenant with a whatsapp channel and returns
// the tenant ID. Rows are removed via t.Cleanup (cascades cover the rest).
func seedTenant(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	ctx := context.Background()
	slug := "test-" + uuid.New().String()[:8]

	var tenantID string
	err := pool.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, settings) VALUES ($1, $2, '{"rag_enabled": true}') RETURNING id`,
		"Test "+slug, slug).Scan(&tenantID)
	if err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO channels (tenant_id, type, config) VALUES ($1, 'whatsapp', '{"phone_number_id": "123"}')`,
		tenantID)
	if err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM tenants WHERE id = $1`, tenantID)
	})
	return tenantID
}

func TestStore_TenantAndChannel(t *testing.T) {
	store, pool := setupStore(t)
	tenantID := seedTenant(t, pool)
	ctx := context.Background()

	tn, err := store.GetTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if !tn.Enabled {
		t.Error("expected seeded tenant to be enabled")
	}
	if len(tn.Settings) == 0 {
		t.Error("expected settings JSON to round-trip")
	}

	ch, err := store.GetChannel(ctx, tenantID, "whatsapp")
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if ch.TenantID != tenantID || ch.Type != "whatsapp" {
		t.Errorf("unexpected channel row: %+v", ch)
	}

	if _, err := store.GetChannel(ctx, tenantID, "messenger"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing channel, got %v", err)
	}

	channels, err := store.ListEnabledChannels(ctx)
	if err != nil {
		t.Fatalf("ListEnabledChannels: %v", err)
	}
	found := false
	for _, c := range channels {
		if c.ID == ch.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected seeded channel in enabled list")
	}
}

func TestStore_ConversationUpsert(t *testing.T) {
	store, pool := setupStore(t)
	tenantID := seedTenant(t, pool)
	ctx := context.Background()

	first, err := store.UpsertConversation(ctx, &conversation.Conversation{
		TenantID:      tenantID,
		ChannelType:   "whatsapp",
		ExternalID:    "+491700000001",
		UserID:        "user-1",
		LastMessageAt: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}
	if first.Status != conversation.StatusActive {
		t.Errorf("expected new conversation to be active, got %s", first.Status)
	}

	if err := store.UpdateConversationStatus(ctx, first.ID, conversation.StatusClosed); err != nil {
		t.Fatalf("UpdateConversationStatus: %v", err)
	}

	// A fresh inbound message reopens the conversation and advances the clock.
	later := time.Now()
	second, err := store.UpsertConversation(ctx, &conversation.Conversation{
		TenantID:      tenantID,
		ChannelType:   "whatsapp",
		ExternalID:    "+491700000001",
		LastMessageAt: later,
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same conversation row, got %s and %s", first.ID, second.ID)
	}
	if second.Status != conversation.StatusActive {
		t.Errorf("expected status reset to active, got %s", second.Status)
	}
	if second.UserID != "user-1" {
		t.Errorf("expected empty user_id to preserve the existing value, got %q", second.UserID)
	}
	if !second.LastMessageAt.After(first.LastMessageAt) {
		t.Error("expected last_message_at to advance")
	}

	if err := store.UpdateConversationStatus(ctx, uuid.NewString(), conversation.StatusClosed); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown conversation, got %v", err)
	}
}

func TestStore_Messages(t *testing.T) {
	store, pool := setupStore(t)
	tenantID := seedTenant(t, pool)
	ctx := context.Background()

	conv, err := store.UpsertConversation(ctx, &conversation.Conversation{
		TenantID:      tenantID,
		ChannelType:   "whatsapp",
		ExternalID:    "+491700000002",
		LastMessageAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}

	base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	for i, text := range []string{"first", "second", "third"} {
		_, err := store.CreateMessage(ctx, &conversation.Message{
			TenantID:       tenantID,
			ConversationID: conv.ID,
			Direction:      message.DirectionInbound,
			From:           "user-1",
			Type:           message.TypeText,
			Content:        message.Content{Text: text},
			Metadata:       map[string]any{"seq": text},
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("CreateMessage %q: %v", text, err)
		}
	}

	msgs, err := store.ListRecentMessages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content.Text != "third" || msgs[1].Content.Text != "second" {
		t.Errorf("expected newest-first order, got %q then %q", msgs[0].Content.Text, msgs[1].Content.Text)
	}
	if msgs[0].Metadata["seq"] != "third" {
		t.Errorf("expected metadata to round-trip, got %v", msgs[0].Metadata)
	}
}

func TestStore_KeywordSearch(t *testing.T) {
	store, pool := setupStore(t)
	tenantID := seedTenant(t, pool)
	ctx := context.Background()

	var docID string
	err := pool.QueryRow(ctx,
		`INSERT INTO documents (tenant_id, title) VALUES ($1, 'faq') RETURNING id`, tenantID).Scan(&docID)
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	for _, content := range []string{
		"Our refund policy covers returns within 30 days.",
		"Shipping takes 3 to 5 business days.",
	} {
		if _, err := pool.Exec(ctx,
			`INSERT INTO chunks (document_id, content) VALUES ($1, $2)`, docID, content); err != nil {
			t.Fatalf("seed chunk: %v", err)
		}
	}

	hits, err := store.SearchChunksByKeyword(ctx, tenantID, "refund policy", 10)
	if err != nil {
		t.Fatalf("SearchChunksByKeyword: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Rank <= 0 {
		t.Errorf("expected positive rank, got %f", hits[0].Rank)
	}
	if hits[0].Chunk.DocumentID != docID {
		t.Errorf("expected hit from seeded document, got %s", hits[0].Chunk.DocumentID)
	}

	// Other tenants must never see these chunks.
	otherTenant := seedTenant(t, pool)
	hits, err = store.SearchChunksByKeyword(ctx, otherTenant, "refund policy", 10)
	if err != nil {
		t.Fatalf("SearchChunksByKeyword (other tenant): %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no cross-tenant hits, got %d", len(hits))
	}
}
