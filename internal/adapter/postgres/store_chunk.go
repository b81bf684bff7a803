package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Wandeon/meta-chat-platform/internal/domain/retrieval"
)

// SearchChunksByEmbedding runs a cosine-similarity search over the tenant's
// chunks via pgvector. Rows below minSimilarity are filtered server-side.
func (s *Store) SearchChunksByEmbedding(ctx context.Context, tenantID string, embedding []float32, minSimilarity float64, limit int) ([]retrieval.Hit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.content, c.metadata,
		        1 - (c.embedding <=> $2::vector) AS similarity
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.tenant_id = $1
		   AND c.embedding IS NOT NULL
		   AND 1 - (c.embedding <=> $2::vector) >= $3
		 ORDER BY c.embedding <=> $2::vector
		 LIMIT $4`,
		tenantID, vectorLiteral(embedding), minSimilarity, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks by embedding for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	return scanHits(rows, func(h *retrieval.Hit, score float64) { h.Similarity = score })
}

// SearchChunksByKeyword runs a full-text search over the tenant's chunks.
// Rank carries the raw ts_rank score; the fusion layer normalizes it.
func (s *Store) SearchChunksByKeyword(ctx context.Context, tenantID, query string, limit int) ([]retrieval.Hit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.content, c.metadata,
		        ts_rank(c.search_tsv, websearch_to_tsquery('simple', $2)) AS rank
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.tenant_id = $1
		   AND c.search_tsv @@ websearch_to_tsquery('simple', $2)
		 ORDER BY rank DESC
		 LIMIT $3`,
		tenantID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks by keyword for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	return scanHits(rows, func(h *retrieval.Hit, score float64) { h.Rank = score })
}

func scanHits(rows pgx.Rows, assign func(*retrieval.Hit, float64)) ([]retrieval.Hit, error) {
	var hits []retrieval.Hit
	for rows.Next() {
		var h retrieval.Hit
		var metadataJSON []byte
		var score float64
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.DocumentID, &h.Chunk.Content, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		if metadataJSON != nil {
			_ = json.Unmarshal(metadataJSON, &h.Chunk.Metadata)
		}
		assign(&h, score)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
