package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Wandeon/meta-chat-platform/internal/domain/retrieval"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
	"github.com/Wandeon/meta-chat-platform/internal/port/database"
	"github.com/Wandeon/meta-chat-platform/internal/port/embedding"
)

// RagRetriever runs hybrid (vector + keyword) retrieval over a tenant's
// knowledge chunks and fuses the two rankings into one scored list.
type RagRetriever struct {
	store    database.Store
	embedder embedding.Embedder
	logger   *slog.Logger
}

// SearchOutcome is the result of one hybrid search. VectorUsed reports
// whether the vector signal actually contributed; keyword-only results are a
// degraded mode, not an error.
type SearchOutcome struct {
	Results    []retrieval.Result
	VectorUsed bool
}

// NewRagRetriever creates a retriever. embedder may be nil, in which case
// every search is keyword-only.
func NewRagRetriever(store database.Store, embedder embedding.Embedder, logger *slog.Logger) *RagRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &RagRetriever{store: store, embedder: embedder, logger: logger}
}

// Search runs both signals and fuses them. A vector-side failure (no
// embedder, embedding error, search error) degrades to keyword-only; a
// keyword-side failure degrades to vector-only; both failing is an error.
func (r *RagRetriever) Search(ctx context.Context, tenantID, query string, cfg tenant.RAGConfig) (*SearchOutcome, error) {
	vecHits, vecUsed := r.vectorSearch(ctx, tenantID, query, cfg)

	kwHits, kwErr := r.store.SearchChunksByKeyword(ctx, tenantID, query, cfg.TopK)
	if kwErr != nil {
		if !vecUsed {
			return nil, fmt.Errorf("hybrid search: both signals failed: %w", kwErr)
		}
		r.logger.Warn("keyword search failed, using vector only", "tenant_id", tenantID, "error", kwErr)
	}

	results := fuse(vecHits, kwHits, cfg.HybridWeights, cfg.TopK)
	return &SearchOutcome{Results: results, VectorUsed: vecUsed}, nil
}

func (r *RagRetriever) vectorSearch(ctx context.Context, tenantID, query string, cfg tenant.RAGConfig) ([]retrieval.Hit, bool) {
	if r.embedder == nil {
		return nil, false
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, degrading to keyword only", "tenant_id", tenantID, "error", err)
		return nil, false
	}
	hits, err := r.store.SearchChunksByEmbedding(ctx, tenantID, vec, cfg.MinSimilarity, cfg.TopK)
	if err != nil {
		r.logger.Warn("vector search failed, degrading to keyword only", "tenant_id", tenantID, "error", err)
		return nil, false
	}
	return hits, true
}

// fuse merges the two rankings by chunk ID. Keyword ranks are normalized
// against the highest rank observed in this result set, so the best keyword
// hit scores 1.0 regardless of the backend's rank scale.
func fuse(vecHits, kwHits []retrieval.Hit, w tenant.HybridWeights, topK int) []retrieval.Result {
	var maxRank float64
	for _, h := range kwHits {
		if h.Rank > maxRank {
			maxRank = h.Rank
		}
	}

	type entry struct {
		chunk      retrieval.Chunk
		similarity float64
		kwScore    float64
		hasVec     bool
		hasKw      bool
	}
	merged := make(map[string]*entry)
	order := make([]string, 0, len(vecHits)+len(kwHits))

	for _, h := range vecHits {
		merged[h.Chunk.ID] = &entry{chunk: h.Chunk, similarity: h.Similarity, hasVec: true}
		order = append(order, h.Chunk.ID)
	}
	for _, h := range kwHits {
		e, ok := merged[h.Chunk.ID]
		if !ok {
			e = &entry{chunk: h.Chunk}
			merged[h.Chunk.ID] = e
			order = append(order, h.Chunk.ID)
		}
		e.hasKw = true
		if maxRank > 0 {
			e.kwScore = h.Rank / maxRank
		}
	}

	results := make([]retrieval.Result, 0, len(order))
	for _, id := range order {
		e := merged[id]
		res := retrieval.Result{
			Chunk: e.chunk,
			Score: w.Vector*e.similarity + w.Keyword*e.kwScore,
		}
		switch {
		case e.hasVec && e.hasKw && e.kwScore > 0:
			res.Type = retrieval.TypeHybrid
		case e.hasVec:
			res.Type = retrieval.TypeVector
		default:
			res.Type = retrieval.TypeKeyword
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
