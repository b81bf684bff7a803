// Package retrieval defines the knowledge chunk and fused search result models.
package retrieval

// Chunk is one indexed fragment of a tenant document.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ResultType records which signals contributed to a fused result.
type ResultType string

const (
	TypeKeyword ResultType = "keyword"
	TypeVector  ResultType = "vector"
	TypeHybrid  ResultType = "hybrid"
)

// Result is one scored entry in a fused retrieval ranking. Ephemeral,
// produced per query.
type Result struct {
	Chunk Chunk      `json:"chunk"`
	Score float64    `json:"score"`
	Type  ResultType `json:"type"`
}

// Hit is a raw row returned by a single search signal before fusion.
// Similarity is set by vector search, Rank by keyword search.
type Hit struct {
	Chunk      Chunk
	Similarity float64
	Rank       float64
}
