// Package embedding defines the text embedding port used by hybrid retrieval.
package embedding

import "context"

// Embedder turns text into a dense vector compatible with the chunk index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the vector width this embedder produces.
	Dimensions() int
}
