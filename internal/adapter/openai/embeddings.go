package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Embedder implements the embedding port against the /embeddings endpoint.
type Embedder struct {
	client     *Client
	model      string
	dimensions int
}

// NewEmbedder creates an embedder using the given client's binding. The
// dimensions must match the chunk index column width.
func NewEmbedder(client *Client, model string, dimensions int) *Embedder {
	return &Embedder{client: client, model: model, dimensions: dimensions}
}

func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed returns the dense vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model":      e.model,
		"input":      text,
		"dimensions": e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal embeddings request: %w", e.client.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.client.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create embeddings request: %w", e.client.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.client.apiKey)

	resp, err := e.client.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: embeddings request failed: %w", e.client.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: embeddings status %d: %s", e.client.name, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode embeddings response: %w", e.client.name, err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%s: empty embeddings response", e.client.name)
	}
	return out.Data[0].Embedding, nil
}
