// Package openai implements the llm.Provider port against OpenAI-compatible
// chat completion APIs (OpenAI, OpenRouter, Groq, vLLM, etc.).
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/config"
	"github.com/Wandeon/meta-chat-platform/internal/port/llm"
	"github.com/Wandeon/meta-chat-platform/internal/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client is a streaming chat completion client for one provider binding.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *resilience.Breaker
}

// New creates a client for the named provider binding. The breaker config
// guards the provider endpoint against hammering a dead upstream.
func New(name string, cfg config.Provider, breaker config.Breaker) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		breaker: resilience.NewBreaker(breaker.MaxFailures, breaker.Timeout),
	}
}

func (c *Client) Name() string { return c.name }

// StreamChat sends a streaming chat completion request and invokes onChunk
// for every normalized increment. It returns once the stream is drained.
func (c *Client) StreamChat(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) error {
	body, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	return c.breaker.Execute(func() error {
		respBody, err := c.open(ctx, body)
		if err != nil {
			return err
		}
		defer func() { _ = respBody.Close() }()
		return c.consume(respBody, onChunk)
	})
}

func (c *Client) open(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp.Body, nil
}

// consume reads the SSE stream and normalizes every event. Tool call
// fragments arrive keyed by index with the call ID only on the first
// fragment, so the index-to-ID mapping is resolved here.
func (c *Client) consume(r io.Reader, onChunk func(llm.StreamChunk)) error {
	idByIndex := make(map[int]string)
	nameByIndex := make(map[int]string)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue // tolerate malformed keep-alive frames
		}

		var out llm.StreamChunk
		if len(ev.Choices) > 0 {
			delta := ev.Choices[0].Delta
			out.TextDelta = delta.Content
			for _, tc := range delta.ToolCalls {
				if tc.ID != "" {
					idByIndex[tc.Index] = tc.ID
				}
				if tc.Function.Name != "" {
					nameByIndex[tc.Index] = strings.TrimSpace(tc.Function.Name)
				}
				out.ToolCalls = append(out.ToolCalls, llm.ToolCallDelta{
					ID:           idByIndex[tc.Index],
					Name:         nameByIndex[tc.Index],
					ArgsFragment: tc.Function.Arguments,
				})
			}
		}
		if ev.Usage != nil {
			out.Usage = &llm.UsageDelta{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
			}
		}
		if out.TextDelta != "" || len(out.ToolCalls) > 0 || out.Usage != nil {
			onChunk(out)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: read stream: %w", c.name, err)
	}
	return nil
}

func (c *Client) buildBody(req llm.Request) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{
			"role":    m.Role,
			"content": m.Content,
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Args,
					},
				}
			}
			msg["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		if m.Name != "" {
			msg["name"] = m.Name
		}
		msgs = append(msgs, msg)
	}

	body := map[string]any{
		"model":          req.Model,
		"messages":       msgs,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
	}

	if len(req.Functions) > 0 {
		tools := make([]map[string]any, len(req.Functions))
		for i, fn := range req.Functions {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        fn.Name,
					"description": fn.Description,
					"parameters":  fn.Parameters,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

// streamEvent mirrors one SSE data frame of the chat completions stream.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
