// Package llm defines the streaming language model provider port. Every
// provider binding normalizes its wire format into StreamChunk values so the
// pipeline never inspects provider-specific payloads.
package llm

import (
	"context"

	"github.com/Wandeon/meta-chat-platform/internal/domain/function"
)

// ToolCall is a completed tool invocation on an assistant message. Args is
// the raw argument JSON exactly as the model produced it.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

// Message is one entry in the model conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // for role="assistant"
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool"
	Name       string     `json:"name,omitempty"`         // function name for role="tool"
}

// Request is the input for one streaming completion call.
type Request struct {
	Model       string
	Messages    []Message
	Functions   []function.Schema
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Metadata    map[string]string
}

// ToolCallDelta is one normalized fragment of a streamed tool call. ID is
// always set (bindings must resolve index-keyed fragments to their call id);
// Name arrives once per call; ArgsFragment carries a piece of the argument
// JSON to be concatenated in arrival order.
type ToolCallDelta struct {
	ID           string
	Name         string
	ArgsFragment string
}

// UsageDelta is an incremental usage report. Zero fields mean "no update".
type UsageDelta struct {
	PromptTokens     int
	CompletionTokens int
}

// StreamChunk is one normalized increment of a streamed completion.
type StreamChunk struct {
	TextDelta string
	ToolCalls []ToolCallDelta
	Usage     *UsageDelta
}

// Usage is the accumulated token consumption over one or more calls.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Add accumulates a delta; nil deltas and zero fields leave u unchanged.
func (u *Usage) Add(d *UsageDelta) {
	if d == nil {
		return
	}
	u.PromptTokens += d.PromptTokens
	u.CompletionTokens += d.CompletionTokens
}

// Provider is the port interface for a streaming chat completion backend.
// StreamChat invokes onChunk for every increment and returns after the
// stream is fully consumed.
type Provider interface {
	StreamChat(ctx context.Context, req Request, onChunk func(StreamChunk)) error
	Name() string
}
