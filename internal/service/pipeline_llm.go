package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	adapterotel "github.com/Wandeon/meta-chat-platform/internal/adapter/otel"
	"github.com/Wandeon/meta-chat-platform/internal/domain/conversation"
	"github.com/Wandeon/meta-chat-platform/internal/domain/function"
	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
	"github.com/Wandeon/meta-chat-platform/internal/port/llm"
)

// generateReply runs the bounded tool-calling loop: build the prompt from
// history and retrieved context, stream a completion, execute any tool calls
// and feed results back, until the model answers in plain text or the
// iteration budget runs out.
func (p *MessagePipeline) generateReply(ctx context.Context, log *slog.Logger, rc *tenant.RuntimeConfig, conv *conversation.Conversation, inbound *conversation.Message) (string, error) {
	provider, err := p.providers(rc.LLM.Provider)
	if err != nil {
		return "", fmt.Errorf("resolve provider %q: %w", rc.LLM.Provider, err)
	}

	messages, err := p.buildMessages(ctx, log, rc, conv)
	if err != nil {
		return "", err
	}

	var schemas []function.Schema
	if rc.Settings.FunctionsEnabled {
		schemas = p.functions.Schemas(conv.TenantID)
	}

	fc := function.Context{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		MessageID:      inbound.ID,
	}

	var usage llm.Usage
	defer func() {
		if p.metrics != nil {
			p.metrics.PromptTokens.Record(ctx, int64(usage.PromptTokens))
			p.metrics.CompletionTokens.Record(ctx, int64(usage.CompletionTokens))
		}
	}()

	for iteration := 0; iteration < p.cfg.MaxToolIterations; iteration++ {
		req := llm.Request{
			Model:       rc.LLM.Model,
			Messages:    messages,
			Functions:   schemas,
			Temperature: rc.LLM.Options.Temperature,
			TopP:        rc.LLM.Options.TopP,
			MaxTokens:   rc.LLM.Options.MaxTokens,
		}

		text, calls, err := p.streamOnce(ctx, provider, req, &usage)
		if err != nil {
			return "", fmt.Errorf("llm call (iteration %d): %w", iteration, err)
		}

		if len(calls) == 0 {
			return strings.TrimSpace(text), nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   text,
			ToolCalls: calls,
		})
		for _, call := range calls {
			messages = append(messages, p.executeToolCall(ctx, log, fc, call))
		}
	}

	// Budget exhausted with the model still asking for tools: answer with
	// whatever context exists rather than loop forever.
	log.Warn("tool iteration budget exhausted, forcing final answer")
	req := llm.Request{
		Model:       rc.LLM.Model,
		Messages:    messages,
		Temperature: rc.LLM.Options.Temperature,
		TopP:        rc.LLM.Options.TopP,
		MaxTokens:   rc.LLM.Options.MaxTokens,
	}
	text, _, err := p.streamOnce(ctx, provider, req, &usage)
	if err != nil {
		return "", fmt.Errorf("llm final call: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// streamOnce performs one streaming completion, assembling text deltas and
// tool call fragments into complete values.
func (p *MessagePipeline) streamOnce(ctx context.Context, provider llm.Provider, req llm.Request, usage *llm.Usage) (string, []llm.ToolCall, error) {
	var text strings.Builder
	type callAcc struct {
		name  string
		args  strings.Builder
		order int
	}
	calls := make(map[string]*callAcc)

	err := provider.StreamChat(ctx, req, func(chunk llm.StreamChunk) {
		text.WriteString(chunk.TextDelta)
		for _, delta := range chunk.ToolCalls {
			acc, ok := calls[delta.ID]
			if !ok {
				acc = &callAcc{order: len(calls)}
				calls[delta.ID] = acc
			}
			if delta.Name != "" {
				acc.name = delta.Name
			}
			acc.args.WriteString(delta.ArgsFragment)
		}
		usage.Add(chunk.Usage)
	})
	if err != nil {
		return "", nil, err
	}

	assembled := make([]llm.ToolCall, 0, len(calls))
	for id, acc := range calls {
		assembled = append(assembled, llm.ToolCall{ID: id, Name: acc.name, Args: acc.args.String()})
	}
	sort.Slice(assembled, func(i, j int) bool {
		return calls[assembled[i].ID].order < calls[assembled[j].ID].order
	})
	return text.String(), assembled, nil
}

// toolFailureResult is the only failure text the model ever sees; the actual
// error stays in the logs so internal detail cannot leak into a reply.
const toolFailureResult = "error: the function call failed"

// executeToolCall runs one function and wraps the outcome as a tool message.
// Failures are reported to the model instead of aborting the pipeline; the
// model decides whether to retry, apologize or answer without the tool.
func (p *MessagePipeline) executeToolCall(ctx context.Context, log *slog.Logger, fc function.Context, call llm.ToolCall) llm.Message {
	ctx, span := adapterotel.StartToolCallSpan(ctx, call.ID, call.Name)
	defer span.End()

	if p.metrics != nil {
		p.metrics.ToolCalls.Add(ctx, 1)
	}

	result, err := p.functions.Execute(ctx, fc.TenantID, call.Name, call.Args, fc)
	if err != nil {
		log.Warn("tool call failed", "tool", call.Name, "error", err)
		result = toolFailureResult
	}
	return llm.Message{
		Role:       "tool",
		Content:    result,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

// buildMessages assembles the model conversation: system prompt, retrieved
// knowledge context, then the history window (which includes the inbound
// message, already persisted).
func (p *MessagePipeline) buildMessages(ctx context.Context, log *slog.Logger, rc *tenant.RuntimeConfig, conv *conversation.Conversation) ([]llm.Message, error) {
	history, err := p.convs.History(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	var messages []llm.Message
	if prompt := systemPrompt(rc); prompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: prompt})
	}

	if rc.Settings.RAGEnabled && p.retriever != nil {
		if query := lastInboundText(history); query != "" {
			if contextBlock := p.retrieveContext(ctx, log, conv.TenantID, query, rc.Settings); contextBlock != "" {
				messages = append(messages, llm.Message{Role: "system", Content: contextBlock})
			}
		}
	}

	for _, m := range history {
		role := "user"
		if m.Direction == message.DirectionOutbound {
			role = "assistant"
		}
		text := m.Content.Text
		if text == "" {
			text = describeNonText(m)
		}
		messages = append(messages, llm.Message{Role: role, Content: text})
	}
	return messages, nil
}

func (p *MessagePipeline) retrieveContext(ctx context.Context, log *slog.Logger, tenantID, query string, s tenant.Settings) string {
	ctx, span := adapterotel.StartRetrievalSpan(ctx, tenantID)
	defer span.End()

	ragCfg := tenant.RAGConfig{}
	if s.RAG != nil {
		ragCfg = *s.RAG
	} else {
		ragCfg = tenant.RAGConfig{
			TopK:          tenant.DefaultTopK,
			MinSimilarity: tenant.DefaultMinSimilarity,
			HybridWeights: tenant.HybridWeights{Keyword: tenant.DefaultKeywordWeight, Vector: tenant.DefaultVectorWeight},
		}
	}

	outcome, err := p.retriever.Search(ctx, tenantID, query, ragCfg)
	if err != nil {
		// Retrieval is an enrichment; the pipeline answers without it.
		log.Warn("retrieval failed, answering without context", "error", err)
		return ""
	}
	if len(outcome.Results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant knowledge base excerpts:\n")
	budget := p.cfg.ContextChunkChars
	for i, res := range outcome.Results {
		content := res.Chunk.Content
		if budget > 0 && len(content) > budget {
			content = content[:budget]
		}
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, content)
	}
	return b.String()
}

// systemPrompt composes the persona/tone/locale preamble and appends the
// tenant's own system prompt when one is configured.
func systemPrompt(rc *tenant.RuntimeConfig) string {
	var parts []string
	if rc.Settings.BrandName != "" {
		parts = append(parts, fmt.Sprintf("You are the assistant for %s.", rc.Settings.BrandName))
	}
	if rc.Settings.Tone != "" {
		parts = append(parts, fmt.Sprintf("Respond in a %s tone.", rc.Settings.Tone))
	}
	if rc.Settings.Locale != "" {
		parts = append(parts, fmt.Sprintf("Answer in the %s locale.", rc.Settings.Locale))
	}
	if rc.LLM != nil && rc.LLM.Options.SystemPrompt != "" {
		parts = append(parts, rc.LLM.Options.SystemPrompt)
	}
	return strings.Join(parts, " ")
}

func lastInboundText(history []conversation.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Direction == message.DirectionInbound && history[i].Content.Text != "" {
			return history[i].Content.Text
		}
	}
	return ""
}

func describeNonText(m conversation.Message) string {
	switch {
	case m.Content.Media != nil:
		return fmt.Sprintf("[%s message: %s]", m.Type, m.Content.Media.URL)
	case m.Content.Location != nil:
		return fmt.Sprintf("[location: %f, %f]", m.Content.Location.Lat, m.Content.Location.Lng)
	default:
		return fmt.Sprintf("[%s message]", m.Type)
	}
}
