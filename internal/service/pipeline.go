package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	adapterotel "github.com/Wandeon/meta-chat-platform/internal/adapter/otel"
	"github.com/Wandeon/meta-chat-platform/internal/config"
	"github.com/Wandeon/meta-chat-platform/internal/domain"
	"github.com/Wandeon/meta-chat-platform/internal/domain/conversation"
	"github.com/Wandeon/meta-chat-platform/internal/domain/event"
	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
	"github.com/Wandeon/meta-chat-platform/internal/logger"
	"github.com/Wandeon/meta-chat-platform/internal/port/channel"
	"github.com/Wandeon/meta-chat-platform/internal/port/events"
	"github.com/Wandeon/meta-chat-platform/internal/port/llm"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

// ProviderResolver returns the streaming provider for a named binding.
type ProviderResolver func(name string) (llm.Provider, error)

// MessagePipeline is the end-to-end handler for one inbound message: config
// resolution, persistence, handoff detection, model invocation with tools,
// and outbound delivery.
type MessagePipeline struct {
	configs   *TenantConfigService
	convs     *ConversationManager
	retriever *RagRetriever
	functions *FunctionRegistry
	channels  *channel.Registry
	providers ProviderResolver
	emitter   events.Emitter
	cfg       config.Pipeline
	logger    *slog.Logger
	metrics   *adapterotel.Metrics
}

// NewMessagePipeline wires the pipeline. emitter and metrics may be nil.
func NewMessagePipeline(
	configs *TenantConfigService,
	convs *ConversationManager,
	retriever *RagRetriever,
	functions *FunctionRegistry,
	channels *channel.Registry,
	providers ProviderResolver,
	emitter events.Emitter,
	cfg config.Pipeline,
	log *slog.Logger,
	metrics *adapterotel.Metrics,
) *MessagePipeline {
	if log == nil {
		log = slog.Default()
	}
	return &MessagePipeline{
		configs:   configs,
		convs:     convs,
		retriever: retriever,
		functions: functions,
		channels:  channels,
		providers: providers,
		emitter:   emitter,
		cfg:       cfg,
		logger:    log,
		metrics:   metrics,
	}
}

// Handle processes one delivery. A nil return settles the message; any error
// requests a retry and, on exhaustion, dead-lettering. There is no
// permanent-vs-transient classification: malformed payloads and unresolvable
// config take the same retry path, so every failure leaves a dead-letter
// trail instead of vanishing on ack.
func (p *MessagePipeline) Handle(ctx context.Context, d messagequeue.Delivery) error {
	started := time.Now()

	tenantID, channelType, _, err := messagequeue.ParseRoutingKey(d.Subject)
	if err != nil {
		return fmt.Errorf("parse subject %q: %w", d.Subject, err)
	}

	correlationID := d.Header[messagequeue.HeaderCorrelationID]
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = logger.WithCorrelationID(ctx, correlationID)
	log := p.logger.With(
		"correlation_id", correlationID,
		"tenant_id", tenantID,
		"channel_type", channelType,
	)

	var msg message.Normalized
	if err := json.Unmarshal(d.Data, &msg); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, span := adapterotel.StartPipelineSpan(ctx, tenantID, channelType, msg.ID)
	defer span.End()

	rc, err := p.configs.Resolve(ctx, tenantID, channelType)
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	conv, err := p.convs.EnsureConversation(ctx, tenantID, channelType, &msg)
	if err != nil {
		return err
	}
	stored, err := p.convs.RecordInbound(ctx, conv, &msg)
	if err != nil {
		return err
	}
	log = log.With("conversation_id", conv.ID)

	if p.isHandoffRequest(rc.Settings, &msg) {
		return p.handoff(ctx, log, conv, stored)
	}

	if rc.LLM == nil {
		// The inbound message is already persisted; after exhausting
		// retries the delivery dead-letters where operators can see it.
		return fmt.Errorf("tenant %s channel %s: %w", tenantID, channelType, domain.ErrLLMNotConfigured)
	}

	reply, err := p.generateReply(ctx, log, rc, conv, stored)
	if err != nil {
		return err
	}
	if reply == "" {
		log.Debug("model produced no reply text")
		return nil
	}

	if err := p.deliver(ctx, log, rc, conv, &msg, reply); err != nil {
		return err
	}

	if p.metrics != nil {
		p.metrics.PipelineDuration.Record(ctx, time.Since(started).Seconds())
	}
	return nil
}

// isHandoffRequest reports whether the inbound text matches one of the
// tenant's handoff keywords (case-insensitive substring match).
func (p *MessagePipeline) isHandoffRequest(s tenant.Settings, msg *message.Normalized) bool {
	if !s.HandoffEnabled || len(s.HumanHandoffKeywords) == 0 {
		return false
	}
	text := strings.ToLower(msg.Text())
	if text == "" {
		return false
	}
	for _, kw := range s.HumanHandoffKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (p *MessagePipeline) handoff(ctx context.Context, log *slog.Logger, conv *conversation.Conversation, stored *conversation.Message) error {
	if err := p.convs.AssignToHuman(ctx, conv.ID); err != nil {
		return err
	}
	log.Info("conversation handed off to human")
	p.emit(ctx, event.Event{
		Type:      event.TypeHandoffRequested,
		TenantID:  conv.TenantID,
		Timestamp: time.Now(),
		Data: map[string]any{
			"conversation_id": conv.ID,
			"message_id":      stored.ID,
			"channel_type":    conv.ChannelType,
		},
	})
	return nil
}

// deliver sends the reply over the conversation's channel, persists the
// outbound message and emits the sent event.
func (p *MessagePipeline) deliver(ctx context.Context, log *slog.Logger, rc *tenant.RuntimeConfig, conv *conversation.Conversation, inbound *message.Normalized, reply string) error {
	adapter, err := p.channels.Get(conv.ChannelType)
	if err != nil {
		return err
	}

	out := &message.Outbound{
		To:                     inbound.From,
		Content:                message.Content{Text: reply},
		ConversationExternalID: conv.ExternalID,
	}
	result, err := adapter.Send(ctx, out, channel.SendContext{
		TenantID:      conv.TenantID,
		ChannelType:   conv.ChannelType,
		ChannelConfig: rc.ChannelConfig,
	})
	if err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}

	storedOut, err := p.convs.RecordOutbound(ctx, conv, out.Content, result.ExternalID, result.Metadata)
	if err != nil {
		return err
	}

	log.Info("reply delivered", "external_id", result.ExternalID)
	p.emit(ctx, event.Event{
		Type:      event.TypeMessageSent,
		TenantID:  conv.TenantID,
		Timestamp: time.Now(),
		Data: map[string]any{
			"conversation_id": conv.ID,
			"message_id":      storedOut.ID,
			"channel_type":    conv.ChannelType,
			"external_id":     result.ExternalID,
		},
	})
	return nil
}

func (p *MessagePipeline) emit(ctx context.Context, ev event.Event) {
	if p.emitter != nil {
		p.emitter.Emit(ctx, ev)
	}
}
