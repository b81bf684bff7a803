package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "metachat"

// StartPipelineSpan starts a span for one inbound message run.
func StartPipelineSpan(ctx context.Context, tenantID, channelType, messageID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("channel.type", channelType),
			attribute.String("message.id", messageID),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a pipeline run.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartRetrievalSpan starts a span for a hybrid context search.
func StartRetrievalSpan(ctx context.Context, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "retrieval",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
		),
	)
}
