package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "metachat"

// Metrics holds all pipeline metric instruments.
type Metrics struct {
	MessagesProcessed    metric.Int64Counter
	MessagesRetried      metric.Int64Counter
	MessagesDeadLettered metric.Int64Counter
	ToolCalls            metric.Int64Counter
	ConfigCacheHits      metric.Int64Counter
	ConfigCacheMisses    metric.Int64Counter
	PipelineDuration     metric.Float64Histogram
	PromptTokens         metric.Int64Histogram
	CompletionTokens     metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.MessagesProcessed, err = meter.Int64Counter("metachat.messages.processed",
		metric.WithDescription("Number of queue messages processed to completion"))
	if err != nil {
		return nil, err
	}

	m.MessagesRetried, err = meter.Int64Counter("metachat.messages.retried",
		metric.WithDescription("Number of queue messages republished for retry"))
	if err != nil {
		return nil, err
	}

	m.MessagesDeadLettered, err = meter.Int64Counter("metachat.messages.dead_lettered",
		metric.WithDescription("Number of queue messages routed to the dead-letter queue"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("metachat.toolcalls",
		metric.WithDescription("Number of model tool calls executed"))
	if err != nil {
		return nil, err
	}

	m.ConfigCacheHits, err = meter.Int64Counter("metachat.config_cache.hits",
		metric.WithDescription("Tenant config cache hits"))
	if err != nil {
		return nil, err
	}

	m.ConfigCacheMisses, err = meter.Int64Counter("metachat.config_cache.misses",
		metric.WithDescription("Tenant config cache misses"))
	if err != nil {
		return nil, err
	}

	m.PipelineDuration, err = meter.Float64Histogram("metachat.pipeline.duration_seconds",
		metric.WithDescription("End-to-end message pipeline duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.PromptTokens, err = meter.Int64Histogram("metachat.llm.prompt_tokens",
		metric.WithDescription("Prompt tokens consumed per pipeline run"))
	if err != nil {
		return nil, err
	}

	m.CompletionTokens, err = meter.Int64Histogram("metachat.llm.completion_tokens",
		metric.WithDescription("Completion tokens consumed per pipeline run"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
