package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	adapterotel "github.com/Wandeon/meta-chat-platform/internal/adapter/otel"
	"github.com/Wandeon/meta-chat-platform/internal/config"
	"github.com/Wandeon/meta-chat-platform/internal/port/database"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

// ConsumerOrchestrator starts one queue consumer per enabled (tenant,
// channel) pair and keeps them running until shutdown.
type ConsumerOrchestrator struct {
	store   database.Store
	broker  messagequeue.Broker
	handler MessageHandler
	cfg     config.Queue
	logger  *slog.Logger
	metrics *adapterotel.Metrics

	mu      sync.Mutex
	cancels []func()
}

// NewConsumerOrchestrator creates the orchestrator. metrics may be nil.
func NewConsumerOrchestrator(store database.Store, broker messagequeue.Broker, handler MessageHandler, cfg config.Queue, logger *slog.Logger, metrics *adapterotel.Metrics) *ConsumerOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerOrchestrator{
		store:   store,
		broker:  broker,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Run starts all consumers and blocks until ctx is done. Topology
// declaration happens in parallel; a single failing channel aborts startup
// so misconfiguration surfaces immediately.
func (o *ConsumerOrchestrator) Run(ctx context.Context) error {
	channels, err := o.store.ListEnabledChannels(ctx)
	if err != nil {
		return fmt.Errorf("list enabled channels: %w", err)
	}
	if len(channels) == 0 {
		o.logger.Warn("no enabled channels, consumer fleet is empty")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		topo := messagequeue.InboundTopology(ch.TenantID, ch.Type)
		consumer := NewQueueConsumer(o.broker, topo, o.handler, o.cfg, o.logger, o.metrics)
		g.Go(func() error {
			cancel, err := consumer.Start(gctx)
			if err != nil {
				return fmt.Errorf("start consumer %s: %w", topo.Queue, err)
			}
			o.mu.Lock()
			o.cancels = append(o.cancels, cancel)
			o.mu.Unlock()
			o.logger.Info("consumer started", "queue", topo.Queue)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.Stop()
		return err
	}

	o.logger.Info("consumer fleet running", "consumers", len(channels))
	<-ctx.Done()
	o.Stop()
	return ctx.Err()
}

// Stop cancels every subscription. Idempotent.
func (o *ConsumerOrchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.cancels = nil
}
