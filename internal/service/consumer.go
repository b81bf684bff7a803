package service

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	adapterotel "github.com/Wandeon/meta-chat-platform/internal/adapter/otel"
	"github.com/Wandeon/meta-chat-platform/internal/config"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

// MessageHandler processes one delivery. A nil return acknowledges the
// message; an error routes it into the retry policy.
type MessageHandler func(ctx context.Context, d messagequeue.Delivery) error

// QueueConsumer runs one durable queue with at-least-once delivery, a
// visibility timeout, exponential-backoff retries and dead-lettering.
//
// Settlement is exclusive: either the handler outcome or the visibility
// timer settles a delivery, never both. A handler that finishes after its
// visibility timer fired has its result discarded; the message was already
// republished for retry.
type QueueConsumer struct {
	broker  messagequeue.Broker
	topo    messagequeue.Topology
	handler MessageHandler
	cfg     config.Queue
	logger  *slog.Logger
	metrics *adapterotel.Metrics
}

// NewQueueConsumer creates a consumer for one (tenant, channel) topology.
// metrics may be nil.
func NewQueueConsumer(broker messagequeue.Broker, topo messagequeue.Topology, handler MessageHandler, cfg config.Queue, logger *slog.Logger, metrics *adapterotel.Metrics) *QueueConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueConsumer{
		broker:  broker,
		topo:    topo,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("queue", topo.Queue),
		metrics: metrics,
	}
}

// Start declares the topology and begins consuming. The returned cancel
// function stops the subscription; in-flight handlers keep their context
// until ctx is done.
func (c *QueueConsumer) Start(ctx context.Context) (func(), error) {
	if err := c.broker.EnsureTopology(ctx, c.topo); err != nil {
		return nil, err
	}
	return c.broker.Consume(ctx, c.topo, c.cfg.Prefetch, func(d messagequeue.Delivery) {
		c.handle(ctx, d)
	})
}

func (c *QueueConsumer) handle(ctx context.Context, d messagequeue.Delivery) {
	var settled atomic.Bool

	timer := time.AfterFunc(c.cfg.VisibilityTimeout, func() {
		if settled.CompareAndSwap(false, true) {
			c.logger.Warn("visibility timeout exceeded", "subject", d.Subject)
			c.retryOrDeadLetter(ctx, d, "visibility timeout exceeded")
		}
	})
	defer timer.Stop()

	hctx, cancel := context.WithTimeout(ctx, c.cfg.VisibilityTimeout)
	defer cancel()
	err := c.handler(hctx, d)

	if !settled.CompareAndSwap(false, true) {
		// Timer won the race; this outcome is void.
		return
	}
	timer.Stop()

	if err == nil {
		c.ack(d)
		if c.metrics != nil {
			c.metrics.MessagesProcessed.Add(ctx, 1)
		}
		return
	}
	c.logger.Error("handler failed", "subject", d.Subject, "error", err)
	c.retryOrDeadLetter(ctx, d, err.Error())
}

// retryOrDeadLetter republishes the delivery with an incremented retry
// count after a backoff delay, or dead-letters it once retries are
// exhausted. The original delivery is acknowledged in both paths; losing the
// race against broker redelivery only produces a duplicate, which downstream
// idempotency absorbs.
func (c *QueueConsumer) retryOrDeadLetter(ctx context.Context, d messagequeue.Delivery, reason string) {
	retryCount := headerInt(d.Header, messagequeue.HeaderRetryCount)

	if retryCount >= c.cfg.MaxRetries {
		header := retryHeader(d.Header, retryCount, reason)
		if err := c.broker.Publish(ctx, c.topo.DeadLetterSubject, header, d.Data); err != nil {
			c.logger.Error("dead-letter publish failed, message will be redelivered",
				"subject", c.topo.DeadLetterSubject, "error", err)
			return // no ack: redelivery retries the dead-lettering
		}
		c.logger.Error("message dead-lettered",
			"subject", d.Subject,
			"retry_count", retryCount,
			"last_error", reason,
		)
		if c.metrics != nil {
			c.metrics.MessagesDeadLettered.Add(ctx, 1)
		}
		c.ack(d)
		return
	}

	delay := c.backoff(retryCount)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return // shutdown: leave unacked for broker redelivery
	}

	header := retryHeader(d.Header, retryCount+1, reason)
	if err := c.broker.Publish(ctx, c.topo.Subject, header, d.Data); err != nil {
		c.logger.Error("retry publish failed, message will be redelivered",
			"subject", c.topo.Subject, "error", err)
		return
	}
	c.logger.Warn("message scheduled for retry",
		"subject", d.Subject,
		"retry_count", retryCount+1,
		"delay", delay,
	)
	if c.metrics != nil {
		c.metrics.MessagesRetried.Add(ctx, 1)
	}
	c.ack(d)
}

func (c *QueueConsumer) ack(d messagequeue.Delivery) {
	if err := d.Ack(); err != nil {
		c.logger.Warn("ack failed, broker may redeliver", "subject", d.Subject, "error", err)
	}
}

// backoff computes initial * multiplier^retryCount.
func (c *QueueConsumer) backoff(retryCount int) time.Duration {
	d := float64(c.cfg.InitialRetryDelay) * math.Pow(c.cfg.BackoffMultiplier, float64(retryCount))
	return time.Duration(d)
}

func headerInt(header map[string]string, key string) int {
	n, err := strconv.Atoi(header[key])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// retryHeader copies the delivery header with updated retry bookkeeping, so
// the correlation id survives republishing.
func retryHeader(orig map[string]string, retryCount int, reason string) map[string]string {
	header := make(map[string]string, len(orig)+2)
	for k, v := range orig {
		header[k] = v
	}
	header[messagequeue.HeaderRetryCount] = strconv.Itoa(retryCount)
	header[messagequeue.HeaderLastError] = reason
	return header
}
