package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/config"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

func testQueueConfig() config.Queue {
	return config.Queue{
		Prefetch:          5,
		MaxRetries:        3,
		InitialRetryDelay: time.Millisecond,
		BackoffMultiplier: 2,
		VisibilityTimeout: time.Second,
	}
}

func testTopology() messagequeue.Topology {
	return messagequeue.InboundTopology("t1", "webchat")
}

func newTestDelivery(header map[string]string, acks *atomic.Int32) messagequeue.Delivery {
	if header == nil {
		header = map[string]string{}
	}
	return messagequeue.Delivery{
		Subject: testTopology().Subject,
		Header:  header,
		Data:    []byte(`{"id":"m1"}`),
		Ack: func() error {
			acks.Add(1)
			return nil
		},
	}
}

func TestQueueConsumerAcksOnSuccess(t *testing.T) {
	broker := &fakeBroker{}
	handler := func(ctx context.Context, d messagequeue.Delivery) error { return nil }
	c := NewQueueConsumer(broker, testTopology(), handler, testQueueConfig(), testLogger(), nil)

	var acks atomic.Int32
	c.handle(context.Background(), newTestDelivery(nil, &acks))

	if got := acks.Load(); got != 1 {
		t.Fatalf("acks = %d, want 1", got)
	}
	if n := broker.publishCount(); n != 0 {
		t.Fatalf("published %d messages, want 0", n)
	}
}

func TestQueueConsumerRepublishesOnFailure(t *testing.T) {
	broker := &fakeBroker{}
	handler := func(ctx context.Context, d messagequeue.Delivery) error {
		return errors.New("downstream unavailable")
	}
	c := NewQueueConsumer(broker, testTopology(), handler, testQueueConfig(), testLogger(), nil)

	var acks atomic.Int32
	header := map[string]string{messagequeue.HeaderCorrelationID: "corr-7"}
	c.handle(context.Background(), newTestDelivery(header, &acks))

	republished := broker.publishedTo(testTopology().Subject)
	if len(republished) != 1 {
		t.Fatalf("republished %d messages, want 1", len(republished))
	}
	msg := republished[0]
	if got := msg.header[messagequeue.HeaderRetryCount]; got != "1" {
		t.Errorf("retry count header = %q, want %q", got, "1")
	}
	if got := msg.header[messagequeue.HeaderLastError]; got != "downstream unavailable" {
		t.Errorf("last error header = %q, want handler error", got)
	}
	if got := msg.header[messagequeue.HeaderCorrelationID]; got != "corr-7" {
		t.Errorf("correlation id not preserved across republish: %q", got)
	}
	if got := acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1 (original settled after republish)", got)
	}
}

func TestQueueConsumerRetryCountAccumulates(t *testing.T) {
	broker := &fakeBroker{}
	handler := func(ctx context.Context, d messagequeue.Delivery) error {
		return errors.New("still failing")
	}
	c := NewQueueConsumer(broker, testTopology(), handler, testQueueConfig(), testLogger(), nil)

	var acks atomic.Int32
	header := map[string]string{messagequeue.HeaderRetryCount: "2"}
	c.handle(context.Background(), newTestDelivery(header, &acks))

	republished := broker.publishedTo(testTopology().Subject)
	if len(republished) != 1 {
		t.Fatalf("republished %d messages, want 1", len(republished))
	}
	if got := republished[0].header[messagequeue.HeaderRetryCount]; got != "3" {
		t.Errorf("retry count header = %q, want %q", got, "3")
	}
}

func TestQueueConsumerDeadLettersAfterMaxRetries(t *testing.T) {
	broker := &fakeBroker{}
	handler := func(ctx context.Context, d messagequeue.Delivery) error {
		return errors.New("permanent failure")
	}
	c := NewQueueConsumer(broker, testTopology(), handler, testQueueConfig(), testLogger(), nil)

	var acks atomic.Int32
	header := map[string]string{
		messagequeue.HeaderRetryCount:    "3",
		messagequeue.HeaderCorrelationID: "corr-dead",
	}
	c.handle(context.Background(), newTestDelivery(header, &acks))

	if n := len(broker.publishedTo(testTopology().Subject)); n != 0 {
		t.Fatalf("republished %d messages past the retry budget, want 0", n)
	}
	dead := broker.publishedTo(testTopology().DeadLetterSubject)
	if len(dead) != 1 {
		t.Fatalf("dead-lettered %d messages, want 1", len(dead))
	}
	if got := dead[0].header[messagequeue.HeaderLastError]; got != "permanent failure" {
		t.Errorf("dead letter last error = %q", got)
	}
	if got := dead[0].header[messagequeue.HeaderCorrelationID]; got != "corr-dead" {
		t.Errorf("correlation id not carried to dead letter: %q", got)
	}
	if got := acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
}

func TestQueueConsumerHoldsAckWhenDeadLetterPublishFails(t *testing.T) {
	broker := &fakeBroker{errPublish: errors.New("broker down")}
	handler := func(ctx context.Context, d messagequeue.Delivery) error {
		return errors.New("failing")
	}
	c := NewQueueConsumer(broker, testTopology(), handler, testQueueConfig(), testLogger(), nil)

	var acks atomic.Int32
	header := map[string]string{messagequeue.HeaderRetryCount: "3"}
	c.handle(context.Background(), newTestDelivery(header, &acks))

	// No ack: the broker must redeliver so dead-lettering can be retried.
	if got := acks.Load(); got != 0 {
		t.Fatalf("acks = %d, want 0", got)
	}
}

func TestQueueConsumerVisibilityTimeoutSettlesOnce(t *testing.T) {
	broker := &fakeBroker{}
	handlerDone := make(chan struct{})
	handler := func(ctx context.Context, d messagequeue.Delivery) error {
		defer close(handlerDone)
		time.Sleep(150 * time.Millisecond) // outlives the visibility window
		return nil
	}
	cfg := testQueueConfig()
	cfg.VisibilityTimeout = 20 * time.Millisecond
	c := NewQueueConsumer(broker, testTopology(), handler, cfg, testLogger(), nil)

	var acks atomic.Int32
	c.handle(context.Background(), newTestDelivery(nil, &acks))
	<-handlerDone

	// The timer won the race: the delivery was republished for retry and
	// the handler's late success was discarded, so exactly one settlement.
	deadline := time.After(time.Second)
	for acks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the visibility path to settle")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := acks.Load(); got != 1 {
		t.Fatalf("acks = %d, want exactly 1", got)
	}
	republished := broker.publishedTo(testTopology().Subject)
	if len(republished) != 1 {
		t.Fatalf("republished %d messages, want 1", len(republished))
	}
	if got := republished[0].header[messagequeue.HeaderLastError]; got != "visibility timeout exceeded" {
		t.Errorf("last error header = %q", got)
	}
}

func TestQueueConsumerBackoffGrowsExponentially(t *testing.T) {
	cfg := testQueueConfig()
	cfg.InitialRetryDelay = 100 * time.Millisecond
	cfg.BackoffMultiplier = 2
	c := NewQueueConsumer(&fakeBroker{}, testTopology(), nil, cfg, testLogger(), nil)

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := c.backoff(tc.retryCount); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.retryCount, got, tc.want)
		}
	}
}

func TestQueueConsumerStartDeclaresTopology(t *testing.T) {
	broker := &fakeBroker{}
	handler := func(ctx context.Context, d messagequeue.Delivery) error { return nil }
	c := NewQueueConsumer(broker, testTopology(), handler, testQueueConfig(), testLogger(), nil)

	cancel, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cancel()

	if len(broker.topologies) != 1 {
		t.Fatalf("declared %d topologies, want 1", len(broker.topologies))
	}
	if broker.topologies[0].Queue != testTopology().Queue {
		t.Errorf("declared queue %q, want %q", broker.topologies[0].Queue, testTopology().Queue)
	}
	if broker.consumerCount() != 1 {
		t.Errorf("registered %d consumers, want 1", broker.consumerCount())
	}
}
