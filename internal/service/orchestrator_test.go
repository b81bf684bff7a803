package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

func TestOrchestratorStartsOneConsumerPerChannel(t *testing.T) {
	store := newFakeStore()
	store.addTenant("t1", true, nil)
	store.addTenant("t2", true, nil)
	store.addChannel("t1", "webchat", true, nil)
	store.addChannel("t1", "whatsapp", true, nil)
	store.addChannel("t2", "messenger", true, nil)
	// Disabled pairs must not get consumers.
	store.addChannel("t2", "webchat", false, nil)

	broker := &fakeBroker{}
	handler := func(ctx context.Context, d messagequeue.Delivery) error { return nil }
	o := NewConsumerOrchestrator(store, broker, handler, testQueueConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.After(time.Second)
	for broker.consumerCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d consumers started, want 3", broker.consumerCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	queues := map[string]bool{}
	for _, topo := range broker.consumers {
		queues[topo.Queue] = true
	}
	for _, want := range []string{
		"tenant.t1.channel.webchat.inbound.queue",
		"tenant.t1.channel.whatsapp.inbound.queue",
		"tenant.t2.channel.messenger.inbound.queue",
	} {
		if !queues[want] {
			t.Errorf("no consumer for %s", want)
		}
	}
	if queues["tenant.t2.channel.webchat.inbound.queue"] {
		t.Error("consumer started for a disabled channel")
	}
}

func TestOrchestratorEmptyFleetWaitsForShutdown(t *testing.T) {
	store := newFakeStore()
	broker := &fakeBroker{}
	o := NewConsumerOrchestrator(store, broker, nil, testQueueConfig(), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if broker.consumerCount() != 0 {
		t.Errorf("started %d consumers, want 0", broker.consumerCount())
	}
}
