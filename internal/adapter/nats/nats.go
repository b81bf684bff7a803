// Package nats implements the message broker port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

const streamName = "METACHAT"

// ackWait is the broker-side redelivery window. It must exceed the consumer
// visibility timeout plus the worst-case retry delay so the service-level
// retry machinery always settles a delivery first.
const ackWait = 10 * time.Minute

// Broker implements messagequeue.Broker using NATS JetStream. All tenant
// traffic (primary queues and dead-letter subjects) lives on one durable
// stream; per-queue isolation comes from durable filtered consumers.
type Broker struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream
// covering the tenant subject space exists.
func Connect(ctx context.Context, url string) (*Broker, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{"tenant.>", "events.>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Broker{nc: nc, js: js}, nil
}

// EnsureTopology declares the durable consumer backing the queue. The stream
// itself is declared at Connect; dead-letter subjects need no declaration
// beyond being covered by the stream. Idempotent.
func (b *Broker) EnsureTopology(ctx context.Context, t messagequeue.Topology) error {
	_, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durableName(t.Queue),
		FilterSubject: t.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
	})
	if err != nil {
		return fmt.Errorf("nats ensure topology %s: %w", t.Queue, err)
	}
	return nil
}

// Publish sends a message to the given subject with optional headers.
func (b *Broker) Publish(ctx context.Context, subject string, header map[string]string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data}
	if len(header) > 0 {
		msg.Header = nats.Header{}
		for k, v := range header {
			msg.Header.Set(k, v)
		}
	}

	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Consume delivers messages from the durable queue consumer to fn. Prefetch
// maps to MaxAckPending: at most that many deliveries are outstanding
// without acknowledgement.
func (b *Broker) Consume(ctx context.Context, t messagequeue.Topology, prefetch int, fn func(messagequeue.Delivery)) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durableName(t.Queue),
		FilterSubject: t.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxAckPending: prefetch,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create %s: %w", t.Queue, err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		fn(messagequeue.Delivery{
			Subject: msg.Subject(),
			Header:  flattenHeader(msg.Headers()),
			Data:    msg.Data(),
			Ack:     msg.Ack,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume %s: %w", t.Queue, err)
	}

	return cons.Stop, nil
}

// Close shuts down the NATS connection immediately.
func (b *Broker) Close() error {
	b.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (b *Broker) IsConnected() bool {
	return b.nc.IsConnected()
}

// durableName converts a dotted queue name into a JetStream-legal durable
// consumer name (dots are reserved in consumer names).
func durableName(queue string) string {
	return strings.ReplaceAll(queue, ".", "-")
}

func flattenHeader(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
