// Package messagequeue defines the message broker port (interface) and the
// topology naming scheme shared by producers and consumers.
package messagequeue

import "context"

// Header keys carried on republished deliveries.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderLastError     = "x-last-error"
	HeaderCorrelationID = "x-correlation-id"
)

// Delivery is one message handed to a consumer callback. Ack acknowledges the
// underlying broker delivery; the broker guarantees at-least-once semantics,
// so Ack may be called on a delivery the broker already considers redelivered.
type Delivery struct {
	Subject string
	Header  map[string]string
	Data    []byte
	Ack     func() error
}

// Topology describes the durable primary queue plus its dead-letter target
// for one (tenant, channel) pair.
type Topology struct {
	Subject           string // routing key, also the republish target
	Queue             string // durable queue bound to Subject
	DeadLetterSubject string // terminal destination after retry exhaustion
}

// Broker is the port interface for the at-least-once message broker.
type Broker interface {
	// EnsureTopology declares the durable queue and dead-letter pair.
	// Idempotent.
	EnsureTopology(ctx context.Context, t Topology) error

	// Publish sends a message to the given subject with optional headers.
	Publish(ctx context.Context, subject string, header map[string]string, data []byte) error

	// Consume delivers messages from the durable queue to fn, keeping at most
	// prefetch deliveries unacknowledged. The returned function cancels the
	// subscription without waiting for in-flight callbacks.
	Consume(ctx context.Context, t Topology, prefetch int, fn func(Delivery)) (cancel func(), err error)

	// Close shuts down the broker connection immediately.
	Close() error

	// IsConnected reports whether the broker is currently connected.
	IsConnected() bool
}
