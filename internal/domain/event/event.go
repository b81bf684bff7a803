// Package event defines the fire-and-forget notification events emitted by
// the message pipeline.
package event

import "time"

// Event types emitted by the pipeline.
const (
	TypeMessageSent      = "message.sent"
	TypeHandoffRequested = "handoff.requested"
)

// Event is a tenant-scoped notification. Consumers (dashboards, webhooks)
// subscribe downstream; emission failures never fail the pipeline.
type Event struct {
	Type      string         `json:"type"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
