// Package tenant defines the tenant domain model for multi-tenancy, including
// the parsed per-(tenant, channel) runtime configuration.
package tenant

import (
	"encoding/json"
	"time"
)

// Tenant represents an isolated tenant in the system. Settings is the raw
// JSON blob from the data store; use ParseSettings to obtain a typed view.
type Tenant struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	Enabled   bool            `json:"enabled"`
	Settings  json.RawMessage `json:"settings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Channel is one messaging channel configured for a tenant. Config holds the
// channel-specific credentials/options as raw JSON.
type Channel struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"` // "whatsapp", "messenger", "webchat"
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ChannelTypes lists every channel type the platform multiplexes.
var ChannelTypes = []string{"whatsapp", "messenger", "webchat"}

// RuntimeConfig is the fully resolved configuration for one (tenant, channel)
// pair. Built on cache miss by the tenant config cache, which is its sole
// owner; consumers must treat it as read-only.
type RuntimeConfig struct {
	Tenant        Tenant
	Channel       Channel
	Settings      Settings
	ChannelConfig map[string]any
	LLM           *LLMConfig
}
