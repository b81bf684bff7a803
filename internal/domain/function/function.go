// Package function defines tenant-registered tool functions callable by the
// language model during the tool-calling loop.
package function

import "context"

// Context carries the pipeline scope into a function handler.
type Context struct {
	TenantID       string
	ConversationID string
	MessageID      string
}

// Handler executes a function with the model-supplied arguments. Args is the
// parsed JSON arguments (map[string]any) or, when argument parsing failed,
// the raw argument string. The returned string is fed back to the model as
// the tool result.
type Handler func(ctx context.Context, args any, fc Context) (string, error)

// Definition describes one callable function: its JSON-schema parameter spec
// as advertised to the model, plus the handler invoked locally. Definitions
// are registered per tenant and never persisted.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Schema is the handler-stripped view sent to the LLM provider.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Schema returns the provider-facing schema for this definition.
func (d *Definition) Schema() Schema {
	return Schema{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}
