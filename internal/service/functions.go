package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Wandeon/meta-chat-platform/internal/domain/function"
)

// FunctionRegistry holds the callable functions available to each tenant's
// model. Safe for concurrent use; registration normally happens at bootstrap
// but MCP bridges may add tools at runtime.
type FunctionRegistry struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]function.Definition
	logger   *slog.Logger
}

// NewFunctionRegistry creates an empty registry.
func NewFunctionRegistry(logger *slog.Logger) *FunctionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &FunctionRegistry{
		byTenant: make(map[string]map[string]function.Definition),
		logger:   logger,
	}
}

// Register adds a function for a tenant, replacing any previous definition
// with the same name.
func (r *FunctionRegistry) Register(tenantID string, def function.Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	funcs, ok := r.byTenant[tenantID]
	if !ok {
		funcs = make(map[string]function.Definition)
		r.byTenant[tenantID] = funcs
	}
	funcs[def.Name] = def
}

// RegisterAll registers a batch of definitions for a tenant.
func (r *FunctionRegistry) RegisterAll(tenantID string, defs []function.Definition) {
	for _, def := range defs {
		r.Register(tenantID, def)
	}
}

// Schemas returns the provider-facing schemas for a tenant's functions.
func (r *FunctionRegistry) Schemas(tenantID string) []function.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	funcs := r.byTenant[tenantID]
	if len(funcs) == 0 {
		return nil
	}
	schemas := make([]function.Schema, 0, len(funcs))
	for _, def := range funcs {
		schemas = append(schemas, def.Schema())
	}
	return schemas
}

// Execute parses the raw argument JSON and invokes the named function. The
// model often produces sloppy argument JSON; unparsable arguments are handed
// to the handler as the raw string so the handler can decide.
func (r *FunctionRegistry) Execute(ctx context.Context, tenantID, name, argsJSON string, fc function.Context) (string, error) {
	r.mu.RLock()
	def, ok := r.byTenant[tenantID][name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("function %q is not registered for tenant %s", name, tenantID)
	}

	var args any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			r.logger.Warn("function arguments are not valid json, passing raw",
				"tenant_id", tenantID, "function", name, "error", err)
			args = argsJSON
		}
	}

	result, err := def.Handler(ctx, args, fc)
	if err != nil {
		return "", fmt.Errorf("function %q: %w", name, err)
	}
	return result, nil
}
