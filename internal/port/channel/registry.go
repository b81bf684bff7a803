package channel

import (
	"fmt"
	"sync"
)

// Registry maps channel types to their outbound adapters. Populated by
// process bootstrap; safe for concurrent reads.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register makes an adapter available for a channel type, replacing any
// previous registration.
func (r *Registry) Register(channelType string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[channelType] = a
}

// Get returns the adapter for a channel type.
func (r *Registry) Get(channelType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[channelType]
	if !ok {
		return nil, fmt.Errorf("channel: no adapter registered for %q", channelType)
	}
	return a, nil
}

// Types returns the registered channel types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	return types
}
