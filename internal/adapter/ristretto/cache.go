// Package ristretto implements an in-process TTL cache backed by dgraph-io/ristretto.
package ristretto

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache is a typed in-process cache with per-entry TTL. Values are stored by
// reference, so cached pointers stay stable across hits.
type Cache[V any] struct {
	c *ristretto.Cache[string, V]
}

// New creates a ristretto-backed cache sized for maxEntries items.
func New[V any](maxEntries int64) (*Cache[V], error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: maxEntries * 10, // ~10x expected items
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.c.Get(key)
}

// Set stores a value in the cache with the given TTL. Every entry costs 1,
// so MaxCost bounds the entry count rather than the byte size.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.c.SetWithTTL(key, value, 1, ttl)
}

// Delete removes a value from the cache.
func (c *Cache[V]) Delete(key string) {
	c.c.Del(key)
}

// Wait blocks until buffered writes are applied. Useful in tests and after
// invalidation, where the next Get must observe the write.
func (c *Cache[V]) Wait() {
	c.c.Wait()
}

// Close shuts down the cache and releases resources.
func (c *Cache[V]) Close() {
	c.c.Close()
}
