// Package cache provides small bounded in-process caches. Eviction is
// FIFO by insertion order, which keeps behavior predictable under the
// short-lived, bursty access pattern of match traffic.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache is a bounded FIFO cache with string keys.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]V
	order    []string
	capacity int

	hits   uint64
	misses uint64
}

// New returns a cache holding at most capacity entries. Capacity must be
// positive.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache[V]{
		entries:  make(map[string]V, capacity),
		capacity: capacity,
	}
}

// Get returns the cached value and whether it was present.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores a value, evicting the oldest entry when full. Overwriting
// an existing key keeps its insertion position.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = value
}

// Len reports the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Stats reports cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops every entry but keeps the hit/miss counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]V, c.capacity)
	c.order = nil
}

// Key hashes arbitrary bytes into a stable hex cache key.
func Key(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
