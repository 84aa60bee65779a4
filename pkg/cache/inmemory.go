package cache

import (
	"fmt"
	"sync"
)

// ResourceCache is a thread-safe, in-memory map from cache key to Entry. It owns
// the entry lifecycle: Put validates status transitions, and entries leave the
// cache only through Evict or Clear.
type ResourceCache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]Entry[V]
}

// NewResourceCache creates an empty resource cache.
func NewResourceCache[K comparable, V any]() *ResourceCache[K, V] {
	return &ResourceCache[K, V]{
		data: make(map[K]Entry[V]),
	}
}

// Get returns the entry for key. It has no side effects.
func (c *ResourceCache[K, V]) Get(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.data[key]
	return entry, ok
}

// Put overwrites the entry for key. A missing entry counts as StatusEmpty.
func (c *ResourceCache[K, V]) Put(key K, entry Entry[V]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := StatusEmpty
	if existing, ok := c.data[key]; ok {
		current = existing.Status
	}
	if !current.CanTransitionTo(entry.Status) {
		return fmt.Errorf("key '%v' %s -> %s: %w", key, current, entry.Status, ErrIllegalTransition)
	}
	c.data[key] = entry
	return nil
}

// Evict removes the entry for key and reports whether one existed.
func (c *ResourceCache[K, V]) Evict(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	delete(c.data, key)
	return ok
}

// MarkStale flags the entry as stale without touching its value.
func (c *ResourceCache[K, V]) MarkStale(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return false
	}
	entry.Stale = true
	c.data[key] = entry
	return true
}

// Keys returns a snapshot of the cached keys in no particular order.
func (c *ResourceCache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]K, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of cached entries.
func (c *ResourceCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Clear drops every entry. Used at teardown.
func (c *ResourceCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]Entry[V])
}
