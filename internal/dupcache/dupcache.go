// Package dupcache implements a fixed-capacity, insertion-ordered
// duplicate-suppression cache. storage uses it to bound the unbonded
// device record set on strict FIFO eviction.
package dupcache

import (
	lru "github.com/hashicorp/golang-lru"
)

// Cache is a fixed-capacity ordered map. Adding a key that is already
// present replaces its value and refreshes its position; once the
// cache is full, the oldest entry is evicted to make room and
// OnEvict, if set, is invoked with its key.
type Cache struct {
	lru *lru.Cache
}

// New creates a Cache with room for capacity entries. onEvict, if
// non-nil, is called synchronously whenever an entry is evicted to
// make room for a new one (never for an explicit Remove).
func New(capacity int, onEvict func(key interface{})) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	evictFn := func(key, _ interface{}) {
		if onEvict != nil {
			onEvict(key)
		}
	}
	c, _ := lru.NewWithEvict(capacity, evictFn)
	return &Cache{lru: c}
}

// Add inserts or replaces key's value. It returns true iff key was not
// already present in the cache.
func (c *Cache) Add(key, value interface{}) bool {
	isNew := !c.lru.Contains(key)
	c.lru.Add(key, value)
	return isNew
}

// Get returns the value stored for key, if present. Unlike IsDuplicate
// it promotes key to most-recently-used, so callers relying on strict
// insertion-order FIFO eviction must not use it on that path.
func (c *Cache) Get(key interface{}) (value interface{}, ok bool) {
	return c.lru.Get(key)
}

// IsDuplicate reports whether key is already present in the cache.
// Unlike Get, it does not count as a use for recency purposes.
func (c *Cache) IsDuplicate(key interface{}) bool {
	return c.lru.Contains(key)
}

// Remove deletes key from the cache, if present. It does not invoke
// the eviction callback.
func (c *Cache) Remove(key interface{}) {
	c.lru.Remove(key)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int { return c.lru.Len() }
