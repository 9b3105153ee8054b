// Package cache memoizes successful source results for a bounded time.
package cache

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// DefaultTTL is how long a result stays servable.
const DefaultTTL = 24 * time.Hour

type item[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

type entry struct {
	key string
	ts  time.Time
}

// Cache is a capacity-bounded TTL map. Expired entries are never returned;
// they are dropped lazily when later writes compact the insertion log.
type Cache[V any] struct {
	mu       sync.RWMutex
	items    map[string]item[V]
	order    []entry
	capacity int
	ttl      time.Duration
	clock    clock.Clock
}

// New creates a cache with the provided capacity and default ttl. A nil
// clock means wall time.
func New[V any](capacity int, ttl time.Duration, clk clock.Clock) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Cache[V]{
		items:    make(map[string]item[V], capacity),
		order:    make([]entry, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		clock:    clk,
	}
}

// Get returns the value stored under key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || !now.Before(it.expiresAt) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores value under key for ttl; a non-positive ttl uses the default.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item[V]{value: value, storedAt: now, expiresAt: now.Add(ttl)}
	c.order = append(c.order, entry{key: key, ts: now})
	c.compact(now)
}

// StoredAt reports when the live entry under key was written.
func (c *Cache[V]) StoredAt(key string) (time.Time, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.items[key]
	if !ok || !now.Before(it.expiresAt) {
		return time.Time{}, false
	}
	return it.storedAt, true
}

// Len returns the number of entries held, including expired ones not yet compacted.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[V]) compact(now time.Time) {
	for len(c.order) > 0 {
		oldest := c.order[0]
		it, live := c.items[oldest.key]
		current := live && it.storedAt.Equal(oldest.ts)

		if current && len(c.items) <= c.capacity && now.Before(it.expiresAt) {
			return
		}

		c.order = c.order[1:]
		if current {
			delete(c.items, oldest.key)
		}
	}
}
