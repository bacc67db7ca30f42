// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/metrics"
)

type entry struct {
	key       Key
	data      any
	expiresAt time.Time
}

// QueryCache is a thread-safe TTL cache keyed by composite keys.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   clock.Clock
	stats   Stats
}

// Stats tracks cache performance.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	TotalKeys   int64
	LastCleanup time.Time
}

// NewQueryCache creates a cache whose entries live for ttl.
// Expired entries are dropped lazily on read and by Run.
func NewQueryCache(ttl time.Duration, clk clock.Clock) *QueryCache {
	if clk == nil {
		clk = clock.New()
	}
	return &QueryCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   clk,
	}
}

// Get retrieves a value, treating expired entries as misses.
func (c *QueryCache) Get(key Key) (any, bool) {
	now := c.clock.Now()
	id := key.String()

	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && now.After(e.expiresAt) {
		delete(c.entries, id)
		c.stats.Evictions++
		ok = false
	}
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.stats.TotalKeys = int64(len(c.entries))
	c.mu.Unlock()

	metrics.RecordCacheLookup("query", ok)
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Set stores a value with the default TTL.
func (c *QueryCache) Set(key Key, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *QueryCache) SetWithTTL(key Key, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value, ttl)
}

// put must be called with mu held.
func (c *QueryCache) put(key Key, value any, ttl time.Duration) {
	c.entries[key.String()] = entry{
		key:       append(Key(nil), key...),
		data:      value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	c.stats.TotalKeys = int64(len(c.entries))
}

// Update runs fn under the write lock and stores its result when asked to.
// It reports whether a value was stored. fn must not call back into the cache.
func (c *QueryCache) Update(key Key, fn func(old any, ok bool) (any, bool)) bool {
	id := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if ok && c.clock.Now().After(e.expiresAt) {
		delete(c.entries, id)
		c.stats.Evictions++
		ok = false
	}
	var old any
	if ok {
		old = e.data
	}
	next, write := fn(old, ok)
	if !write {
		return false
	}
	c.put(key, next, c.ttl)
	return true
}

// UpdatePrefix runs fn for every live entry under prefix and stores the
// results fn asks to keep. It returns how many entries were rewritten.
// Expiry is left unchanged.
func (c *QueryCache) UpdatePrefix(prefix Key, fn func(key Key, old any) (any, bool)) int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	for id, e := range c.entries {
		if !e.key.HasPrefix(prefix) || now.After(e.expiresAt) {
			continue
		}
		next, write := fn(e.key, e.data)
		if !write {
			continue
		}
		e.data = next
		c.entries[id] = e
		updated++
	}
	return updated
}

// Invalidate removes one key.
func (c *QueryCache) Invalidate(key Key) {
	c.mu.Lock()
	if _, ok := c.entries[key.String()]; ok {
		delete(c.entries, key.String())
		c.stats.Evictions++
	}
	c.stats.TotalKeys = int64(len(c.entries))
	c.mu.Unlock()
}

// InvalidatePrefix removes every key starting with prefix.
func (c *QueryCache) InvalidatePrefix(prefix Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, id)
			removed++
		}
	}
	c.stats.Evictions += int64(removed)
	c.stats.TotalKeys = int64(len(c.entries))
	return removed
}

// Clear removes every entry.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	c.stats.Evictions += int64(len(c.entries))
	c.entries = make(map[string]entry)
	c.stats.TotalKeys = 0
	c.mu.Unlock()
}

// GetStats returns a snapshot of the statistics.
func (c *QueryCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// HitRate returns the hit rate as a percentage.
func (c *QueryCache) HitRate() float64 {
	s := c.GetStats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *QueryCache) Cleanup() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	c.stats.Evictions += int64(removed)
	c.stats.TotalKeys = int64(len(c.entries))
	c.stats.LastCleanup = now
	return removed
}

// Run calls Cleanup every interval until ctx is cancelled. It is shaped as
// a supervised service (suture.Service).
func (c *QueryCache) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// Typed returns the value under key as T.
func Typed[T any](c Cacher, key Key) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
