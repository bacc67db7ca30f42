// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package cache provides the query cache: query results keyed by composite
// keys such as ["analysis", "jobs", "7"], with prefix invalidation of whole
// query families (every history page at once).
package cache

// Cacher is the query cache surface used by the cache writers, the
// subscription registry and the HTTP handlers.
//
//	c.Set(cache.JobKey(7), job)
//	c.Update(cache.HistoryPageKey(0), func(old any, ok bool) (any, bool) { ... })
//	c.InvalidatePrefix(cache.HistoryPrefix())
type Cacher interface {
	// Get returns the value and true if present and not expired.
	Get(key Key) (any, bool)

	// Set stores a value with the default TTL.
	Set(key Key, value any)

	// Update atomically replaces the value under key with fn's result.
	// fn receives the current value (ok=false when absent or expired) and
	// returns the new value and whether to store it.
	Update(key Key, fn func(old any, ok bool) (any, bool)) bool

	// UpdatePrefix rewrites every live value under prefix for which fn
	// returns true, and returns how many were rewritten.
	UpdatePrefix(prefix Key, fn func(key Key, old any) (any, bool)) int

	// Invalidate removes one key.
	Invalidate(key Key)

	// InvalidatePrefix removes every key that starts with prefix and returns
	// how many were removed.
	InvalidatePrefix(prefix Key) int
}

// Compile-time interface check.
var _ Cacher = (*QueryCache)(nil)
