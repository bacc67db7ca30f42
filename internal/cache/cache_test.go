// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package cache

import (
	"testing"
	"time"

	"github.com/tomtom215/coachsync/internal/clock"
)

func newTestCache(ttl time.Duration) (*QueryCache, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	return NewQueryCache(ttl, clk), clk
}

func TestQueryCacheBasicOperations(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(time.Minute)

	c.Set(JobKey(7), "job-7")
	v, ok := c.Get(JobKey(7))
	if !ok || v != "job-7" {
		t.Fatalf("Get() = %v, %v", v, ok)
	}
	if _, ok := c.Get(JobKey(8)); ok {
		t.Error("unexpected hit for job 8")
	}

	stats := c.GetStats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.TotalKeys != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if c.HitRate() != 50 {
		t.Errorf("HitRate() = %v, want 50", c.HitRate())
	}
}

func TestQueryCacheExpiration(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(time.Second)

	c.Set(JobKey(1), 1)
	c.Set(JobKey(2), 2)
	clk.Advance(500 * time.Millisecond)
	if _, ok := c.Get(JobKey(1)); !ok {
		t.Fatal("entry should still be live")
	}
	clk.Advance(600 * time.Millisecond)
	if _, ok := c.Get(JobKey(1)); ok {
		t.Fatal("entry should have expired")
	}
	if removed := c.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
}

func TestQueryCacheUpdate(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(time.Minute)
	key := HistoryPageKey(0)

	appendID := func(id int) func(any, bool) (any, bool) {
		return func(old any, ok bool) (any, bool) {
			var ids []int
			if ok {
				ids = old.([]int)
			}
			for _, existing := range ids {
				if existing == id {
					return nil, false
				}
			}
			return append([]int{id}, ids...), true
		}
	}

	if !c.Update(key, appendID(7)) {
		t.Fatal("first update should store")
	}
	if c.Update(key, appendID(7)) {
		t.Fatal("duplicate update should be skipped")
	}
	c.Update(key, appendID(8))

	got, _ := Typed[[]int](c, key)
	if len(got) != 2 || got[0] != 8 || got[1] != 7 {
		t.Errorf("page = %v, want [8 7]", got)
	}
}

func TestQueryCacheInvalidatePrefix(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(time.Minute)

	c.Set(HistoryPageKey(0), "p0")
	c.Set(HistoryPageKey(1), "p1")
	c.Set(JobKey(7), "job")
	c.Set(K("analysis", "historyx"), "not a history page")

	if n := c.InvalidatePrefix(HistoryPrefix()); n != 2 {
		t.Errorf("InvalidatePrefix() = %d, want 2", n)
	}
	if _, ok := c.Get(JobKey(7)); !ok {
		t.Error("job entry should survive history invalidation")
	}
	if _, ok := c.Get(K("analysis", "historyx")); !ok {
		t.Error("prefix match must be segment-wise")
	}

	c.Invalidate(JobKey(7))
	if _, ok := c.Get(JobKey(7)); ok {
		t.Error("job entry should be gone")
	}
}

func TestQueryCacheUpdatePrefix(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(time.Minute)

	c.Set(HistoryPageKey(0), 1)
	c.Set(HistoryPageKey(1), 2)
	c.Set(JobKey(7), 100)

	n := c.UpdatePrefix(HistoryPrefix(), func(key Key, old any) (any, bool) {
		if key.String() == HistoryPageKey(1).String() {
			return nil, false
		}
		return old.(int) * 10, true
	})
	if n != 1 {
		t.Fatalf("UpdatePrefix() = %d, want 1", n)
	}
	if v, _ := Typed[int](c, HistoryPageKey(0)); v != 10 {
		t.Errorf("page 0 = %d, want 10", v)
	}
	if v, _ := Typed[int](c, HistoryPageKey(1)); v != 2 {
		t.Errorf("page 1 = %d, want unchanged", v)
	}

	clk.Advance(2 * time.Minute)
	if n := c.UpdatePrefix(HistoryPrefix(), func(Key, any) (any, bool) { return 0, true }); n != 0 {
		t.Errorf("expired entries rewritten: %d", n)
	}
}

func TestKeyHasPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key, prefix Key
		want        bool
	}{
		{JobKey(7), K("analysis", "jobs"), true},
		{JobKey(7), K("analysis"), true},
		{JobKey(7), K(), true},
		{K("analysis"), JobKey(7), false},
		{RecordingJobKey(42), K("analysis", "jobs"), false},
	}
	for _, tt := range tests {
		if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
			t.Errorf("%v.HasPrefix(%v) = %v, want %v", tt.key, tt.prefix, got, tt.want)
		}
	}
}

func TestTypedWrongType(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(time.Minute)
	c.Set(JobKey(1), "string")
	if _, ok := Typed[int](c, JobKey(1)); ok {
		t.Error("Typed should reject a mismatched type")
	}
}
