// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheHits.WithLabelValues("metrics-test"))
	misses := testutil.ToFloat64(CacheMisses.WithLabelValues("metrics-test"))

	RecordCacheLookup("metrics-test", true)
	RecordCacheLookup("metrics-test", false)
	RecordCacheLookup("metrics-test", false)

	if got := testutil.ToFloat64(CacheHits.WithLabelValues("metrics-test")) - hits; got != 1 {
		t.Errorf("hits delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("metrics-test")) - misses; got != 2 {
		t.Errorf("misses delta = %v, want 2", got)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.CollectAndCount(APIRequestDuration)
	RecordAPIRequest("GET", "/metrics-test", "200", 15*time.Millisecond)
	if after := testutil.CollectAndCount(APIRequestDuration); after != before+1 {
		t.Errorf("series count = %d, want %d", after, before+1)
	}
}
