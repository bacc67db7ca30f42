// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package cachewriter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/history"
	"github.com/tomtom215/coachsync/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestWriter() (*Writer, *history.MemoryStore, *cache.QueryCache) {
	clk := clock.NewFake(t0)
	store := history.NewMemoryStore()
	qc := cache.NewQueryCache(time.Minute, clk)
	return New(store, qc, clk, "Analysis"), store, qc
}

func listAll(t *testing.T, s history.Store) []models.HistoryEntry {
	t.Helper()
	entries, _, err := s.List(context.Background(), 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestWriteJobPlaceholderThenUpgrade(t *testing.T) {
	t.Parallel()
	w, store, qc := newTestWriter()
	ctx := context.Background()

	job := &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobProcessing, ProgressPercentage: 10, UpdatedAt: t0}
	entry, err := w.WriteJob(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if entry.TitleSource != models.TitlePlaceholder || entry.Status != models.JobProcessing {
		t.Fatalf("placeholder = %+v", entry)
	}

	// Replay of the same row must not add a second entry.
	if _, err := w.WriteJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	done := *job
	done.Status, done.ProgressPercentage, done.UpdatedAt = models.JobCompleted, 100, t0.Add(time.Second)
	done.ThumbnailURL = "https://cdn.example/7.jpg"
	if _, err := w.WriteJob(ctx, &done); err != nil {
		t.Fatal(err)
	}

	entries := listAll(t, store)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Status != models.JobCompleted || entries[0].ThumbnailURL == "" {
		t.Errorf("entry not upgraded in place: %+v", entries[0])
	}

	cached, ok := cache.Typed[*models.AnalysisJob](qc, cache.JobKey(7))
	if !ok || cached.Status != models.JobCompleted {
		t.Errorf("cached job = %+v", cached)
	}
	byRec, ok := cache.Typed[*models.AnalysisJob](qc, cache.RecordingJobKey(42))
	if !ok || byRec.ID != 7 {
		t.Errorf("recording job = %+v", byRec)
	}
}

func TestWriteJobIgnoresStaleRow(t *testing.T) {
	t.Parallel()
	w, store, qc := newTestWriter()
	ctx := context.Background()

	newer := &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobCompleted, UpdatedAt: t0.Add(time.Minute)}
	older := &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobProcessing, UpdatedAt: t0}
	if _, err := w.WriteJob(ctx, newer); err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteJob(ctx, older); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetCached(ctx, 7)
	if got.Status != models.JobCompleted {
		t.Errorf("status regressed to %s", got.Status)
	}
	cached, _ := cache.Typed[*models.AnalysisJob](qc, cache.JobKey(7))
	if cached.Status != models.JobCompleted {
		t.Errorf("cached status regressed to %s", cached.Status)
	}
}

func TestWriteJobCancelled(t *testing.T) {
	t.Parallel()
	w, store, _ := newTestWriter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.WriteJob(ctx, &models.AnalysisJob{ID: 1, VideoRecordingID: 1, Status: models.JobQueued})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(listAll(t, store)) != 0 {
		t.Error("write landed after cancellation")
	}
}

func TestFallbackThenLateRealTitle(t *testing.T) {
	t.Parallel()
	w, store, _ := newTestWriter()
	ctx := context.Background()

	job := &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobCompleted, ProgressPercentage: 100, UpdatedAt: t0}
	if _, err := w.WriteJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	entry, applied, err := w.WriteFallbackTitle(ctx, job, t0)
	if err != nil || !applied {
		t.Fatalf("fallback = %v, %v", applied, err)
	}
	if entry.Title != "Analysis Mar 2, 2026" || entry.TitleSource != models.TitleFallback {
		t.Fatalf("fallback entry = %+v", entry)
	}

	content := &models.AnalysisContent{JobID: 7, AnalysisID: "3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11", Title: "Strong grip, watch posture"}
	entry, err = w.WriteTitle(ctx, 7, 42, content)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Title != content.Title || entry.TitleSource != models.TitleGenerated || entry.AnalysisID != content.AnalysisID {
		t.Errorf("late title not applied in place: %+v", entry)
	}

	if _, applied, _ := w.WriteFallbackTitle(ctx, job, t0); applied {
		t.Error("fallback must not override a generated title")
	}
	if n := len(listAll(t, store)); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

func TestWriteTitleCreatesEntryWhenMissing(t *testing.T) {
	t.Parallel()
	w, store, qc := newTestWriter()
	ctx := context.Background()

	qc.Set(cache.JobKey(9), &models.AnalysisJob{ID: 9, VideoRecordingID: 3, Status: models.JobQueued})
	entry, err := w.WriteTitle(ctx, 9, 3, &models.AnalysisContent{JobID: 9, Title: "Warmup"})
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != models.JobQueued || entry.TitleSource != models.TitleGenerated {
		t.Errorf("entry = %+v", entry)
	}
	if _, err := store.GetCached(ctx, 9); err != nil {
		t.Error(err)
	}
}

func TestHistoryPagesFollowWrites(t *testing.T) {
	t.Parallel()
	w, _, qc := newTestWriter()
	ctx := context.Background()

	qc.Set(cache.HistoryPageKey(0), &models.HistoryPage{
		Entries:    []models.HistoryEntry{{ID: 3, Title: "old"}},
		Pagination: models.PaginationInfo{Page: 0, PageSize: 1, Total: 2, HasMore: true},
	})
	qc.Set(cache.HistoryPageKey(1), &models.HistoryPage{
		Entries:    []models.HistoryEntry{{ID: 2, Title: "older"}},
		Pagination: models.PaginationInfo{Page: 1, PageSize: 1, Total: 2},
	})

	job := &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobQueued, UpdatedAt: t0}
	for i := 0; i < 2; i++ {
		if _, err := w.WriteJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	first, _ := cache.Typed[*models.HistoryPage](qc, cache.HistoryPageKey(0))
	if len(first.Entries) != 1 || first.Entries[0].ID != 7 || first.Pagination.Total != 3 {
		t.Fatalf("first page = %+v", first)
	}
	// Entry 3 moved to page 1, so the cached page 1 is out of date.
	if _, ok := cache.Typed[*models.HistoryPage](qc, cache.HistoryPageKey(1)); ok {
		t.Error("later page kept after an addition shifted it")
	}

	qc.Set(cache.HistoryPageKey(1), &models.HistoryPage{
		Entries:    []models.HistoryEntry{{ID: 3, Title: "old"}},
		Pagination: models.PaginationInfo{Page: 1, PageSize: 1, Total: 3, HasMore: true},
	})
	done := *job
	done.Status, done.UpdatedAt = models.JobProcessing, t0.Add(time.Second)
	if _, err := w.WriteJob(ctx, &done); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Typed[*models.HistoryPage](qc, cache.HistoryPageKey(1)); !ok {
		t.Error("update of an existing entry dropped a later page")
	}

	if n := w.InvalidateHistory(); n != 2 {
		t.Errorf("InvalidateHistory() = %d, want 2", n)
	}
}

func TestWriteJobOrdersOnServerTimeOnly(t *testing.T) {
	t.Parallel()
	store := history.NewMemoryStore()
	// Local clock runs 5s ahead of the server.
	clk := clock.NewFake(t0.Add(5 * time.Second))
	qc := cache.NewQueryCache(time.Minute, clk)
	w := New(store, qc, clk, "Analysis")
	ctx := context.Background()

	job := &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobProcessing, UpdatedAt: t0}
	if _, err := w.WriteJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteTitle(ctx, 7, 42, &models.AnalysisContent{JobID: 7, Title: "Great swing"}); err != nil {
		t.Fatal(err)
	}

	done := *job
	done.Status, done.ProgressPercentage, done.UpdatedAt = models.JobCompleted, 100, t0.Add(3*time.Second)
	if _, err := w.WriteJob(ctx, &done); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetCached(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobCompleted || got.Progress != 100 || got.Title != "Great swing" {
		t.Errorf("entry = %+v", got)
	}
	if !got.JobUpdatedAt.Equal(done.UpdatedAt) {
		t.Errorf("JobUpdatedAt = %v, want %v", got.JobUpdatedAt, done.UpdatedAt)
	}

	// A stale row still loses against the last job row.
	if _, err := w.WriteJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.GetCached(ctx, 7); got.Status != models.JobCompleted {
		t.Errorf("status regressed to %s", got.Status)
	}
}
