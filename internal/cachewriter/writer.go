// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package cachewriter propagates job and title resolutions into the history
// store and the query cache.
//
// Every write is keyed by job id, so a placeholder created before the job
// is fully known and its later upgrades land on the same history entry.
// Replaying a write is harmless: additions check membership first and
// updates converge on the same values.
package cachewriter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/history"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
)

// FallbackDateLayout formats the completion date of a synthesized title.
const FallbackDateLayout = "Jan 2, 2006"

// Writer writes to the history store first and then mirrors the result into
// the cached job entries and history pages.
type Writer struct {
	store          history.Store
	cache          cache.Cacher
	clock          clock.Clock
	fallbackPrefix string
	logger         zerolog.Logger
}

// New creates a Writer. An empty fallbackPrefix defaults to "Analysis".
func New(store history.Store, c cache.Cacher, clk clock.Clock, fallbackPrefix string) *Writer {
	if clk == nil {
		clk = clock.New()
	}
	if fallbackPrefix == "" {
		fallbackPrefix = "Analysis"
	}
	return &Writer{
		store:          store,
		cache:          c,
		clock:          clk,
		fallbackPrefix: fallbackPrefix,
		logger:         logging.WithComponent("cachewriter"),
	}
}

// FallbackTitle returns the synthesized title for a job completed at t.
func (w *Writer) FallbackTitle(t time.Time) string {
	return w.fallbackPrefix + " " + t.Format(FallbackDateLayout)
}

// WriteJob records a job status resolution. The cached job is replaced
// unless the cache already holds a newer row. A job with no history entry
// yet gets a placeholder; otherwise status, progress and any missing
// thumbnail are patched in place.
//
// A cancelled ctx means the owning subscription is gone: nothing is written
// and ctx.Err() is returned.
func (w *Writer) WriteJob(ctx context.Context, job *models.AnalysisJob) (*models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.cacheJob(job)

	existing, err := w.store.GetCached(ctx, job.ID)
	if errors.Is(err, history.ErrNotFound) {
		return w.addPlaceholder(ctx, job)
	}
	if err != nil {
		return nil, fmt.Errorf("read history entry %d: %w", job.ID, err)
	}

	// Out-of-order delivery: never regress past a newer job row. Only
	// server timestamps are compared; title writes stamp local time.
	if existing.JobUpdatedAt.After(job.UpdatedAt) {
		return existing, nil
	}

	patch := &models.HistoryPatch{
		Status:       &job.Status,
		Progress:     &job.ProgressPercentage,
		UpdatedAt:    job.UpdatedAt,
		JobUpdatedAt: job.UpdatedAt,
	}
	if existing.ThumbnailURL == "" && job.ThumbnailURL != "" {
		patch.ThumbnailURL = &job.ThumbnailURL
	}
	if job.Title != "" && existing.TitleSource != models.TitleGenerated {
		src := models.TitleGenerated
		patch.Title, patch.TitleSource = &job.Title, &src
	}
	return w.update(ctx, job.ID, patch)
}

func (w *Writer) addPlaceholder(ctx context.Context, job *models.AnalysisJob) (*models.HistoryEntry, error) {
	entry := &models.HistoryEntry{
		ID:           job.ID,
		RecordingID:  job.VideoRecordingID,
		Title:        job.Title,
		TitleSource:  models.TitlePlaceholder,
		Status:       job.Status,
		Progress:     job.ProgressPercentage,
		ThumbnailURL: job.ThumbnailURL,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		JobUpdatedAt: job.UpdatedAt,
	}
	if job.Title != "" {
		entry.TitleSource = models.TitleGenerated
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.clock.Now()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	return w.add(ctx, entry)
}

// WriteTitle records generated analysis content for a job: title, summary
// and analysis id. A generated title always replaces a placeholder or
// fallback title in place.
func (w *Writer) WriteTitle(ctx context.Context, jobID, recordingID int64, content *models.AnalysisContent) (*models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := w.clock.Now()
	patch := &models.HistoryPatch{UpdatedAt: now}
	if content.Title != "" {
		src := models.TitleGenerated
		patch.Title, patch.TitleSource = &content.Title, &src
	}
	if content.Summary != "" {
		patch.Summary = &content.Summary
	}
	if content.AnalysisID != "" {
		patch.AnalysisID = &content.AnalysisID
	}

	_, err := w.store.GetCached(ctx, jobID)
	if errors.Is(err, history.ErrNotFound) {
		entry := &models.HistoryEntry{
			ID:          jobID,
			RecordingID: recordingID,
			TitleSource: models.TitlePlaceholder,
			Status:      models.JobProcessing,
			CreatedAt:   now,
		}
		if job, ok := cache.Typed[*models.AnalysisJob](w.cache, cache.JobKey(jobID)); ok {
			entry.Status, entry.Progress, entry.ThumbnailURL = job.Status, job.ProgressPercentage, job.ThumbnailURL
			entry.JobUpdatedAt = job.UpdatedAt
		}
		patch.Apply(entry)
		return w.add(ctx, entry)
	}
	if err != nil {
		return nil, fmt.Errorf("read history entry %d: %w", jobID, err)
	}
	return w.update(ctx, jobID, patch)
}

// WriteFallbackTitle finalizes a completed job whose generated title never
// arrived. It reports false without writing when a generated title is
// already present.
func (w *Writer) WriteFallbackTitle(ctx context.Context, job *models.AnalysisJob, completedAt time.Time) (*models.HistoryEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	title := w.FallbackTitle(completedAt)
	src := models.TitleFallback
	status := models.JobCompleted

	existing, err := w.store.GetCached(ctx, job.ID)
	switch {
	case errors.Is(err, history.ErrNotFound):
		entry := &models.HistoryEntry{
			ID:           job.ID,
			RecordingID:  job.VideoRecordingID,
			Title:        title,
			TitleSource:  src,
			Status:       status,
			Progress:     100,
			ThumbnailURL: job.ThumbnailURL,
			CreatedAt:    job.CreatedAt,
			UpdatedAt:    completedAt,
			JobUpdatedAt: job.UpdatedAt,
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = completedAt
		}
		added, err := w.add(ctx, entry)
		if err != nil {
			return nil, false, err
		}
		metrics.TitleFallbacks.Inc()
		return added, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("read history entry %d: %w", job.ID, err)
	case existing.TitleSource == models.TitleGenerated:
		return existing, false, nil
	}

	progress := float64(100)
	patch := &models.HistoryPatch{
		Title:       &title,
		TitleSource: &src,
		Status:      &status,
		Progress:    &progress,
		UpdatedAt:   completedAt,
	}
	if job.UpdatedAt.After(existing.JobUpdatedAt) {
		patch.JobUpdatedAt = job.UpdatedAt
	}
	updated, err := w.update(ctx, job.ID, patch)
	if err != nil {
		return nil, false, err
	}
	metrics.TitleFallbacks.Inc()
	w.logger.Info().Int64("job_id", job.ID).Str("title", title).Msg("Finalized history entry with fallback title")
	return updated, true, nil
}

// InvalidateHistory drops every cached history page and returns how many
// were dropped.
func (w *Writer) InvalidateHistory() int {
	return w.cache.InvalidatePrefix(cache.HistoryPrefix())
}

func (w *Writer) add(ctx context.Context, entry *models.HistoryEntry) (*models.HistoryEntry, error) {
	added, err := w.store.AddToCache(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("add history entry %d: %w", entry.ID, err)
	}
	if !added {
		// Lost a race with another writer for the same id.
		current, err := w.store.GetCached(ctx, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("read history entry %d: %w", entry.ID, err)
		}
		w.syncPages(current, false)
		return current, nil
	}
	w.logger.Debug().Int64("job_id", entry.ID).Str("title_source", string(entry.TitleSource)).Msg("Added history entry")
	w.syncPages(entry, true)
	return entry, nil
}

func (w *Writer) update(ctx context.Context, id int64, patch *models.HistoryPatch) (*models.HistoryEntry, error) {
	updated, err := w.store.UpdateCache(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update history entry %d: %w", id, err)
	}
	w.syncPages(updated, false)
	return updated, nil
}

// cacheJob stores job under its id and recording keys unless a newer row
// is already cached.
func (w *Writer) cacheJob(job *models.AnalysisJob) {
	stored := *job
	w.cache.Update(cache.JobKey(job.ID), func(old any, ok bool) (any, bool) {
		if prev, isJob := old.(*models.AnalysisJob); ok && isJob && prev.UpdatedAt.After(job.UpdatedAt) {
			return nil, false
		}
		return &stored, true
	})
	w.cache.Update(cache.RecordingJobKey(job.VideoRecordingID), func(old any, ok bool) (any, bool) {
		if prev, isJob := old.(*models.AnalysisJob); ok && isJob {
			if prev.ID > job.ID || (prev.ID == job.ID && prev.UpdatedAt.After(job.UpdatedAt)) {
				return nil, false
			}
		}
		return &stored, true
	})
}

// syncPages mirrors entry into every cached history page that holds it.
// A newly added entry is also prepended to the first page when that page
// does not hold it yet, and every later page is dropped since its window
// shifted by one. Pages are copied, never mutated, since readers may hold
// them.
func (w *Writer) syncPages(entry *models.HistoryEntry, added bool) {
	var shifted []cache.Key
	w.cache.UpdatePrefix(cache.HistoryPrefix(), func(key cache.Key, old any) (any, bool) {
		page, ok := old.(*models.HistoryPage)
		if !ok {
			return nil, false
		}
		for i := range page.Entries {
			if page.Entries[i].ID == entry.ID {
				next := *page
				next.Entries = append([]models.HistoryEntry(nil), page.Entries...)
				next.Entries[i] = *entry
				return &next, true
			}
		}
		if !added {
			return nil, false
		}
		if page.Pagination.Page != 0 {
			shifted = append(shifted, key)
			return nil, false
		}
		next := *page
		next.Entries = append([]models.HistoryEntry{*entry}, page.Entries...)
		next.Pagination.Total++
		if next.Pagination.PageSize > 0 && len(next.Entries) > next.Pagination.PageSize {
			next.Entries = next.Entries[:next.Pagination.PageSize]
			next.Pagination.HasMore = true
		}
		return &next, true
	})
	for _, key := range shifted {
		w.cache.Invalidate(key)
	}
}
