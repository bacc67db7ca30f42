// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package subscription

import (
	"time"

	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/realtime"
)

// titleState is the title/content watcher of an entry. It follows the
// analysis row of the entry's current job, independent of job completion.
type titleState struct {
	jobID    int64
	channel  uint64
	teardown realtime.Teardown

	// received is set by the first payload carrying a title or full text.
	// titled is set by the first generated title; only it settles the
	// fallback. Payloads after that skip the cache write.
	received   bool
	titled     bool
	analysisID string

	// fallbackFired is set once the synthesized title was written.
	fallbackFired bool
}

// openTitle (re)points the watcher at jobID. It must be called without the
// lock held.
func (r *Registry) openTitle(e *entry, jobID int64) {
	r.mu.Lock()
	if !r.aliveLocked(e) || e.title.jobID == jobID {
		r.mu.Unlock()
		return
	}
	old := e.title.teardown
	e.title.teardown = nil
	e.title.jobID = jobID
	e.title.channel++
	channel := e.title.channel
	ctx := e.ctx
	r.mu.Unlock()

	r.runTeardown(e.key, old)

	h := realtime.Handlers{
		OnError: func(s realtime.ChannelStatus, err error) {
			// The fallback title covers a lost watcher; no retry here.
			r.logger.Warn().Err(err).Str("key", e.key.String()).Int64("job_id", jobID).
				Str("status", string(s)).Msg("Title channel error")
		},
	}
	td, err := r.provider.SubscribeToAnalysis(ctx, jobID, func(data []byte) {
		r.onAnalysisRow(e, channel, data)
	}, h)

	r.mu.Lock()
	if !r.aliveLocked(e) || e.title.channel != channel {
		r.mu.Unlock()
		r.runTeardown(e.key, td)
		return
	}
	if err != nil {
		e.title.jobID = 0
		r.mu.Unlock()
		if ctx.Err() == nil {
			r.logger.Warn().Err(err).Str("key", e.key.String()).Int64("job_id", jobID).Msg("Failed to open title channel")
		}
		return
	}
	e.title.teardown = td
	r.mu.Unlock()
}

func (r *Registry) onAnalysisRow(e *entry, channel uint64, data []byte) {
	content, err := models.DecodeAnalysis(data)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", e.key.String()).Msg("Dropping invalid analysis row")
		return
	}
	if content.IsEmpty() {
		return
	}

	r.mu.Lock()
	if !r.aliveLocked(e) || e.title.channel != channel || content.JobID != e.title.jobID {
		r.mu.Unlock()
		return
	}

	resolved := false
	if content.AnalysisID != "" && content.AnalysisID != e.title.analysisID {
		e.title.analysisID = content.AnalysisID
		resolved = true
	}
	write := false
	if content.HasTitle() && !e.title.titled && (!e.title.received || content.Title != "") {
		e.title.received = true
		write = true
	}
	if content.Title != "" && !e.title.titled {
		e.title.titled = true
		stopTimer(&e.fallbackTimer)
	}
	ctx, key, recordingID := e.ctx, e.key, e.recordingID
	hook := r.observer.AnalysisResolved
	r.mu.Unlock()

	if resolved && hook != nil {
		hook(key, content.JobID, content.AnalysisID)
	}
	if !write {
		return
	}
	r.exec.Go(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.writer.WriteTitle(ctx, content.JobID, recordingID, content); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Int64("job_id", content.JobID).Msg("Failed to write title to caches")
		}
	})
}

// armFallbackLocked schedules the synthesized title for a completed job
// that has no title yet. It fires at most once per entry.
func (r *Registry) armFallbackLocked(e *entry, job *models.AnalysisJob) {
	if e.title.titled || e.title.fallbackFired || e.fallbackTimer != nil {
		return
	}
	completed := *job
	completedAt := job.UpdatedAt
	if completedAt.IsZero() {
		completedAt = r.clock.Now()
	}
	e.fallbackTimer = r.clock.AfterFunc(r.cfg.FallbackDelay, func() {
		r.runFallback(e, &completed, completedAt)
	})
}

func (r *Registry) runFallback(e *entry, job *models.AnalysisJob, completedAt time.Time) {
	r.mu.Lock()
	if !r.aliveLocked(e) {
		r.mu.Unlock()
		return
	}
	e.fallbackTimer = nil
	if e.title.titled || e.title.fallbackFired {
		r.mu.Unlock()
		return
	}
	e.title.fallbackFired = true
	ctx := e.ctx
	r.mu.Unlock()

	r.logger.Info().Str("key", e.key.String()).Int64("job_id", job.ID).
		Msg("No title within fallback window, synthesizing one")
	r.exec.Go(func() {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := r.writer.WriteFallbackTitle(ctx, job, completedAt); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to write fallback title")
		}
	})
}
