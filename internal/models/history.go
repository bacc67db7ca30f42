// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package models

import (
	"time"
)

// TitleSource records where a history entry's title came from.
type TitleSource string

const (
	TitlePlaceholder TitleSource = "placeholder"
	TitleGenerated   TitleSource = "generated"
	TitleFallback    TitleSource = "fallback"
)

// HistoryEntry is one card in the user's analysis history. ID is the job id
// and is the identity key: placeholders and their upgrades share it.
type HistoryEntry struct {
	ID           int64       `json:"id"`
	RecordingID  int64       `json:"recording_id"`
	Title        string      `json:"title"`
	TitleSource  TitleSource `json:"title_source"`
	Summary      string      `json:"summary,omitempty"`
	AnalysisID   string      `json:"analysis_id,omitempty"`
	Status       JobStatus   `json:"status"`
	Progress     float64     `json:"progress"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	// JobUpdatedAt is the updated_at of the last job row applied. It is
	// server time and only job rows advance it; UpdatedAt may be local.
	JobUpdatedAt time.Time `json:"job_updated_at"`
}

// HistoryPatch is a partial update; nil fields are left unchanged.
type HistoryPatch struct {
	Title        *string
	TitleSource  *TitleSource
	Summary      *string
	AnalysisID   *string
	Status       *JobStatus
	Progress     *float64
	ThumbnailURL *string
	UpdatedAt    time.Time
	JobUpdatedAt time.Time
}

// Apply writes the non-nil fields of p onto e.
func (p *HistoryPatch) Apply(e *HistoryEntry) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.TitleSource != nil {
		e.TitleSource = *p.TitleSource
	}
	if p.Summary != nil {
		e.Summary = *p.Summary
	}
	if p.AnalysisID != nil {
		e.AnalysisID = *p.AnalysisID
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Progress != nil {
		e.Progress = *p.Progress
	}
	if p.ThumbnailURL != nil {
		e.ThumbnailURL = *p.ThumbnailURL
	}
	if !p.UpdatedAt.IsZero() {
		e.UpdatedAt = p.UpdatedAt
	}
	if !p.JobUpdatedAt.IsZero() {
		e.JobUpdatedAt = p.JobUpdatedAt
	}
}
