// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package models

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/coachsync/internal/validation"
)

// AnalysisContent is what the title/content channel carries for a job: the
// analysis UUID plus generated title and summary text, each optional and
// possibly arriving before the job completes.
type AnalysisContent struct {
	JobID      int64  `json:"job_id"`
	AnalysisID string `json:"analysis_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Summary    string `json:"summary,omitempty"`
	FullText   string `json:"full_feedback_text,omitempty"`
}

// HasTitle reports whether a generated title or full feedback text is present.
func (c *AnalysisContent) HasTitle() bool {
	return c.Title != "" || c.FullText != ""
}

// IsEmpty reports whether the payload carries nothing usable.
func (c *AnalysisContent) IsEmpty() bool {
	return c.AnalysisID == "" && !c.HasTitle() && c.Summary == ""
}

// AnalysisRow is the wire form of an analysis content event.
type AnalysisRow struct {
	JobID      int64   `json:"job_id" validate:"required,gt=0"`
	AnalysisID *string `json:"analysis_id" validate:"omitempty,uuid"`
	Title      *string `json:"title"`
	Summary    *string `json:"summary"`
	FullText   *string `json:"full_feedback_text"`
}

// DecodeAnalysis parses and validates an analysis content row.
func DecodeAnalysis(data []byte) (*AnalysisContent, error) {
	var row AnalysisRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode analysis row: %w", err)
	}
	if err := validation.Validate(&row); err != nil {
		return nil, fmt.Errorf("invalid analysis row: %w", err)
	}
	return &AnalysisContent{
		JobID:      row.JobID,
		AnalysisID: deref(row.AnalysisID),
		Title:      strings.TrimSpace(deref(row.Title)),
		Summary:    deref(row.Summary),
		FullText:   deref(row.FullText),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// EncodeAnalysis returns the wire form of analysis content.
func EncodeAnalysis(c *AnalysisContent) ([]byte, error) {
	row := AnalysisRow{JobID: c.JobID}
	if c.AnalysisID != "" {
		row.AnalysisID = &c.AnalysisID
	}
	if c.Title != "" {
		row.Title = &c.Title
	}
	if c.Summary != "" {
		row.Summary = &c.Summary
	}
	if c.FullText != "" {
		row.FullText = &c.FullText
	}
	return json.Marshal(&row)
}
