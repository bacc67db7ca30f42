// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/coachsync/internal/validation"
)

// FeedbackType classifies a coaching remark.
type FeedbackType string

const (
	FeedbackPositive   FeedbackType = "positive"
	FeedbackSuggestion FeedbackType = "suggestion"
	FeedbackCorrection FeedbackType = "correction"
)

// FeedbackCategory is the coached skill a remark is about.
type FeedbackCategory string

const (
	CategoryVoice    FeedbackCategory = "voice"
	CategoryPosture  FeedbackCategory = "posture"
	CategoryGrip     FeedbackCategory = "grip"
	CategoryMovement FeedbackCategory = "movement"
)

// GenerationStatus is the SSML or audio generation state of one item.
type GenerationStatus string

const (
	GenQueued     GenerationStatus = "queued"
	GenProcessing GenerationStatus = "processing"
	GenCompleted  GenerationStatus = "completed"
	GenFailed     GenerationStatus = "failed"
	GenRetrying   GenerationStatus = "retrying"
)

// Rating is a user's thumbs-up/down on an item. The empty value means unrated.
type Rating string

const (
	RatingNone Rating = ""
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

// FeedbackItem is one timestamped coaching remark with its narration state.
type FeedbackItem struct {
	ID              string           `json:"id"`
	AnalysisID      string           `json:"analysis_id"`
	TimestampMs     int64            `json:"timestamp"`
	Text            string           `json:"text"`
	Type            FeedbackType     `json:"type"`
	Category        FeedbackCategory `json:"category"`
	SSMLStatus      GenerationStatus `json:"ssml_status"`
	AudioStatus     GenerationStatus `json:"audio_status"`
	Confidence      float64          `json:"confidence"`
	UserRating      Rating           `json:"user_rating,omitempty"`
	AudioURL        string           `json:"audio_url,omitempty"`
	AudioDurationMs int64            `json:"audio_duration_ms,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsFullyCompleted reports whether both SSML and audio generation completed.
func (f *FeedbackItem) IsFullyCompleted() bool {
	return f.SSMLStatus == GenCompleted && f.AudioStatus == GenCompleted
}

// HasFailed reports whether either generation step failed.
func (f *FeedbackItem) HasFailed() bool {
	return f.SSMLStatus == GenFailed || f.AudioStatus == GenFailed
}

// HasNarration reports whether narration audio can be played.
func (f *FeedbackItem) HasNarration() bool {
	return f.AudioURL != ""
}

// FeedbackRow is the wire form of a feedback change event.
type FeedbackRow struct {
	ID              string    `json:"id" validate:"required"`
	AnalysisID      string    `json:"analysis_id" validate:"required,uuid"`
	TimestampMs     int64     `json:"timestamp" validate:"gte=0"`
	Text            string    `json:"text"`
	Type            string    `json:"type" validate:"required,oneof=positive suggestion correction"`
	Category        string    `json:"category" validate:"required,oneof=voice posture grip movement"`
	SSMLStatus      string    `json:"ssml_status" validate:"required,oneof=queued processing completed failed retrying"`
	AudioStatus     string    `json:"audio_status" validate:"required,oneof=queued processing completed failed retrying"`
	Confidence      float64   `json:"confidence" validate:"gte=0,lte=1"`
	UserRating      *string   `json:"user_rating" validate:"omitempty,rating"`
	AudioURL        *string   `json:"audio_url" validate:"omitempty,url"`
	AudioDurationMs *int64    `json:"audio_duration_ms" validate:"omitempty,gte=0"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DecodeFeedback parses and validates a feedback row.
func DecodeFeedback(data []byte) (*FeedbackItem, error) {
	var row FeedbackRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode feedback row: %w", err)
	}
	if err := validation.Validate(&row); err != nil {
		return nil, fmt.Errorf("invalid feedback row: %w", err)
	}
	item := &FeedbackItem{
		ID:          row.ID,
		AnalysisID:  row.AnalysisID,
		TimestampMs: row.TimestampMs,
		Text:        row.Text,
		Type:        FeedbackType(row.Type),
		Category:    FeedbackCategory(row.Category),
		SSMLStatus:  GenerationStatus(row.SSMLStatus),
		AudioStatus: GenerationStatus(row.AudioStatus),
		Confidence:  row.Confidence,
		UserRating:  Rating(deref(row.UserRating)),
		AudioURL:    deref(row.AudioURL),
		UpdatedAt:   row.UpdatedAt,
	}
	if row.AudioDurationMs != nil {
		item.AudioDurationMs = *row.AudioDurationMs
	}
	return item, nil
}

// EncodeFeedback returns the wire form of a feedback item.
func EncodeFeedback(item *FeedbackItem) ([]byte, error) {
	row := FeedbackRow{
		ID:          item.ID,
		AnalysisID:  item.AnalysisID,
		TimestampMs: item.TimestampMs,
		Text:        item.Text,
		Type:        string(item.Type),
		Category:    string(item.Category),
		SSMLStatus:  string(item.SSMLStatus),
		AudioStatus: string(item.AudioStatus),
		Confidence:  item.Confidence,
		UpdatedAt:   item.UpdatedAt,
	}
	if item.UserRating != RatingNone {
		r := string(item.UserRating)
		row.UserRating = &r
	}
	if item.AudioURL != "" {
		row.AudioURL = &item.AudioURL
	}
	if item.AudioDurationMs > 0 {
		row.AudioDurationMs = &item.AudioDurationMs
	}
	return json.Marshal(&row)
}

// SortFeedback orders items by ascending timestamp, ties broken by id.
func SortFeedback(items []FeedbackItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].TimestampMs != items[j].TimestampMs {
			return items[i].TimestampMs < items[j].TimestampMs
		}
		return items[i].ID < items[j].ID
	})
}
