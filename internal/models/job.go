// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/coachsync/internal/validation"
)

// JobStatus is the lifecycle state of a remote analysis job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether the job will not change status again.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// AnalysisJob is a remote analysis job as held in the query cache.
type AnalysisJob struct {
	ID                 int64     `json:"id"`
	VideoRecordingID   int64     `json:"video_recording_id"`
	Status             JobStatus `json:"status"`
	ProgressPercentage float64   `json:"progress_percentage"`
	UpdatedAt          time.Time `json:"updated_at"`
	Title              string    `json:"title,omitempty"`
	ThumbnailURL       string    `json:"thumbnail_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Key returns the job's identity as used in subscription keys and cache keys.
func (j *AnalysisJob) Key() string {
	return strconv.FormatInt(j.ID, 10)
}

// JobRow is the wire form of a job change event or point-read result.
type JobRow struct {
	ID                 int64     `json:"id" validate:"required,gt=0"`
	VideoRecordingID   int64     `json:"video_recording_id" validate:"required,gt=0"`
	Status             string    `json:"status" validate:"required,oneof=queued processing completed failed"`
	ProgressPercentage float64   `json:"progress_percentage" validate:"gte=0,lte=100"`
	UpdatedAt          time.Time `json:"updated_at"`
	CreatedAt          time.Time `json:"created_at"`
	Title              *string   `json:"title"`
	ThumbnailURL       *string   `json:"thumbnail_url"`
}

// DecodeJob parses and validates a job row.
func DecodeJob(data []byte) (*AnalysisJob, error) {
	var row JobRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("decode job row: %w", err)
	}
	if err := validation.Validate(&row); err != nil {
		return nil, fmt.Errorf("invalid job row: %w", err)
	}
	return row.toJob(), nil
}

func (r *JobRow) toJob() *AnalysisJob {
	job := &AnalysisJob{
		ID:                 r.ID,
		VideoRecordingID:   r.VideoRecordingID,
		Status:             JobStatus(r.Status),
		ProgressPercentage: r.ProgressPercentage,
		UpdatedAt:          r.UpdatedAt,
		CreatedAt:          r.CreatedAt,
	}
	if r.Title != nil {
		job.Title = *r.Title
	}
	if r.ThumbnailURL != nil {
		job.ThumbnailURL = *r.ThumbnailURL
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	return job
}

// EncodeJob returns the wire form of a job.
func EncodeJob(job *AnalysisJob) ([]byte, error) {
	row := JobRow{
		ID:                 job.ID,
		VideoRecordingID:   job.VideoRecordingID,
		Status:             string(job.Status),
		ProgressPercentage: job.ProgressPercentage,
		UpdatedAt:          job.UpdatedAt,
		CreatedAt:          job.CreatedAt,
	}
	if job.Title != "" {
		row.Title = &job.Title
	}
	if job.ThumbnailURL != "" {
		row.ThumbnailURL = &job.ThumbnailURL
	}
	return json.Marshal(&row)
}
