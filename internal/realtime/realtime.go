// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package realtime is the boundary to the backend's change feeds.
//
// A Provider opens per-entity channels (job, recording, analysis content,
// feedback) that deliver raw rows to an OnChange callback and lifecycle
// events to Handlers. Two providers exist: JetStreamProvider over NATS
// JetStream, and MemoryProvider, an in-process loopback used by tests and
// demo mode. PointReader answers one-shot "latest job" queries used to
// backfill a channel that came up empty.
package realtime

import (
	"context"
	"errors"

	"github.com/tomtom215/coachsync/internal/models"
)

// ChannelStatus is a lifecycle event of a realtime channel.
type ChannelStatus string

const (
	StatusSubscribed        ChannelStatus = "SUBSCRIBED"
	StatusBackfillEmpty     ChannelStatus = "BACKFILL_EMPTY"
	StatusChannelError      ChannelStatus = "CHANNEL_ERROR"
	StatusChannelTimeout    ChannelStatus = "CHANNEL_TIMEOUT"
	StatusChannelClosed     ChannelStatus = "CHANNEL_CLOSED"
	StatusHealthCheckFailed ChannelStatus = "HEALTH_CHECK_FAILED"
	StatusHealthCheckError  ChannelStatus = "HEALTH_CHECK_ERROR"
)

// IsError reports whether the status means the channel is broken.
func (s ChannelStatus) IsError() bool {
	return s == StatusChannelError || s == StatusChannelTimeout
}

// ErrChannelClosed is returned by operations on a torn-down channel.
var ErrChannelClosed = errors.New("realtime channel closed")

// ChangeFunc receives one raw row. Calls for one channel are serialized in
// delivery order.
type ChangeFunc func(payload []byte)

// Handlers receive channel lifecycle events.
type Handlers struct {
	// OnStatus receives SUBSCRIBED, BACKFILL_EMPTY and CHANNEL_CLOSED.
	OnStatus func(status ChannelStatus)

	// OnError receives CHANNEL_ERROR or CHANNEL_TIMEOUT with the cause.
	OnError func(status ChannelStatus, err error)
}

func (h Handlers) status(s ChannelStatus) {
	if h.OnStatus != nil {
		h.OnStatus(s)
	}
}

func (h Handlers) fail(s ChannelStatus, err error) {
	if h.OnError != nil {
		h.OnError(s, err)
	}
}

// Teardown closes a channel. It is safe to call more than once.
type Teardown func() error

// Provider opens realtime channels. A returned error means the channel was
// never established; errors after establishment arrive on Handlers.OnError.
type Provider interface {
	SubscribeToJob(ctx context.Context, jobID int64, onChange ChangeFunc, h Handlers) (Teardown, error)
	SubscribeToRecording(ctx context.Context, recordingID int64, onChange ChangeFunc, h Handlers) (Teardown, error)
	SubscribeToAnalysis(ctx context.Context, jobID int64, onChange ChangeFunc, h Handlers) (Teardown, error)
	SubscribeToFeedback(ctx context.Context, analysisID string, onChange ChangeFunc, h Handlers) (Teardown, error)
}

// HealthChecker is implemented by providers that can check their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PointReader answers one-shot latest-job queries. A nil job with a nil
// error means no job exists.
type PointReader interface {
	LatestJobForRecording(ctx context.Context, recordingID int64) (*models.AnalysisJob, error)
	LatestJobForID(ctx context.Context, jobID int64) (*models.AnalysisJob, error)
}

// RowPublisher writes backend rows onto the change feeds. The daemon never
// publishes rows itself; demo mode and tests stand in for the backend with it.
type RowPublisher interface {
	PublishJob(ctx context.Context, job *models.AnalysisJob) error
	PublishAnalysis(ctx context.Context, content *models.AnalysisContent) error
	PublishFeedback(ctx context.Context, item *models.FeedbackItem) error
}

// Commander sends feedback commands to the backend.
type Commander interface {
	RequestRegeneration(ctx context.Context, analysisID, feedbackID string) error
	SubmitRating(ctx context.Context, analysisID, feedbackID string, rating models.Rating) error
}
