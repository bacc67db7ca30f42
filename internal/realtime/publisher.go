// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package realtime

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/coachsync/internal/models"
)

// JetStreamPublisher publishes backend rows into the stream.
type JetStreamPublisher struct {
	js       jetstream.JetStream
	subjects Subjects
}

var _ RowPublisher = (*JetStreamPublisher)(nil)

// NewJetStreamPublisher creates a row publisher.
func NewJetStreamPublisher(js jetstream.JetStream, subjects Subjects) *JetStreamPublisher {
	return &JetStreamPublisher{js: js, subjects: subjects}
}

// PublishJob writes a job row on its job and recording subjects.
func (p *JetStreamPublisher) PublishJob(ctx context.Context, job *models.AnalysisJob) error {
	data, err := models.EncodeJob(job)
	if err != nil {
		return err
	}
	for _, subject := range []string{p.subjects.Job(job.ID), p.subjects.RecordingJobs(job.VideoRecordingID)} {
		if _, err := p.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish %s: %w", subject, err)
		}
	}
	return nil
}

// PublishAnalysis writes analysis content for a job.
func (p *JetStreamPublisher) PublishAnalysis(ctx context.Context, content *models.AnalysisContent) error {
	data, err := models.EncodeAnalysis(content)
	if err != nil {
		return err
	}
	subject := p.subjects.Analysis(content.JobID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishFeedback writes one feedback item.
func (p *JetStreamPublisher) PublishFeedback(ctx context.Context, item *models.FeedbackItem) error {
	data, err := models.EncodeFeedback(item)
	if err != nil {
		return err
	}
	subject := p.subjects.Feedback(item.AnalysisID, item.ID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
