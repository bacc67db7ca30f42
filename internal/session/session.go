// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/coachsync/internal/events"
	"github.com/tomtom215/coachsync/internal/feedback"
	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/playback"
	"github.com/tomtom215/coachsync/internal/subscription"
)

// Upload statuses accepted by Open.
const (
	UploadUploading = "uploading"
	UploadReady     = "ready"
	UploadFailed    = "failed"
)

// Snapshot is the full state of one session.
type Snapshot struct {
	RecordingID   int64                 `json:"recording_id"`
	InitialStatus string                `json:"initial_status,omitempty"`
	Job           *models.AnalysisJob   `json:"job,omitempty"`
	AnalysisID    string                `json:"analysis_id,omitempty"`
	Subscriptions []subscription.State  `json:"subscriptions"`
	Feedback      []models.FeedbackItem `json:"feedback"`
	Processing    bool                  `json:"processing"`

	// ConnectionUnstable is set once a subscription exhausts its retries.
	// Playback carries on; the flag clears on Retry.
	ConnectionUnstable bool           `json:"connection_unstable"`
	Playback           playback.State `json:"playback"`
}

// sub is one registry key held by a session.
type sub struct {
	key    subscription.Key
	params subscription.Params
}

// Session binds one recording's subscriptions, feedback aggregator and
// playback coordinator.
type Session struct {
	recordingID int64
	mgr         *Manager
	coord       *playback.Coordinator
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	initialStatus  string
	uploadResolved bool
	subs           []sub
	unstable       bool
	job            *models.AnalysisJob
	agg            *feedback.Aggregator
	fb             feedback.Snapshot
	closed         bool
}

// RecordingID returns the recording the session follows.
func (s *Session) RecordingID() int64 {
	return s.recordingID
}

// Coordinator returns the session's playback coordinator.
func (s *Session) Coordinator() *playback.Coordinator {
	return s.coord
}

// Aggregator returns the current feedback aggregator, or nil before the
// analysis id resolves.
func (s *Session) Aggregator() *feedback.Aggregator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg
}

// Snapshot returns the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		RecordingID:   s.recordingID,
		InitialStatus: s.initialStatus,
		Feedback:      s.fb.Items,
		Processing:    !s.fb.FullyCompleted && !s.fb.EarliestAudioReady,

		ConnectionUnstable: s.unstable,
	}
	if s.job != nil {
		job := *s.job
		snap.Job = &job
	}
	if s.agg != nil {
		snap.AnalysisID = s.agg.AnalysisID()
	}
	subs := append([]sub(nil), s.subs...)
	s.mu.Unlock()

	for _, sb := range subs {
		snap.Subscriptions = append(snap.Subscriptions, s.mgr.registry.Status(sb.key))
	}
	if snap.Feedback == nil {
		snap.Feedback = []models.FeedbackItem{}
	}
	snap.Playback = s.coord.State()
	return snap
}

// signalsLocked derives the readiness inputs from the current state.
func (s *Session) signalsLocked() playback.Signals {
	sig := playback.Signals{
		EarliestAudioReady: s.fb.EarliestAudioReady,
		FeedbackCompleted:  s.fb.FullyCompleted,
		UploadResolved:     s.uploadResolved,
		InitialStatus:      s.initialStatus,
	}
	if s.job != nil {
		sig.JobStatus = s.job.Status
	}
	return sig
}

func (s *Session) refreshSignals() {
	s.mu.Lock()
	sig := s.signalsLocked()
	s.mu.Unlock()
	s.coord.UpdateSignals(sig)
}

// onJob applies a job row delivered for one of the session's keys.
func (s *Session) onJob(job *models.AnalysisJob) {
	s.mu.Lock()
	if s.closed || (s.job != nil && job.ID < s.job.ID) {
		s.mu.Unlock()
		return
	}
	cp := *job
	s.job = &cp
	sig := s.signalsLocked()
	s.mu.Unlock()

	if job.Status == models.JobFailed {
		s.coord.Fail("analysis failed")
	} else {
		s.coord.UpdateSignals(sig)
	}
	s.publishSnapshot()
}

// onAnalysis starts the aggregator of a newly resolved analysis id.
func (s *Session) onAnalysis(jobID int64, analysisID string) {
	s.mu.Lock()
	if s.closed || (s.job != nil && jobID < s.job.ID) {
		s.mu.Unlock()
		return
	}
	if s.agg != nil && s.agg.AnalysisID() == analysisID {
		s.mu.Unlock()
		return
	}
	old := s.agg
	agg := feedback.New(analysisID, feedback.Options{
		Commander: s.mgr.commander,
		Cache:     s.mgr.cache,
		OnChange:  s.onFeedback,
	})
	s.agg = agg
	s.fb = feedback.Snapshot{AnalysisID: analysisID}
	s.mu.Unlock()

	if old != nil {
		old.Close()
		s.mgr.unindexAnalysis(old.AnalysisID())
	}
	s.mgr.indexAnalysis(analysisID, s.recordingID)
	s.logger.Info().Int64("job_id", jobID).Str("analysis_id", analysisID).Msg("Following feedback")

	if err := agg.Start(s.ctx, s.mgr.provider); err != nil {
		s.logger.Warn().Err(err).Str("analysis_id", analysisID).Msg("Feedback subscription failed")
	}
	s.publishSnapshot()
}

// onFeedback receives aggregator snapshots. Out-of-order or foreign
// snapshots are dropped.
func (s *Session) onFeedback(snap feedback.Snapshot) {
	s.mu.Lock()
	if s.closed || s.agg == nil || snap.AnalysisID != s.agg.AnalysisID() || snap.Version <= s.fb.Version {
		s.mu.Unlock()
		return
	}
	s.fb = snap
	sig := s.signalsLocked()
	s.mu.Unlock()

	s.coord.SetFeedback(snap.Items)
	s.coord.UpdateSignals(sig)
	s.publishSnapshot()
}

// FailUpload moves the session to the error phase after an upload failure.
func (s *Session) FailUpload(err error) {
	s.mu.Lock()
	s.uploadResolved = true
	s.initialStatus = UploadFailed
	s.mu.Unlock()

	msg := "upload failed"
	if err != nil {
		msg = "upload failed: " + err.Error()
	}
	s.coord.Fail(msg)
	s.publishSnapshot()
}

// SetUploadStatus records the upload status reported by the uploader. A
// failed upload is FailUpload with message as the cause.
func (s *Session) SetUploadStatus(status, message string) error {
	switch status {
	case UploadFailed:
		var err error
		if message != "" {
			err = errors.New(message)
		}
		s.FailUpload(err)
		return nil
	case UploadUploading, UploadReady:
	default:
		return fmt.Errorf("unknown upload status %q", status)
	}

	s.mu.Lock()
	retried := s.initialStatus == UploadFailed
	s.uploadResolved = true
	s.initialStatus = status
	s.mu.Unlock()

	// A re-upload after a failed one leaves the error phase.
	if retried {
		if err := s.coord.Reset(); err != nil {
			s.logger.Debug().Err(err).Msg("Coordinator not reset")
		}
	}
	s.refreshSignals()
	s.publishSnapshot()
	return nil
}

func (s *Session) onPlayback(st playback.State) {
	s.mgr.publish(events.TypePlayback, s.recordingID, st)
}

func (s *Session) sendCommand(cmd PlayerCommand) {
	s.mgr.publish(events.TypePlayerCommand, s.recordingID, cmd)
}

func (s *Session) publishSnapshot() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.mgr.publish(events.TypeSnapshot, s.recordingID, s.Snapshot())
}

// close releases the session's resources. Subscriptions are released by
// the manager.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	agg := s.agg
	s.mu.Unlock()

	s.cancel()
	if agg != nil {
		agg.Close()
	}
	s.coord.Close()
}
