// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package session ties the subscription registry, feedback aggregators and
// playback coordinators together per recording, and publishes session
// state on the event bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/events"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/playback"
	"github.com/tomtom215/coachsync/internal/realtime"
	"github.com/tomtom215/coachsync/internal/subscription"
	"github.com/tomtom215/coachsync/internal/validation"
)

var (
	// ErrNotFound is returned for a recording or analysis without a session.
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("session manager closed")
)

// Publisher receives session events. *events.Bus implements it.
type Publisher interface {
	Publish(topic string, ev events.Event) error
}

// OpenOptions describe what the caller already knows about a recording.
type OpenOptions struct {
	// InitialStatus is the upload status read by the caller, if any.
	InitialStatus string `json:"initial_status" validate:"omitempty,oneof=uploading ready failed"`

	// JobID subscribes the analysis job directly when it is known.
	JobID int64 `json:"job_id" validate:"gte=0"`
}

// Options configure a Manager.
type Options struct {
	// Registry configures the subscription registry the manager owns. Its
	// Observer is replaced.
	Registry subscription.Options

	Commander realtime.Commander
	Publisher Publisher
	Playback  playback.Config
}

// Manager owns the open sessions.
type Manager struct {
	registry  *subscription.Registry
	provider  realtime.Provider
	commander realtime.Commander
	cache     cache.Cacher
	clock     clock.Clock
	publisher Publisher
	playback  playback.Config
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
	jobs     map[int64]int64
	analyses map[string]int64
	closed   bool
}

// NewManager creates a manager and its subscription registry.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry.Clock == nil {
		opts.Registry.Clock = clock.New()
	}
	m := &Manager{
		provider:  opts.Registry.Provider,
		commander: opts.Commander,
		cache:     opts.Registry.Cache,
		clock:     opts.Registry.Clock,
		publisher: opts.Publisher,
		playback:  opts.Playback,
		logger:    logging.WithComponent("session"),
		sessions:  make(map[int64]*Session),
		jobs:      make(map[int64]int64),
		analyses:  make(map[string]int64),
	}

	ro := opts.Registry
	ro.Observer = subscription.Observer{
		JobUpdated:         m.onJobUpdated,
		AnalysisResolved:   m.onAnalysisResolved,
		SubscriptionFailed: m.onSubscriptionFailed,
	}
	reg, err := subscription.New(ro)
	if err != nil {
		return nil, fmt.Errorf("create subscription registry: %w", err)
	}
	m.registry = reg
	return m, nil
}

// Registry returns the subscription registry.
func (m *Manager) Registry() *subscription.Registry {
	return m.registry
}

// Open returns the session of recordingID, creating and subscribing it if
// needed. An existing session is returned as is.
func (m *Manager) Open(ctx context.Context, recordingID int64, opts OpenOptions) (*Session, error) {
	if recordingID <= 0 {
		return nil, fmt.Errorf("%w: recording id %d", subscription.ErrInvalidKey, recordingID)
	}
	if err := validation.Validate(&opts); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := m.sessions[recordingID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	s := m.newSession(recordingID, opts)
	m.sessions[recordingID] = s
	if opts.JobID > 0 {
		m.jobs[opts.JobID] = recordingID
	}
	subs := append([]sub(nil), s.subs...)
	m.mu.Unlock()

	metrics.SessionsOpen.Inc()
	m.logger.Info().Int64("recording_id", recordingID).Int64("job_id", opts.JobID).
		Str("initial_status", opts.InitialStatus).Msg("Session opened")

	if opts.InitialStatus == UploadFailed {
		s.coord.Fail("upload failed")
	} else {
		s.refreshSignals()
	}

	for _, sb := range subs {
		if err := m.registry.Subscribe(ctx, sb.key, sb.params); err != nil {
			_ = m.Close(recordingID)
			return nil, fmt.Errorf("subscribe %s: %w", sb.key, err)
		}
	}
	s.publishSnapshot()
	return s, nil
}

func (m *Manager) newSession(recordingID int64, opts OpenOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		recordingID:    recordingID,
		mgr:            m,
		logger:         logging.WithComponent("session").With().Int64("recording_id", recordingID).Logger(),
		ctx:            ctx,
		cancel:         cancel,
		initialStatus:  opts.InitialStatus,
		uploadResolved: opts.InitialStatus != "",
	}
	s.subs = []sub{{
		key:    subscription.RecordingKey(recordingID),
		params: subscription.Params{RecordingID: recordingID},
	}}
	if opts.JobID > 0 {
		s.subs = append(s.subs, sub{
			key:    subscription.JobKey(opts.JobID),
			params: subscription.Params{AnalysisJobID: opts.JobID, RecordingID: recordingID},
		})
	}
	s.coord = playback.New(playback.Options{
		Video:     remoteVideo{s},
		Narration: remoteNarration{s},
		Clock:     m.clock,
		Config:    m.playback,
		OnChange:  s.onPlayback,
	})
	return s
}

// Get returns the open session of recordingID.
func (m *Manager) Get(recordingID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[recordingID]
	if !ok {
		return nil, fmt.Errorf("%w: recording %d", ErrNotFound, recordingID)
	}
	return s, nil
}

// ByAnalysis returns the session following analysisID.
func (m *Manager) ByAnalysis(analysisID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rid, ok := m.analyses[analysisID]; ok {
		if s, ok := m.sessions[rid]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: analysis %s", ErrNotFound, analysisID)
}

// RecordingIDs returns the recordings with open sessions, ascending.
func (m *Manager) RecordingIDs() []int64 {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close tears down the session of recordingID: its subscriptions, its
// aggregator and its coordinator timers.
func (m *Manager) Close(recordingID int64) error {
	m.mu.Lock()
	s, ok := m.sessions[recordingID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: recording %d", ErrNotFound, recordingID)
	}
	delete(m.sessions, recordingID)
	for job, rid := range m.jobs {
		if rid == recordingID {
			delete(m.jobs, job)
		}
	}
	for aid, rid := range m.analyses {
		if rid == recordingID {
			delete(m.analyses, aid)
		}
	}
	m.mu.Unlock()

	s.mu.Lock()
	subs := append([]sub(nil), s.subs...)
	s.mu.Unlock()
	for _, sb := range subs {
		m.registry.Unsubscribe(sb.key)
	}
	s.close()

	metrics.SessionsOpen.Dec()
	m.publish(events.TypeSessionClosed, recordingID, nil)
	m.logger.Info().Int64("recording_id", recordingID).Msg("Session closed")
	return nil
}

// Retry reopens the session's subscriptions and clears the connection
// warning. Playback state is left alone.
func (m *Manager) Retry(ctx context.Context, recordingID int64) error {
	s, err := m.Get(recordingID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	subs := append([]sub(nil), s.subs...)
	s.unstable = false
	s.mu.Unlock()

	for _, sb := range subs {
		m.registry.Unsubscribe(sb.key)
		if err := m.registry.Subscribe(ctx, sb.key, sb.params); err != nil {
			return fmt.Errorf("resubscribe %s: %w", sb.key, err)
		}
	}
	s.publishSnapshot()
	return nil
}

// Shutdown closes every session and the registry.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	for _, id := range m.RecordingIDs() {
		_ = m.Close(id)
	}
	m.registry.Close()
}

func (m *Manager) sessionFor(key subscription.Key, recordingID int64) *Session {
	kind, id, err := key.Parse()
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == subscription.KindRecording {
		return m.sessions[id]
	}
	if rid, ok := m.jobs[id]; ok {
		return m.sessions[rid]
	}
	return m.sessions[recordingID]
}

func (m *Manager) onJobUpdated(key subscription.Key, job *models.AnalysisJob) {
	s := m.sessionFor(key, job.VideoRecordingID)
	if s == nil {
		return
	}
	m.mu.Lock()
	m.jobs[job.ID] = s.recordingID
	m.mu.Unlock()
	s.onJob(job)
}

func (m *Manager) onAnalysisResolved(key subscription.Key, jobID int64, analysisID string) {
	s := m.sessionFor(key, 0)
	if s == nil {
		return
	}
	s.onAnalysis(jobID, analysisID)
}

func (m *Manager) onSubscriptionFailed(key subscription.Key, err error) {
	s := m.sessionFor(key, 0)
	if s == nil {
		return
	}
	// Not a playback error: the coordinator keeps its phase and the UI
	// shows a connection warning.
	s.mu.Lock()
	s.unstable = true
	s.mu.Unlock()

	m.publish(events.TypeSubscriptionFailed, s.recordingID, map[string]string{
		"key":   key.String(),
		"error": errString(err),
	})
	s.publishSnapshot()
}

func (m *Manager) indexAnalysis(analysisID string, recordingID int64) {
	m.mu.Lock()
	m.analyses[analysisID] = recordingID
	m.mu.Unlock()
}

func (m *Manager) unindexAnalysis(analysisID string) {
	m.mu.Lock()
	delete(m.analyses, analysisID)
	m.mu.Unlock()
}

func (m *Manager) publish(eventType string, recordingID int64, data interface{}) {
	if m.publisher == nil {
		return
	}
	ev, err := events.NewEvent(eventType, recordingID, data)
	if err != nil {
		m.logger.Error().Err(err).Str("type", eventType).Msg("Failed to build session event")
		return
	}
	if err := m.publisher.Publish(events.TopicSessions, ev); err != nil {
		m.logger.Warn().Err(err).Str("type", eventType).Msg("Failed to publish session event")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
