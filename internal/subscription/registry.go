// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package subscription owns the realtime channels of analysis jobs and
// recordings.
//
// A Registry keeps at most one entry per key. Concurrent Subscribe calls
// for a key share one channel establishment. Channel errors are retried
// with exponential backoff until MaxRetries consecutive errors mark the key
// failed. An empty initial backfill arms a one-shot point read that covers
// the gap between subscribing and the first row.
//
// All entry state is mutated under the registry mutex. Provider calls,
// teardowns, observer hooks and cache writes run after the mutex is
// released, so providers may deliver callbacks synchronously. Every timer
// is created and stored in the same critical section, and every timer
// callback re-checks that its entry is still registered before acting.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/cachewriter"
	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/config"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/realtime"
)

var (
	// ErrUnknownKey is returned for operations on a key with no entry.
	ErrUnknownKey = errors.New("unknown subscription key")

	// ErrUnsubscribed is returned to Subscribe callers whose entry was torn
	// down before the channel was established.
	ErrUnsubscribed = errors.New("unsubscribed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("subscription registry closed")
)

// Status is the lifecycle status of an entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
)

// Params carries the ids a key subscribes with. Zero values default to the
// id in the key.
type Params struct {
	AnalysisJobID int64
	RecordingID   int64
}

// State is a snapshot of one entry.
type State struct {
	Key              Key                    `json:"key"`
	Status           Status                 `json:"status"`
	JobID            int64                  `json:"job_id,omitempty"`
	RetryAttempts    int                    `json:"retry_attempts"`
	LastError        string                 `json:"last_error,omitempty"`
	LastStatus       realtime.ChannelStatus `json:"last_status,omitempty"`
	HasTitleReceived bool                   `json:"has_title_received"`
	AnalysisID       string                 `json:"analysis_id,omitempty"`
}

// Observer receives entry events. Hooks run on provider or timer
// goroutines, outside the registry lock. Nil hooks are skipped.
type Observer struct {
	// JobUpdated is called for every validated job row, live or backfilled.
	JobUpdated func(key Key, job *models.AnalysisJob)

	// AnalysisResolved is called once per analysis id seen for a key.
	AnalysisResolved func(key Key, jobID int64, analysisID string)

	// SubscriptionFailed is called when a key exhausts its retries.
	SubscriptionFailed func(key Key, err error)
}

// Config holds the registry timing.
type Config struct {
	RetryBaseDelay     time.Duration
	MaxRetries         int
	BackfillDelay      time.Duration
	InvalidationDelay  time.Duration
	HealthCheckTimeout time.Duration
	ErrorBurstWindow   time.Duration
	FallbackDelay      time.Duration
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		RetryBaseDelay:     300 * time.Millisecond,
		MaxRetries:         3,
		BackfillDelay:      500 * time.Millisecond,
		InvalidationDelay:  time.Second,
		HealthCheckTimeout: 2 * time.Second,
		ErrorBurstWindow:   500 * time.Millisecond,
		FallbackDelay:      3 * time.Second,
	}
}

// ConfigFrom builds a Config from the application configuration.
func ConfigFrom(rt config.RealtimeConfig, title config.TitleConfig) Config {
	return Config{
		RetryBaseDelay:     rt.RetryBaseDelay,
		MaxRetries:         rt.MaxRetries,
		BackfillDelay:      rt.BackfillDelay,
		InvalidationDelay:  rt.InvalidationDelay,
		HealthCheckTimeout: rt.HealthCheckTimeout,
		ErrorBurstWindow:   rt.ErrorBurstWindow,
		FallbackDelay:      title.FallbackDelay,
	}
}

// Options are the registry's collaborators.
type Options struct {
	Provider realtime.Provider

	// Reader serves backfill point reads. Nil disables backfill.
	Reader realtime.PointReader

	// Health is checked before each channel establishment. Nil uses the
	// provider when it implements realtime.HealthChecker.
	Health realtime.HealthChecker

	Cache  cache.Cacher
	Writer *cachewriter.Writer
	Clock  clock.Clock

	// Executor runs deferred cache writes. Nil uses a FIFO goroutine.
	Executor Executor

	Observer Observer
	Config   Config
}

// Registry owns subscription entries.
type Registry struct {
	provider realtime.Provider
	reader   realtime.PointReader
	health   realtime.HealthChecker
	cache    cache.Cacher
	writer   *cachewriter.Writer
	clock    clock.Clock
	exec     Executor
	serial   *serialExecutor
	observer Observer
	cfg      Config
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[Key]*entry
	closed  bool
}

// entry is the state of one key. Its fields are guarded by Registry.mu.
type entry struct {
	key         Key
	kind        Kind
	jobID       int64
	recordingID int64

	status     Status
	attempts   int
	lastError  error
	lastStatus realtime.ChannelStatus

	// channel is bumped on every establishment so callbacks from an older
	// channel are ignored.
	channel  uint64
	teardown realtime.Teardown

	retryTimer      clock.Timer
	backfillTimer   clock.Timer
	invalidateTimer clock.Timer
	fallbackTimer   clock.Timer

	// ctx is cancelled on unsubscribe and aborts point reads, health
	// checks and deferred writes.
	ctx    context.Context
	cancel context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once

	// error log burst suppression
	errStreak  int
	lastErrAt  time.Time
	lastErrMsg string

	title titleState
}

// New creates an isolated registry.
func New(opts Options) (*Registry, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("realtime provider required")
	}
	if opts.Cache == nil || opts.Writer == nil {
		return nil, fmt.Errorf("query cache and cache writer required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if opts.Health == nil {
		if hc, ok := opts.Provider.(realtime.HealthChecker); ok {
			opts.Health = hc
		}
	}

	r := &Registry{
		provider: opts.Provider,
		reader:   opts.Reader,
		health:   opts.Health,
		cache:    opts.Cache,
		writer:   opts.Writer,
		clock:    opts.Clock,
		exec:     opts.Executor,
		observer: opts.Observer,
		cfg:      opts.Config,
		logger:   logging.WithComponent("subscription"),
		entries:  make(map[Key]*entry),
	}
	if r.exec == nil {
		r.serial = newSerialExecutor()
		r.exec = r.serial
	}
	return r, nil
}

// Subscribe ensures a channel for key. A caller that finds the key pending
// or active waits for the same establishment instead of opening a second
// channel. A failed key is left alone until Retry or Unsubscribe.
//
// Channel errors are absorbed by the retry policy; Subscribe only returns
// an error for an invalid key, a closed registry, a cancelled ctx, or an
// entry torn down while the caller waited.
func (r *Registry) Subscribe(ctx context.Context, key Key, params Params) error {
	kind, id, err := key.Parse()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if e, ok := r.entries[key]; ok {
		status, ready := e.status, e.ready
		r.mu.Unlock()
		if status == StatusFailed {
			return nil
		}
		return r.await(ctx, e, ready)
	}

	e := &entry{
		key:         key,
		kind:        kind,
		jobID:       params.AnalysisJobID,
		recordingID: params.RecordingID,
		ready:       make(chan struct{}),
	}
	switch kind {
	case KindJob:
		e.jobID = id
	case KindRecording:
		e.recordingID = id
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	r.entries[key] = e
	r.setStatus(e, StatusPending)
	e.channel++
	channel := e.channel
	r.mu.Unlock()

	r.logger.Debug().Str("key", key.String()).Msg("Subscribing")
	r.establish(e, channel)
	return r.await(ctx, e, e.ready)
}

func (r *Registry) await(ctx context.Context, e *entry, ready <-chan struct{}) error {
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !r.alive(e) {
		return ErrUnsubscribed
	}
	return nil
}

// alive reports whether e is still the registered entry for its key.
func (r *Registry) alive(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aliveLocked(e)
}

func (r *Registry) aliveLocked(e *entry) bool {
	return r.entries[e.key] == e
}

// establish opens the channel for one attempt. It must be called without
// the lock held.
func (r *Registry) establish(e *entry, channel uint64) {
	defer e.readyOnce.Do(func() { close(e.ready) })

	r.checkHealth(e, channel)

	h := realtime.Handlers{
		OnStatus: func(s realtime.ChannelStatus) { r.onStatus(e, channel, s) },
		OnError:  func(s realtime.ChannelStatus, err error) { r.onError(e, channel, s, err) },
	}
	onChange := func(data []byte) { r.onJobRow(e, channel, data) }

	var (
		teardown realtime.Teardown
		err      error
	)
	switch e.kind {
	case KindJob:
		teardown, err = r.provider.SubscribeToJob(e.ctx, e.jobID, onChange, h)
	default:
		teardown, err = r.provider.SubscribeToRecording(e.ctx, e.recordingID, onChange, h)
	}

	r.mu.Lock()
	if !r.aliveLocked(e) || e.channel != channel {
		r.mu.Unlock()
		r.runTeardown(e.key, teardown)
		return
	}
	if err != nil {
		fire := r.handleErrorLocked(e, realtime.StatusChannelError, err)
		r.mu.Unlock()
		fire()
		return
	}
	e.teardown = teardown
	jobID := e.jobID
	r.mu.Unlock()

	// A job id known up front opens the title watcher right away.
	if jobID != 0 {
		r.openTitle(e, jobID)
	}
}

// checkHealth runs the provider health check. A failure arms the backfill
// poll and never blocks establishment.
func (r *Registry) checkHealth(e *entry, channel uint64) {
	if r.health == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, r.cfg.HealthCheckTimeout)
	err := r.health.HealthCheck(ctx)
	cancel()
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	status := realtime.StatusHealthCheckFailed
	if errors.Is(err, context.DeadlineExceeded) {
		status = realtime.StatusHealthCheckError
	}
	metrics.ChannelEvents.WithLabelValues(string(e.kind), string(status)).Inc()
	r.logger.Error().Err(err).Str("key", e.key.String()).Str("status", string(status)).
		Msg("Realtime health check failed, falling back to polling")

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.aliveLocked(e) || e.channel != channel {
		return
	}
	e.lastStatus = status
	e.lastError = err
	r.armBackfillLocked(e)
}

func (r *Registry) onStatus(e *entry, channel uint64, s realtime.ChannelStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.aliveLocked(e) || e.channel != channel {
		r.logger.Debug().Str("key", e.key.String()).Str("status", string(s)).Msg("Status from stale channel")
		return
	}
	if s != realtime.StatusChannelClosed {
		e.lastStatus = s
	}

	switch s {
	case realtime.StatusSubscribed:
		r.setStatus(e, StatusActive)
		e.attempts = 0
		e.errStreak = 0
		r.logger.Debug().Str("key", e.key.String()).Msg("Channel subscribed")
	case realtime.StatusBackfillEmpty:
		r.armBackfillLocked(e)
	case realtime.StatusChannelClosed:
		r.logger.Debug().Str("key", e.key.String()).Msg("Channel closed")
	default:
		r.logger.Debug().Str("key", e.key.String()).Str("status", string(s)).Msg("Channel status")
	}
}

func (r *Registry) onError(e *entry, channel uint64, s realtime.ChannelStatus, err error) {
	r.mu.Lock()
	if !r.aliveLocked(e) || e.channel != channel {
		r.mu.Unlock()
		return
	}
	fire := r.handleErrorLocked(e, s, err)
	r.mu.Unlock()
	fire()
}

// handleErrorLocked records a channel error and either schedules a retry
// or marks the entry failed. The returned func runs the side effects that
// must happen after the lock is released.
func (r *Registry) handleErrorLocked(e *entry, s realtime.ChannelStatus, err error) func() {
	e.lastStatus = s
	e.lastError = err

	if e.retryTimer != nil || e.status == StatusFailed {
		// This attempt already failed; one retry per attempt.
		return func() {}
	}

	now := r.clock.Now()
	msg := err.Error()
	if msg == e.lastErrMsg && now.Sub(e.lastErrAt) < r.cfg.ErrorBurstWindow {
		e.errStreak++
	} else {
		ev := r.logger.Warn().Err(err).Str("key", e.key.String()).Str("status", string(s)).Int("attempt", e.attempts)
		if e.errStreak > 0 {
			ev = ev.Int("suppressed", e.errStreak)
		}
		ev.Msg("Channel error")
		e.errStreak = 0
	}
	e.lastErrAt, e.lastErrMsg = now, msg

	teardown := e.teardown
	e.teardown = nil

	if e.attempts+1 >= r.cfg.MaxRetries {
		e.attempts = r.cfg.MaxRetries
		r.setStatus(e, StatusFailed)
		metrics.SubscriptionFailures.WithLabelValues(string(e.kind)).Inc()
		r.logger.Error().Err(err).Str("key", e.key.String()).Int("attempts", e.attempts).
			Msg("Subscription failed after retries")

		key, hook := e.key, r.observer.SubscriptionFailed
		return func() {
			r.runTeardown(key, teardown)
			if hook != nil {
				hook(key, err)
			}
		}
	}

	delay := r.cfg.RetryBaseDelay << e.attempts
	e.retryTimer = r.clock.AfterFunc(delay, func() { r.retryFired(e) })
	metrics.SubscriptionRetries.WithLabelValues(string(e.kind)).Inc()
	r.logger.Debug().Str("key", e.key.String()).Dur("delay", delay).Msg("Retry scheduled")

	key := e.key
	return func() { r.runTeardown(key, teardown) }
}

func (r *Registry) retryFired(e *entry) {
	r.mu.Lock()
	if !r.aliveLocked(e) {
		r.mu.Unlock()
		return
	}
	e.retryTimer = nil
	r.mu.Unlock()
	r.retry(e)
}

// Retry re-establishes the channel of key. It is a no-op for a missing
// key and marks the key failed once its attempts are exhausted.
func (r *Registry) Retry(key Key) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if ok {
		r.retry(e)
	}
}

func (r *Registry) retry(e *entry) {
	r.mu.Lock()
	if !r.aliveLocked(e) {
		r.mu.Unlock()
		return
	}
	if e.attempts >= r.cfg.MaxRetries {
		r.setStatus(e, StatusFailed)
		r.mu.Unlock()
		return
	}
	stopTimer(&e.retryTimer)
	e.attempts++
	r.setStatus(e, StatusPending)
	e.channel++
	channel := e.channel
	teardown := e.teardown
	e.teardown = nil
	r.mu.Unlock()

	r.runTeardown(e.key, teardown)
	r.logger.Info().Str("key", e.key.String()).Int("attempt", e.attempts).Msg("Retrying subscription")
	r.establish(e, channel)
}

// armBackfillLocked schedules the one-shot point read unless one is
// already armed.
func (r *Registry) armBackfillLocked(e *entry) {
	if r.reader == nil || e.backfillTimer != nil {
		return
	}
	e.backfillTimer = r.clock.AfterFunc(r.cfg.BackfillDelay, func() { r.runBackfill(e) })
}

func (r *Registry) runBackfill(e *entry) {
	r.mu.Lock()
	if !r.aliveLocked(e) {
		r.mu.Unlock()
		return
	}
	e.backfillTimer = nil
	ctx, kind, jobID, recordingID := e.ctx, e.kind, e.jobID, e.recordingID
	r.mu.Unlock()

	var (
		job *models.AnalysisJob
		err error
	)
	if kind == KindJob {
		job, err = r.reader.LatestJobForID(ctx, jobID)
	} else {
		job, err = r.reader.LatestJobForRecording(ctx, recordingID)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		metrics.BackfillChecks.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).Str("key", e.key.String()).Msg("Backfill point read failed")
		return
	case job == nil:
		metrics.BackfillChecks.WithLabelValues("empty").Inc()
		r.logger.Debug().Str("key", e.key.String()).Msg("Backfill found no job")
		return
	}
	metrics.BackfillChecks.WithLabelValues("found").Inc()
	r.logger.Debug().Str("key", e.key.String()).Int64("job_id", job.ID).Msg("Backfill found job")
	r.applyJob(e, job)
}

func (r *Registry) onJobRow(e *entry, channel uint64, data []byte) {
	job, err := models.DecodeJob(data)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", e.key.String()).Msg("Dropping invalid job row")
		return
	}
	r.mu.Lock()
	stale := !r.aliveLocked(e) || e.channel != channel
	r.mu.Unlock()
	if stale {
		return
	}
	r.applyJob(e, job)
}

// applyJob is the single update path for live and backfilled job rows.
func (r *Registry) applyJob(e *entry, job *models.AnalysisJob) {
	r.mu.Lock()
	if !r.aliveLocked(e) {
		r.mu.Unlock()
		return
	}
	if e.kind == KindJob && job.ID != e.jobID {
		r.mu.Unlock()
		return
	}

	openTitle := false
	if e.jobID == 0 || (e.kind == KindRecording && job.ID > e.jobID) {
		e.jobID = job.ID
		openTitle = true
	} else if job.ID < e.jobID {
		// A superseded job of this recording.
		r.mu.Unlock()
		return
	} else if e.title.jobID != job.ID {
		openTitle = true
	}

	if job.Status.IsTerminal() && e.invalidateTimer == nil && r.cfg.InvalidationDelay > 0 {
		e.invalidateTimer = r.clock.AfterFunc(r.cfg.InvalidationDelay, func() { r.runInvalidation(e) })
	}
	if job.Status == models.JobCompleted {
		r.armFallbackLocked(e, job)
	}

	ctx, key, hook := e.ctx, e.key, r.observer.JobUpdated
	r.mu.Unlock()

	r.exec.Go(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.writer.WriteJob(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error().Err(err).Int64("job_id", job.ID).Msg("Failed to write job to caches")
		}
	})
	if hook != nil {
		hook(key, job)
	}
	if openTitle {
		r.openTitle(e, job.ID)
	}
}

func (r *Registry) runInvalidation(e *entry) {
	r.mu.Lock()
	if !r.aliveLocked(e) {
		r.mu.Unlock()
		return
	}
	e.invalidateTimer = nil
	r.mu.Unlock()

	n := r.writer.InvalidateHistory()
	r.logger.Debug().Str("key", e.key.String()).Int("pages", n).Msg("Invalidated history pages")
}

// Unsubscribe tears down key: timers are stopped, in-flight work is
// cancelled, channels are closed and the entry is deleted. It is safe at
// any time and for unknown keys. Teardown errors are logged.
func (r *Registry) Unsubscribe(key Key) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	metrics.SubscriptionsActive.WithLabelValues(string(e.status)).Dec()

	stopTimer(&e.retryTimer)
	stopTimer(&e.backfillTimer)
	stopTimer(&e.invalidateTimer)
	stopTimer(&e.fallbackTimer)
	e.cancel()

	teardowns := []realtime.Teardown{e.teardown, e.title.teardown}
	e.teardown, e.title.teardown = nil, nil
	r.mu.Unlock()

	e.readyOnce.Do(func() { close(e.ready) })
	for _, td := range teardowns {
		r.runTeardown(key, td)
	}
	r.logger.Debug().Str("key", key.String()).Msg("Unsubscribed")
}

// Job returns the cached job for key, resolved by job id or recording id.
func (r *Registry) Job(key Key) (*models.AnalysisJob, bool) {
	kind, id, err := key.Parse()
	if err != nil {
		return nil, false
	}
	if kind == KindJob {
		return cache.Typed[*models.AnalysisJob](r.cache, cache.JobKey(id))
	}
	return cache.Typed[*models.AnalysisJob](r.cache, cache.RecordingJobKey(id))
}

// Status returns a snapshot of key's entry, or an idle state for an
// unknown key.
func (r *Registry) Status(key Key) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return State{Key: key, Status: StatusIdle}
	}
	s := State{
		Key:              key,
		Status:           e.status,
		JobID:            e.jobID,
		RetryAttempts:    e.attempts,
		LastStatus:       e.lastStatus,
		HasTitleReceived: e.title.received,
		AnalysisID:       e.title.analysisID,
	}
	if e.lastError != nil {
		s.LastError = e.lastError.Error()
	}
	return s
}

// Keys returns the registered keys.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close unsubscribes every key and waits for queued cache writes.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	for _, key := range r.Keys() {
		r.Unsubscribe(key)
	}
	if r.serial != nil {
		r.serial.Stop()
	}
}

// setStatus must be called with r.mu held.
func (r *Registry) setStatus(e *entry, s Status) {
	if e.status == s {
		return
	}
	if e.status != "" {
		metrics.SubscriptionsActive.WithLabelValues(string(e.status)).Dec()
	}
	metrics.SubscriptionsActive.WithLabelValues(string(s)).Inc()
	e.status = s
}

func (r *Registry) runTeardown(key Key, td realtime.Teardown) {
	if td == nil {
		return
	}
	if err := td(); err != nil {
		r.logger.Warn().Err(err).Str("key", key.String()).Msg("Channel teardown failed")
	}
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
