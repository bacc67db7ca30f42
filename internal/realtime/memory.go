// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/coachsync/internal/models"
)

// Command is a feedback command as sent to the backend.
type Command struct {
	Kind       string        `json:"kind"` // "retry" or "rating"
	AnalysisID string        `json:"analysis_id"`
	FeedbackID string        `json:"feedback_id"`
	Rating     models.Rating `json:"rating,omitempty"`
}

// MemoryProvider is an in-process Provider, PointReader, RowPublisher and
// Commander. It retains the last row per subject and replays matching rows
// to new subscribers, like a last-per-subject JetStream consumer. Callbacks
// run synchronously on the publishing goroutine.
type MemoryProvider struct {
	subjects Subjects

	mu        sync.Mutex
	subs      map[uint64]*memSub
	nextID    uint64
	retained  map[string][]byte
	jobs      map[int64]*models.AnalysisJob
	latest    map[int64]int64 // recording id -> job id
	calls     map[string]int
	failNext  map[string][]error
	healthErr error
	readErr   error
	commands  []Command
	onCommand func(Command) error
}

type memSub struct {
	id       uint64
	pattern  string
	onChange ChangeFunc
	handlers Handlers
	closed   atomic.Bool
}

var (
	_ Provider      = (*MemoryProvider)(nil)
	_ HealthChecker = (*MemoryProvider)(nil)
	_ PointReader   = (*MemoryProvider)(nil)
	_ RowPublisher  = (*MemoryProvider)(nil)
	_ Commander     = (*MemoryProvider)(nil)
)

// NewMemoryProvider creates an empty loopback provider.
func NewMemoryProvider(subjects Subjects) *MemoryProvider {
	return &MemoryProvider{
		subjects: subjects,
		subs:     make(map[uint64]*memSub),
		retained: make(map[string][]byte),
		jobs:     make(map[int64]*models.AnalysisJob),
		latest:   make(map[int64]int64),
		calls:    make(map[string]int),
		failNext: make(map[string][]error),
	}
}

// Subjects returns the subject layout.
func (p *MemoryProvider) Subjects() Subjects {
	return p.subjects
}

// SubscribeToJob opens the channel of one job.
func (p *MemoryProvider) SubscribeToJob(ctx context.Context, jobID int64, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, p.subjects.Job(jobID), onChange, h)
}

// SubscribeToRecording opens the job feed of a recording.
func (p *MemoryProvider) SubscribeToRecording(ctx context.Context, recordingID int64, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, p.subjects.RecordingJobs(recordingID), onChange, h)
}

// SubscribeToAnalysis opens the title/content channel of a job.
func (p *MemoryProvider) SubscribeToAnalysis(ctx context.Context, jobID int64, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, p.subjects.Analysis(jobID), onChange, h)
}

// SubscribeToFeedback opens the item feed of an analysis.
func (p *MemoryProvider) SubscribeToFeedback(ctx context.Context, analysisID string, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, p.subjects.FeedbackAll(analysisID), onChange, h)
}

func (p *MemoryProvider) subscribe(ctx context.Context, pattern string, onChange ChangeFunc, h Handlers) (Teardown, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls[pattern]++
	if queued := p.failNext[pattern]; len(queued) > 0 {
		err := queued[0]
		p.failNext[pattern] = queued[1:]
		p.mu.Unlock()
		return nil, err
	}
	p.nextID++
	sub := &memSub{id: p.nextID, pattern: pattern, onChange: onChange, handlers: h}
	p.subs[sub.id] = sub

	var backlog []string
	for subject := range p.retained {
		if MatchSubject(pattern, subject) {
			backlog = append(backlog, subject)
		}
	}
	sort.Strings(backlog)
	rows := make([][]byte, len(backlog))
	for i, subject := range backlog {
		rows[i] = p.retained[subject]
	}
	p.mu.Unlock()

	h.status(StatusSubscribed)
	if len(rows) == 0 {
		h.status(StatusBackfillEmpty)
	}
	for _, row := range rows {
		if sub.closed.Load() {
			break
		}
		onChange(row)
	}

	return func() error {
		if !sub.closed.CompareAndSwap(false, true) {
			return nil
		}
		p.mu.Lock()
		delete(p.subs, sub.id)
		p.mu.Unlock()
		h.status(StatusChannelClosed)
		return nil
	}, nil
}

// Publish retains payload as the last row of subject and delivers it to
// every matching live subscriber.
func (p *MemoryProvider) Publish(subject string, payload []byte) {
	p.mu.Lock()
	p.retained[subject] = payload
	targets := p.matching(subject)
	p.mu.Unlock()

	for _, sub := range targets {
		if !sub.closed.Load() {
			sub.onChange(payload)
		}
	}
}

// matching must be called with mu held.
func (p *MemoryProvider) matching(subject string) []*memSub {
	var out []*memSub
	for _, sub := range p.subs {
		if MatchSubject(sub.pattern, subject) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// PublishJob publishes a job row on its job and recording subjects.
func (p *MemoryProvider) PublishJob(_ context.Context, job *models.AnalysisJob) error {
	data, err := models.EncodeJob(job)
	if err != nil {
		return err
	}
	p.mu.Lock()
	stored := *job
	p.jobs[job.ID] = &stored
	if cur, ok := p.latest[job.VideoRecordingID]; !ok || job.ID >= cur {
		p.latest[job.VideoRecordingID] = job.ID
	}
	p.mu.Unlock()

	p.Publish(p.subjects.Job(job.ID), data)
	p.Publish(p.subjects.RecordingJobs(job.VideoRecordingID), data)
	return nil
}

// StoreJob records a job for point reads without publishing it, as if the
// row existed before any channel was opened and its event was missed.
func (p *MemoryProvider) StoreJob(job *models.AnalysisJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored := *job
	p.jobs[job.ID] = &stored
	if cur, ok := p.latest[job.VideoRecordingID]; !ok || job.ID >= cur {
		p.latest[job.VideoRecordingID] = job.ID
	}
}

// PublishAnalysis publishes analysis content for a job.
func (p *MemoryProvider) PublishAnalysis(_ context.Context, content *models.AnalysisContent) error {
	data, err := models.EncodeAnalysis(content)
	if err != nil {
		return err
	}
	p.Publish(p.subjects.Analysis(content.JobID), data)
	return nil
}

// PublishFeedback publishes one feedback item.
func (p *MemoryProvider) PublishFeedback(_ context.Context, item *models.FeedbackItem) error {
	data, err := models.EncodeFeedback(item)
	if err != nil {
		return err
	}
	p.Publish(p.subjects.Feedback(item.AnalysisID, item.ID), data)
	return nil
}

// LatestJobForRecording returns the newest stored job of a recording.
func (p *MemoryProvider) LatestJobForRecording(ctx context.Context, recordingID int64) (*models.AnalysisJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return nil, p.readErr
	}
	id, ok := p.latest[recordingID]
	if !ok {
		return nil, nil
	}
	job := *p.jobs[id]
	return &job, nil
}

// LatestJobForID returns the stored job with id.
func (p *MemoryProvider) LatestJobForID(ctx context.Context, jobID int64) (*models.AnalysisJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return nil, p.readErr
	}
	j, ok := p.jobs[jobID]
	if !ok {
		return nil, nil
	}
	job := *j
	return &job, nil
}

// HealthCheck returns the error set by SetHealth.
func (p *MemoryProvider) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthErr
}

// RequestRegeneration records a retry command.
func (p *MemoryProvider) RequestRegeneration(ctx context.Context, analysisID, feedbackID string) error {
	return p.command(ctx, Command{Kind: "retry", AnalysisID: analysisID, FeedbackID: feedbackID})
}

// SubmitRating records a rating command.
func (p *MemoryProvider) SubmitRating(ctx context.Context, analysisID, feedbackID string, rating models.Rating) error {
	return p.command(ctx, Command{Kind: "rating", AnalysisID: analysisID, FeedbackID: feedbackID, Rating: rating})
}

func (p *MemoryProvider) command(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	hook := p.onCommand
	p.mu.Unlock()

	if hook != nil {
		if err := hook(cmd); err != nil {
			return fmt.Errorf("%s command: %w", cmd.Kind, err)
		}
	}
	return nil
}

// OnCommand installs a hook run for every command, standing in for the
// backend's command handler.
func (p *MemoryProvider) OnCommand(fn func(Command) error) {
	p.mu.Lock()
	p.onCommand = fn
	p.mu.Unlock()
}

// Commands returns the commands received so far.
func (p *MemoryProvider) Commands() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.commands...)
}

// SetHealth makes HealthCheck return err.
func (p *MemoryProvider) SetHealth(err error) {
	p.mu.Lock()
	p.healthErr = err
	p.mu.Unlock()
}

// SetReadError makes point reads return err.
func (p *MemoryProvider) SetReadError(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

// FailNextSubscribe makes the next subscribe to pattern fail with err.
func (p *MemoryProvider) FailNextSubscribe(pattern string, err error) {
	p.mu.Lock()
	p.failNext[pattern] = append(p.failNext[pattern], err)
	p.mu.Unlock()
}

// EmitError reports a channel error to every live subscriber of pattern.
func (p *MemoryProvider) EmitError(pattern string, status ChannelStatus, err error) {
	p.mu.Lock()
	var targets []*memSub
	for _, sub := range p.subs {
		if sub.pattern == pattern {
			targets = append(targets, sub)
		}
	}
	p.mu.Unlock()

	for _, sub := range targets {
		if !sub.closed.Load() {
			sub.handlers.fail(status, err)
		}
	}
}

// Subscribers returns the number of live channels on pattern.
func (p *MemoryProvider) Subscribers(pattern string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sub := range p.subs {
		if sub.pattern == pattern {
			n++
		}
	}
	return n
}

// TotalSubscribers returns the number of live channels.
func (p *MemoryProvider) TotalSubscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// SubscribeCalls returns how many times pattern was subscribed.
func (p *MemoryProvider) SubscribeCalls(pattern string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[pattern]
}
