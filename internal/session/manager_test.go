// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/cachewriter"
	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/events"
	"github.com/tomtom215/coachsync/internal/history"
	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/playback"
	"github.com/tomtom215/coachsync/internal/realtime"
	"github.com/tomtom215/coachsync/internal/subscription"
)

const aid = "3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(topic string, ev events.Event) error {
	if topic != events.TopicSessions {
		return errors.New("unexpected topic " + topic)
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	mgr      *Manager
	provider *realtime.MemoryProvider
	clk      *clock.Fake
	qc       *cache.QueryCache
	rec      *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: realtime.NewMemoryProvider(realtime.Subjects{Prefix: "coach"}),
		clk:      clock.NewFake(t0),
		rec:      &recorder{},
	}
	h.qc = cache.NewQueryCache(time.Hour, h.clk)
	mgr, err := NewManager(Options{
		Registry: subscription.Options{
			Provider: h.provider,
			Reader:   h.provider,
			Cache:    h.qc,
			Writer:   cachewriter.New(history.NewMemoryStore(), h.qc, h.clk, "Analysis"),
			Clock:    h.clk,
			Executor: subscription.Inline,
		},
		Commander: h.provider,
		Publisher: h.rec,
		Playback:  playback.DefaultConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Shutdown)
	h.mgr = mgr
	return h
}

func TestSessionFollowsJobAnalysisAndFeedback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: UploadUploading})
	if err != nil {
		t.Fatal(err)
	}
	if p := s.Coordinator().Phase(); p != playback.PhaseProcessing {
		t.Fatalf("phase = %s", p)
	}

	_ = h.provider.PublishJob(ctx, &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobProcessing, UpdatedAt: t0})
	_ = h.provider.PublishAnalysis(ctx, &models.AnalysisContent{JobID: 7, AnalysisID: aid})
	if got, err := h.mgr.ByAnalysis(aid); err != nil || got != s {
		t.Fatalf("ByAnalysis = %v, %v", got, err)
	}

	_ = h.provider.PublishFeedback(ctx, &models.FeedbackItem{
		ID: "f1", AnalysisID: aid, TimestampMs: 1000, Text: "drop your shoulders",
		Type: models.FeedbackSuggestion, Category: models.CategoryPosture,
		SSMLStatus: models.GenCompleted, AudioStatus: models.GenCompleted,
		AudioURL: "https://cdn.example/f1.mp3", Confidence: 0.8, UpdatedAt: t0,
	})

	snap := s.Snapshot()
	if snap.Job == nil || snap.Job.ID != 7 || snap.AnalysisID != aid {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Feedback) != 1 || snap.Processing {
		t.Errorf("feedback = %+v processing=%v", snap.Feedback, snap.Processing)
	}
	if snap.Playback.Phase != playback.PhaseReady || snap.Playback.Reason != playback.ReasonEarliestAudio {
		t.Errorf("playback = %+v", snap.Playback)
	}
	if len(snap.Subscriptions) != 1 || snap.Subscriptions[0].Status != subscription.StatusActive {
		t.Errorf("subscriptions = %+v", snap.Subscriptions)
	}
	if h.rec.count(events.TypeSnapshot) == 0 || h.rec.count(events.TypePlayback) == 0 {
		t.Error("no session events published")
	}
	if _, ok := cache.Typed[[]models.FeedbackItem](h.qc, cache.FeedbackKey(aid)); !ok {
		t.Error("feedback list not cached")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.mgr.Open(ctx, 42, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: UploadReady})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("second open created a new session")
	}
	if n := h.provider.Subscribers(h.provider.Subjects().RecordingJobs(42)); n != 1 {
		t.Errorf("recording channels = %d, want 1", n)
	}
}

func TestOpenRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.mgr.Open(ctx, 0, OpenOptions{}); !errors.Is(err, subscription.ErrInvalidKey) {
		t.Errorf("err = %v", err)
	}
	if _, err := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: "bogus"}); err == nil {
		t.Error("invalid status accepted")
	}
	if len(h.mgr.RecordingIDs()) != 0 {
		t.Error("session left behind")
	}
}

func TestUploadReadyWithoutJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	s, err := h.mgr.Open(context.Background(), 42, OpenOptions{InitialStatus: UploadReady})
	if err != nil {
		t.Fatal(err)
	}
	st := s.Coordinator().State()
	if st.Phase != playback.PhaseReady || st.Reason != playback.ReasonUploadReady {
		t.Errorf("state = %+v", st)
	}
}

func TestSetUploadStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	s, err := h.mgr.Open(context.Background(), 42, OpenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if p := s.Coordinator().Phase(); p != playback.PhaseProcessing {
		t.Fatalf("phase = %s", p)
	}
	if err := s.SetUploadStatus("bogus", ""); err == nil {
		t.Error("unknown status accepted")
	}
	if err := s.SetUploadStatus(UploadReady, ""); err != nil {
		t.Fatal(err)
	}
	if st := s.Coordinator().State(); st.Phase != playback.PhaseReady || st.Reason != playback.ReasonUploadReady {
		t.Errorf("state = %+v", st)
	}
	if got := s.Snapshot().InitialStatus; got != UploadReady {
		t.Errorf("initial status = %q", got)
	}
}

func TestFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("initial status failed", func(t *testing.T) {
		h := newHarness(t)
		s, err := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: UploadFailed})
		if err != nil {
			t.Fatal(err)
		}
		if p := s.Coordinator().Phase(); p != playback.PhaseError {
			t.Errorf("phase = %s", p)
		}
	})

	t.Run("upload failure", func(t *testing.T) {
		h := newHarness(t)
		s, _ := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: UploadUploading})
		s.FailUpload(errors.New("connection reset"))
		st := s.Coordinator().State()
		if st.Phase != playback.PhaseError || st.Error != "upload failed: connection reset" {
			t.Errorf("state = %+v", st)
		}
	})

	t.Run("re-upload after failure", func(t *testing.T) {
		h := newHarness(t)
		s, _ := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: UploadUploading})
		s.FailUpload(errors.New("connection reset"))
		if err := s.SetUploadStatus(UploadUploading, ""); err != nil {
			t.Fatal(err)
		}
		st := s.Coordinator().State()
		if st.Phase != playback.PhaseProcessing || st.Error != "" {
			t.Errorf("state = %+v", st)
		}
	})

	t.Run("job failed", func(t *testing.T) {
		h := newHarness(t)
		s, _ := h.mgr.Open(ctx, 42, OpenOptions{})
		_ = h.provider.PublishJob(ctx, &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobFailed, UpdatedAt: t0})
		if p := s.Coordinator().Phase(); p != playback.PhaseError {
			t.Errorf("phase = %s", p)
		}
	})
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.mgr.Open(ctx, 42, OpenOptions{JobID: 7}); err != nil {
		t.Fatal(err)
	}
	_ = h.provider.PublishJob(ctx, &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobCompleted, UpdatedAt: t0})
	_ = h.provider.PublishAnalysis(ctx, &models.AnalysisContent{JobID: 7, AnalysisID: aid, Title: "Nice swing"})
	if h.provider.TotalSubscribers() == 0 {
		t.Fatal("nothing subscribed")
	}

	if err := h.mgr.Close(42); err != nil {
		t.Fatal(err)
	}
	if n := h.provider.TotalSubscribers(); n != 0 {
		t.Errorf("open channels = %d", n)
	}
	if n := h.clk.Pending(); n != 0 {
		t.Errorf("pending timers = %d", n)
	}
	if len(h.mgr.Registry().Keys()) != 0 {
		t.Error("registry keys left")
	}
	if _, err := h.mgr.Get(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if _, err := h.mgr.ByAnalysis(aid); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByAnalysis err = %v", err)
	}
	if h.rec.count(events.TypeSessionClosed) != 1 {
		t.Error("close event not published")
	}
	if err := h.mgr.Close(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("second close err = %v", err)
	}
}

func TestSubscriptionFailureKeepsPlayback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	subject := h.provider.Subjects().RecordingJobs(42)
	boom := errors.New("socket closed")

	s, err := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: UploadReady})
	if err != nil {
		t.Fatal(err)
	}
	_ = h.provider.PublishJob(ctx, &models.AnalysisJob{ID: 7, VideoRecordingID: 42, Status: models.JobCompleted, UpdatedAt: t0})
	if err := s.HandlePlayerEvent(PlayerEvent{Type: EventPlaying}); err != nil {
		t.Fatal(err)
	}
	if p := s.Coordinator().Phase(); p != playback.PhasePlaying {
		t.Fatalf("phase = %s", p)
	}

	h.provider.EmitError(subject, realtime.StatusChannelError, boom)
	h.provider.FailNextSubscribe(subject, boom)
	h.clk.Advance(300 * time.Millisecond)
	h.provider.FailNextSubscribe(subject, boom)
	h.clk.Advance(600 * time.Millisecond)

	if h.rec.count(events.TypeSubscriptionFailed) != 1 {
		t.Fatal("failure event not published")
	}
	snap := s.Snapshot()
	if !snap.ConnectionUnstable {
		t.Error("connection not flagged unstable")
	}
	if snap.Playback.Phase != playback.PhasePlaying || snap.Playback.Error != "" {
		t.Errorf("playback after retry exhaustion = %+v", snap.Playback)
	}

	if err := h.mgr.Retry(ctx, 42); err != nil {
		t.Fatal(err)
	}
	snap = s.Snapshot()
	if snap.ConnectionUnstable {
		t.Error("connection still flagged after retry")
	}
	if snap.Playback.Phase != playback.PhasePlaying {
		t.Errorf("phase after retry = %s", snap.Playback.Phase)
	}
	if st := h.mgr.Registry().Status(subscription.RecordingKey(42)); st.Status != subscription.StatusActive {
		t.Errorf("registry state = %+v", st)
	}
}

func TestPlayerEventsDriveCoordinator(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.mgr.Open(ctx, 42, OpenOptions{InitialStatus: UploadReady})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.HandlePlayerEvent(PlayerEvent{Type: EventSeek, PositionMs: 12500}); err != nil {
		t.Fatal(err)
	}
	if err := s.HandlePlayerEvent(PlayerEvent{Type: EventSeek, PositionMs: 100}); !errors.Is(err, playback.ErrSeekPending) {
		t.Errorf("second seek err = %v", err)
	}
	if h.rec.count(events.TypePlayerCommand) != 1 {
		t.Errorf("player commands = %d, want 1", h.rec.count(events.TypePlayerCommand))
	}
	if err := s.HandlePlayerEvent(PlayerEvent{Type: EventSeekComplete}); err != nil {
		t.Fatal(err)
	}
	if st := s.Coordinator().State(); st.CurrentTimeMs != 12500 || st.PendingSeekMs != nil {
		t.Errorf("state = %+v", st)
	}
	if err := s.HandlePlayerEvent(PlayerEvent{Type: "rewind"}); err == nil {
		t.Error("unknown event accepted")
	}
}
