// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/realtime"
)

const aid = "3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11"

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func item(id string, ts int64, ssml, audio models.GenerationStatus) *models.FeedbackItem {
	return &models.FeedbackItem{
		ID:          id,
		AnalysisID:  aid,
		TimestampMs: ts,
		Text:        "keep your elbow in",
		Type:        models.FeedbackSuggestion,
		Category:    models.CategoryPosture,
		SSMLStatus:  ssml,
		AudioStatus: audio,
		Confidence:  0.9,
		UpdatedAt:   t0,
	}
}

func newTestAggregator() (*Aggregator, *realtime.MemoryProvider, *[]Snapshot) {
	p := realtime.NewMemoryProvider(realtime.Subjects{Prefix: "coach"})
	var snaps []Snapshot
	a := New(aid, Options{
		Commander: p,
		OnChange:  func(s Snapshot) { snaps = append(snaps, s) },
	})
	return a, p, &snaps
}

func TestAggregatorOrdersItems(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAggregator()

	a.Apply(item("c", 9000, models.GenQueued, models.GenQueued))
	a.Apply(item("b", 1000, models.GenQueued, models.GenQueued))
	a.Apply(item("a", 1000, models.GenQueued, models.GenQueued))

	got := a.Items()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(got), want)
		}
	}

	// Status transitions mutate in place; the list never shrinks.
	a.Apply(item("b", 1000, models.GenCompleted, models.GenProcessing))
	got = a.Items()
	if len(got) != 3 || got[1].SSMLStatus != models.GenCompleted {
		t.Errorf("items = %+v", got)
	}
}

func ids(items []models.FeedbackItem) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].ID
	}
	return out
}

func TestAggregatorPredicates(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAggregator()

	if a.IsFullyCompleted() {
		t.Error("empty list must not be fully completed")
	}
	if !a.IsProcessing() {
		t.Error("empty list is processing")
	}

	first := item("f1", 500, models.GenCompleted, models.GenProcessing)
	a.Apply(first)
	a.Apply(item("f2", 4000, models.GenCompleted, models.GenCompleted))
	if a.IsFullyCompleted() || a.EarliestAudioReady() || !a.IsProcessing() {
		t.Fatal("nothing narratable yet")
	}

	// The earliest item's narration ends the processing state even though
	// the batch is incomplete.
	withAudio := *first
	withAudio.AudioURL = "https://cdn.example/f1.mp3"
	a.Apply(&withAudio)
	if !a.EarliestAudioReady() || a.IsProcessing() || a.IsFullyCompleted() {
		t.Fatalf("earliest audio: ready=%v processing=%v", a.EarliestAudioReady(), a.IsProcessing())
	}

	withAudio.AudioStatus = models.GenCompleted
	a.Apply(&withAudio)
	if !a.IsFullyCompleted() {
		t.Error("all items completed")
	}
}

func TestAggregatorIgnoresForeignAndInvalidRows(t *testing.T) {
	t.Parallel()
	a, _, snaps := newTestAggregator()

	other := item("x", 0, models.GenQueued, models.GenQueued)
	other.AnalysisID = "9b2e0d7c-1111-4a4a-8b8b-222233334444"
	a.Apply(other)
	a.HandleRow([]byte(`{"id":"y","analysis_id":"not-a-uuid"}`))

	if len(a.Items()) != 0 || len(*snaps) != 0 {
		t.Error("foreign or invalid rows applied")
	}
}

func TestRetryFailedFeedbackOverlay(t *testing.T) {
	t.Parallel()
	a, p, snaps := newTestAggregator()
	ctx := context.Background()

	a.Apply(item("f1", 500, models.GenCompleted, models.GenFailed))
	if err := a.RetryFailedFeedback(ctx, "f1"); err != nil {
		t.Fatal(err)
	}
	got := a.Items()[0]
	if got.AudioStatus != models.GenQueued || got.SSMLStatus != models.GenCompleted {
		t.Fatalf("overlay not applied: %+v", got)
	}
	if cmds := p.Commands(); len(cmds) != 1 || cmds[0].Kind != "retry" || cmds[0].FeedbackID != "f1" {
		t.Errorf("commands = %+v", cmds)
	}

	// A replay of the failed row the retry was based on does not undo it.
	a.Apply(item("f1", 500, models.GenCompleted, models.GenFailed))
	if got := a.Items()[0]; got.AudioStatus != models.GenQueued {
		t.Errorf("stale row cleared overlay: %+v", got)
	}

	// A newer row is authoritative, even if it failed again.
	again := item("f1", 500, models.GenCompleted, models.GenFailed)
	again.UpdatedAt = t0.Add(time.Second)
	a.Apply(again)
	if got := a.Items()[0]; got.AudioStatus != models.GenFailed {
		t.Errorf("newer row ignored: %+v", got)
	}

	last := (*snaps)[len(*snaps)-1]
	for _, s := range *snaps {
		if s.Version > last.Version {
			t.Fatal("versions must increase")
		}
	}
}

func TestRetryOverlaySettlesOnServerTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Server timestamps far behind or ahead of the local clock must not
	// matter: only rows are compared with rows.
	for _, base := range []time.Time{t0.Add(-24 * time.Hour), t0.Add(24 * time.Hour)} {
		a, _, _ := newTestAggregator()
		failed := item("f1", 0, models.GenFailed, models.GenFailed)
		failed.UpdatedAt = base
		a.Apply(failed)
		if err := a.RetryFailedFeedback(ctx, "f1"); err != nil {
			t.Fatal(err)
		}

		again := item("f1", 0, models.GenFailed, models.GenFailed)
		again.UpdatedAt = base.Add(time.Millisecond)
		a.Apply(again)
		if got := a.Items()[0]; got.SSMLStatus != models.GenFailed {
			t.Errorf("base %v: regeneration failure hidden by overlay: %+v", base, got)
		}
		if err := a.RetryFailedFeedback(ctx, "f1"); err != nil {
			t.Errorf("base %v: retry after failure = %v", base, err)
		}
	}
}

func TestPublishKeepsNewestSnapshotCached(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAggregator()
	qc := cache.NewQueryCache(time.Minute, nil)
	a.cache = qc

	a.Apply(item("f1", 0, models.GenQueued, models.GenQueued))
	a.Apply(item("f2", 100, models.GenQueued, models.GenQueued))
	newest := a.Snapshot()

	// A snapshot published late must not replace a newer cached list.
	a.publish(Snapshot{AnalysisID: aid, Version: newest.Version - 1, Items: newest.Items[:1]})
	cached, ok := cache.Typed[[]models.FeedbackItem](qc, cache.FeedbackKey(aid))
	if !ok || len(cached) != 2 {
		t.Errorf("cached items = %+v, want 2", cached)
	}
}

func TestRetryFailedFeedbackErrors(t *testing.T) {
	t.Parallel()
	a, p, _ := newTestAggregator()
	ctx := context.Background()

	if err := a.RetryFailedFeedback(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	a.Apply(item("ok", 0, models.GenCompleted, models.GenCompleted))
	if err := a.RetryFailedFeedback(ctx, "ok"); !errors.Is(err, ErrNotFailed) {
		t.Errorf("err = %v, want ErrNotFailed", err)
	}

	a.Apply(item("bad", 10, models.GenFailed, models.GenFailed))
	p.OnCommand(func(realtime.Command) error { return errors.New("backend unavailable") })
	if err := a.RetryFailedFeedback(ctx, "bad"); err == nil {
		t.Fatal("expected error")
	}
	for _, it := range a.Items() {
		if it.ID == "bad" && it.SSMLStatus != models.GenFailed {
			t.Errorf("overlay not reverted: %+v", it)
		}
	}
}

func TestSetRating(t *testing.T) {
	t.Parallel()
	a, p, _ := newTestAggregator()
	ctx := context.Background()
	qc := cache.NewQueryCache(time.Minute, nil)
	a.cache = qc

	a.Apply(item("f1", 0, models.GenCompleted, models.GenCompleted))
	if err := a.SetRating(ctx, "f1", models.RatingUp); err != nil {
		t.Fatal(err)
	}
	if got := a.Items()[0].UserRating; got != models.RatingUp {
		t.Errorf("rating = %q", got)
	}
	if cmds := p.Commands(); len(cmds) != 1 || cmds[0].Rating != models.RatingUp {
		t.Errorf("commands = %+v", cmds)
	}

	// The server echo settles the overlay.
	echo := item("f1", 0, models.GenCompleted, models.GenCompleted)
	echo.UserRating = models.RatingUp
	a.Apply(echo)
	a.mu.Lock()
	n := len(a.overlays)
	a.mu.Unlock()
	if n != 0 {
		t.Errorf("overlays = %d, want 0", n)
	}

	cached, ok := cache.Typed[[]models.FeedbackItem](qc, cache.FeedbackKey(aid))
	if !ok || cached[0].UserRating != models.RatingUp {
		t.Errorf("cached items = %+v", cached)
	}
}

func TestStartAndClose(t *testing.T) {
	t.Parallel()
	a, p, _ := newTestAggregator()
	ctx := context.Background()

	_ = p.PublishFeedback(ctx, item("f1", 100, models.GenQueued, models.GenQueued))
	if err := a.Start(ctx, p); err != nil {
		t.Fatal(err)
	}
	if len(a.Items()) != 1 {
		t.Fatal("backlog not replayed")
	}

	_ = p.PublishFeedback(ctx, item("f2", 200, models.GenQueued, models.GenQueued))
	if len(a.Items()) != 2 {
		t.Fatal("live row not applied")
	}

	a.Close()
	a.Close()
	if p.TotalSubscribers() != 0 {
		t.Error("channel left open")
	}
	_ = p.PublishFeedback(ctx, item("f3", 300, models.GenQueued, models.GenQueued))
	if len(a.Items()) != 2 {
		t.Error("row applied after close")
	}
}
