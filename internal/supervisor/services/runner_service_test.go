// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/clock"
)

var _ suture.Service = (*RunnerService)(nil)

// mockContextHub is a test double for ContextHub.
type mockContextHub struct {
	runErr   error
	runCount atomic.Int32
}

func (m *mockContextHub) RunWithContext(ctx context.Context) error {
	m.runCount.Add(1)
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

type mockRunner struct {
	runs atomic.Int32
}

func (m *mockRunner) Run(ctx context.Context) error {
	m.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerService_Names(t *testing.T) {
	tests := []struct {
		svc  *RunnerService
		want string
	}{
		{NewWebSocketHubService(&mockContextHub{}), "websocket-hub"},
		{NewBridgeService(&mockRunner{}), "session-event-bridge"},
		{NewCacheExpiryService(cache.NewQueryCache(time.Minute, nil), time.Second), "query-cache-expiry"},
		{NewRunnerService("custom", func(context.Context) error { return nil }), "custom"},
	}
	for _, tt := range tests {
		if got := tt.svc.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestWebSocketHubService_Serve(t *testing.T) {
	t.Run("returns context error on cancellation", func(t *testing.T) {
		hub := &mockContextHub{}
		svc := NewWebSocketHubService(hub)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Serve(ctx)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Serve did not return after context cancellation")
		}
		if hub.runCount.Load() != 1 {
			t.Errorf("expected 1 run, got %d", hub.runCount.Load())
		}
	})

	t.Run("propagates hub errors", func(t *testing.T) {
		expectedErr := errors.New("hub startup error")
		svc := NewWebSocketHubService(&mockContextHub{runErr: expectedErr})

		if err := svc.Serve(context.Background()); !errors.Is(err, expectedErr) {
			t.Errorf("expected %v, got %v", expectedErr, err)
		}
	})
}

func TestBridgeService_RestartedBySupervisor(t *testing.T) {
	var calls atomic.Int32
	svc := NewRunnerService("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("bus closed")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	sup := suture.New("test-sup", suture.Spec{
		FailureThreshold: 5,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(svc)
	bridge := &mockRunner{}
	sup.Add(NewBridgeService(bridge))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	time.Sleep(100 * time.Millisecond)
	if calls.Load() < 3 {
		t.Errorf("flaky service ran %d times, want at least 3", calls.Load())
	}
	if bridge.runs.Load() != 1 {
		t.Errorf("bridge ran %d times, want 1", bridge.runs.Load())
	}
	cancel()
	<-errCh
}

func TestCacheExpiryService_RemovesExpiredEntries(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	qc := cache.NewQueryCache(time.Minute, clk)
	qc.Set(cache.HistoryPageKey(0), "page")
	qc.SetWithTTL(cache.HistoryPageKey(1), "page", time.Hour)
	clk.Advance(2 * time.Minute)

	svc := NewCacheExpiryService(qc, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for qc.GetStats().Evictions == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}

	if stats := qc.GetStats(); stats.Evictions != 1 || stats.TotalKeys != 1 {
		t.Errorf("stats = %+v, want 1 eviction and 1 key left", stats)
	}
}
