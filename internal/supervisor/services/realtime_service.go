// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package services

import (
	"context"
	"fmt"
	"time"
)

// RealtimeComponents is the broker lifecycle built by cmd/coachsync:
// stream setup and the demo command responder on Start, responder
// teardown on Shutdown.
type RealtimeComponents interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context)
	IsRunning() bool
}

// RealtimeComponentsService adapts RealtimeComponents to suture.
type RealtimeComponentsService struct {
	components      RealtimeComponents
	shutdownTimeout time.Duration
	name            string
}

// NewRealtimeComponentsService wraps components.
func NewRealtimeComponentsService(components RealtimeComponents, shutdownTimeout time.Duration) *RealtimeComponentsService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &RealtimeComponentsService{
		components:      components,
		shutdownTimeout: shutdownTimeout,
		name:            "realtime-components",
	}
}

// Serve implements suture.Service. A failed Start is returned so the
// supervisor retries it with backoff.
func (s *RealtimeComponentsService) Serve(ctx context.Context) error {
	if err := s.components.Start(ctx); err != nil {
		return fmt.Errorf("realtime components start failed: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.components.Shutdown(shutdownCtx)

	return ctx.Err()
}

func (s *RealtimeComponentsService) String() string {
	return s.name
}
