// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package services

import (
	"context"
	"time"
)

// RunFunc is a blocking loop that returns when ctx ends.
type RunFunc func(ctx context.Context) error

// RunnerService supervises a RunFunc.
type RunnerService struct {
	run  RunFunc
	name string
}

// NewRunnerService wraps run under name.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{run: run, name: name}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.run(ctx)
}

func (s *RunnerService) String() string {
	return s.name
}

// ContextHub matches *websocket.Hub.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// NewWebSocketHubService supervises the websocket hub. The hub closes its
// clients when ctx ends.
func NewWebSocketHubService(hub ContextHub) *RunnerService {
	return NewRunnerService("websocket-hub", hub.RunWithContext)
}

// Runner matches *websocket.Bridge.
type Runner interface {
	Run(ctx context.Context) error
}

// NewBridgeService supervises the bridge forwarding session events to
// websocket clients.
func NewBridgeService(bridge Runner) *RunnerService {
	return NewRunnerService("session-event-bridge", bridge.Run)
}

// ExpiringCache matches *cache.QueryCache.
type ExpiringCache interface {
	Run(ctx context.Context, interval time.Duration) error
}

// NewCacheExpiryService supervises the query cache's periodic removal of
// expired entries.
func NewCacheExpiryService(c ExpiringCache, interval time.Duration) *RunnerService {
	return NewRunnerService("query-cache-expiry", func(ctx context.Context) error {
		return c.Run(ctx, interval)
	})
}
