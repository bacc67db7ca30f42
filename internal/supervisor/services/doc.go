// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

/*
Package services adapts Coachsync components to suture v4's Serve pattern.

Each wrapper implements suture.Service and fmt.Stringer:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Available services:

  - HTTPServerService: *http.Server with graceful Shutdown on cancellation.
    http.ErrServerClosed is not a failure.
  - RunnerService: any blocking Run(ctx) loop. NewWebSocketHubService,
    NewBridgeService and NewCacheExpiryService build the ones Coachsync runs.
  - RealtimeComponentsService: the broker lifecycle (stream setup, demo
    command responder, connection drain, embedded server shutdown) adapted
    from Start/Shutdown.

A service that returns before its context ends is restarted by its
supervisor. Return suture.ErrDoNotRestart for work that is complete.
*/
package services
