// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

/*
Package supervisor provides process supervision for Coachsync using suture v4.

Long-running services are grouped into layers that restart independently:

	RootSupervisor ("coachsync")
	├── CacheSupervisor ("cache-layer")
	│   └── query cache expiry
	├── RealtimeSupervisor ("realtime-layer")
	│   ├── RealtimeComponentsService (stream setup, demo command responder)
	│   ├── WebSocketHubService
	│   └── session event bridge
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services restart with suture's backoff. Supervisor events are logged
through sutureslog into the zerolog pipeline (logging.NewComponentSlogLogger).

Usage:

	tree, err := supervisor.NewSupervisorTree(
	    logging.NewComponentSlogLogger("supervisor"),
	    supervisor.DefaultTreeConfig(),
	)
	if err != nil {
	    return err
	}
	tree.AddRealtimeService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	// Blocks until ctx is canceled.
	err = tree.Serve(ctx)

Service implementations live in the services subpackage.
*/
package supervisor
