// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

/*
Package api provides the HTTP surface of the coaching sync engine, routed
with Chi.

Endpoints:

	GET    /healthz                                        health with realtime check
	GET    /healthz/live                                   liveness
	GET    /healthz/ready                                  readiness (503 while the broker is down)
	GET    /metrics                                        Prometheus metrics
	GET    /ws?recording_id=42                             websocket session events
	GET    /api/v1/sessions                                open recording ids
	POST   /api/v1/sessions/{recordingID}                  open a session
	GET    /api/v1/sessions/{recordingID}                  session snapshot
	DELETE /api/v1/sessions/{recordingID}                  close a session
	POST   /api/v1/sessions/{recordingID}/retry            re-subscribe after failures
	PUT    /api/v1/sessions/{recordingID}/upload           upload status
	POST   /api/v1/sessions/{recordingID}/player           player callback
	POST   /api/v1/feedback/{analysisID}/{feedbackID}/retry   regenerate narration
	PUT    /api/v1/feedback/{analysisID}/{feedbackID}/rating  rate an item
	GET    /api/v1/history?page=0                          cached history page

Every JSON body uses the models.APIResponse envelope:

	{
	  "status": "success",
	  "data": {...},
	  "metadata": {"timestamp": "...", "correlation_id": "1a2b3c4d"}
	}

Middleware (global, in order): correlation id, RealIP, Recoverer, CORS
(go-chi/cors), request metrics, request logging. Rate limits use
go-chi/httprate per client IP with tighter budgets for feedback commands
and websocket upgrades and a looser one for player callbacks.

Websocket clients may also send player events as
{"type":"player_event","recording_id":42,"data":{...}}; Handler.HandleInbound
routes them to the session exactly like POST .../player.
*/
package api
