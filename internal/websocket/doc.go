// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

/*
Package websocket pushes session events to connected clients and carries
player callbacks back to the sessions.

It uses gorilla/websocket with a hub-client architecture:

  - Hub: registers clients and routes messages by recording id
  - Client: one connection with a read and a write goroutine
  - Bridge: forwards events from the session bus into the hub

A client follows one recording, chosen with the recording_id query
parameter or a subscribe message, or every recording when it follows zero.

Outbound messages keep the session event type:

  - session_snapshot: full session state after job, title or feedback changes
  - playback: coordinator state after every playback change
  - player_command: play, pause, seek or stop for the video or narration player
  - subscription_failed: a realtime channel exhausted its retries
  - session_closed: the session was torn down

Inbound messages:

  - ping: answered with pong
  - subscribe: switch the followed recording
  - player_event: a player callback, handled by the InboundHandler

Thread safety: the hub serializes client lifecycle and broadcasts in its run
loop. Broadcast never blocks; a client whose buffer fills is disconnected.
*/
package websocket
