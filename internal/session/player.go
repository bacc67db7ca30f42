// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package session

import (
	"fmt"
	"time"

	"github.com/tomtom215/coachsync/internal/playback"
	"github.com/tomtom215/coachsync/internal/validation"
)

// Player event types sent by clients.
const (
	EventProgress        = "progress"
	EventSeek            = "seek"
	EventSeekComplete    = "seek_complete"
	EventPlaying         = "playing"
	EventPaused          = "paused"
	EventEnded           = "ended"
	EventLoaded          = "loaded"
	EventNarrationLoaded = "narration_loaded"
	EventNarrationEnded  = "narration_ended"
	EventDismiss         = "dismiss"
	EventPlay            = "play"
	EventPause           = "pause"
)

// PlayerEvent is a callback from a client's video or narration player, or
// a user action on the playback surface.
type PlayerEvent struct {
	Type       string `json:"type" validate:"required,oneof=progress seek seek_complete playing paused ended loaded narration_loaded narration_ended dismiss play pause"`
	PositionMs int64  `json:"position_ms" validate:"gte=0"`
	DurationMs int64  `json:"duration_ms" validate:"gte=0"`
}

// PlayerCommand is an instruction for a client's players.
type PlayerCommand struct {
	Target     string `json:"target"` // "video" or "narration"
	Action     string `json:"action"` // "play", "pause", "seek", "stop"
	URL        string `json:"url,omitempty"`
	PositionMs int64  `json:"position_ms,omitempty"`
}

// HandlePlayerEvent routes a validated player event to the coordinator.
func (s *Session) HandlePlayerEvent(ev PlayerEvent) error {
	if err := validation.Validate(&ev); err != nil {
		return err
	}
	pos := time.Duration(ev.PositionMs) * time.Millisecond
	c := s.coord

	switch ev.Type {
	case EventProgress:
		c.Progress(pos)
	case EventSeek:
		return c.Seek(pos)
	case EventSeekComplete:
		c.SeekComplete()
	case EventPlaying:
		c.PlayingChanged(true)
	case EventPaused:
		c.PlayingChanged(false)
	case EventEnded:
		c.End()
	case EventLoaded:
		c.Load(time.Duration(ev.DurationMs) * time.Millisecond)
	case EventNarrationLoaded:
		c.NarrationLoaded(time.Duration(ev.DurationMs) * time.Millisecond)
	case EventNarrationEnded:
		c.NarrationEnded()
	case EventDismiss:
		c.Dismiss()
	case EventPlay:
		return c.Play()
	case EventPause:
		c.Pause()
	default:
		return fmt.Errorf("unknown player event %q", ev.Type)
	}
	return nil
}

// remoteVideo and remoteNarration forward coordinator commands to the
// session's clients over the event bus.
type remoteVideo struct{ s *Session }

func (v remoteVideo) Play()  { v.s.sendCommand(PlayerCommand{Target: "video", Action: "play"}) }
func (v remoteVideo) Pause() { v.s.sendCommand(PlayerCommand{Target: "video", Action: "pause"}) }

func (v remoteVideo) Seek(t time.Duration) {
	v.s.sendCommand(PlayerCommand{Target: "video", Action: "seek", PositionMs: t.Milliseconds()})
}

type remoteNarration struct{ s *Session }

func (n remoteNarration) Play(url string) {
	n.s.sendCommand(PlayerCommand{Target: "narration", Action: "play", URL: url})
}

func (n remoteNarration) Pause() {
	n.s.sendCommand(PlayerCommand{Target: "narration", Action: "pause"})
}

func (n remoteNarration) Stop() {
	n.s.sendCommand(PlayerCommand{Target: "narration", Action: "stop"})
}

var (
	_ playback.Video     = remoteVideo{}
	_ playback.Narration = remoteNarration{}
)
