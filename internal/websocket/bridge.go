// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package websocket

import (
	"context"
	"fmt"

	"github.com/tomtom215/coachsync/internal/events"
	"github.com/tomtom215/coachsync/internal/logging"
)

// EventSource is the subscribe side of the event bus.
type EventSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan events.Event, error)
}

// Bridge forwards session events from the bus to websocket clients.
type Bridge struct {
	hub    *Hub
	source EventSource
	topic  string
}

// NewBridge creates a bridge for the session topic.
func NewBridge(hub *Hub, source EventSource) *Bridge {
	return &Bridge{hub: hub, source: source, topic: events.TopicSessions}
}

// Run forwards events until ctx is cancelled or the bus closes.
func (b *Bridge) Run(ctx context.Context) error {
	ch, err := b.source.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.topic, err)
	}
	logging.Info().Str("topic", b.topic).Msg("Event bus to websocket bridge started")

	for ev := range ch {
		b.hub.Broadcast(Message{
			Type:        ev.Type,
			RecordingID: ev.RecordingID,
			Data:        ev.Data,
		})
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event bus closed")
}
