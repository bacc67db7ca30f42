// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package events is the in-process event bus between playback sessions and
// their consumers (the WebSocket bridge). It runs on Watermill's gochannel
// Pub/Sub, so the transport can later move to a broker without touching
// publishers or subscribers.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/coachsync/internal/logging"
)

// TopicSessions carries every session event.
const TopicSessions = "coachsync.sessions"

// Event types published by sessions.
const (
	TypeSnapshot           = "session_snapshot"
	TypePlayback           = "playback"
	TypePlayerCommand      = "player_command"
	TypeSubscriptionFailed = "subscription_failed"
	TypeSessionClosed      = "session_closed"
)

// Metadata keys set on every message.
const (
	metaType        = "event_type"
	metaRecordingID = "recording_id"
)

// Event is one session event. Data is the JSON payload sent to clients.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	RecordingID int64           `json:"recording_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into a new event.
func NewEvent(eventType string, recordingID int64, data interface{}) (Event, error) {
	ev := Event{
		ID:          watermill.NewUUID(),
		Type:        eventType,
		RecordingID: recordingID,
		Timestamp:   time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// BusConfig configures the bus.
type BusConfig struct {
	// OutputBuffer is the per-subscriber channel buffer.
	OutputBuffer int64
}

// DefaultBusConfig returns the production defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{OutputBuffer: 256}
}

// Bus publishes and fans out session events.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewBus creates a bus logging through the application logger.
func NewBus(cfg BusConfig) *Bus {
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = DefaultBusConfig().OutputBuffer
	}
	logger := watermill.NewSlogLogger(logging.NewComponentSlogLogger("events"))
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.OutputBuffer,
		}, logger),
		logger: logger,
	}
}

// Publish sends ev on topic.
func (b *Bus) Publish(topic string, ev Event) error {
	payload, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(ev.ID, payload)
	msg.Metadata.Set(metaType, ev.Type)
	msg.Metadata.Set(metaRecordingID, fmt.Sprintf("%d", ev.RecordingID))
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns the events published on topic until ctx ends. The
// returned channel is closed when ctx is cancelled or the bus is closed.
// Undecodable messages are logged and dropped.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Error("Dropping undecodable event", err, watermill.LogFields{
					"message_uuid": msg.UUID,
					"topic":        topic,
				})
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close stops the bus and closes every subscriber channel.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
