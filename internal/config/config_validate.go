// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package config

import (
	"fmt"
	"strings"

	"github.com/tomtom215/coachsync/internal/validation"
)

// Validate checks field constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if err := c.validateRealtime(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	return c.validatePlayback()
}

func (c *Config) validateRealtime() error {
	if c.Realtime.Mode != RealtimeModeJetStream || c.Realtime.EmbeddedServer {
		return nil
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("NATS_URL is required when the embedded server is disabled")
	}
	if !strings.HasPrefix(c.Realtime.URL, "nats://") && !strings.HasPrefix(c.Realtime.URL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.Realtime.URL)
	}
	return nil
}

func (c *Config) validateHistory() error {
	if !c.History.InMemory && c.History.Path == "" {
		return fmt.Errorf("HISTORY_PATH is required unless HISTORY_IN_MEMORY is set")
	}
	return nil
}

func (c *Config) validatePlayback() error {
	if c.Playback.BubbleMinDuration < c.Playback.BubbleProximity {
		return fmt.Errorf("playback.bubble_min_duration (%v) must not be shorter than bubble_proximity (%v)",
			c.Playback.BubbleMinDuration, c.Playback.BubbleProximity)
	}
	return nil
}

// ShouldWarnAboutCORS reports whether CORS allows any origin.
func (c *Config) ShouldWarnAboutCORS() bool {
	for _, o := range c.Server.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}
