// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/coachsync/internal/config"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/realtime"
)

// realtimeBackend holds the provider side of the configured realtime mode.
type realtimeBackend struct {
	provider  realtime.Provider
	reader    realtime.PointReader
	commander realtime.Commander
	health    realtime.HealthChecker

	// components is nil in memory mode.
	components *realtimeComponents

	nc       *nats.Conn
	embedded *realtime.EmbeddedServer
}

// initRealtime builds the backend for cfg.Mode. JetStream mode dials
// cfg.URL, or starts an embedded server when cfg.EmbeddedServer is set.
func initRealtime(cfg config.RealtimeConfig) (*realtimeBackend, error) {
	subjects := realtime.Subjects{Prefix: cfg.SubjectPrefix}

	if cfg.Mode == config.RealtimeModeMemory {
		p := realtime.NewMemoryProvider(subjects)
		p.OnCommand(acknowledgeCommand)
		logging.Warn().Msg("Realtime memory mode: rows only come from this process")
		return &realtimeBackend{provider: p, reader: p, commander: p, health: p}, nil
	}

	b := &realtimeBackend{}
	url := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := realtime.StartEmbedded(cfg.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		b.embedded = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	nc, js, err := realtime.Connect(url)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect NATS: %w", err), b.Close(context.Background()))
	}
	b.nc = nc

	provider, err := realtime.NewJetStreamProvider(nc, js, realtime.JetStreamConfig{
		Stream:   cfg.Stream,
		Subjects: subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.Join(err, b.Close(context.Background()))
	}

	b.provider = provider
	b.reader = provider
	b.health = provider
	b.commander = realtime.NewCommandPublisher(nc, subjects, cfg.RequestTimeout)
	b.components = &realtimeComponents{
		provider: provider,
		nc:       nc,
		subjects: subjects,
		// Without an external backend nothing else answers commands.
		respond: cfg.EmbeddedServer,
	}
	return b, nil
}

// Close drains the connection and stops the embedded server. Sessions
// must be shut down first.
func (b *realtimeBackend) Close(ctx context.Context) error {
	var errs []error
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("drain NATS: %w", err))
		}
	}
	if b.embedded != nil {
		if err := b.embedded.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop embedded NATS: %w", err))
		}
	}
	return errors.Join(errs...)
}

// realtimeComponents is the supervised part of the JetStream backend.
type realtimeComponents struct {
	provider *realtime.JetStreamProvider
	nc       *nats.Conn
	subjects realtime.Subjects
	respond  bool

	running atomic.Bool
	mu      sync.Mutex
	subs    []*nats.Subscription
}

// Start makes sure the stream exists and, in embedded mode, answers
// feedback commands.
func (c *realtimeComponents) Start(ctx context.Context) error {
	if _, err := c.provider.EnsureStream(ctx); err != nil {
		return err
	}
	if c.respond {
		subs, err := realtime.ServeCommands(c.nc, c.subjects, acknowledgeCommand)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.subs = subs
		c.mu.Unlock()
	}
	c.running.Store(true)
	logging.Info().Bool("command_responder", c.respond).Msg("Realtime components started")
	return nil
}

// Shutdown stops answering commands. The connection stays open for
// session teardown.
func (c *realtimeComponents) Shutdown(context.Context) {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			logging.Debug().Err(err).Str("subject", sub.Subject).Msg("Command responder unsubscribe failed")
		}
	}
	c.running.Store(false)
}

func (c *realtimeComponents) IsRunning() bool {
	return c.running.Load()
}

// acknowledgeCommand stands in for the analysis backend in demo setups.
func acknowledgeCommand(cmd realtime.Command) error {
	logging.Info().
		Str("kind", cmd.Kind).
		Str("analysis_id", cmd.AnalysisID).
		Str("feedback_id", cmd.FeedbackID).
		Msg("Feedback command acknowledged")
	return nil
}
