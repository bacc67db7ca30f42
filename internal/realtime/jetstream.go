// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
)

// JetStreamConfig configures the JetStream provider.
type JetStreamConfig struct {
	Stream   string
	Subjects Subjects

	// MaxMsgsPerSubject bounds per-entity history kept in the stream.
	MaxMsgsPerSubject int64

	// MaxAge bounds how long rows are kept. Zero keeps them forever.
	MaxAge time.Duration

	// Storage selects file or memory storage.
	Storage jetstream.StorageType
}

// JetStreamProvider opens channels as ordered consumers that start at the
// last row of each subject, so a new subscriber first receives current
// state and then live changes.
type JetStreamProvider struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    JetStreamConfig
	logger zerolog.Logger

	mu     sync.Mutex
	stream jetstream.Stream
}

var (
	_ Provider      = (*JetStreamProvider)(nil)
	_ HealthChecker = (*JetStreamProvider)(nil)
	_ PointReader   = (*JetStreamProvider)(nil)
)

// NewJetStreamProvider creates a provider on an open connection.
func NewJetStreamProvider(nc *nats.Conn, js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamProvider, error) {
	if nc == nil || js == nil {
		return nil, fmt.Errorf("NATS connection and JetStream context required")
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream name required")
	}
	if cfg.MaxMsgsPerSubject == 0 {
		cfg.MaxMsgsPerSubject = 16
	}
	return &JetStreamProvider{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		logger: logging.WithComponent("realtime"),
	}, nil
}

// EnsureStream creates the stream or updates its configuration. It is
// idempotent.
func (p *JetStreamProvider) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:              p.cfg.Stream,
		Subjects:          p.cfg.Subjects.StreamSubjects(),
		Retention:         jetstream.LimitsPolicy,
		MaxMsgsPerSubject: p.cfg.MaxMsgsPerSubject,
		MaxAge:            p.cfg.MaxAge,
		Storage:           p.cfg.Storage,
		Discard:           jetstream.DiscardOld,
		AllowDirect:       true,
	}

	var (
		stream jetstream.Stream
		err    error
	)
	_, err = p.js.Stream(ctx, p.cfg.Stream)
	switch {
	case err == nil:
		stream, err = p.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", p.cfg.Stream, err)
		}
	case errors.Is(err, jetstream.ErrStreamNotFound):
		stream, err = p.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", p.cfg.Stream, err)
		}
	default:
		return nil, fmt.Errorf("check stream %s: %w", p.cfg.Stream, err)
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	return stream, nil
}

func (p *JetStreamProvider) getStream(ctx context.Context) (jetstream.Stream, error) {
	p.mu.Lock()
	s := p.stream
	p.mu.Unlock()
	if s != nil {
		return s, nil
	}
	s, err := p.js.Stream(ctx, p.cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("get stream %s: %w", p.cfg.Stream, err)
	}
	p.mu.Lock()
	p.stream = s
	p.mu.Unlock()
	return s, nil
}

// SubscribeToJob opens the channel of one job.
func (p *JetStreamProvider) SubscribeToJob(ctx context.Context, jobID int64, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, "job", p.cfg.Subjects.Job(jobID), onChange, h)
}

// SubscribeToRecording opens the job feed of a recording.
func (p *JetStreamProvider) SubscribeToRecording(ctx context.Context, recordingID int64, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, "recording", p.cfg.Subjects.RecordingJobs(recordingID), onChange, h)
}

// SubscribeToAnalysis opens the title/content channel of a job.
func (p *JetStreamProvider) SubscribeToAnalysis(ctx context.Context, jobID int64, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, "analysis", p.cfg.Subjects.Analysis(jobID), onChange, h)
}

// SubscribeToFeedback opens the item feed of an analysis.
func (p *JetStreamProvider) SubscribeToFeedback(ctx context.Context, analysisID string, onChange ChangeFunc, h Handlers) (Teardown, error) {
	return p.subscribe(ctx, "feedback", p.cfg.Subjects.FeedbackAll(analysisID), onChange, h)
}

func (p *JetStreamProvider) subscribe(ctx context.Context, channel, subject string, onChange ChangeFunc, h Handlers) (Teardown, error) {
	stream, err := p.getStream(ctx)
	if err != nil {
		return nil, err
	}

	// Backfill is empty when the stream holds nothing under the filter.
	info, err := stream.Info(ctx, jetstream.WithSubjectFilter(subject))
	if err != nil {
		return nil, fmt.Errorf("stream info for %s: %w", subject, err)
	}
	empty := len(info.State.Subjects) == 0

	cons, err := p.js.OrderedConsumer(ctx, p.cfg.Stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ordered consumer for %s: %w", subject, err)
	}

	log := p.logger.With().Str("channel", channel).Str("subject", subject).Logger()
	cc, err := cons.Consume(
		func(msg jetstream.Msg) {
			onChange(msg.Data())
		},
		jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
			status := StatusChannelError
			if errors.Is(err, jetstream.ErrNoHeartbeat) {
				status = StatusChannelTimeout
			}
			metrics.ChannelEvents.WithLabelValues(channel, string(status)).Inc()
			log.Debug().Err(err).Str("status", string(status)).Msg("Consumer error")
			h.fail(status, err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", subject, err)
	}

	metrics.ChannelEvents.WithLabelValues(channel, string(StatusSubscribed)).Inc()
	h.status(StatusSubscribed)
	if empty {
		metrics.ChannelEvents.WithLabelValues(channel, string(StatusBackfillEmpty)).Inc()
		h.status(StatusBackfillEmpty)
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			cc.Stop()
			h.status(StatusChannelClosed)
		})
		return nil
	}, nil
}

// LatestJobForRecording reads the last job row published for a recording.
func (p *JetStreamProvider) LatestJobForRecording(ctx context.Context, recordingID int64) (*models.AnalysisJob, error) {
	return p.lastJob(ctx, p.cfg.Subjects.RecordingJobs(recordingID))
}

// LatestJobForID reads the last row of a job.
func (p *JetStreamProvider) LatestJobForID(ctx context.Context, jobID int64) (*models.AnalysisJob, error) {
	return p.lastJob(ctx, p.cfg.Subjects.Job(jobID))
}

func (p *JetStreamProvider) lastJob(ctx context.Context, subject string) (*models.AnalysisJob, error) {
	stream, err := p.getStream(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message for %s: %w", subject, err)
	}
	return models.DecodeJob(msg.Data)
}

// HealthCheck verifies the connection and the JetStream account.
func (p *JetStreamProvider) HealthCheck(ctx context.Context) error {
	if status := p.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("NATS connection %s", status)
	}
	if _, err := p.js.AccountInfo(ctx); err != nil {
		return fmt.Errorf("JetStream account info: %w", err)
	}
	return nil
}
