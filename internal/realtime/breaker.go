// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package realtime

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
)

// BreakerConfig configures BreakerReader.
type BreakerConfig struct {
	Name string

	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before a half-open trial request.
	Timeout time.Duration
}

// BreakerReader guards a PointReader with a circuit breaker so a failing
// backend is not hammered by every backfill timer. A "no job" answer counts
// as success.
type BreakerReader struct {
	reader PointReader
	cb     *gobreaker.CircuitBreaker[*models.AnalysisJob]
	name   string
}

var _ PointReader = (*BreakerReader)(nil)

// NewBreakerReader wraps reader.
func NewBreakerReader(reader PointReader, cfg BreakerConfig) *BreakerReader {
	if cfg.Name == "" {
		cfg.Name = "point-read"
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*models.AnalysisJob](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about backend health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &BreakerReader{reader: reader, cb: cb, name: cfg.Name}
}

// LatestJobForRecording reads through the breaker.
func (b *BreakerReader) LatestJobForRecording(ctx context.Context, recordingID int64) (*models.AnalysisJob, error) {
	return b.execute(func() (*models.AnalysisJob, error) {
		return b.reader.LatestJobForRecording(ctx, recordingID)
	})
}

// LatestJobForID reads through the breaker.
func (b *BreakerReader) LatestJobForID(ctx context.Context, jobID int64) (*models.AnalysisJob, error) {
	return b.execute(func() (*models.AnalysisJob, error) {
		return b.reader.LatestJobForID(ctx, jobID)
	})
}

// State returns the breaker state.
func (b *BreakerReader) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerReader) execute(fn func() (*models.AnalysisJob, error)) (*models.AnalysisJob, error) {
	job, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}
	return job, err
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
