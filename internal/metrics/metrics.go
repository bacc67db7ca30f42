// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Subscription registry
	SubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coachsync_subscriptions",
			Help: "Current subscription entries by status",
		},
		[]string{"status"}, // "pending", "active", "failed"
	)

	SubscriptionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_subscription_retries_total",
			Help: "Channel re-establishment attempts scheduled after an error",
		},
		[]string{"kind"}, // "job", "recording"
	)

	SubscriptionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_subscription_failures_total",
			Help: "Subscriptions that exhausted their retries",
		},
		[]string{"kind"},
	)

	ChannelEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_channel_events_total",
			Help: "Realtime channel status events received",
		},
		[]string{"channel", "status"},
	)

	BackfillChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_backfill_checks_total",
			Help: "Point-read backfill checks by result",
		},
		[]string{"result"}, // "found", "empty", "error", "stale"
	)

	TitleFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coachsync_title_fallbacks_total",
			Help: "History entries finalized with a synthesized title",
		},
	)

	// Playback coordination
	BubbleShows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_bubble_shows_total",
			Help: "Feedback bubbles shown",
		},
		[]string{"trigger"}, // "progress", "seek"
	)

	NarrationPlays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coachsync_narration_plays_total",
			Help: "Narration clips started",
		},
	)

	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_playback_phase_transitions_total",
			Help: "Playback phase transitions",
		},
		[]string{"to"},
	)

	// Feedback
	FeedbackRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_feedback_retries_total",
			Help: "Feedback regeneration requests",
		},
		[]string{"result"}, // "sent", "error"
	)

	// Point-read circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coachsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Caches
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_cache_hits_total",
			Help: "Cache hits",
		},
		[]string{"cache"}, // "query", "history"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_cache_misses_total",
			Help: "Cache misses",
		},
		[]string{"cache"},
	)

	HistoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_history_writes_total",
			Help: "History store writes",
		},
		[]string{"op"}, // "add", "update", "skip"
	)

	// Transport
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachsync_websocket_connections",
			Help: "Connected WebSocket clients",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachsync_websocket_messages_sent_total",
			Help: "WebSocket messages sent",
		},
		[]string{"type"},
	)

	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachsync_sessions_open",
			Help: "Open playback sessions",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coachsync_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordAPIRequest observes one HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordCacheLookup counts a hit or miss for the named cache.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
		return
	}
	CacheMisses.WithLabelValues(cache).Inc()
}
