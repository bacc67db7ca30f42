// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package config loads Coachsync configuration with Koanf v2.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file: $CONFIG_PATH, ./config.yaml, /etc/coachsync/config.yaml
//  3. Environment variables (NATS_URL, HTTP_PORT, LOG_LEVEL, ...)
//
// Example config.yaml:
//
//	realtime:
//	  mode: jetstream
//	  url: nats://127.0.0.1:4222
//	  retry_base_delay: 300ms
//	title:
//	  fallback_delay: 3s
//	history:
//	  path: /data/history
package config

import (
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Realtime RealtimeConfig `koanf:"realtime"`
	Title    TitleConfig    `koanf:"title"`
	Playback PlaybackConfig `koanf:"playback"`
	History  HistoryConfig  `koanf:"history"`
	Cache    CacheConfig    `koanf:"cache"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// Realtime modes.
const (
	RealtimeModeJetStream = "jetstream"
	RealtimeModeMemory    = "memory"
)

// RealtimeConfig configures the realtime channel provider and the
// subscription registry's retry/backfill timing.
type RealtimeConfig struct {
	// Mode selects the provider: "jetstream" or "memory" (loopback, demo only).
	Mode string `koanf:"mode" validate:"oneof=jetstream memory"`

	// URL of the NATS server. Ignored when EmbeddedServer is true.
	URL string `koanf:"url"`

	// EmbeddedServer starts an in-process nats-server with JetStream.
	EmbeddedServer bool `koanf:"embedded_server"`

	// StoreDir is the JetStream storage directory of the embedded server.
	// Empty means a temporary directory.
	StoreDir string `koanf:"store_dir"`

	// Stream is the JetStream stream carrying job, analysis and feedback rows.
	Stream string `koanf:"stream" validate:"required"`

	// SubjectPrefix is prepended to every subject (e.g. "coach.jobs.<id>").
	SubjectPrefix string `koanf:"subject_prefix" validate:"required"`

	RetryBaseDelay     time.Duration `koanf:"retry_base_delay" validate:"gt=0"`
	MaxRetries         int           `koanf:"max_retries" validate:"min=1,max=10"`
	BackfillDelay      time.Duration `koanf:"backfill_delay" validate:"gt=0"`
	InvalidationDelay  time.Duration `koanf:"invalidation_delay" validate:"gte=0"`
	HealthCheckTimeout time.Duration `koanf:"health_check_timeout" validate:"gt=0"`
	RequestTimeout     time.Duration `koanf:"request_timeout" validate:"gt=0"`

	// ErrorBurstWindow suppresses repeated channel error logs within the window.
	ErrorBurstWindow time.Duration `koanf:"error_burst_window" validate:"gte=0"`

	// Circuit breaker around point reads.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures" validate:"min=1"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// TitleConfig configures the title/content watcher.
type TitleConfig struct {
	// FallbackDelay is how long after completion to wait for a generated title.
	FallbackDelay time.Duration `koanf:"fallback_delay" validate:"gt=0"`

	// FallbackPrefix starts the synthesized title ("Analysis Jan 2, 2006").
	FallbackPrefix string `koanf:"fallback_prefix" validate:"required"`
}

// PlaybackConfig configures the playback/audio coordinator.
type PlaybackConfig struct {
	BubbleProximity   time.Duration `koanf:"bubble_proximity" validate:"gt=0"`
	BubbleMinDuration time.Duration `koanf:"bubble_min_duration" validate:"gt=0"`
	PauseHysteresis   time.Duration `koanf:"pause_hysteresis" validate:"gte=0"`
	ProgressThreshold time.Duration `koanf:"progress_threshold" validate:"gte=0"`
}

// HistoryConfig configures the persisted history store.
type HistoryConfig struct {
	// Path is the Badger directory.
	Path string `koanf:"path"`

	// InMemory keeps history in memory only (no Badger).
	InMemory bool `koanf:"in_memory"`

	// PageSize is the number of entries per history list page.
	PageSize int `koanf:"page_size" validate:"min=1,max=500"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl" validate:"gt=0"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config for the parts that are configurable.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, an optional file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
