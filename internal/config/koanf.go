// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/coachsync/config.yaml",
	"/etc/coachsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			Mode:               RealtimeModeJetStream,
			URL:                "nats://127.0.0.1:4222",
			EmbeddedServer:     true,
			StoreDir:           "",
			Stream:             "COACHING",
			SubjectPrefix:      "coach",
			RetryBaseDelay:     300 * time.Millisecond,
			MaxRetries:         3,
			BackfillDelay:      500 * time.Millisecond,
			InvalidationDelay:  time.Second,
			HealthCheckTimeout: 2 * time.Second,
			RequestTimeout:     5 * time.Second,
			ErrorBurstWindow:   500 * time.Millisecond,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Title: TitleConfig{
			FallbackDelay:  3 * time.Second,
			FallbackPrefix: "Analysis",
		},
		Playback: PlaybackConfig{
			BubbleProximity:   500 * time.Millisecond,
			BubbleMinDuration: 3 * time.Second,
			PauseHysteresis:   2500 * time.Millisecond,
			ProgressThreshold: 100 * time.Millisecond,
		},
		History: HistoryConfig{
			Path:     "/data/history",
			InMemory: false,
			PageSize: 20,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8787,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration from defaults, the optional config file
// and environment variables (ENV > file > defaults), then validates it.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"realtime_mode":                 "realtime.mode",
	"nats_url":                      "realtime.url",
	"nats_embedded":                 "realtime.embedded_server",
	"nats_store_dir":                "realtime.store_dir",
	"nats_stream":                   "realtime.stream",
	"nats_subject_prefix":           "realtime.subject_prefix",
	"realtime_retry_base_delay":     "realtime.retry_base_delay",
	"realtime_max_retries":          "realtime.max_retries",
	"realtime_backfill_delay":       "realtime.backfill_delay",
	"realtime_invalidation_delay":   "realtime.invalidation_delay",
	"realtime_health_check_timeout": "realtime.health_check_timeout",
	"realtime_request_timeout":      "realtime.request_timeout",
	"realtime_error_burst_window":   "realtime.error_burst_window",
	"breaker_max_failures":          "realtime.breaker_max_failures",
	"breaker_timeout":               "realtime.breaker_timeout",

	"title_fallback_delay":  "title.fallback_delay",
	"title_fallback_prefix": "title.fallback_prefix",

	"bubble_proximity":    "playback.bubble_proximity",
	"bubble_min_duration": "playback.bubble_min_duration",
	"pause_hysteresis":    "playback.pause_hysteresis",
	"progress_threshold":  "playback.progress_threshold",

	"history_path":      "history.path",
	"history_in_memory": "history.in_memory",
	"history_page_size": "history.page_size",

	"cache_ttl": "cache.ttl",

	"http_host":           "server.host",
	"http_port":           "server.port",
	"shutdown_timeout":    "server.shutdown_timeout",
	"cors_origins":        "server.cors_origins",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path,
// e.g. NATS_URL -> realtime.url, HTTP_PORT -> server.port.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
