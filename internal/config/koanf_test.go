// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points CONFIG_PATH at a missing file and runs from an empty
// directory so no stray config.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Realtime.RetryBaseDelay != 300*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want 300ms", cfg.Realtime.RetryBaseDelay)
	}
	if cfg.Realtime.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Realtime.MaxRetries)
	}
	if cfg.Realtime.BackfillDelay != 500*time.Millisecond {
		t.Errorf("BackfillDelay = %v, want 500ms", cfg.Realtime.BackfillDelay)
	}
	if cfg.Title.FallbackDelay != 3*time.Second {
		t.Errorf("FallbackDelay = %v, want 3s", cfg.Title.FallbackDelay)
	}
	if cfg.Playback.PauseHysteresis != 2500*time.Millisecond {
		t.Errorf("PauseHysteresis = %v, want 2.5s", cfg.Playback.PauseHysteresis)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("NATS_EMBEDDED", "false")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("REALTIME_BACKFILL_DELAY", "750ms")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Realtime.EmbeddedServer {
		t.Error("EmbeddedServer should be false")
	}
	if cfg.Realtime.URL != "nats://broker:4222" {
		t.Errorf("URL = %q", cfg.Realtime.URL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Realtime.BackfillDelay != 750*time.Millisecond {
		t.Errorf("BackfillDelay = %v, want 750ms", cfg.Realtime.BackfillDelay)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadWithKoanf_FileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "coachsync.yaml")
	yaml := []byte("title:\n  fallback_delay: 5s\nhistory:\n  in_memory: true\n  page_size: 50\n")
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HISTORY_PAGE_SIZE", "10")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Title.FallbackDelay != 5*time.Second {
		t.Errorf("FallbackDelay = %v, want 5s from file", cfg.Title.FallbackDelay)
	}
	if !cfg.History.InMemory {
		t.Error("InMemory should come from file")
	}
	if cfg.History.PageSize != 10 {
		t.Errorf("PageSize = %d, env should win over file", cfg.History.PageSize)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad mode", func(c *Config) { c.Realtime.Mode = "kafka" }, true},
		{"external nats without url", func(c *Config) {
			c.Realtime.EmbeddedServer = false
			c.Realtime.URL = ""
		}, true},
		{"external nats bad scheme", func(c *Config) {
			c.Realtime.EmbeddedServer = false
			c.Realtime.URL = "http://x"
		}, true},
		{"memory mode ignores url", func(c *Config) {
			c.Realtime.Mode = RealtimeModeMemory
			c.Realtime.EmbeddedServer = false
			c.Realtime.URL = ""
		}, false},
		{"zero retries", func(c *Config) { c.Realtime.MaxRetries = 0 }, true},
		{"persistent history without path", func(c *Config) { c.History.Path = "" }, true},
		{"in-memory history without path", func(c *Config) {
			c.History.Path = ""
			c.History.InMemory = true
		}, false},
		{"min duration below proximity", func(c *Config) { c.Playback.BubbleMinDuration = 100 * time.Millisecond }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"NATS_URL":             "realtime.url",
		"HTTP_PORT":            "server.port",
		"TITLE_FALLBACK_DELAY": "title.fallback_delay",
		"log_level":            "logging.level",
		"PATH":                 "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
