// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/coachsync/internal/api"
	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/cachewriter"
	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/config"
	"github.com/tomtom215/coachsync/internal/events"
	"github.com/tomtom215/coachsync/internal/history"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/playback"
	"github.com/tomtom215/coachsync/internal/realtime"
	"github.com/tomtom215/coachsync/internal/session"
	"github.com/tomtom215/coachsync/internal/subscription"
	"github.com/tomtom215/coachsync/internal/supervisor"
	"github.com/tomtom215/coachsync/internal/supervisor/services"
	ws "github.com/tomtom215/coachsync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("realtime_mode", cfg.Realtime.Mode).
		Bool("embedded_nats", cfg.Realtime.EmbeddedServer).
		Str("history_path", cfg.History.Path).
		Bool("history_in_memory", cfg.History.InMemory).
		Msg("Starting Coachsync with supervisor tree")

	backend, err := initRealtime(cfg.Realtime)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize realtime backend")
	}

	historyStores, err := history.NewStoreFactory(cfg.History)
	if err != nil {
		closeRealtime(backend, cfg.Server.ShutdownTimeout)
		logging.Fatal().Err(err).Msg("Failed to open history store")
	}
	defer func() {
		if err := historyStores.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing history store")
		}
	}()

	clk := clock.New()
	queryCache := cache.NewQueryCache(cfg.Cache.TTL, clk)
	bus := events.NewBus(events.DefaultBusConfig())

	manager, err := session.NewManager(session.Options{
		Registry: subscription.Options{
			Provider: backend.provider,
			Reader: realtime.NewBreakerReader(backend.reader, realtime.BreakerConfig{
				Name:        "point-read",
				MaxFailures: cfg.Realtime.BreakerMaxFailures,
				Timeout:     cfg.Realtime.BreakerTimeout,
			}),
			Health: backend.health,
			Cache:  queryCache,
			Writer: cachewriter.New(historyStores.Store(), queryCache, clk, cfg.Title.FallbackPrefix),
			Clock:  clk,
			Config: subscription.ConfigFrom(cfg.Realtime, cfg.Title),
		},
		Commander: backend.commander,
		Publisher: bus,
		Playback:  playback.ConfigFrom(cfg.Playback),
	})
	if err != nil {
		closeRealtime(backend, cfg.Server.ShutdownTimeout)
		logging.Fatal().Err(err).Msg("Failed to create session manager")
	}

	handler := api.NewHandler(api.Deps{
		Sessions:    manager,
		History:     historyStores.Store(),
		Cache:       queryCache,
		Health:      backend.health,
		PageSize:    cfg.History.PageSize,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	wsHub := ws.NewHub(handler.HandleInbound)
	handler.SetHub(wsHub)

	if cfg.Server.RateLimitReqs == 0 {
		logging.Warn().Msg("Rate limiting is DISABLED (rate_limit_requests=0)")
	}
	router := api.NewRouter(handler, api.NewChiMiddlewareFromServer(
		cfg.Server.CORSOrigins,
		cfg.Server.RateLimitReqs,
		cfg.Server.RateLimitWindow,
	))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewComponentSlogLogger("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddCacheService(services.NewCacheExpiryService(queryCache, cfg.Cache.TTL))
	if backend.components != nil {
		tree.AddRealtimeService(services.NewRealtimeComponentsService(backend.components, cfg.Server.ShutdownTimeout))
	}
	tree.AddRealtimeService(services.NewWebSocketHubService(wsHub))
	tree.AddRealtimeService(services.NewBridgeService(ws.NewBridge(wsHub, bus)))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Sessions tear down their channels before the connection drains.
	manager.Shutdown()
	if err := bus.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing event bus")
	}
	closeRealtime(backend, cfg.Server.ShutdownTimeout)

	logging.Info().Msg("Coachsync stopped")
}

func closeRealtime(b *realtimeBackend, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		logging.Error().Err(err).Msg("Error closing realtime backend")
	}
}
