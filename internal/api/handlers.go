// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/history"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/realtime"
	"github.com/tomtom215/coachsync/internal/session"
	ws "github.com/tomtom215/coachsync/internal/websocket"
)

// SessionManager is the session surface used by the handlers.
// *session.Manager implements it.
type SessionManager interface {
	Open(ctx context.Context, recordingID int64, opts session.OpenOptions) (*session.Session, error)
	Get(recordingID int64) (*session.Session, error)
	ByAnalysis(analysisID string) (*session.Session, error)
	Close(recordingID int64) error
	Retry(ctx context.Context, recordingID int64) error
	RecordingIDs() []int64
}

// Deps are the handler dependencies.
type Deps struct {
	Sessions SessionManager
	History  history.Store
	Cache    cache.Cacher

	// Health is checked by the readiness endpoint; nil reports ready.
	Health realtime.HealthChecker

	// PageSize is the history page size.
	PageSize int

	// CORSOrigins also gates websocket upgrades.
	CORSOrigins []string
}

// Handler contains dependencies for API handlers
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, websocket upgrade (this file)
//   - handlers_helpers.go: envelope and parameter helpers
//   - handlers_health.go: health endpoints
//   - handlers_sessions.go: session lifecycle and player callbacks
//   - handlers_feedback.go: feedback retry and rating commands
//   - handlers_history.go: cached history pages
type Handler struct {
	sessions    SessionManager
	history     history.Store
	cache       cache.Cacher
	health      realtime.HealthChecker
	pageSize    int
	corsOrigins []string
	wsHub       *ws.Hub
	startTime   time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Handler{
		sessions:    deps.Sessions,
		history:     deps.History,
		cache:       deps.Cache,
		health:      deps.Health,
		pageSize:    pageSize,
		corsOrigins: deps.CORSOrigins,
		startTime:   time.Now(),
	}
}

// SetHub attaches the websocket hub. The hub is built with
// HandleInbound, so it can only be attached after the handler exists.
//
// Thread Safety: call once during startup, before serving.
func (h *Handler) SetHub(hub *ws.Hub) {
	h.wsHub = hub
}

// HandleInbound routes websocket player events to their session. It is the
// hub's InboundHandler.
func (h *Handler) HandleInbound(c *ws.Client, msg ws.Inbound) error {
	if msg.Type != ws.MessageTypePlayerEvent {
		return fmt.Errorf("unsupported message %s", msg.Type)
	}
	recordingID := msg.RecordingID
	if recordingID == 0 {
		recordingID = c.RecordingID()
	}
	s, err := h.sessions.Get(recordingID)
	if err != nil {
		return err
	}
	var ev session.PlayerEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return fmt.Errorf("decode player event: %w", err)
	}
	return s.HandlePlayerEvent(ev)
}

// WebSocket upgrades the connection and registers a client following the
// recording_id query parameter (all sessions when absent).
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket hub not available", nil)
		return
	}

	var recordingID int64
	if raw := r.URL.Query().Get("recording_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "recording_id must be a non-negative integer", nil)
			return
		}
		recordingID = id
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(h.wsHub, conn, recordingID)
	h.wsHub.Register <- client
	client.Start()
}

// getUpgrader creates a WebSocket upgrader with origin checking and a
// handshake timeout.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin validates WebSocket connection origins. Browsers
// always send Origin, so a missing header is rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}

	for _, allowedOrigin := range h.corsOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}
