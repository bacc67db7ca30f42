// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the realtime backend check.
const healthCheckTimeout = 3 * time.Second

// HealthStatus is the body of GET /healthz.
type HealthStatus struct {
	Status            string  `json:"status"`
	RealtimeConnected bool    `json:"realtime_connected"`
	RealtimeError     string  `json:"realtime_error,omitempty"`
	OpenSessions      int     `json:"open_sessions"`
	WebSocketClients  int     `json:"websocket_clients"`
	Uptime            float64 `json:"uptime_seconds"`
}

func (h *Handler) checkRealtime(ctx context.Context) error {
	if h.health == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return h.health.HealthCheck(ctx)
}

// Health reports the realtime backend status and session counts. The
// service stays up while the backend is down, so a failed check reports
// degraded with 200.
//
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:            "healthy",
		RealtimeConnected: true,
		OpenSessions:      len(h.sessions.RecordingIDs()),
		Uptime:            time.Since(h.startTime).Seconds(),
	}
	if err := h.checkRealtime(r.Context()); err != nil {
		status.Status = "degraded"
		status.RealtimeConnected = false
		status.RealtimeError = err.Error()
	}
	if h.wsHub != nil {
		status.WebSocketClients = h.wsHub.GetClientCount()
	}
	respondJSON(w, r, http.StatusOK, status)
}

// HealthLive returns 200 while the process is alive.
//
// GET /healthz/live
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady returns 200 only when the realtime backend answers.
//
// GET /healthz/ready
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.checkRealtime(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Realtime backend unavailable", nil)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"ready": true})
}
