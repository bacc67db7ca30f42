// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router sets up HTTP routes using the Chi router.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil middleware uses the defaults.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(CorrelationIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered
	r.Use(RequestMetrics())
	r.Use(RequestLogging())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusNotFound, ErrCodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/healthz", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.With(router.chiMiddleware.RateLimitWebSocket()).Get("/ws", router.handler.WebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.Route("/sessions", func(r chi.Router) {
			r.With(router.chiMiddleware.RateLimit()).Get("/", router.handler.ListSessions)

			r.Route("/{recordingID}", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(router.chiMiddleware.RateLimit())
					r.Post("/", router.handler.OpenSession)
					r.Get("/", router.handler.GetSession)
					r.Delete("/", router.handler.CloseSession)
					r.Post("/retry", router.handler.RetrySession)
					r.Put("/upload", router.handler.UploadStatus)
				})

				// Progress callbacks arrive several times a second.
				r.With(router.chiMiddleware.RateLimitPlayer()).Post("/player", router.handler.PlayerEvent)
			})
		})

		r.Route("/feedback/{analysisID}/{feedbackID}", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitWrite())
			r.Post("/retry", router.handler.RetryFeedback)
			r.Put("/rating", router.handler.RateFeedback)
		})

		r.With(router.chiMiddleware.RateLimit()).Get("/history", router.handler.History)
	})

	return r
}
