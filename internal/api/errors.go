// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/coachsync/internal/feedback"
	"github.com/tomtom215/coachsync/internal/playback"
	"github.com/tomtom215/coachsync/internal/session"
	"github.com/tomtom215/coachsync/internal/subscription"
	"github.com/tomtom215/coachsync/internal/validation"
)

// Error codes for API responses
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeUpstreamFailed     = "UPSTREAM_FAILED"
)

// errorStatus maps domain errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, feedback.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, session.ErrClosed), errors.Is(err, subscription.ErrClosed):
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable
	case errors.Is(err, subscription.ErrInvalidKey):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, feedback.ErrNotFailed),
		errors.Is(err, playback.ErrSeekPending),
		errors.Is(err, playback.ErrNotReady),
		errors.Is(err, playback.ErrInvalidTransition):
		return http.StatusConflict, ErrCodeConflict
	default:
		return http.StatusBadGateway, ErrCodeUpstreamFailed
	}
}

// respondDomainError sends err with the status errorStatus assigns. Only
// upstream failures are logged as errors.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	var logged error
	if status >= http.StatusInternalServerError {
		logged = err
	}
	respondError(w, r, status, code, err.Error(), logged)
}
