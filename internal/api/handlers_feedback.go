// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/coachsync/internal/feedback"
	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/session"
	"github.com/tomtom215/coachsync/internal/validation"
)

// feedbackRef addresses one feedback item.
type feedbackRef struct {
	AnalysisID string `validate:"required,uuid"`
	FeedbackID string `validate:"required,max=128"`
}

// RatingRequest sets or clears the user's rating of an item.
type RatingRequest struct {
	Rating string `json:"rating" validate:"rating"`
}

// feedbackTarget resolves the aggregator following the path's analysis.
// It writes the error response itself when it fails.
func (h *Handler) feedbackTarget(w http.ResponseWriter, r *http.Request) (*feedback.Aggregator, string, bool) {
	ref := feedbackRef{
		AnalysisID: chi.URLParam(r, "analysisID"),
		FeedbackID: chi.URLParam(r, "feedbackID"),
	}
	if verr := validation.ValidateStruct(&ref); verr != nil {
		respondValidationError(w, r, verr)
		return nil, "", false
	}

	s, err := h.sessions.ByAnalysis(ref.AnalysisID)
	if err != nil {
		respondDomainError(w, r, err)
		return nil, "", false
	}
	agg := s.Aggregator()
	if agg == nil || agg.AnalysisID() != ref.AnalysisID {
		respondDomainError(w, r, fmt.Errorf("%w: analysis %s", session.ErrNotFound, ref.AnalysisID))
		return nil, "", false
	}
	return agg, ref.FeedbackID, true
}

// RetryFeedback requests regeneration of a failed item's narration.
//
// POST /api/v1/feedback/{analysisID}/{feedbackID}/retry
func (h *Handler) RetryFeedback(w http.ResponseWriter, r *http.Request) {
	agg, id, ok := h.feedbackTarget(w, r)
	if !ok {
		return
	}
	if err := agg.RetryFailedFeedback(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusAccepted, agg.Snapshot())
}

// RateFeedback records the user's rating of an item.
//
// PUT /api/v1/feedback/{analysisID}/{feedbackID}/rating
//
//	{"rating": "up"}
func (h *Handler) RateFeedback(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agg, id, ok := h.feedbackTarget(w, r)
	if !ok {
		return
	}
	if err := agg.SetRating(r.Context(), id, models.Rating(req.Rating)); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, agg.Snapshot())
}
