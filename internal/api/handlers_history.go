// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package api

import (
	"net/http"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/models"
)

// maxHistoryPage bounds the page query parameter.
const maxHistoryPage = 10000

// History returns one page of the analysis history, newest first.
//
// Pages are read through the query cache. The cache writers patch cached
// pages in place as jobs and titles change, and drop the pages an added
// entry shifts.
//
// GET /api/v1/history?page=0
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page := getIntParam(r, "page", 0)
	if page < 0 || page > maxHistoryPage {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "page out of range", nil)
		return
	}

	key := cache.HistoryPageKey(page)
	if h.cache != nil {
		if cached, ok := cache.Typed[*models.HistoryPage](h.cache, key); ok {
			respondCached(w, r, cached, true)
			return
		}
	}

	entries, total, err := h.history.List(r.Context(), page*h.pageSize, h.pageSize)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list history", err)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	result := &models.HistoryPage{
		Entries: entries,
		Pagination: models.PaginationInfo{
			Page:     page,
			PageSize: h.pageSize,
			Total:    total,
			HasMore:  (page+1)*h.pageSize < total,
		},
	}
	if h.cache != nil {
		h.cache.Set(key, result)
	}
	respondCached(w, r, result, false)
}
