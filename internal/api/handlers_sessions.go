// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package api

import (
	"net/http"

	"github.com/tomtom215/coachsync/internal/session"
)

// UploadStatusRequest reports the uploader's view of a recording.
type UploadStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=uploading ready failed"`
	Error  string `json:"error" validate:"max=500"`
}

// OpenSession opens (or returns) the session of a recording.
//
// POST /api/v1/sessions/{recordingID}
//
//	{"initial_status": "uploading", "job_id": 7}
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	recordingID, ok := recordingIDParam(w, r)
	if !ok {
		return
	}
	var opts session.OpenOptions
	if !decodeBody(w, r, &opts) {
		return
	}

	s, err := h.sessions.Open(r.Context(), recordingID, opts)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, s.Snapshot())
}

// GetSession returns the session snapshot.
//
// GET /api/v1/sessions/{recordingID}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	recordingID, ok := recordingIDParam(w, r)
	if !ok {
		return
	}
	s, err := h.sessions.Get(recordingID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, s.Snapshot())
}

// ListSessions returns the recording ids with an open session.
//
// GET /api/v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids := h.sessions.RecordingIDs()
	if ids == nil {
		ids = []int64{}
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"recording_ids": ids})
}

// CloseSession tears a session down.
//
// DELETE /api/v1/sessions/{recordingID}
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	recordingID, ok := recordingIDParam(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Close(recordingID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"recording_id": recordingID, "closed": true})
}

// RetrySession re-subscribes a session's channels and clears an error
// left by exhausted retries.
//
// POST /api/v1/sessions/{recordingID}/retry
func (h *Handler) RetrySession(w http.ResponseWriter, r *http.Request) {
	recordingID, ok := recordingIDParam(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Retry(r.Context(), recordingID); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s, err := h.sessions.Get(recordingID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, s.Snapshot())
}

// UploadStatus records the upload status of a session's recording.
//
// PUT /api/v1/sessions/{recordingID}/upload
func (h *Handler) UploadStatus(w http.ResponseWriter, r *http.Request) {
	recordingID, ok := recordingIDParam(w, r)
	if !ok {
		return
	}
	var req UploadStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.sessions.Get(recordingID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := s.SetUploadStatus(req.Status, req.Error); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	respondJSON(w, r, http.StatusOK, s.Snapshot())
}

// PlayerEvent applies a player callback and returns the playback state.
//
// POST /api/v1/sessions/{recordingID}/player
//
//	{"type": "progress", "position_ms": 12500}
func (h *Handler) PlayerEvent(w http.ResponseWriter, r *http.Request) {
	recordingID, ok := recordingIDParam(w, r)
	if !ok {
		return
	}
	var ev session.PlayerEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	s, err := h.sessions.Get(recordingID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if err := s.HandlePlayerEvent(ev); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, s.Coordinator().State())
}
