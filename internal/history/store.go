// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package history persists the user's analysis history cards.
//
// Entries are keyed by job id. AddToCache is a prepend guarded by a
// membership check, so replayed events never create duplicate cards, and
// UpdateCache upgrades an existing card in place.
package history

import (
	"context"
	"errors"

	"github.com/tomtom215/coachsync/internal/models"
)

// ErrNotFound is returned when no entry exists for an id.
var ErrNotFound = errors.New("history entry not found")

// Store is the persisted history surface.
type Store interface {
	// GetCached returns the entry for id or ErrNotFound.
	GetCached(ctx context.Context, id int64) (*models.HistoryEntry, error)

	// AddToCache prepends entry unless an entry with the same id exists.
	// It reports whether the entry was added.
	AddToCache(ctx context.Context, entry *models.HistoryEntry) (bool, error)

	// UpdateCache applies patch to the existing entry and returns the result.
	UpdateCache(ctx context.Context, id int64, patch *models.HistoryPatch) (*models.HistoryEntry, error)

	// List returns up to limit entries starting at offset, newest first,
	// and the total number of entries.
	List(ctx context.Context, offset, limit int) ([]models.HistoryEntry, int, error)
}

// record is the stored form: the entry plus its insertion sequence.
type record struct {
	Entry models.HistoryEntry `json:"entry"`
	Seq   uint64              `json:"seq"`
}

func clampPage(total, offset, limit int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end = total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
