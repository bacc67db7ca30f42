// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package history

import (
	"context"
	"errors"

	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
)

// TieredStore serves reads from a MemoryStore and writes through to a
// persistent back store. The back store decides membership and order.
type TieredStore struct {
	front *MemoryStore
	back  Store
}

// NewTieredStore puts a fresh memory tier in front of back.
func NewTieredStore(back Store) *TieredStore {
	return &TieredStore{front: NewMemoryStore(), back: back}
}

// GetCached reads the memory tier, falling back to the back store.
func (s *TieredStore) GetCached(ctx context.Context, id int64) (*models.HistoryEntry, error) {
	if e, err := s.front.GetCached(ctx, id); err == nil {
		metrics.RecordCacheLookup("history", true)
		return e, nil
	}
	metrics.RecordCacheLookup("history", false)

	e, err := s.back.GetCached(ctx, id)
	if err != nil {
		return nil, err
	}
	s.front.put(record{Entry: *e})
	return e, nil
}

// AddToCache adds through the back store, then mirrors into memory.
func (s *TieredStore) AddToCache(ctx context.Context, entry *models.HistoryEntry) (bool, error) {
	added, err := s.back.AddToCache(ctx, entry)
	if err != nil {
		return false, err
	}
	if added {
		s.front.put(record{Entry: *entry})
	}
	return added, nil
}

// UpdateCache updates the back store and refreshes the memory copy.
func (s *TieredStore) UpdateCache(ctx context.Context, id int64, patch *models.HistoryPatch) (*models.HistoryEntry, error) {
	e, err := s.back.UpdateCache(ctx, id, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.front.drop(id)
		}
		return nil, err
	}
	s.front.put(record{Entry: *e})
	return e, nil
}

// List reads the back store, which owns ordering.
func (s *TieredStore) List(ctx context.Context, offset, limit int) ([]models.HistoryEntry, int, error) {
	return s.back.List(ctx, offset, limit)
}
