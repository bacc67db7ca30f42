// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package history

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*record
	seq     uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*record)}
}

// GetCached returns a copy of the entry for id.
func (s *MemoryStore) GetCached(_ context.Context, id int64) (*models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	e := r.Entry
	return &e, nil
}

// AddToCache prepends entry unless its id is already present.
func (s *MemoryStore) AddToCache(_ context.Context, entry *models.HistoryEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[entry.ID]; exists {
		metrics.HistoryWrites.WithLabelValues("skip").Inc()
		return false, nil
	}
	s.seq++
	s.records[entry.ID] = &record{Entry: *entry, Seq: s.seq}
	metrics.HistoryWrites.WithLabelValues("add").Inc()
	return true, nil
}

// UpdateCache patches the entry in place.
func (s *MemoryStore) UpdateCache(_ context.Context, id int64, patch *models.HistoryPatch) (*models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(&r.Entry)
	metrics.HistoryWrites.WithLabelValues("update").Inc()
	e := r.Entry
	return &e, nil
}

// List returns entries newest first.
func (s *MemoryStore) List(_ context.Context, offset, limit int) ([]models.HistoryEntry, int, error) {
	s.mu.RLock()
	ordered := make([]record, 0, len(s.records))
	for _, r := range s.records {
		ordered = append(ordered, *r)
	}
	s.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq > ordered[j].Seq })

	start, end := clampPage(len(ordered), offset, limit)
	out := make([]models.HistoryEntry, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, ordered[i].Entry)
	}
	return out, len(ordered), nil
}

// put stores a record as-is, keeping the caller's sequence. Used by the
// tiered store to warm the front from the back.
func (s *MemoryStore) put(r record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Entry.ID] = &r
	if r.Seq > s.seq {
		s.seq = r.Seq
	}
}

func (s *MemoryStore) drop(id int64) {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
}
