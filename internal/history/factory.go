// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package history

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/coachsync/internal/config"
)

// StoreFactory builds the configured Store and owns the database behind it.
type StoreFactory struct {
	db     *badger.DB
	badger *BadgerStore
	store  Store
}

// NewStoreFactory opens the history store described by cfg. In-memory mode
// uses a MemoryStore; otherwise Badger at cfg.Path behind a memory tier.
func NewStoreFactory(cfg config.HistoryConfig) (*StoreFactory, error) {
	if cfg.InMemory {
		return &StoreFactory{store: NewMemoryStore()}, nil
	}

	db, err := OpenBadger(cfg.Path)
	if err != nil {
		return nil, err
	}
	bs, err := NewBadgerStore(db)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &StoreFactory{db: db, badger: bs, store: NewTieredStore(bs)}, nil
}

// Store returns the configured store.
func (f *StoreFactory) Store() Store {
	return f.store
}

// Close releases the sequence and closes the database if one was opened.
func (f *StoreFactory) Close() error {
	if f.db == nil {
		return nil
	}
	return errors.Join(f.badger.Close(), f.db.Close())
}
