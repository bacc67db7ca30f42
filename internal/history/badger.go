// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
)

// Key layout:
//
//	history:entry:<id>            -> record JSON
//	history:order:<rev seq>:<id>  -> nil (newest first under prefix iteration)
//	history:seq                   -> badger sequence
const (
	entryKeyPrefix = "history:entry:"
	orderKeyPrefix = "history:order:"
	seqKey         = "history:seq"
)

// BadgerStore is a Store persisted in BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	seq, err := db.GetSequence([]byte(seqKey), 64)
	if err != nil {
		return nil, fmt.Errorf("history sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

// OpenBadger opens a BadgerDB at path, or in memory when path is empty.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for history: %w", err)
	}
	return db, nil
}

// Close releases the sequence lease. The database is owned by the caller.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

func entryKey(id int64) []byte {
	return []byte(entryKeyPrefix + strconv.FormatInt(id, 10))
}

func orderKey(seq uint64, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%d", orderKeyPrefix, uint64(math.MaxUint64)-seq, id))
}

func getRecord(txn *badger.Txn, id int64) (*record, error) {
	item, err := txn.Get(entryKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history entry: %w", err)
	}
	var r record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	}); err != nil {
		return nil, fmt.Errorf("decode history entry: %w", err)
	}
	return &r, nil
}

func setRecord(txn *badger.Txn, r *record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	return txn.Set(entryKey(r.Entry.ID), data)
}

// GetCached returns the entry for id.
func (s *BadgerStore) GetCached(_ context.Context, id int64) (*models.HistoryEntry, error) {
	var out *models.HistoryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		out = &r.Entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddToCache prepends entry unless its id is present. Membership check and
// insert run in one transaction; a conflicting concurrent add is retried once.
func (s *BadgerStore) AddToCache(ctx context.Context, entry *models.HistoryEntry) (bool, error) {
	added, err := s.add(entry)
	if errors.Is(err, badger.ErrConflict) {
		added, err = s.add(entry)
	}
	if err != nil {
		return false, err
	}
	if added {
		metrics.HistoryWrites.WithLabelValues("add").Inc()
	} else {
		metrics.HistoryWrites.WithLabelValues("skip").Inc()
	}
	return added, nil
}

func (s *BadgerStore) add(entry *models.HistoryEntry) (bool, error) {
	// A skipped add burns one sequence number; gaps are harmless.
	seq, err := s.seq.Next()
	if err != nil {
		return false, fmt.Errorf("next history sequence: %w", err)
	}
	added := false
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := getRecord(txn, entry.ID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		r := &record{Entry: *entry, Seq: seq}
		if err := setRecord(txn, r); err != nil {
			return err
		}
		if err := txn.Set(orderKey(seq, entry.ID), nil); err != nil {
			return fmt.Errorf("set history order: %w", err)
		}
		added = true
		return nil
	})
	return added, err
}

// UpdateCache patches the stored entry in place; its position is unchanged.
func (s *BadgerStore) UpdateCache(_ context.Context, id int64, patch *models.HistoryPatch) (*models.HistoryEntry, error) {
	var out *models.HistoryEntry
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		patch.Apply(&r.Entry)
		if err := setRecord(txn, r); err != nil {
			return err
		}
		out = &r.Entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.HistoryWrites.WithLabelValues("update").Inc()
	return out, nil
}

// List walks the order index newest first.
func (s *BadgerStore) List(_ context.Context, offset, limit int) ([]models.HistoryEntry, int, error) {
	var (
		out   []models.HistoryEntry
		total int
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(orderKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []int64
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			id, err := parseOrderID(key)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		total = len(ids)

		start, end := clampPage(total, offset, limit)
		out = make([]models.HistoryEntry, 0, end-start)
		for _, id := range ids[start:end] {
			r, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			out = append(out, r.Entry)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func parseOrderID(key string) (int64, error) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			id, err := strconv.ParseInt(key[i+1:], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("malformed history order key %q: %w", key, err)
			}
			return id, nil
		}
	}
	return 0, fmt.Errorf("malformed history order key %q", key)
}

// badgerLogger routes Badger's internal logging to zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}
