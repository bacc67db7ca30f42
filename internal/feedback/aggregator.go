// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package feedback merges per-item SSML and audio generation status into the
// ordered feedback list of one analysis.
//
// Server rows are authoritative. Local actions (regeneration requests and
// ratings) are kept as overlays keyed by item id and dropped as soon as a
// row newer than the one the action was based on arrives, so optimistic
// state never diverges from the server for long. Only server timestamps
// are compared.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/coachsync/internal/cache"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
	"github.com/tomtom215/coachsync/internal/realtime"
)

var (
	// ErrNotFound is returned for an unknown feedback item id.
	ErrNotFound = errors.New("feedback item not found")

	// ErrNotFailed is returned when regenerating an item that has not failed.
	ErrNotFailed = errors.New("feedback item has not failed")
)

// Snapshot is the aggregated state handed to consumers.
type Snapshot struct {
	// Version increases with every change; consumers drop snapshots older
	// than the last one they applied.
	Version            uint64                `json:"version"`
	AnalysisID         string                `json:"analysis_id"`
	Items              []models.FeedbackItem `json:"items"`
	FullyCompleted     bool                  `json:"fully_completed"`
	EarliestAudioReady bool                  `json:"earliest_audio_ready"`
	Processing         bool                  `json:"processing"`
}

// Options configure an Aggregator.
type Options struct {
	// Commander sends regeneration requests and ratings. Required for
	// RetryFailedFeedback and SetRating.
	Commander realtime.Commander

	// Cache receives the ordered item list under cache.FeedbackKey.
	Cache cache.Cacher

	// OnChange is called with a fresh snapshot after every change, outside
	// the aggregator lock.
	OnChange func(Snapshot)
}

// overlay is a pending local change to one item. Each part remembers the
// server updated_at of the row it was made against.
type overlay struct {
	retry       bool
	retryBase   time.Time
	ssmlStatus  models.GenerationStatus
	audioStatus models.GenerationStatus

	rating     bool
	ratingBase time.Time
	userValue  models.Rating
}

// Aggregator owns the feedback list of one analysis id.
type Aggregator struct {
	analysisID string
	commander  realtime.Commander
	cache      cache.Cacher
	onChange   func(Snapshot)
	logger     zerolog.Logger

	mu       sync.Mutex
	items    map[string]models.FeedbackItem
	overlays map[string]*overlay
	teardown realtime.Teardown
	closed   bool
	version  uint64

	// pubMu orders cache writes; published is the last version cached.
	pubMu     sync.Mutex
	published uint64
}

// New creates an empty aggregator for analysisID.
func New(analysisID string, opts Options) *Aggregator {
	return &Aggregator{
		analysisID: analysisID,
		commander:  opts.Commander,
		cache:      opts.Cache,
		onChange:   opts.OnChange,
		logger:     logging.WithComponent("feedback").With().Str("analysis_id", analysisID).Logger(),
		items:      make(map[string]models.FeedbackItem),
		overlays:   make(map[string]*overlay),
	}
}

// AnalysisID returns the analysis this aggregator follows.
func (a *Aggregator) AnalysisID() string {
	return a.analysisID
}

// Start opens the feedback channel of the analysis. Rows delivered during
// the call are applied before it returns.
func (a *Aggregator) Start(ctx context.Context, provider realtime.Provider) error {
	td, err := provider.SubscribeToFeedback(ctx, a.analysisID, a.HandleRow, realtime.Handlers{
		OnStatus: func(s realtime.ChannelStatus) {
			a.logger.Debug().Str("status", string(s)).Msg("Feedback channel status")
		},
		OnError: func(s realtime.ChannelStatus, err error) {
			a.logger.Warn().Err(err).Str("status", string(s)).Msg("Feedback channel error")
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to feedback %s: %w", a.analysisID, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		_ = td()
		return nil
	}
	a.teardown = td
	a.mu.Unlock()
	return nil
}

// HandleRow decodes and applies one feedback row. Invalid rows and rows of
// another analysis are dropped.
func (a *Aggregator) HandleRow(data []byte) {
	item, err := models.DecodeFeedback(data)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Dropping invalid feedback row")
		return
	}
	a.Apply(item)
}

// Apply merges an authoritative item.
func (a *Aggregator) Apply(item *models.FeedbackItem) {
	if item.AnalysisID != a.analysisID {
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.items[item.ID] = *item
	if ov, ok := a.overlays[item.ID]; ok {
		settle(item, ov)
		if !ov.retry && !ov.rating {
			delete(a.overlays, item.ID)
		}
	}
	a.version++
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.publish(snap)
}

// settle drops the parts of an overlay that an authoritative row has
// caught up with. A replay of the row an action was based on does not.
func settle(item *models.FeedbackItem, ov *overlay) {
	if ov.retry && (item.UpdatedAt.After(ov.retryBase) || !item.HasFailed()) {
		ov.retry = false
	}
	if ov.rating && (item.UpdatedAt.After(ov.ratingBase) || item.UserRating == ov.userValue) {
		ov.rating = false
	}
}

// Items returns the ordered list with overlays applied.
func (a *Aggregator) Items() []models.FeedbackItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.itemsLocked()
}

func (a *Aggregator) itemsLocked() []models.FeedbackItem {
	out := make([]models.FeedbackItem, 0, len(a.items))
	for id, item := range a.items {
		if ov, ok := a.overlays[id]; ok {
			if ov.retry {
				item.SSMLStatus, item.AudioStatus = ov.ssmlStatus, ov.audioStatus
			}
			if ov.rating {
				item.UserRating = ov.userValue
			}
		}
		out = append(out, item)
	}
	models.SortFeedback(out)
	return out
}

// IsFullyCompleted reports whether the list is non-empty and every item
// finished both SSML and audio generation.
func (a *Aggregator) IsFullyCompleted() bool {
	return fullyCompleted(a.Items())
}

// EarliestAudioReady reports whether the earliest item has narration audio.
func (a *Aggregator) EarliestAudioReady() bool {
	return earliestAudioReady(a.Items())
}

// IsProcessing reports whether the UI should still show processing. It
// clears as soon as the earliest item can be narrated.
func (a *Aggregator) IsProcessing() bool {
	items := a.Items()
	return !earliestAudioReady(items) && !fullyCompleted(items)
}

// Snapshot returns the aggregated state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	items := a.itemsLocked()
	s := Snapshot{
		Version:            a.version,
		AnalysisID:         a.analysisID,
		Items:              items,
		FullyCompleted:     fullyCompleted(items),
		EarliestAudioReady: earliestAudioReady(items),
	}
	s.Processing = !s.FullyCompleted && !s.EarliestAudioReady
	return s
}

func fullyCompleted(items []models.FeedbackItem) bool {
	if len(items) == 0 {
		return false
	}
	for i := range items {
		if !items[i].IsFullyCompleted() {
			return false
		}
	}
	return true
}

func earliestAudioReady(items []models.FeedbackItem) bool {
	return len(items) > 0 && items[0].HasNarration()
}

// RetryFailedFeedback resets the failed generation steps of one item to
// queued and requests regeneration. The local reset is undone if the
// request fails.
func (a *Aggregator) RetryFailedFeedback(ctx context.Context, id string) error {
	if a.commander == nil {
		return fmt.Errorf("no command publisher configured")
	}

	a.mu.Lock()
	item, ok := a.items[id]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if ov, ok := a.overlays[id]; ok && ov.retry {
		// A regeneration is already pending.
		a.mu.Unlock()
		return nil
	}
	if !item.HasFailed() {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFailed, id)
	}
	ov := a.overlayLocked(id)
	ov.retry, ov.retryBase = true, item.UpdatedAt
	ov.ssmlStatus, ov.audioStatus = item.SSMLStatus, item.AudioStatus
	if item.SSMLStatus == models.GenFailed {
		ov.ssmlStatus = models.GenQueued
	}
	if item.AudioStatus == models.GenFailed {
		ov.audioStatus = models.GenQueued
	}
	a.version++
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)

	if err := a.commander.RequestRegeneration(ctx, a.analysisID, id); err != nil {
		metrics.FeedbackRetries.WithLabelValues("error").Inc()
		a.logger.Warn().Err(err).Str("feedback_id", id).Msg("Regeneration request failed")
		a.revert(id, func(ov *overlay) { ov.retry = false })
		return fmt.Errorf("request regeneration of %s: %w", id, err)
	}
	metrics.FeedbackRetries.WithLabelValues("requested").Inc()
	return nil
}

// SetRating records the user's rating of one item and submits it.
func (a *Aggregator) SetRating(ctx context.Context, id string, rating models.Rating) error {
	if a.commander == nil {
		return fmt.Errorf("no command publisher configured")
	}

	a.mu.Lock()
	item, ok := a.items[id]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	ov := a.overlayLocked(id)
	ov.rating, ov.ratingBase, ov.userValue = true, item.UpdatedAt, rating
	a.version++
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)

	if err := a.commander.SubmitRating(ctx, a.analysisID, id, rating); err != nil {
		a.revert(id, func(ov *overlay) { ov.rating = false })
		return fmt.Errorf("submit rating of %s: %w", id, err)
	}
	return nil
}

// overlayLocked returns the overlay of id, creating it if needed.
func (a *Aggregator) overlayLocked(id string) *overlay {
	ov, ok := a.overlays[id]
	if !ok {
		ov = &overlay{}
		a.overlays[id] = ov
	}
	return ov
}

func (a *Aggregator) revert(id string, undo func(*overlay)) {
	a.mu.Lock()
	ov, ok := a.overlays[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	undo(ov)
	if !ov.retry && !ov.rating {
		delete(a.overlays, id)
	}
	a.version++
	snap := a.snapshotLocked()
	a.mu.Unlock()
	a.publish(snap)
}

func (a *Aggregator) publish(s Snapshot) {
	if a.cache != nil {
		// Snapshots are published outside a.mu and may arrive out of order.
		a.pubMu.Lock()
		if s.Version > a.published {
			a.published = s.Version
			a.cache.Set(cache.FeedbackKey(a.analysisID), s.Items)
		}
		a.pubMu.Unlock()
	}
	if a.onChange != nil {
		a.onChange(s)
	}
}

// Close tears down the feedback channel. Later rows are ignored.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	td := a.teardown
	a.teardown = nil
	a.mu.Unlock()

	if td != nil {
		if err := td(); err != nil {
			a.logger.Warn().Err(err).Msg("Feedback channel teardown failed")
		}
	}
}
