// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

// Package playback coordinates video position, pending seeks and narration
// audio for one session, and decides when feedback bubbles show and hide.
//
// The coordinator is driven by player callbacks (Progress, SeekComplete,
// PlayingChanged, End) and issues commands back to the players through the
// Video and Narration interfaces. Player commands run after the internal
// lock is released, so a player may call back synchronously.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/coachsync/internal/clock"
	"github.com/tomtom215/coachsync/internal/config"
	"github.com/tomtom215/coachsync/internal/logging"
	"github.com/tomtom215/coachsync/internal/metrics"
	"github.com/tomtom215/coachsync/internal/models"
)

var (
	// ErrSeekPending is returned when a seek is requested while another has
	// not completed.
	ErrSeekPending = errors.New("seek already pending")

	// ErrNotReady is returned for player actions before the session is ready.
	ErrNotReady = errors.New("playback not ready")
)

// Video is the video player surface.
type Video interface {
	Play()
	Pause()
	// Seek moves the player; it must call SeekComplete exactly once.
	Seek(t time.Duration)
}

// Narration is the narration audio surface.
type Narration interface {
	// Play starts url, or resumes it when it is already loaded.
	Play(url string)
	Pause()
	Stop()
}

// DrivingClock names the clock that positions the session.
type DrivingClock string

const (
	ClockVideo DrivingClock = "video"
	ClockAudio DrivingClock = "audio"
)

const (
	triggerProgress = "progress"
	triggerSeek     = "seek"
)

// Config holds the coordinator timings.
type Config struct {
	// BubbleProximity is the half-width of an item's display window.
	BubbleProximity time.Duration

	// BubbleMinDuration is the shortest time a bubble stays visible.
	BubbleMinDuration time.Duration

	// PauseHysteresis protects a just-shown bubble from a pause.
	PauseHysteresis time.Duration

	// ProgressThreshold drops progress ticks closer than this to the
	// current time.
	ProgressThreshold time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		BubbleProximity:   500 * time.Millisecond,
		BubbleMinDuration: 3 * time.Second,
		PauseHysteresis:   2500 * time.Millisecond,
		ProgressThreshold: 100 * time.Millisecond,
	}
}

// ConfigFrom maps the loaded configuration.
func ConfigFrom(pc config.PlaybackConfig) Config {
	c := DefaultConfig()
	c.BubbleProximity = pc.BubbleProximity
	c.BubbleMinDuration = pc.BubbleMinDuration
	c.PauseHysteresis = pc.PauseHysteresis
	return c
}

// Bubble is the visible feedback bubble.
type Bubble struct {
	Index       int       `json:"index"`
	FeedbackID  string    `json:"feedback_id"`
	TimestampMs int64     `json:"timestamp_ms"`
	ShownAt     time.Time `json:"shown_at"`
	HideAt      time.Time `json:"hide_at"`
}

// State is a snapshot of the coordinator.
type State struct {
	Version       uint64       `json:"version"`
	Phase         Phase        `json:"phase"`
	Reason        ReadyReason  `json:"ready_reason,omitempty"`
	Error         string       `json:"error,omitempty"`
	CurrentTimeMs int64        `json:"current_time_ms"`
	DurationMs    int64        `json:"duration_ms"`
	IsPlaying     bool         `json:"is_playing"`
	PendingSeekMs *int64       `json:"pending_seek_ms"`
	Bubble        *Bubble      `json:"bubble"`
	NarrationID   string       `json:"narration_id,omitempty"`
	DrivingClock  DrivingClock `json:"driving_clock"`
}

// Options configure a Coordinator.
type Options struct {
	Video     Video
	Narration Narration
	Clock     clock.Clock
	Config    Config

	// OnChange receives a snapshot after every change, outside the lock.
	OnChange func(State)
}

type bubble struct {
	item   models.FeedbackItem
	index  int
	shown  time.Time
	hideAt time.Time
	timer  clock.Timer
	// hideDue is set when the hide timer fired during narration.
	hideDue bool
}

type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

// Coordinator is the playback state machine of one session.
type Coordinator struct {
	cfg       Config
	clock     clock.Clock
	video     Video
	narration Narration
	onChange  func(State)
	logger    zerolog.Logger

	mu          sync.Mutex
	version     uint64
	phase       Phase
	reason      ReadyReason
	errMsg      string
	items       []models.FeedbackItem
	current     time.Duration
	duration    time.Duration
	pendingSeek *time.Duration
	bubble      *bubble
	bubbleGen   uint64
	// suppressed is an item auto-hidden while playback stayed in its window.
	suppressed string

	narrating    bool
	narrationID  string
	narrationURL string
	// holding is set while the video is paused for narration.
	holding bool

	evaluations int
	closed      bool
}

// New creates a coordinator in PhaseIdle.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Config == (Config{}) {
		opts.Config = DefaultConfig()
	}
	if opts.Config.ProgressThreshold == 0 {
		opts.Config.ProgressThreshold = DefaultConfig().ProgressThreshold
	}
	return &Coordinator{
		cfg:       opts.Config,
		clock:     opts.Clock,
		video:     opts.Video,
		narration: opts.Narration,
		onChange:  opts.OnChange,
		logger:    logging.WithComponent("playback"),
		phase:     PhaseIdle,
	}
}

// update runs fn under the lock, then the player effects, then OnChange.
func (c *Coordinator) update(fn func(fx *effects) bool) {
	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := fn(&fx)
	var st State
	if changed {
		c.version++
		st = c.stateLocked()
	}
	c.mu.Unlock()

	for _, f := range fx {
		f()
	}
	if changed && c.onChange != nil {
		c.onChange(st)
	}
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	st := State{
		Version:       c.version,
		Phase:         c.phase,
		Reason:        c.reason,
		Error:         c.errMsg,
		CurrentTimeMs: c.current.Milliseconds(),
		DurationMs:    c.duration.Milliseconds(),
		IsPlaying:     c.phase == PhasePlaying,
		DrivingClock:  ClockVideo,
	}
	if c.pendingSeek != nil {
		ms := c.pendingSeek.Milliseconds()
		st.PendingSeekMs = &ms
	}
	if b := c.bubble; b != nil {
		st.Bubble = &Bubble{
			Index:       b.index,
			FeedbackID:  b.item.ID,
			TimestampMs: b.item.TimestampMs,
			ShownAt:     b.shown,
			HideAt:      b.hideAt,
		}
	}
	if c.narrating {
		st.NarrationID = c.narrationID
		st.DrivingClock = ClockAudio
	}
	return st
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) setPhaseLocked(to Phase) error {
	if c.phase == to {
		return nil
	}
	if err := checkTransition(c.phase, to); err != nil {
		return err
	}
	c.logger.Debug().Str("from", string(c.phase)).Str("to", string(to)).Msg("Playback phase change")
	metrics.PhaseTransitions.WithLabelValues(string(to)).Inc()
	c.phase = to
	return nil
}

// UpdateSignals feeds readiness inputs. Idle sessions move to processing
// until a signal holds, then to ready.
func (c *Coordinator) UpdateSignals(s Signals) {
	c.update(func(fx *effects) bool {
		if c.phase != PhaseIdle && c.phase != PhaseProcessing {
			return false
		}
		if reason, ok := Readiness(s); ok {
			c.reason = reason
			return c.setPhaseLocked(PhaseReady) == nil
		}
		if c.phase == PhaseIdle {
			return c.setPhaseLocked(PhaseProcessing) == nil
		}
		return false
	})
}

// Close hides the bubble, stops narration and ignores later events.
func (c *Coordinator) Close() {
	c.update(func(fx *effects) bool {
		c.holding = false
		c.hideLocked(fx)
		c.pendingSeek = nil
		c.closed = true
		return false
	})
}

// Fail moves the session to PhaseError.
func (c *Coordinator) Fail(msg string) {
	c.update(func(fx *effects) bool {
		_ = c.setPhaseLocked(PhaseError)
		c.hideLocked(fx)
		c.pendingSeek = nil
		c.errMsg = msg
		return true
	})
}

// Reset returns a failed session to PhaseIdle for another attempt.
func (c *Coordinator) Reset() error {
	var err error
	c.update(func(fx *effects) bool {
		if err = c.setPhaseLocked(PhaseIdle); err != nil {
			return false
		}
		c.errMsg, c.reason = "", ReasonNone
		c.suppressed = ""
		return true
	})
	return err
}

// SetFeedback replaces the ordered feedback list.
func (c *Coordinator) SetFeedback(items []models.FeedbackItem) {
	c.update(func(fx *effects) bool {
		c.items = append(c.items[:0:0], items...)
		if b := c.bubble; b != nil {
			b.index = -1
			for i := range c.items {
				if c.items[i].ID == b.item.ID {
					b.index, b.item = i, c.items[i]
					break
				}
			}
			if b.index < 0 {
				c.hideLocked(fx)
			}
		}
		if c.pendingSeek == nil && !c.holding {
			c.evaluateLocked(fx, triggerProgress)
		}
		return true
	})
}

// Load records the media duration.
func (c *Coordinator) Load(d time.Duration) {
	c.update(func(fx *effects) bool {
		c.duration = d
		return true
	})
}

// Progress handles a video time update.
func (c *Coordinator) Progress(t time.Duration) {
	c.update(func(fx *effects) bool {
		if c.pendingSeek != nil || c.holding {
			return false
		}
		if abs(t-c.current) < c.cfg.ProgressThreshold {
			return false
		}
		c.current = t
		c.evaluateLocked(fx, triggerProgress)
		return true
	})
}

// Seek requests a move to t. The player confirms through SeekComplete.
func (c *Coordinator) Seek(t time.Duration) error {
	var err error
	c.update(func(fx *effects) bool {
		switch {
		case c.pendingSeek != nil:
			err = ErrSeekPending
			return false
		case !c.playable():
			err = fmt.Errorf("%w: phase %s", ErrNotReady, c.phase)
			return false
		}
		c.pendingSeek = &t
		fx.add(func() { c.video.Seek(t) })
		return true
	})
	return err
}

// SeekComplete applies the pending seek and evaluates the bubble at the
// new position once.
func (c *Coordinator) SeekComplete() {
	c.update(func(fx *effects) bool {
		if c.pendingSeek == nil {
			c.logger.Debug().Msg("Seek completion without a pending seek")
			return false
		}
		c.current = *c.pendingSeek
		c.pendingSeek = nil
		c.suppressed = ""
		if b := c.bubble; b != nil && !c.withinLocked(&b.item) {
			c.hideLocked(fx)
		}
		c.evaluateLocked(fx, triggerSeek)
		if c.phase == PhaseEnded {
			_ = c.setPhaseLocked(PhasePaused)
		}
		return true
	})
}

func (c *Coordinator) playable() bool {
	switch c.phase {
	case PhaseReady, PhasePlaying, PhasePaused, PhaseEnded:
		return true
	}
	return false
}

// Play starts playback, or resumes paused narration.
func (c *Coordinator) Play() error {
	var err error
	c.update(func(fx *effects) bool {
		if !c.playable() {
			err = fmt.Errorf("%w: phase %s", ErrNotReady, c.phase)
			return false
		}
		if c.narrating {
			url := c.narrationURL
			c.holding = true
			fx.add(func() { c.narration.Play(url) })
			return c.setPhaseLocked(PhasePlaying) == nil
		}
		fx.add(c.video.Play)
		return false
	})
	return err
}

// Pause pauses playback, or the narration while it drives.
func (c *Coordinator) Pause() {
	c.update(func(fx *effects) bool {
		if c.narrating {
			fx.add(c.narration.Pause)
			return c.setPhaseLocked(PhasePaused) == nil
		}
		fx.add(c.video.Pause)
		return false
	})
}

// PlayingChanged handles the video player's play and pause events.
func (c *Coordinator) PlayingChanged(playing bool) {
	c.update(func(fx *effects) bool {
		if c.holding {
			// Our own hold for narration.
			return false
		}
		if playing {
			if !c.playable() {
				return false
			}
			return c.setPhaseLocked(PhasePlaying) == nil
		}
		if c.phase != PhasePlaying {
			return false
		}
		_ = c.setPhaseLocked(PhasePaused)
		if b := c.bubble; b != nil && c.clock.Now().Sub(b.shown) >= c.cfg.PauseHysteresis {
			c.dismissLocked(fx)
		}
		return true
	})
}

// End handles the end of the video.
func (c *Coordinator) End() {
	c.update(func(fx *effects) bool {
		if err := c.setPhaseLocked(PhaseEnded); err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring end event")
			return false
		}
		c.hideLocked(fx)
		return true
	})
}

// Dismiss hides the visible bubble on user request.
func (c *Coordinator) Dismiss() {
	c.update(func(fx *effects) bool {
		if c.bubble == nil {
			return false
		}
		c.dismissLocked(fx)
		return true
	})
}

// NarrationLoaded extends the visible bubble to the narration length.
func (c *Coordinator) NarrationLoaded(d time.Duration) {
	c.update(func(fx *effects) bool {
		b := c.bubble
		if !c.narrating || b == nil || b.item.ID != c.narrationID {
			return false
		}
		hideAt := b.shown.Add(max(c.cfg.BubbleMinDuration, d))
		if !hideAt.After(b.hideAt) {
			return false
		}
		b.timer.Stop()
		b.hideAt = hideAt
		c.armHideLocked(b, hideAt.Sub(c.clock.Now()))
		return true
	})
}

// NarrationEnded handles the end of a narration clip. The video resumes
// if it was held for the clip.
func (c *Coordinator) NarrationEnded() {
	c.update(func(fx *effects) bool {
		if !c.narrating {
			return false
		}
		c.stopNarrationLocked(fx, false)
		if b := c.bubble; b != nil && b.hideDue {
			c.autoHideLocked(fx)
		}
		return true
	})
}

// within reports whether item is inside the display window at the current
// time.
func (c *Coordinator) withinLocked(item *models.FeedbackItem) bool {
	delta := c.current - time.Duration(item.TimestampMs)*time.Millisecond
	return abs(delta) < c.cfg.BubbleProximity
}

// evaluateLocked decides which bubble shows at the current time. A visible
// bubble is only replaced before its hide time when a seek completed.
func (c *Coordinator) evaluateLocked(fx *effects, trigger string) {
	c.evaluations++

	if c.suppressed != "" {
		for i := range c.items {
			if c.items[i].ID == c.suppressed && !c.withinLocked(&c.items[i]) {
				c.suppressed = ""
				break
			}
		}
	}
	if b := c.bubble; b != nil && c.withinLocked(&b.item) {
		return
	}

	candidate := -1
	for i := range c.items {
		if c.items[i].ID != c.suppressed && c.withinLocked(&c.items[i]) {
			candidate = i
			break
		}
	}
	if candidate < 0 {
		return
	}
	if b := c.bubble; b != nil {
		if trigger != triggerSeek && c.clock.Now().Before(b.hideAt) {
			return
		}
		c.hideLocked(fx)
	}
	c.showLocked(fx, candidate, trigger)
}

func (c *Coordinator) showLocked(fx *effects, index int, trigger string) {
	item := c.items[index]
	now := c.clock.Now()
	d := max(c.cfg.BubbleMinDuration, time.Duration(item.AudioDurationMs)*time.Millisecond)
	b := &bubble{item: item, index: index, shown: now, hideAt: now.Add(d)}
	c.bubble = b
	c.armHideLocked(b, d)
	metrics.BubbleShows.WithLabelValues(trigger).Inc()

	if item.HasNarration() {
		c.startNarrationLocked(fx, &item)
	}
}

func (c *Coordinator) armHideLocked(b *bubble, d time.Duration) {
	c.bubbleGen++
	gen := c.bubbleGen
	b.timer = c.clock.AfterFunc(d, func() { c.onHideTimer(gen) })
}

func (c *Coordinator) onHideTimer(gen uint64) {
	c.update(func(fx *effects) bool {
		b := c.bubble
		if b == nil || gen != c.bubbleGen {
			return false
		}
		if c.narrating && c.narrationID == b.item.ID {
			b.hideDue = true
			return false
		}
		c.autoHideLocked(fx)
		return true
	})
}

// autoHideLocked hides the bubble at the end of its display time and lets
// a waiting item take its place.
func (c *Coordinator) autoHideLocked(fx *effects) {
	b := c.bubble
	if c.withinLocked(&b.item) {
		c.suppressed = b.item.ID
	}
	c.hideLocked(fx)
	if c.pendingSeek == nil {
		c.evaluateLocked(fx, triggerProgress)
	}
}

// dismissLocked hides the bubble and keeps it from re-showing until
// playback leaves its window.
func (c *Coordinator) dismissLocked(fx *effects) {
	if b := c.bubble; b != nil && c.withinLocked(&b.item) {
		c.suppressed = b.item.ID
	}
	c.hideLocked(fx)
}

func (c *Coordinator) hideLocked(fx *effects) {
	b := c.bubble
	if b == nil {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	c.bubbleGen++
	c.bubble = nil
	if c.narrating && c.narrationID == b.item.ID {
		c.stopNarrationLocked(fx, true)
	}
}

func (c *Coordinator) startNarrationLocked(fx *effects, item *models.FeedbackItem) {
	if c.narrating {
		c.stopNarrationLocked(fx, true)
	}
	c.narrating = true
	c.narrationID = item.ID
	c.narrationURL = item.AudioURL
	metrics.NarrationPlays.Inc()

	if c.phase == PhasePlaying && !c.holding {
		c.holding = true
		fx.add(c.video.Pause)
	}
	url := item.AudioURL
	fx.add(func() { c.narration.Play(url) })
}

// stopNarrationLocked ends narration and releases a video hold. stop is
// false when the clip already finished on its own.
func (c *Coordinator) stopNarrationLocked(fx *effects, stop bool) {
	c.narrating = false
	c.narrationID, c.narrationURL = "", ""
	if stop {
		fx.add(c.narration.Stop)
	}
	if c.holding {
		c.holding = false
		if c.phase == PhasePlaying {
			fx.add(c.video.Play)
		}
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
