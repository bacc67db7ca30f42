// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package playback

import (
	"errors"
	"fmt"

	"github.com/tomtom215/coachsync/internal/models"
)

// ErrInvalidTransition is returned for a phase change the table forbids.
var ErrInvalidTransition = errors.New("invalid playback phase transition")

// Phase is the playback session phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProcessing Phase = "processing"
	PhaseReady      Phase = "ready"
	PhasePlaying    Phase = "playing"
	PhasePaused     Phase = "paused"
	PhaseEnded      Phase = "ended"
	PhaseError      Phase = "error"
)

// transitions lists the allowed targets of each phase. PhaseError is
// reachable from every phase and is not listed.
var transitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseProcessing, PhaseReady},
	PhaseProcessing: {PhaseReady},
	PhaseReady:      {PhasePlaying, PhasePaused},
	PhasePlaying:    {PhasePaused, PhaseEnded},
	PhasePaused:     {PhasePlaying, PhaseEnded},
	PhaseEnded:      {PhasePlaying, PhasePaused},
	PhaseError:      {PhaseIdle, PhaseProcessing},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Phase) bool {
	if to == PhaseError {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Phase) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ReadyReason names the signal that made a session ready.
type ReadyReason string

const (
	ReasonNone              ReadyReason = ""
	ReasonEarliestAudio     ReadyReason = "earliest_audio"
	ReasonFeedbackCompleted ReadyReason = "feedback_completed"
	ReasonJobTerminal       ReadyReason = "job_terminal"
	ReasonUploadReady       ReadyReason = "upload_ready"
)

// Signals are the inputs of the processing to ready decision.
type Signals struct {
	// EarliestAudioReady: the earliest feedback item has narration audio.
	EarliestAudioReady bool

	// FeedbackCompleted: every feedback item finished generation.
	FeedbackCompleted bool

	// JobStatus is the latest job status; empty when no job is known.
	JobStatus models.JobStatus

	// UploadResolved: the upload status read has returned.
	UploadResolved bool

	// InitialStatus is the status the session was opened with.
	InitialStatus string
}

// Readiness evaluates signals in fixed priority order and returns the
// first that holds. A terminal job status wins over an upload read that
// never resolved; the upload fallback only applies while no job is known.
func Readiness(s Signals) (ReadyReason, bool) {
	switch {
	case s.EarliestAudioReady:
		return ReasonEarliestAudio, true
	case s.FeedbackCompleted:
		return ReasonFeedbackCompleted, true
	case s.JobStatus.IsTerminal():
		return ReasonJobTerminal, true
	case s.JobStatus == "" && s.UploadResolved && s.InitialStatus == "ready":
		return ReasonUploadReady, true
	default:
		return ReasonNone, false
	}
}
