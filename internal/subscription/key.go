// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package subscription

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tomtom215/coachsync/internal/validation"
)

// ErrInvalidKey is returned for a key that is not job:<id> or recording:<id>.
var ErrInvalidKey = errors.New("invalid subscription key")

// Kind is the entity a key subscribes to.
type Kind string

const (
	KindJob       Kind = "job"
	KindRecording Kind = "recording"
)

// Key identifies one logical subscription: "job:<id>" or "recording:<id>".
type Key string

// JobKey returns the key for a job id.
func JobKey(jobID int64) Key {
	return Key("job:" + strconv.FormatInt(jobID, 10))
}

// RecordingKey returns the key for a recording id.
func RecordingKey(recordingID int64) Key {
	return Key("recording:" + strconv.FormatInt(recordingID, 10))
}

// ParseKey splits a key into its kind and positive id.
func ParseKey(s string) (Kind, int64, error) {
	if err := validation.GetValidator().Var(s, "subkey"); err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	kind, raw, _ := strings.Cut(s, ":")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Kind(kind), id, nil
}

// Parse returns the key's kind and id.
func (k Key) Parse() (Kind, int64, error) {
	return ParseKey(string(k))
}

func (k Key) String() string {
	return string(k)
}
