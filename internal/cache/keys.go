// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package cache

import (
	"strconv"
	"strings"
)

// Key is a composite cache key. Keys compare segment-wise, so
// ["analysis","jobs","7"] is under prefix ["analysis","jobs"] but
// ["analysis","jobs7"] is not.
type Key []string

// K builds a Key from segments.
func K(parts ...string) Key {
	return Key(parts)
}

// String returns the key's canonical form, used as the map key.
func (k Key) String() string {
	return strings.Join(k, "\x1f")
}

// HasPrefix reports whether every segment of prefix matches k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// JobKey addresses a job by id.
func JobKey(jobID int64) Key {
	return K("analysis", "jobs", strconv.FormatInt(jobID, 10))
}

// RecordingJobKey addresses the latest job known for a recording.
func RecordingJobKey(recordingID int64) Key {
	return K("analysis", "recordings", strconv.FormatInt(recordingID, 10), "job")
}

// HistoryPrefix covers every paged history list.
func HistoryPrefix() Key {
	return K("analysis", "history")
}

// HistoryPageKey addresses one page of the history list (page 0 is newest).
func HistoryPageKey(page int) Key {
	return K("analysis", "history", "page", strconv.Itoa(page))
}

// FeedbackKey addresses the ordered feedback list of an analysis.
func FeedbackKey(analysisID string) Key {
	return K("analysis", "feedback", analysisID)
}
