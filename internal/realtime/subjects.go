// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package realtime

import (
	"strconv"
	"strings"
)

// Subjects builds the NATS subjects used by every provider.
//
//	<prefix>.jobs.<jobId>
//	<prefix>.recordings.<recordingId>.jobs
//	<prefix>.analyses.<jobId>
//	<prefix>.feedback.<analysisId>.<feedbackId>
//	<prefix>.commands.feedback.retry
//	<prefix>.commands.feedback.rating
type Subjects struct {
	Prefix string
}

func (s Subjects) join(tokens ...string) string {
	return s.Prefix + "." + strings.Join(tokens, ".")
}

// Job is the channel of one job.
func (s Subjects) Job(jobID int64) string {
	return s.join("jobs", strconv.FormatInt(jobID, 10))
}

// RecordingJobs carries every job row of a recording.
func (s Subjects) RecordingJobs(recordingID int64) string {
	return s.join("recordings", strconv.FormatInt(recordingID, 10), "jobs")
}

// Analysis carries title and summary content for a job.
func (s Subjects) Analysis(jobID int64) string {
	return s.join("analyses", strconv.FormatInt(jobID, 10))
}

// Feedback is the subject of one feedback item.
func (s Subjects) Feedback(analysisID, feedbackID string) string {
	return s.join("feedback", analysisID, feedbackID)
}

// FeedbackAll matches every item of an analysis.
func (s Subjects) FeedbackAll(analysisID string) string {
	return s.join("feedback", analysisID, "*")
}

// RetryCommand is the request subject for feedback regeneration.
func (s Subjects) RetryCommand() string {
	return s.join("commands", "feedback", "retry")
}

// RatingCommand is the request subject for rating submissions.
func (s Subjects) RatingCommand() string {
	return s.join("commands", "feedback", "rating")
}

// StreamSubjects lists the filters the JetStream stream captures. Commands
// are request/reply and stay out of the stream.
func (s Subjects) StreamSubjects() []string {
	return []string{
		s.join("jobs", "*"),
		s.join("recordings", "*", "jobs"),
		s.join("analyses", "*"),
		s.join("feedback", "*", "*"),
	}
}

// MatchSubject reports whether subject matches pattern using NATS wildcard
// rules: "*" matches one token and a trailing ">" matches one or more.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
