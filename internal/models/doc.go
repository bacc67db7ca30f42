// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

/*
Package models defines data structures for the Coachsync application.

It holds the entities mirrored from the analysis backend, the locally
persisted history entries and the API response envelope. Every other
package shares these definitions.

Model Categories:

1. Realtime Entities:
  - AnalysisJob: Remote analysis job of one video recording
  - AnalysisContent: Analysis text and generated title of a completed job
  - FeedbackItem: One feedback suggestion with its audio and video generation state

2. Wire Rows:
  - JobRow, AnalysisRow, FeedbackRow: Change events and point-read results as
    sent by the backend, validated before conversion

3. History:
  - HistoryEntry: Locally persisted record of an analysis
  - HistoryPatch: Partial update written by the cache writer

4. API Response Models:
  - APIResponse: Standard response wrapper
  - APIError: Error details
  - Metadata: Response metadata (timestamp, correlation ID, cache hit)
  - HistoryPage, PaginationInfo: Paged history listing

Usage Example - Decoding a Row:

	import "github.com/tomtom215/coachsync/internal/models"

	job, err := models.DecodeJob(msg.Data)
	if err != nil {
	    return err // malformed or invalid row
	}
	if job.Status.IsTerminal() {
	    // stop tracking progress
	}

Usage Example - API Response:

	response := models.APIResponse{
	    Status: "success",
	    Data:   page,
	    Metadata: models.Metadata{
	        Timestamp: time.Now(),
	    },
	}

Validation:

Rows carry validate tags checked through internal/validation. Decode
functions reject rows with missing identifiers or unknown status values
instead of passing partial entities on.

Thread Safety:

Models are plain data. Callers that share a value across goroutines copy
it or guard it themselves.
*/
package models
