// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package models

import (
	"strings"
	"testing"
	"time"
)

func TestDecodeJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		wantErr string
		check   func(t *testing.T, j *AnalysisJob)
	}{
		{
			name:    "processing without title",
			payload: `{"id":7,"video_recording_id":42,"status":"processing","progress_percentage":40,"updated_at":"2026-03-02T10:00:00Z"}`,
			check: func(t *testing.T, j *AnalysisJob) {
				if j.ID != 7 || j.VideoRecordingID != 42 || j.Status != JobProcessing {
					t.Errorf("unexpected job %+v", j)
				}
				if j.Title != "" {
					t.Errorf("title = %q, want empty", j.Title)
				}
				if !j.CreatedAt.Equal(j.UpdatedAt) {
					t.Error("missing created_at should fall back to updated_at")
				}
			},
		},
		{
			name:    "completed with null title",
			payload: `{"id":7,"video_recording_id":42,"status":"completed","progress_percentage":100,"title":null}`,
			check: func(t *testing.T, j *AnalysisJob) {
				if !j.Status.IsTerminal() {
					t.Error("completed should be terminal")
				}
			},
		},
		{name: "unknown status", payload: `{"id":7,"video_recording_id":42,"status":"done"}`, wantErr: "invalid job row"},
		{name: "missing id", payload: `{"video_recording_id":42,"status":"queued"}`, wantErr: "invalid job row"},
		{name: "progress out of range", payload: `{"id":1,"video_recording_id":2,"status":"queued","progress_percentage":140}`, wantErr: "invalid job row"},
		{name: "malformed", payload: `{"id":`, wantErr: "decode job row"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job, err := DecodeJob([]byte(tt.payload))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeJob() error = %v", err)
			}
			tt.check(t, job)
		})
	}
}

func TestDecodeAnalysis(t *testing.T) {
	t.Parallel()

	c, err := DecodeAnalysis([]byte(`{"job_id":7,"analysis_id":"3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11","title":"  Strong stance  "}`))
	if err != nil {
		t.Fatalf("DecodeAnalysis() error = %v", err)
	}
	if c.Title != "Strong stance" || !c.HasTitle() {
		t.Errorf("title = %q", c.Title)
	}

	c, err = DecodeAnalysis([]byte(`{"job_id":7,"full_feedback_text":"Keep your elbow in."}`))
	if err != nil {
		t.Fatalf("DecodeAnalysis() error = %v", err)
	}
	if !c.HasTitle() || c.AnalysisID != "" {
		t.Errorf("full text alone should count as title content: %+v", c)
	}

	empty, err := DecodeAnalysis([]byte(`{"job_id":7}`))
	if err != nil {
		t.Fatal(err)
	}
	if !empty.IsEmpty() {
		t.Error("payload without content should be empty")
	}

	if _, err := DecodeAnalysis([]byte(`{"job_id":7,"analysis_id":"not-a-uuid"}`)); err == nil {
		t.Error("expected uuid validation failure")
	}
}

func TestDecodeFeedback(t *testing.T) {
	t.Parallel()

	payload := `{"id":"f1","analysis_id":"3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11","timestamp":1500,
		"text":"Relax your shoulders","type":"suggestion","category":"posture",
		"ssml_status":"completed","audio_status":"completed","confidence":0.8,
		"audio_url":"https://cdn.example/f1.mp3","audio_duration_ms":4200,"user_rating":"up"}`
	item, err := DecodeFeedback([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeFeedback() error = %v", err)
	}
	if !item.IsFullyCompleted() || !item.HasNarration() {
		t.Errorf("unexpected item %+v", item)
	}
	if item.AudioDurationMs != 4200 || item.UserRating != RatingUp {
		t.Errorf("unexpected narration fields %+v", item)
	}

	round, err := EncodeFeedback(item)
	if err != nil {
		t.Fatal(err)
	}
	again, err := DecodeFeedback(round)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if *again != *item {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", again, item)
	}

	bad := []string{
		`{"id":"f1","analysis_id":"3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11","type":"praise","category":"posture","ssml_status":"queued","audio_status":"queued"}`,
		`{"id":"f1","analysis_id":"3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11","type":"positive","category":"posture","ssml_status":"queued","audio_status":"queued","confidence":1.5}`,
		`{"id":"f1","analysis_id":"3f1c1a4e-8d44-4e55-9d43-8c1d2f6f0a11","type":"positive","category":"posture","ssml_status":"queued","audio_status":"queued","user_rating":"meh"}`,
	}
	for _, p := range bad {
		if _, err := DecodeFeedback([]byte(p)); err == nil {
			t.Errorf("expected failure for %s", p)
		}
	}
}

func TestSortFeedback(t *testing.T) {
	t.Parallel()

	items := []FeedbackItem{
		{ID: "c", TimestampMs: 3000},
		{ID: "b", TimestampMs: 1000},
		{ID: "a", TimestampMs: 1000},
		{ID: "d", TimestampMs: 0},
	}
	SortFeedback(items)

	got := make([]string, len(items))
	for i := range items {
		got[i] = items[i].ID
	}
	if strings.Join(got, ",") != "d,a,b,c" {
		t.Errorf("order = %v, want d,a,b,c", got)
	}
}

func TestHistoryPatchApply(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	e := HistoryEntry{ID: 7, Title: "Processing…", TitleSource: TitlePlaceholder, Status: JobProcessing}
	title := "Analysis Mar 2, 2026"
	src := TitleFallback
	status := JobCompleted
	p := HistoryPatch{Title: &title, TitleSource: &src, Status: &status, UpdatedAt: now}
	p.Apply(&e)

	if e.Title != title || e.TitleSource != TitleFallback || e.Status != JobCompleted {
		t.Errorf("patch not applied: %+v", e)
	}
	if e.ID != 7 {
		t.Error("identity must not change")
	}
	if !e.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v", e.UpdatedAt)
	}
}
