// Coachsync - Video Coaching Feedback Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coachsync

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	t.Parallel()

	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

type subscribeRequest struct {
	Key    string `validate:"required,subkey"`
	Rating string `validate:"rating"`
	Limit  int    `validate:"min=1,max=100"`
	Status string `validate:"omitempty,oneof=queued processing completed failed"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   subscribeRequest
		wantTag string
	}{
		{"valid job key", subscribeRequest{Key: "job:7", Limit: 1}, ""},
		{"valid recording key", subscribeRequest{Key: "recording:42", Rating: "up", Limit: 100}, ""},
		{"missing id", subscribeRequest{Key: "job:", Limit: 1}, "subkey"},
		{"unknown kind", subscribeRequest{Key: "analysis:1", Limit: 1}, "subkey"},
		{"no separator", subscribeRequest{Key: "recording42", Limit: 1}, "subkey"},
		{"bad rating", subscribeRequest{Key: "job:1", Rating: "meh", Limit: 1}, "rating"},
		{"limit too high", subscribeRequest{Key: "job:1", Limit: 101}, "max"},
		{"bad status", subscribeRequest{Key: "job:1", Limit: 1, Status: "done"}, "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.input)
			if tt.wantTag == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected %s failure", tt.wantTag)
			}
			if got := err.Errors()[0].Tag(); got != tt.wantTag {
				t.Errorf("tag = %q, want %q", got, tt.wantTag)
			}
		})
	}
}

func TestValidate_NilOnSuccess(t *testing.T) {
	t.Parallel()

	if err := Validate(&subscribeRequest{Key: "job:1", Limit: 5}); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if err := Validate(&subscribeRequest{}); err == nil {
		t.Fatal("Validate() should fail for empty request")
	}
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	err := ValidateStruct(&subscribeRequest{Key: "x", Limit: 0})
	if err == nil {
		t.Fatal("expected errors")
	}
	api := err.ToAPIError()
	if api.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", api.Code)
	}
	if _, ok := api.Details["fields"]; !ok {
		t.Errorf("multiple errors should list fields, got %v", api.Details)
	}
	if !strings.Contains(api.Message, "job:<id> or recording:<id>") {
		t.Errorf("message = %q", api.Message)
	}
}
