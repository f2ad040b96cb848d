package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeCycleDetected, "would create cycle")
	if CodeOf(err) != CodeCycleDetected {
		t.Fatalf("expected CYCLE_DETECTED, got %s", CodeOf(err))
	}

	wrapped := fmt.Errorf("adding edge: %w", err)
	if CodeOf(wrapped) != CodeCycleDetected {
		t.Fatalf("wrapped error lost its code: %s", CodeOf(wrapped))
	}

	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Fatal("untyped errors must map to INTERNAL")
	}
}

func TestDetails(t *testing.T) {
	err := NotFound("work item", "abc-123")
	if err.Details["id"] != "abc-123" {
		t.Fatalf("missing id detail: %v", err.Details)
	}

	err = Validation("title", "must not be empty")
	if err.Code != CodeValidation {
		t.Fatalf("wrong code: %s", err.Code)
	}
	if err.Details["field"] != "title" {
		t.Fatalf("missing field detail: %v", err.Details)
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(CodeStoreUnavailable, "db locked")) {
		t.Fatal("STORE_UNAVAILABLE should be retryable")
	}
	if Retryable(New(CodeNotFound, "nope")) {
		t.Fatal("NOT_FOUND should not be retryable")
	}
}
