package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestIs(t *testing.T) {
	err := LockHeldError("key", "alice", 2*time.Minute)
	if !Is(err, ErrCodeLockHeld) {
		t.Error("expected code match")
	}
	if Is(err, ErrCodeCycle) {
		t.Error("expected code mismatch")
	}
	if Is(nil, ErrCodeLockHeld) {
		t.Error("nil error matches nothing")
	}
	if Is(stderrors.New("plain"), ErrCodeLockHeld) {
		t.Error("plain error matches nothing")
	}
}

func TestIs_Wrapped(t *testing.T) {
	inner := VersionConflictError("key", "3")
	wrapped := fmt.Errorf("put failed: %w", inner)
	if !Is(wrapped, ErrCodeVersionConflict) {
		t.Error("expected code to match through wrapping")
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(ErrCodeBackend, "write failed", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if !Is(err, ErrCodeBackend) {
		t.Error("expected backend code")
	}
	if !strings.Contains(err.Error(), "root cause") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{LockHeldError("k", "alice", time.Minute), true},
		{VersionConflictError("k", "2"), true},
		{LockTimeoutError("k", 5, nil), false},
		{CycleError("dev", []string{"a", "b", "a"}), false},
		{EngineError("opentofu", "apply", stderrors.New("boom")), false},
		{LockExpiredError("k", "alice"), false},
		{stderrors.New("plain"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestCycleError_Message(t *testing.T) {
	err := CycleError("dev", []string{"a", "b", "c", "a"})
	if !Is(err, ErrCodeCycle) {
		t.Fatal("expected cycle code")
	}
	if !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Errorf("expected traversal order in message, got %q", err.Error())
	}
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeValidation, "bad module").WithDetail("module", "vpc")
	if err.Details["module"] != "vpc" {
		t.Errorf("expected detail recorded, got %v", err.Details)
	}
}
