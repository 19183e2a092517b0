package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := NewRemoteError("MODEL_UNAVAILABLE", "backend is down", "run_1")
	if got := err.Error(); !strings.Contains(got, "remote_error") || !strings.Contains(got, "MODEL_UNAVAILABLE") {
		t.Fatalf("Error() = %q, want type and code present", got)
	}
	if err.RunID != "run_1" {
		t.Fatalf("RunID = %q, want run_1", err.RunID)
	}

	plain := NewNotConnectedError("no transport")
	if got := plain.Error(); strings.Contains(got, "code:") {
		t.Fatalf("Error() = %q, want no code segment", got)
	}
}

func TestEmitFailedUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("broken pipe")
	err := NewEmitFailedError(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if !IsType(err, ErrEmitFailed) {
		t.Fatalf("expected IsType(ErrEmitFailed)")
	}
}

func TestIsTypeThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("start capture: %w", NewSubscriptionError("stt join refused"))
	if !IsType(err, ErrSubscription) {
		t.Fatalf("expected subscription error through %%w wrapping")
	}
	if IsType(err, ErrInterrupted) {
		t.Fatalf("unexpected interrupted match")
	}
	if IsType(errors.New("plain"), ErrRemote) {
		t.Fatalf("plain errors must not match")
	}
}

func TestRemoteErrorDefaultsMessage(t *testing.T) {
	t.Parallel()

	err := NewRemoteError("E_FAIL", "", "")
	if err.Message != "unknown error" {
		t.Fatalf("Message = %q, want default", err.Message)
	}
}
