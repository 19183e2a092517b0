package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error carried across the session protocol surface.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	RunID   string    `json:"run_id,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrNotConnected is returned when an operation is attempted before a
	// live transport connection exists.
	ErrNotConnected ErrorType = "not_connected"
	// ErrInvalidArgument is returned for missing or empty required fields.
	ErrInvalidArgument ErrorType = "invalid_argument"
	// ErrEmitFailed wraps a transport write failure.
	ErrEmitFailed ErrorType = "emit_failed"
	// ErrInterrupted marks a run cancelled by request.
	ErrInterrupted ErrorType = "interrupted"
	// ErrRemote carries a failure reported by the remote service for the
	// active run.
	ErrRemote ErrorType = "remote_error"
	// ErrSubscription marks a join/leave handshake whose acknowledgement
	// carried an error field.
	ErrSubscription ErrorType = "subscription_error"
	// ErrConnection marks a failed or timed-out initial connection attempt.
	ErrConnection ErrorType = "connection_error"
	// ErrDisconnected settles a run abandoned by transport loss.
	ErrDisconnected ErrorType = "disconnected"
	// ErrRunActive rejects starting a run while one is already active.
	ErrRunActive ErrorType = "run_active"
)

// NewNotConnectedError creates a not-connected error.
func NewNotConnectedError(message string) *Error {
	return &Error{Type: ErrNotConnected, Message: message}
}

// NewInvalidArgumentError creates an invalid-argument error.
func NewInvalidArgumentError(message string) *Error {
	return &Error{Type: ErrInvalidArgument, Message: message}
}

// NewEmitFailedError wraps a transport write failure.
func NewEmitFailedError(cause error) *Error {
	return &Error{
		Type:    ErrEmitFailed,
		Message: fmt.Sprintf("emit failed: %v", cause),
		cause:   cause,
	}
}

// NewInterruptedError marks a run as cancelled.
func NewInterruptedError(runID string) *Error {
	return &Error{Type: ErrInterrupted, Message: "run interrupted", RunID: runID}
}

// NewRemoteError carries a server-reported run failure.
func NewRemoteError(code, message, runID string) *Error {
	if message == "" {
		message = "unknown error"
	}
	return &Error{Type: ErrRemote, Message: message, Code: code, RunID: runID}
}

// NewSubscriptionError marks a failed join/leave acknowledgement.
func NewSubscriptionError(message string) *Error {
	return &Error{Type: ErrSubscription, Message: message}
}

// NewConnectionError marks a failed initial connection attempt.
func NewConnectionError(message string, cause error) *Error {
	return &Error{Type: ErrConnection, Message: message, cause: cause}
}

// NewDisconnectedError settles a run abandoned by transport loss.
func NewDisconnectedError(runID string) *Error {
	return &Error{Type: ErrDisconnected, Message: "transport disconnected", RunID: runID}
}

// NewRunActiveError rejects a run started while one is active.
func NewRunActiveError(runID string) *Error {
	return &Error{Type: ErrRunActive, Message: "a run is already active", RunID: runID}
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// IsType reports whether err is a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Type == t
}
