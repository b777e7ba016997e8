package session

import (
	"errors"
	"fmt"
)

// Kind identifies a coordination failure. Kinds are stable API surface:
// callers branch on them and the HTTP layer maps them to status codes.
type Kind string

const (
	KindNotInQueue             Kind = "NOT_IN_QUEUE"
	KindAlreadyQueued          Kind = "ALREADY_QUEUED"
	KindNotYourTurn            Kind = "NOT_YOUR_TURN"
	KindSessionInProgress      Kind = "SESSION_IN_PROGRESS"
	KindDeviceOffline          Kind = "DEVICE_OFFLINE"
	KindDeviceNotReady         Kind = "DEVICE_NOT_READY"
	KindHardwareNotReady       Kind = "HARDWARE_NOT_READY"
	KindInsufficientCredits    Kind = "INSUFFICIENT_CREDITS"
	KindCommandEnqueueFailed   Kind = "COMMAND_ENQUEUE_FAILED"
	KindCommandTimeout         Kind = "COMMAND_TIMEOUT"
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
)

// Error is a coordination failure with a stable kind and a human-readable
// reason. Business-rule violations surface verbatim to the caller; only
// concurrent-modification conflicts are retried before surfacing.
type Error struct {
	Kind   Kind
	Reason string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// newError creates a coordination error
func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error, or "" for non-coordination errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
