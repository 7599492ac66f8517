// Package errors provides the coordinator's error taxonomy as a
// kind-carrying error type with cause chaining.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kind classifies a failure for callers that branch on failure class
// rather than message text.
type Kind string

const (
	// KindValidation marks a request rejected before any upstream call.
	KindValidation Kind = "VALIDATION"
	// KindUpstreamTimeout marks a local giveup on a blocking gateway call.
	// The remote outcome is ambiguous, not a confirmed failure; callers must
	// reconcile via refresh or the event stream.
	KindUpstreamTimeout Kind = "UPSTREAM_TIMEOUT"
	// KindUpstreamRejection marks an explicit gateway failure response.
	KindUpstreamRejection Kind = "UPSTREAM_REJECTION"
	// KindDuplicateSubscription marks an add for a (window, key) pair that
	// already holds a record. Informational, not exceptional.
	KindDuplicateSubscription Kind = "DUPLICATE_SUBSCRIPTION"
	// KindNotSubscribed marks an unsubscribe/cancel target that is absent.
	KindNotSubscribed Kind = "NOT_SUBSCRIBED"
	// KindInternal marks everything else.
	KindInternal Kind = "INTERNAL"
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error classification
	Kind Kind `json:"kind"`
	// Message is the human readable string that indicates the error
	Message string `json:"message"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithTrace captures the current stack on the error. Used at task
// boundaries where the original call site would otherwise be lost.
func (e *Error) WithTrace() *Error {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	e.trace = buf[:n]
	return e
}

// Trace returns the captured stack, if any.
func (e *Error) Trace() []byte { return e.trace }

// KindOf extracts the Kind from an error chain. Non-taxonomy errors
// report KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
