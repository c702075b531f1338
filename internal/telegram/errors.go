package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies transport failures so callers can pick a retry policy.
type ErrorKind string

const (
	// KindTransientNetwork covers disconnects, timeouts and other failures
	// that are expected to clear on retry.
	KindTransientNetwork ErrorKind = "TRANSIENT_NETWORK"
	// KindRateLimited means the transport asked us to slow down. RetryAfter
	// carries the server-provided delay hint when one was given.
	KindRateLimited ErrorKind = "RATE_LIMITED"
	// KindUnauthorized means the session credentials are no longer valid.
	// Never retried.
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	// KindTargetNotFound means a send target did not resolve to any peer.
	KindTargetNotFound ErrorKind = "TARGET_NOT_FOUND"
	// KindUnsupportedEvent marks a raw event the normalizer does not
	// recognize. Logged and dropped, never fatal.
	KindUnsupportedEvent ErrorKind = "UNSUPPORTED_EVENT_KIND"
)

// Error is a classified transport error.
type Error struct {
	Kind       ErrorKind
	Msg        string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Errf builds a classified error with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind from err, unwrapping as needed.
// Deadline and cancellation errors count as transient network failures so
// bounded transport timeouts feed the normal retry path.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}
	return ""
}

// Retryable reports whether the error should be retried with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindRateLimited:
		return true
	}
	return false
}

// RetryHint returns the transport-provided delay for rate-limited errors,
// or zero if none applies.
func RetryHint(err error) time.Duration {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindRateLimited {
		return te.RetryAfter
	}
	return 0
}
