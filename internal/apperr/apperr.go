// Package apperr defines the structured application error used on every API
// boundary: a stable machine-readable kind, a numeric code for the unified
// response wrapper, and an optional trace id for correlation.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable error classification.
type Kind string

const (
	// Validation.
	KindInvalidParams Kind = "invalid_params"
	KindBadMode       Kind = "bad_mode"
	KindRangeExceeded Kind = "range_exceeded"

	// Authorization.
	KindNotAuthorized     Kind = "not_authorized"
	KindAdminRequired     Kind = "admin_required"
	KindTaskNotAuthorized Kind = "task_not_authorized"

	// Idempotency / limits.
	KindIdempotencyConflict Kind = "idempotency_conflict"
	KindRateLimited         Kind = "rate_limited"
	KindQueueFull           Kind = "queue_full"

	// External dependencies.
	KindLLMTimeout          Kind = "llm_timeout"
	KindLLMRateLimit        Kind = "llm_rate_limit"
	KindLLMInvalidOutput    Kind = "llm_invalid_output"
	KindLLMProviderError    Kind = "llm_provider_error"
	KindPoiProviderError    Kind = "poi_provider_error"
	KindMemoryProviderError Kind = "memory_provider_error"

	// Planner.
	KindPlanFailed      Kind = "plan_failed"
	KindDeepUnsupported Kind = "deep_unsupported"
	KindDeepPlanFailed  Kind = "deep_plan_failed"

	// Persistence.
	KindDBConflict         Kind = "db_conflict"
	KindPersistenceFailed  Kind = "persistence_failed"
	KindNotFound           Kind = "not_found"
	KindUserMissing        Kind = "user_missing"

	// Cancellation.
	KindCancelled     Kind = "cancelled"
	KindWorkerRestart Kind = "worker_restart"

	// Unknown.
	KindInternal Kind = "internal"
)

// Error is the structured application error. Code drives the unified
// response wrapper; Kind is the stable string exposed inside data.
type Error struct {
	Kind    Kind
	Code    int
	Msg     string
	TraceID string
	Data    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// WithTrace attaches a trace id and returns the error for chaining.
func (e *Error) WithTrace(traceID string) *Error {
	e.TraceID = traceID
	return e
}

// WithData attaches extra payload fields surfaced to the caller.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

// WithCause records the underlying error for Unwrap chains.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New builds an Error with the canonical code for kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Code: CodeFor(kind), Msg: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap builds an Error around an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: CodeFor(kind), Msg: msg, cause: cause}
}

// AsError extracts an *Error from err, or nil when err carries none.
func AsError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	appErr := AsError(err)
	return appErr != nil && appErr.Kind == kind
}

// Normalize returns err as an *Error, wrapping unknown errors as internal.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	if appErr := AsError(err); appErr != nil {
		return appErr
	}
	return Wrap(KindInternal, "internal error", err)
}
