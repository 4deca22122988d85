// Package orcherrors provides the orchestrator's structured error taxonomy.
// OrchError preserves error chains and supports errors.Is/As while carrying
// a Kind that every component can switch on without a separate retryable
// bool threaded through call signatures.
package orcherrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the taxonomy's stable categories.
// Kind values are error kinds, not Go type names: two OrchErrors with the
// same Kind may wrap different underlying causes.
type Kind string

const (
	// ConfigInvalid marks a malformed registry or a missing required
	// capability. Fatal at startup; never recovered.
	ConfigInvalid Kind = "config_invalid"
	// ClassificationUnavailable marks a classifier upstream (LLM) failure.
	// Recovered by falling back to a default source.
	ClassificationUnavailable Kind = "classification_unavailable"
	// PlanInvalid marks a DAG or capability check failure. Surfaced to the
	// caller; execution never starts.
	PlanInvalid Kind = "plan_invalid"
	// AdapterTransport marks a transient network or throttling failure.
	// Retried with backoff.
	AdapterTransport Kind = "adapter_transport"
	// AdapterPermanent marks an auth, bad-query, or schema-mismatch failure.
	// Not retried; the operation moves to FAILED.
	AdapterPermanent Kind = "adapter_permanent"
	// Timeout marks a deadline exceeded. The operation moves to CANCELLED;
	// partial results are preserved unless fail_fast was requested.
	Timeout Kind = "timeout"
	// Cancelled marks a caller-initiated or higher-level cancellation.
	// Terminal.
	Cancelled Kind = "cancelled"
	// AggregationFailed marks an unexpected error merging results.
	// Surfaced as complete.success=false.
	AggregationFailed Kind = "aggregation_failed"
	// NotFound marks a missing session or source. Also returned for
	// cross-caller access attempts, to avoid existence-leaks.
	NotFound Kind = "not_found"
)

// retryableKinds lists the kinds the executor should retry with backoff.
var retryableKinds = map[Kind]bool{
	AdapterTransport: true,
}

// Retryable reports whether an error of this kind should be retried by the
// executor. Only AdapterTransport is retryable; every other kind is either
// terminal or already the result of exhausting retries.
func (k Kind) Retryable() bool { return retryableKinds[k] }

// OrchError is the orchestrator's structured error type. It carries a Kind
// for taxonomy-based handling, a human-readable Message, and an optional
// Cause forming a chain that supports errors.Is/As via Unwrap.
type OrchError struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an OrchError of the given kind with a message.
func New(kind Kind, message string) *OrchError {
	return &OrchError{Kind: kind, Message: message}
}

// Newf constructs an OrchError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *OrchError {
	return &OrchError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an OrchError of the given kind that chains an existing
// cause. If message is empty, the cause's error text is used.
func Wrap(kind Kind, message string, cause error) *OrchError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &OrchError{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *OrchError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *OrchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *OrchError with the same Kind, letting
// callers write errors.Is(err, orcherrors.New(orcherrors.Timeout, "")).
func (e *OrchError) Is(target error) bool {
	var oe *OrchError
	if !errors.As(target, &oe) {
		return false
	}
	return oe.Kind == e.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *OrchError, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	var oe *OrchError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return "", false
}

// Retryable reports whether err should be retried by the executor. Errors
// that are not an *OrchError are treated as non-retryable.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind.Retryable()
}
