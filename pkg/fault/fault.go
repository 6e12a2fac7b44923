// Package fault defines the closed error taxonomy shared by the router,
// dispatcher, budget enforcer, orchestrator, and API surface. Every error
// that crosses a component boundary carries exactly one Kind.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry and surfacing decisions.
type Kind string

const (
	// KindTimeout means an operation exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindRateLimit means a provider returned a too-many-requests signal.
	KindRateLimit Kind = "rate_limit"
	// KindNetwork means a connection, DNS, reset, or refused failure.
	KindNetwork Kind = "network"
	// KindAuthentication means a provider rejected credentials or forbade the request.
	KindAuthentication Kind = "authentication"
	// KindModelError means the provider reported the requested model as
	// invalid, removed, or inconsistent with the call options.
	KindModelError Kind = "model_error"
	// KindInternal means a provider 5xx-equivalent or malformed payload.
	KindInternal Kind = "internal"
	// KindValidation means the input was rejected before dispatch.
	KindValidation Kind = "validation"
	// KindBudgetExceeded means the quota enforcer rejected the request pre-dispatch.
	KindBudgetExceeded Kind = "budget_exceeded"
	// KindUpstreamFailed means a dependency's failure terminated a downstream task.
	// Only the orchestrator produces this kind.
	KindUpstreamFailed Kind = "upstream_failed"
	// KindCancelled means cooperative cancellation from a parent.
	KindCancelled Kind = "cancelled"
)

// IsValid checks if the kind is one of the closed set.
func (k Kind) IsValid() bool {
	switch k {
	case KindTimeout, KindRateLimit, KindNetwork, KindAuthentication,
		KindModelError, KindInternal, KindValidation, KindBudgetExceeded,
		KindUpstreamFailed, KindCancelled:
		return true
	default:
		return false
	}
}

// Retryable reports whether the dispatcher may retry an error of this kind.
// validation and budget_exceeded never enter the retry path.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimit, KindNetwork, KindInternal:
		return true
	default:
		return false
	}
}

// Error is the taxonomy-carrying error type. Message is safe to surface to
// callers; the wrapped cause may contain provider detail and must not leave
// the process unredacted.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New creates a fault of the given kind with a caller-safe message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Errors without a fault in
// the chain classify as internal; context cancellation and deadline errors
// are recognized even when unwrapped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether the error chain contains a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
