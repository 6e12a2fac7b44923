package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/steward-ai/steward/pkg/fault"
)

// classifyStatus maps a provider HTTP status to a fault kind. Auth and
// rate-limit statuses get their own kinds so the dispatcher can decide
// retryability; remaining 4xx are treated as non-retryable model errors
// and 5xx as retryable internal failures.
func classifyStatus(status int) fault.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.KindAuthentication
	case status == http.StatusTooManyRequests:
		return fault.KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fault.KindTimeout
	case status >= 500:
		return fault.KindInternal
	default:
		return fault.KindModelError
	}
}

// statusError builds the fault for a non-2xx provider response, keeping a
// truncated body excerpt for diagnostics.
func statusError(provider string, status int, body []byte) error {
	excerpt := string(body)
	if len(excerpt) > 512 {
		excerpt = excerpt[:512]
	}
	return fault.New(classifyStatus(status), "%s returned status %d: %s", provider, status, excerpt)
}

// transportError classifies a failed round trip: context expiry maps to
// timeout/cancelled, everything else is a network fault.
func transportError(provider string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Wrap(fault.KindTimeout, err, "%s call timed out", provider)
	case errors.Is(err, context.Canceled):
		return fault.Wrap(fault.KindCancelled, err, "%s call cancelled", provider)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.Wrap(fault.KindTimeout, err, "%s call timed out", provider)
	}
	return fault.Wrap(fault.KindNetwork, err, "%s call failed", provider)
}

// decodeError wraps a response-body decode failure. A provider that
// returns 2xx with an unparseable body is misbehaving, not unreachable.
func decodeError(provider string, err error) error {
	return fault.Wrap(fault.KindModelError, err, "%s returned malformed response", provider)
}
