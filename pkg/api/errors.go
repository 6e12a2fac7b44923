package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steward-ai/steward/pkg/fault"
)

// statusFor maps fault kinds to HTTP status codes. Kinds without a
// dedicated mapping surface as 503: the gateway is not the origin of
// those failures.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindAuthentication:
		return http.StatusUnauthorized
	case fault.KindBudgetExceeded:
		return http.StatusPaymentRequired
	case fault.KindRateLimit:
		return http.StatusTooManyRequests
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

// writeFault renders an error response. Only the fault's caller-safe
// message is exposed; wrapped provider detail never leaves the process.
func writeFault(c *gin.Context, err error, extra ...gin.H) {
	kind := fault.KindOf(err)
	body := gin.H{
		"kind":    kind,
		"message": faultMessage(err),
	}
	for _, h := range extra {
		for k, v := range h {
			body[k] = v
		}
	}
	c.JSON(statusFor(kind), gin.H{"error": body})
}

func faultMessage(err error) string {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return "internal error"
}
