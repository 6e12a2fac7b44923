package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindIsValid(t *testing.T) {
	valid := []Kind{
		KindTimeout, KindRateLimit, KindNetwork, KindAuthentication,
		KindModelError, KindInternal, KindValidation, KindBudgetExceeded,
		KindUpstreamFailed, KindCancelled,
	}
	for _, k := range valid {
		assert.True(t, k.IsValid(), "kind %s should be valid", k)
	}
	assert.False(t, Kind("unknown").IsValid())
	assert.False(t, Kind("").IsValid())
}

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{KindTimeout, true},
		{KindRateLimit, true},
		{KindNetwork, true},
		{KindInternal, true},
		{KindAuthentication, false},
		{KindModelError, false},
		{KindValidation, false},
		{KindBudgetExceeded, false},
		{KindUpstreamFailed, false},
		{KindCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := New(KindRateLimit, "provider %s throttled", "deepseek")
	assert.Equal(t, "rate_limit: provider deepseek throttled", err.Error())

	bare := &Error{Kind: KindTimeout}
	assert.Equal(t, "timeout", bare.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindNetwork, cause, "dial failed")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindNetwork, KindOf(err))

	// Kind survives further wrapping.
	outer := fmt.Errorf("dispatch: %w", err)
	assert.Equal(t, KindNetwork, KindOf(outer))
	assert.True(t, Is(outer, KindNetwork))
}

func TestKindOfContextErrors(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
