package calendar

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassifyRateLimit(t *testing.T) {
	dec := Classify(&APIError{Op: "notion query", Status: 429, RetryAfter: 12 * time.Second})
	assert.True(t, dec.ShouldRetry)
	assert.True(t, dec.IsRateLimit)
	assert.Equal(t, 12*time.Second, dec.RetryAfter)
}

func TestClassifyRateLimitWithoutHeader(t *testing.T) {
	dec := Classify(&APIError{Op: "notion query", Status: 429})
	assert.True(t, dec.ShouldRetry)
	assert.Equal(t, defaultBackoff, dec.RetryAfter)
}

func TestClassifyServerError(t *testing.T) {
	dec := Classify(&APIError{Op: "gcal insert", Status: 503})
	assert.True(t, dec.ShouldRetry)
	assert.False(t, dec.IsRateLimit)
	assert.Equal(t, defaultBackoff, dec.RetryAfter)
}

func TestClassifyClientErrorIsPermanent(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404} {
		dec := Classify(&APIError{Op: "gcal update", Status: status})
		assert.False(t, dec.ShouldRetry, "status %d", status)
	}
}

func TestClassifyNetworkError(t *testing.T) {
	dec := Classify(&net.DNSError{Err: "no such host", Name: "api.notion.com", IsTimeout: true})
	assert.True(t, dec.ShouldRetry)
	assert.False(t, dec.IsRateLimit)
}

func TestClassifyUnknownError(t *testing.T) {
	assert.False(t, Classify(errors.New("boom")).ShouldRetry)
}

func TestClassifyWrappedAPIError(t *testing.T) {
	wrapped := errors.Join(errors.New("outer"), &APIError{Op: "notion query", Status: 500})
	assert.True(t, Classify(wrapped).ShouldRetry)
}

func TestRetryCallRecoversTransientFailure(t *testing.T) {
	calls := 0
	v, err := retryCall(context.Background(), zap.NewNop(), "op", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &APIError{Op: "op", Status: 429, RetryAfter: time.Millisecond}
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 3, calls)
}

func TestRetryCallStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := retryCall(context.Background(), zap.NewNop(), "op", func() (int, error) {
		calls++
		return 0, &APIError{Op: "op", Status: 404}
	})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestRetryCallGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := retryCall(context.Background(), zap.NewNop(), "op", func() (int, error) {
		calls++
		return 0, &APIError{Op: "op", Status: 429, RetryAfter: time.Millisecond}
	})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
}

func TestRetryCallHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retryCall(ctx, zap.NewNop(), "op", func() (int, error) {
		return 0, &APIError{Op: "op", Status: 500, RetryAfter: time.Minute}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
