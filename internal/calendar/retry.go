package calendar

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// APIError is a non-2xx response from Notion or Google.
type APIError struct {
	Op         string
	Status     int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// RetryDecision is the sync loop's verdict on a failed API call.
type RetryDecision struct {
	ShouldRetry bool
	RetryAfter  time.Duration
	IsRateLimit bool
}

const defaultBackoff = 5 * time.Second

// Classify maps an upstream error onto a retry policy: 429 retries
// after the server-stated delay, 5xx and network errors retry after a
// default backoff, any other 4xx is permanent.
func Classify(err error) RetryDecision {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 429:
			after := apiErr.RetryAfter
			if after <= 0 {
				after = defaultBackoff
			}
			return RetryDecision{ShouldRetry: true, RetryAfter: after, IsRateLimit: true}
		case apiErr.Status >= 500:
			return RetryDecision{ShouldRetry: true, RetryAfter: defaultBackoff}
		default:
			return RetryDecision{}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return RetryDecision{ShouldRetry: true, RetryAfter: defaultBackoff}
	}
	return RetryDecision{}
}
