package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const maxRetries = 3

// retryableError marks a response that should be retried with backoff
type retryableError struct {
	status int
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("retryable broker response: status %d", e.status)
}

// classifyStatus converts an HTTP status into an error category.
// 429 and 5xx are retryable; everything else surfaces directly.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &retryableError{status: status}
	case status >= 500:
		return &retryableError{status: status}
	case status == http.StatusUnauthorized:
		return ErrAuthFailed
	case status >= 400:
		return fmt.Errorf("broker rejected request: status %d", status)
	default:
		return nil
	}
}

// doWithRetry runs fn up to maxRetries+1 times, backing off 2s, 4s, 8s on
// retryable failures. The final retryable failure maps to
// ErrBrokerUnavailable, wrapping ErrRateLimited when the last status was 429
// so the rate coordinator learns about the cooldown.
func doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := 2 * time.Second

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var re *retryableError
		if !errors.As(lastErr, &re) {
			return lastErr
		}
		if attempt == maxRetries {
			if re.status == http.StatusTooManyRequests {
				return fmt.Errorf("%w: %w", ErrBrokerUnavailable, ErrRateLimited)
			}
			return fmt.Errorf("%w: status %d", ErrBrokerUnavailable, re.status)
		}
	}
	return lastErr
}
