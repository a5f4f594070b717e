package resolver

import (
	"context"
	"errors"
	"time"
)

const (
	maxRetries   = 2
	initialDelay = 500 * time.Millisecond
)

// withRetry runs fn, retrying only rate-limit failures with doubling
// backoff, at most maxRetries times beyond the first attempt.
func withRetry(ctx context.Context, fn func() error) error {
	delay := initialDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, ErrRateLimited) || attempt == maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
