package engine

import (
	"context"
	"time"
)

// withRetry runs fn up to maxRetries+1 times. The wait before retry n is
// n*backoff. Only errors accepted by retryable are retried.
func withRetry(ctx context.Context, maxRetries int, backoff time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !retryable(err) || ctx.Err() != nil {
			return err
		}

		timer := time.NewTimer(time.Duration(attempt+1) * backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
