package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Retry calls fn until it succeeds, fails with an error retryable rejects, or
// maxRetries extra attempts have been made. Attempts are spaced with
// exponential backoff starting at baseDelay. The core never retries on its
// own; callers opt in through this helper.
func Retry(ctx context.Context, maxRetries int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	err := fn()
	for i := 0; i < maxRetries; i++ {
		if err == nil || (retryable != nil && !retryable(err)) {
			return err
		}
		zap.L().Debug("retrying call", zap.Int("attempt", i+1), zap.Error(err))

		timer := time.NewTimer(baseDelay * time.Duration(1<<i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = fn()
	}
	return err
}
