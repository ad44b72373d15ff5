package harvest

import (
	"context"
	"time"
)

// linearRetryPolicy spaces attempts with a delay that grows linearly with
// the attempt number: BaseDelay after the first failure, 2×BaseDelay after
// the second, and so on. maxAttempts counts total attempts, not re-tries.
type linearRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// backoff returns the wait before the attempt following failedAttempt
// (1-based).
func (p linearRetryPolicy) backoff(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	return p.baseDelay * time.Duration(failedAttempt)
}

// sleepCtx waits for d or until the context ends, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
