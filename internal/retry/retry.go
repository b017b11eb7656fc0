// Package retry wraps a fallible operation with bounded retry and
// exponential backoff. It is scoped to single external invocations (one
// install command, one network call); the queue and the orchestrator carry
// their own, independent retry budgets.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	baseDelay = 1000 * time.Millisecond
	maxDelay  = 10000 * time.Millisecond
)

// AttemptError records one failed attempt.
type AttemptError struct {
	Attempt   int
	Err       error
	Timestamp time.Time
}

// ExhaustedError is returned when all attempts fail. It carries every prior
// attempt's error in order.
type ExhaustedError struct {
	Attempts []AttemptError
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d attempts failed:", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  attempt %d (%s): %v", a.Attempt, a.Timestamp.Format(time.RFC3339), a.Err)
	}
	return b.String()
}

// Unwrap exposes the final attempt's error for errors.Is/As.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Sleeper abstracts the inter-attempt wait so tests can observe delays
// without real time passing.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the backoff before retry attempt n (1-based):
// min(1s * 2^(n-1), 10s).
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

// WithRetry runs op up to maxRetries+1 times, sleeping Delay(n) between
// attempts. On exhaustion it returns an *ExhaustedError listing every
// attempt. Context cancellation aborts between attempts.
func WithRetry(ctx context.Context, op func() error, maxRetries int) error {
	return WithRetrySleeper(ctx, op, maxRetries, SleepContext)
}

// WithRetrySleeper is WithRetry with an explicit Sleeper.
func WithRetrySleeper(ctx context.Context, op func() error, maxRetries int, sleep Sleeper) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var attempts []AttemptError
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		attempts = append(attempts, AttemptError{Attempt: attempt, Err: err, Timestamp: time.Now()})
		if attempt <= maxRetries {
			if err := sleep(ctx, Delay(attempt)); err != nil {
				return err
			}
		}
	}
	return &ExhaustedError{Attempts: attempts}
}
