// Package retry provides an injectable retry policy for transient failures.
package retry

import (
	"context"
	"time"
)

// Backoff computes the delay before the given attempt (1-based). Attempt 1
// has already failed when the delay is applied.
type Backoff func(attempt int) time.Duration

// Linear returns a backoff that grows by step per failed attempt.
func Linear(step time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Constant returns a fixed backoff between attempts.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration {
		return d
	}
}

// Policy retries an operation a bounded number of times with a backoff
// between attempts. Sleep is injectable so tests can use a fake clock.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	Sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a policy with the default context-aware sleep.
func New(maxAttempts int, backoff Backoff) *Policy {
	return &Policy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Sleep:       sleepCtx,
	}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. The last error is returned on failure.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}
		if err := p.sleep(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
