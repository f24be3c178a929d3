package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"trendrider/models"
)

// ErrRetriesExhausted wraps the last error once a policy gives up.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy is a bounded exponential backoff. Only errors wrapping
// models.ErrExecutionTransient are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxElapsed  time.Duration

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// DefaultRetryPolicy returns 4 attempts starting at 500ms, doubling up to 8s,
// within 30s overall.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    8 * time.Second,
		MaxElapsed:  30 * time.Second,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// policy runs out of attempts or time.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	start := now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt-1, lastErr)
			}
			return err
		}

		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, models.ErrExecutionTransient) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		wait := p.Delay(attempt)
		if p.MaxElapsed > 0 && now().Sub(start)+wait > p.MaxElapsed {
			return fmt.Errorf("%w after %s: %w", ErrRetriesExhausted, now().Sub(start).Round(time.Millisecond), lastErr)
		}
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: interrupted: %w", ErrRetriesExhausted, lastErr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
