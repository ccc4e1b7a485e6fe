// Package resilience provides a small retry combinator used anywhere a
// blocking call can fail transiently (blob fetches, network reads). It is
// deliberately generic and carries no coupling to any one caller's metrics
// or logging types.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// Policy configures a retry loop: bounded attempts, exponential backoff with
// jitter, and an optional predicate excluding errors that should never be
// retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64

	// NonRetryable reports whether err should short-circuit the loop instead
	// of being retried. Nil means every error is retried up to MaxAttempts.
	NonRetryable func(err error) bool

	Logger *slog.Logger
}

// DefaultPolicy matches the blob source's three-attempt, capped-exponential
// backoff requirement.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    4 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
		Logger:      slog.Default(),
	}
}

// WithRetry runs fn up to p.MaxAttempts times, sleeping between attempts per
// the configured backoff, and returns the last error if every attempt fails.
// It stops immediately, without sleeping, if ctx is cancelled or if
// p.NonRetryable reports the error should not be retried.
func WithRetry(ctx context.Context, p Policy, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts(p); attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.NonRetryable != nil && p.NonRetryable(err) {
			logAttempt(p, operation, attempt, err, false)
			return err
		}

		if attempt == maxAttempts(p) {
			logAttempt(p, operation, attempt, err, false)
			break
		}

		delay := nextDelay(p, attempt)
		logAttempt(p, operation, attempt, err, true)

		if err := waitWithContext(ctx, delay); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

// WithRetryValue is the generic, value-returning counterpart to WithRetry.
func WithRetryValue[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithRetry(ctx, p, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func maxAttempts(p Policy) int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func nextDelay(p Policy, attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		j := (rand.Float64()*2 - 1) * p.Jitter * d
		d += j
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logAttempt(p Policy, operation string, attempt int, err error, willRetry bool) {
	if p.Logger == nil {
		return
	}
	p.Logger.Warn("retry attempt failed",
		"operation", operation,
		"attempt", attempt,
		"will_retry", willRetry,
		"error", err,
	)
}
