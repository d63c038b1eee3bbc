// Package retry runs calls against external providers with bounded,
// quadratic backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff returns the wait before the given attempt (attempt >= 1).
func (p Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do calls fn until it succeeds, returns a permanent error, the context is
// done, or the attempts run out.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Backoff(attempt)):
			}
			slog.Debug("retrying call", "op", op, "attempt", attempt, "error", lastErr)
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		var pe *permanentError
		if errors.As(err, &pe) {
			return zero, pe.err
		}
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
	}

	if attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, attempts, lastErr)
}
