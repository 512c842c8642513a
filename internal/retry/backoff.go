// Package retry provides the exponential backoff the CLI uses to
// reconnect.  The connection manager itself never retries: it reports
// each failure once and leaves the policy to its caller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	ncerr "sockwrap/internal/errors"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
// Return [Permanent](err) from the attempt function to stop at once.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	// InitialDelay is the delay before the first retry (default 1s).
	InitialDelay time.Duration
	// MaxDelay caps the backoff duration (default 60s).
	MaxDelay time.Duration
	// Multiplier increases the delay each attempt (default 2.0).
	Multiplier float64
	// MaxAttempts is the total number of tries including the first.
	// 0 retries until the context is cancelled.
	MaxAttempts int
	// Jitter adds ±25% randomisation to each delay.
	Jitter bool

	// Retryable classifies errors; nil retries everything that is not
	// Permanent.
	Retryable func(error) bool
	// OnRetry, when set, is told about each failed attempt before the
	// wait that follows it.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultBackoff returns a general-purpose configuration.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       true,
	}
}

// ForReconnect returns the policy behind --retry: up to retries extra
// attempts, only for errors the errors package classifies as
// retryable, with delays capped at maxDelay.
func ForReconnect(retries int, maxDelay time.Duration) *Backoff {
	if retries < 0 {
		retries = 0
	}
	return &Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
		MaxAttempts:  retries + 1,
		Jitter:       true,
		Retryable:    ncerr.IsRetryable,
	}
}

// Do calls fn until it succeeds, returns a permanent or non-retryable
// error, or the attempt budget or ctx runs out.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := b.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if b.Retryable != nil && !b.Retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			if b.MaxAttempts == 1 {
				return err
			}
			return fmt.Errorf("max retries (%d) exceeded: %w", b.MaxAttempts, err)
		}

		wait := delay
		if b.Jitter {
			wait = addJitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
		delay = b.next(delay)
	}
}

// next returns the delay that follows d.
func (b *Backoff) next(d time.Duration) time.Duration {
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	d = time.Duration(float64(d) * multiplier)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
