package common

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
)

// RetryPolicy defines retry behavior with exponential backoff
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Growth      float64
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy returns 3 attempts starting at 1s, doubling, capped at 30s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Growth:      2.0,
		MaxDelay:    30 * time.Second,
	}
}

// Backoff returns the delay to wait after the given (zero-based) failed attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	growth := p.Growth
	if growth <= 0 {
		growth = 1
	}
	backoff := float64(p.BaseDelay) * math.Pow(growth, float64(attempt))
	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}

	// ±25%
	if p.Jitter {
		backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	}

	if backoff < 0 {
		backoff = float64(p.BaseDelay)
	}
	return time.Duration(backoff)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryWithBackoff runs op until it succeeds, returns a permanent error, the context is
// cancelled, or MaxAttempts is reached. It returns the number of attempts made and the
// last error (unwrapped from Permanent).
func RetryWithBackoff(ctx context.Context, policy RetryPolicy, logger arbor.ILogger, op func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt, lastErr
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt + 1, nil
		}

		var p *permanentError
		if errors.As(lastErr, &p) {
			return attempt + 1, p.err
		}

		if attempt < maxAttempts-1 {
			backoff := policy.Backoff(attempt)
			if logger != nil {
				logger.Debug().
					Int("attempt", attempt+1).
					Err(lastErr).
					Dur("backoff", backoff).
					Msg("Retrying after backoff")
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt + 1, lastErr
			case <-timer.C:
			}
		}
	}

	if logger != nil {
		logger.Warn().
			Int("max_attempts", maxAttempts).
			Err(lastErr).
			Msg("All retry attempts exhausted")
	}

	return maxAttempts, lastErr
}
