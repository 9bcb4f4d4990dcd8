package openai

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retries of transient provider failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first call.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// JitterFactor adds up to this fraction of the backoff, at random.
	JitterFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     32 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   1.0,
	}
}

// retryable marks an error worth another call.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

func isRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r)
}

// retry calls fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. It returns the number of calls made.
func retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) error) (int, error) {
	backoff := cfg.InitialBackoff
	var last error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		last = fn(ctx, attempt)
		if last == nil || !isRetryable(last) {
			return attempt, last
		}
		if attempt == cfg.MaxRetries+1 {
			return attempt, last
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(withJitter(backoff, cfg.JitterFactor)):
		}
		backoff = nextBackoff(backoff, cfg.BackoffFactor, cfg.MaxBackoff)
	}
	return cfg.MaxRetries + 1, last
}

func withJitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 || base <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*factor*float64(base))
}

func nextBackoff(cur time.Duration, factor float64, max time.Duration) time.Duration {
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(cur) * factor)
	if max > 0 && next > max {
		return max
	}
	return next
}
