// Package backoff provides exponential backoff calculation and a bounded
// retry loop built on it.
package backoff

import (
	"context"
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial    time.Duration // default: 100ms
	Max        time.Duration // default: 5s
	MaxRetries int           // retries after the first attempt, used by Retry (default: 3)
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

// Retry calls fn until it succeeds, permanent reports the error as not
// worth retrying, the retry budget is spent or ctx is done. It returns the
// number of retries performed and the last error.
func Retry(ctx context.Context, cfg *Config, permanent func(error) bool, fn func(ctx context.Context) error) (int, error) {
	maxRetries := 3
	if cfg != nil && cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	var lastErr error
	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			timer := time.NewTimer(Exponential(attempt, cfg))
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if permanent != nil && permanent(lastErr) {
			return attempt, lastErr
		}
	}
	return maxRetries, lastErr
}
