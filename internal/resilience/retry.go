package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt, so the
	// total number of attempts is MaxRetries+1. Zero means the default of 2;
	// a negative value disables retries entirely (single attempt).
	MaxRetries int

	// BaseDelay is the delay before the first retry; each subsequent retry
	// doubles it. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Default: 10s.
	MaxDelay time.Duration

	// Jitter adds up to the given fraction of the computed delay as random
	// noise, spreading out bursts of retries. Default: 0.2.
	Jitter float64
}

func (cfg *RetryConfig) applyDefaults() {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = 0.2
	}
}

// Retry runs fn up to cfg.MaxRetries+1 times with exponential backoff between
// attempts. It returns the result of the first successful attempt, or the last
// error once the attempt budget is exhausted. Context cancellation aborts the
// backoff wait and returns ctx.Err().
//
// Every error from fn is treated as retryable; callers that can distinguish
// permanent failures should return early themselves or wrap fn accordingly.
func Retry[R any](ctx context.Context, cfg RetryConfig, name string, fn func() (R, error)) (R, error) {
	cfg.applyDefaults()

	var (
		result  R
		lastErr error
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			slog.Debug("retrying after failure",
				"name", name,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)
			select {
			case <-ctx.Done():
				var zero R
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
	}

	slog.Warn("retry budget exhausted",
		"name", name,
		"attempts", cfg.MaxRetries+1,
		"error", lastErr)
	return result, lastErr
}

// backoffDelay computes the delay before the given retry attempt (1-based),
// doubling BaseDelay per attempt, capping at MaxDelay and adding jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << (attempt - 1)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
	return delay + jitter
}
