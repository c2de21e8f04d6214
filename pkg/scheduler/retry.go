package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig controls how storage calls are retried on transient failures
// such as lock timeouts or dropped connections.
type RetryConfig struct {
	// MaxAttempts includes the initial attempt. Default 5.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure. Default 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts. Default 5s.
	MaxBackoff time.Duration

	// Multiplier grows the wait after each attempt. Default 2.0.
	Multiplier float64

	// JitterFraction randomizes each wait by this fraction. Default 0.1.
	JitterFraction float64
}

// DefaultRetryConfig returns the default storage retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// retryStorage runs op with exponential backoff, returning the last error
// when attempts are exhausted. Context cancellation stops retrying.
func retryStorage(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error
	wait := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		jitter := time.Duration(float64(wait) * cfg.JitterFraction * (rand.Float64()*2 - 1))
		sleep := wait + jitter
		if sleep < 0 {
			sleep = wait
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
	}
	return lastErr
}
