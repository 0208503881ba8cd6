package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Policy configures WithRetry's bounded exponential backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool

	// ShouldRetry overrides the default ExternalServiceError.Retryable()
	// check; nil means "use the error's own Retryable() when present,
	// otherwise retry any non-nil error".
	ShouldRetry func(err error) bool

	Logger        *slog.Logger
	OperationName string
}

// DefaultPolicy implements the CatalogError{Busy} backoff from §7: up to 5
// retries, jittered 10-200ms delay.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 5,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   200 * time.Millisecond,
		Multiplier: 1.8,
		Jitter:     true,
	}
}

// ExternalServicePolicy implements the ExternalServiceError backoff: bounded
// exponential, capped deadline, governed by the caller's context (typically
// derived from pollingTimeout for remove-bg, per §5).
func ExternalServicePolicy() *Policy {
	return &Policy{
		MaxRetries: 4,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry runs operation, retrying according to policy until it succeeds,
// the context is cancelled, or retries are exhausted. Context cancellation
// during a backoff sleep returns ctx.Err() immediately (§5 cancellation).
func WithRetry(ctx context.Context, policy *Policy, operation func() error) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err, policy) {
			return lastErr
		}
		if attempt >= policy.MaxRetries {
			break
		}

		logger.Warn("operation failed, retrying",
			"operation", policy.OperationName,
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"error_type", classifyError(err),
		)

		if !sleepWithContext(ctx, delay) {
			return ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return fmt.Errorf("%s: %w after %d attempts: %v", policy.OperationName, ErrMaxRetriesExceeded, policy.MaxRetries+1, lastErr)
}

func retryable(err error, policy *Policy) bool {
	if policy.ShouldRetry != nil {
		return policy.ShouldRetry(err)
	}
	type retryableErr interface{ Retryable() bool }
	if re, ok := err.(retryableErr); ok {
		return re.Retryable()
	}
	return err != nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current time.Duration, policy *Policy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		jitter := time.Duration(rand.Float64() * 0.3 * float64(next))
		next += jitter
		if next > policy.MaxDelay {
			next = policy.MaxDelay
		}
	}
	return next
}
