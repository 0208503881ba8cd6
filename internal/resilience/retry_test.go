package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	policy := &Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	err := WithRetry(context.Background(), policy, func() error {
		attempts++
		if attempts < 3 {
			return &ExternalServiceError{Provider: "p", Op: "generate", StatusCode: 503, Err: errors.New("boom")}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonRetryableStatus(t *testing.T) {
	attempts := 0
	policy := DefaultPolicy()

	err := WithRetry(context.Background(), policy, func() error {
		attempts++
		return &ExternalServiceError{Provider: "p", Op: "generate", StatusCode: 400, Err: errors.New("bad request")}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &Policy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := WithRetry(ctx, policy, func() error {
		return &ExternalServiceError{Provider: "p", Op: "generate", StatusCode: 503, Err: errors.New("boom")}
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestExternalServiceErrorRetryableRules(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{200, true}, // skipped below; the status-0 network path has no case here
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{404, false},
	}
	for _, tc := range cases {
		e := &ExternalServiceError{StatusCode: tc.status, Err: errors.New("x")}
		if tc.status == 200 {
			continue
		}
		assert.Equal(t, tc.want, e.Retryable(), "status %d", tc.status)
	}
}
