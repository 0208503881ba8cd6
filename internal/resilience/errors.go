// Package resilience implements the retry and classification rules of the
// ExternalServiceError taxonomy: HTTP 5xx and network errors are retried
// with bounded exponential backoff; HTTP 4xx (except 429) are not.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ExternalServiceError wraps a failure from a provider HTTP call with enough
// context for a caller to decide whether to retry.
type ExternalServiceError struct {
	Provider   string
	Op         string
	StatusCode int // 0 when the failure never reached a response (network/timeout)
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s: http %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Retryable reports whether this error should be retried per §7: 5xx and
// network/timeout failures are retryable; 4xx is not, except 429.
func (e *ExternalServiceError) Retryable() bool {
	if e.StatusCode == 0 {
		return isTransientNetworkError(e.Err) || isTimeoutError(e.Err)
	}
	if e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ErrMaxRetriesExceeded is returned when every retry attempt is spent.
var ErrMaxRetriesExceeded = errors.New("resilience: maximum retry attempts exceeded")

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH)
	}
	return false
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "i/o timeout")
}

// classifyError labels an error for metrics, mirroring the teacher's
// classification buckets.
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}
	var svcErr *ExternalServiceError
	if errors.As(err, &svcErr) {
		switch {
		case svcErr.StatusCode == 429:
			return "rate_limit"
		case svcErr.StatusCode >= 500:
			return "server_error"
		case svcErr.StatusCode >= 400:
			return "client_error"
		default:
			return "network"
		}
	}
	if isTimeoutError(err) {
		return "timeout"
	}
	if isTransientNetworkError(err) {
		return "network"
	}
	return "unknown"
}
