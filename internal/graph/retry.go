package graph

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/droverhq/drover/pkg/schema"
)

// IsRetryableError classifies whether a node failure should be retried.
// The classifier is a deny-list: programming-error kinds, validation and
// cancellation are fatal; network failures, upstream 5xx responses and
// everything unclassified retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is a node-level timeout, retryable.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// An interrupt is a suspension signal, never a retry candidate.
	var intr *InterruptError
	if errors.As(err, &intr) {
		return false
	}

	var dErr *schema.DroverError
	if errors.As(err, &dErr) {
		return dErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable. The attempt budget bounds the damage.
	return true
}

// ComputeBackoff calculates the delay before the given retry attempt
// (0-based): initial * factor^attempt, capped, with optional jitter in
// [0.5, 1.5) of the computed delay.
func ComputeBackoff(policy schema.RetryPolicy, attempt int) time.Duration {
	if policy.InitialInterval <= 0 {
		return 0
	}

	delay := float64(policy.InitialInterval)
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	for i := 0; i < attempt; i++ {
		delay *= factor
		if policy.MaxInterval > 0 && delay >= float64(policy.MaxInterval) {
			delay = float64(policy.MaxInterval)
			break
		}
	}
	if policy.MaxInterval > 0 && delay > float64(policy.MaxInterval) {
		delay = float64(policy.MaxInterval)
	}

	if policy.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

// WaitForBackoff sleeps for the delay or returns early on cancellation.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
