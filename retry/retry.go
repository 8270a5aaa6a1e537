// Package retry runs operations with exponential backoff for transient
// failures. It is used for facilitator support-matrix lookups, where a flaky
// network should not fail server construction.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"time"
)

// Policy controls attempt count and backoff shape.
type Policy struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
}

// DefaultPolicy suits short HTTP calls against the facilitator.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     3 * time.Second,
	Multiplier:   2.0,
}

// Retryable decides whether a failure is worth another attempt.
type Retryable func(error) bool

// Do runs fn until it succeeds, the error is not retryable, the attempts are
// exhausted, or ctx is cancelled. Backoff sleeps respect ctx.
func Do[T any](ctx context.Context, policy Policy, retryable Retryable, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := policy.InitialDelay

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * policy.Multiplier)
			if delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Transient reports whether err looks like a transient network failure:
// timeouts, refused or reset connections, and truncated responses.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
