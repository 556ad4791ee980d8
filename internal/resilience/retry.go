// Package resilience wraps third-party backoff and circuit-breaker
// libraries behind the exact Retrier/CircuitBreaker contracts used by the
// RPC client layer.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures a Retrier. Delay at attempt n (0-indexed, counting
// only retries after the first failed try) is
// min(InitialDelay*ExponentialBase^n, MaxDelay); when Jitter is true the
// delay is multiplied by a uniform sample in [0.5, 1.0].
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	ExponentialBase float64
	MaxDelay        time.Duration
	Jitter          bool
}

// RetryExhaustedError is the terminal error returned once MaxAttempts have
// been made and the last attempt still failed with a retryable error.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap exposes the last underlying error for errors.Is/errors.As.
func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// IsRetryableFunc classifies an error returned by the wrapped operation.
// A nil func treats every non-nil error as retryable.
type IsRetryableFunc func(err error) bool

// Retrier executes an operation with bounded attempts and exponential
// backoff, distinguishing retryable from terminal errors.
type Retrier struct {
	cfg         RetryConfig
	isRetryable IsRetryableFunc
	onRetry     func(attempt int, err error)
}

// NewRetrier builds a Retrier from cfg. isRetryable may be nil to retry any
// error; onRetry, if non-nil, is invoked between attempts (not after the
// final failure).
func NewRetrier(cfg RetryConfig, isRetryable IsRetryableFunc, onRetry func(attempt int, err error)) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrier{cfg: cfg, isRetryable: isRetryable, onRetry: onRetry}
}

// configurableBackOff implements backoff.BackOff with an explicit
// exponential-plus-jitter formula instead of cenkalti/backoff's own
// randomization-factor jitter.
type configurableBackOff struct {
	cfg     RetryConfig
	attempt int
	rnd     *rand.Rand
}

func (b *configurableBackOff) NextBackOff() time.Duration {
	maxRetries := b.cfg.MaxAttempts - 1
	if b.attempt >= maxRetries {
		return backoff.Stop
	}
	d := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.ExponentialBase, float64(b.attempt))
	if max := float64(b.cfg.MaxDelay); b.cfg.MaxDelay > 0 && d > max {
		d = max
	}
	if b.cfg.Jitter {
		d *= 0.5 + 0.5*b.rnd.Float64()
	}
	b.attempt++
	return time.Duration(d)
}

func (b *configurableBackOff) Reset() { b.attempt = 0 }

// Execute runs op, retrying on retryable errors up to cfg.MaxAttempts total
// tries. Execute returns nil on success, the original error unwrapped when
// op's error is classified non-retryable, or *RetryExhaustedError once
// attempts are exhausted.
func (r *Retrier) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	tries := 0
	var lastErr error
	permanent := false

	bo := &configurableBackOff{cfg: r.cfg, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))} //nolint:gosec // jitter only, not security sensitive
	wrapped := backoff.WithContext(bo, ctx)

	wrappedOp := func() error {
		tries++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if r.isRetryable != nil && !r.isRetryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		if tries < r.cfg.MaxAttempts && r.onRetry != nil {
			r.onRetry(tries, err)
		}
		return err
	}

	err := backoff.Retry(wrappedOp, wrapped)
	if err == nil {
		return nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if permanent {
		return lastErr
	}
	return &RetryExhaustedError{Attempts: tries, LastErr: lastErr}
}
