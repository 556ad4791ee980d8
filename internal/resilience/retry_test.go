package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRetrier_SucceedsWithoutRetry(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, ExponentialBase: 2, MaxDelay: time.Second}, nil, nil)
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestRetrier_ExhaustsAfterMaxAttempts(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond, ExponentialBase: 2, MaxDelay: 10 * time.Millisecond, Jitter: true}, nil, nil)
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 4, calls)
	require.Equal(t, 4, exhausted.Attempts)
	require.ErrorIs(t, exhausted, errBoom)
}

func TestRetrier_StopsOnNonRetryableError(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, ExponentialBase: 2, MaxDelay: time.Second},
		func(err error) bool { return false }, nil)
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)
}

func TestRetrier_OnRetryCallback(t *testing.T) {
	var seen []int
	r := NewRetrier(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, ExponentialBase: 2, MaxDelay: 10 * time.Millisecond},
		nil, func(attempt int, err error) { seen = append(seen, attempt) })
	calls := 0
	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, seen)
}

func TestRetrier_RecoversOnLaterAttempt(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, ExponentialBase: 2, MaxDelay: 10 * time.Millisecond}, nil, nil)
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
