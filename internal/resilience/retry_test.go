package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetry(cfg RetryConfig) (*Retry, *[]time.Duration) {
	r := NewRetry(cfg, nil)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := DefaultRetryConfig("db")
	cfg.Jitter = false
	r, slept := newTestRetry(cfg)

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	cfg := DefaultRetryConfig("redis")
	cfg.BackoffStrategy = BackoffStrategyFixed
	cfg.Jitter = false
	r, slept := newTestRetry(cfg)

	cause := errors.New("timeout")
	err := r.Do(context.Background(), func(ctx context.Context) error { return cause })

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
	assert.Len(t, retryErr.AllErrors, 3)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 200*time.Millisecond, retryErr.TotalDelay)
	assert.Len(t, *slept, 2)
	assert.Contains(t, err.Error(), "redis")
	assert.ErrorIs(t, retryErr.Combined(), cause)
}

func TestRetry_PermanentStops(t *testing.T) {
	r, slept := newTestRetry(DefaultRetryConfig("x"))

	cause := errors.New("unknown driver")
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	})

	assert.Same(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
	assert.NoError(t, Permanent(nil))
}

func TestRetry_ContextCancelled(t *testing.T) {
	r, _ := newTestRetry(DefaultRetryConfig("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetry_Delays(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	exp := NewRetry(cfg, nil)
	assert.Equal(t, time.Second, exp.delay(1))
	assert.Equal(t, 2*time.Second, exp.delay(2))
	assert.Equal(t, 3*time.Second, exp.delay(3))

	cfg.BackoffStrategy = BackoffStrategyLinear
	assert.Equal(t, 2*time.Second, NewRetry(cfg, nil).delay(2))

	cfg.BackoffStrategy = BackoffStrategyExponential
	cfg.Jitter = true
	cfg.MaxDelay = 0
	d := NewRetry(cfg, nil).delay(1)
	assert.GreaterOrEqual(t, d, 750*time.Millisecond)
	assert.LessOrEqual(t, d, 1250*time.Millisecond)
}

func TestRetry_SingleAttemptMinimum(t *testing.T) {
	r := NewRetry(RetryConfig{}, nil)
	assert.Equal(t, 1, r.Config().MaxAttempts)
}

func TestParseBackoffStrategy(t *testing.T) {
	assert.Equal(t, BackoffStrategyFixed, ParseBackoffStrategy("fixed"))
	assert.Equal(t, BackoffStrategyLinear, ParseBackoffStrategy("linear"))
	assert.Equal(t, BackoffStrategyExponential, ParseBackoffStrategy("bogus"))
	assert.Equal(t, "linear", BackoffStrategyLinear.String())
}
