package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestWithExponentialBackoff_SucceedsAfterFailures(t *testing.T) {
	rec := &recordingSleeper{}
	cfg := &RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
		Sleep:        rec.Sleep,
	}

	calls := 0
	result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 4 {
			return errors.New("transient")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, 4, calls)
	assert.Nil(t, result.LastError)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, rec.delays)
}

func TestWithExponentialBackoff_ExhaustsBudget(t *testing.T) {
	rec := &recordingSleeper{}
	cfg := FixedIntervalConfig(6, 5*time.Second)
	cfg.Sleep = rec.Sleep

	result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		return errors.New("still active")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 6, result.Attempts)
	require.Len(t, rec.delays, 5)
	for _, d := range rec.delays {
		assert.Equal(t, 5*time.Second, d)
	}
	assert.EqualError(t, result.LastError, "still active")
}

func TestWithExponentialBackoff_Permanent(t *testing.T) {
	boom := errors.New("bad request")
	calls := 0
	result := WithExponentialBackoff(context.Background(), FixedIntervalConfig(5, 0), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(boom)
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Same(t, boom, result.LastError)
}

func TestWithExponentialBackoff_ShouldRetry(t *testing.T) {
	fatal := errors.New("fatal")
	cfg := FixedIntervalConfig(5, 0)
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return fatal
	})
	assert.Equal(t, 1, calls)
}

func TestWithExponentialBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	result := WithExponentialBackoff(ctx, FixedIntervalConfig(5, time.Hour), func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestContextSleep(t *testing.T) {
	assert.NoError(t, ContextSleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ContextSleep(ctx, time.Hour), context.Canceled)
}

func TestWithRetry(t *testing.T) {
	err := WithRetry(context.Background(), func(ctx context.Context, attempt int) error {
		return Permanent(errors.New("nope"))
	})
	assert.ErrorContains(t, err, "operation failed after 1 attempts")
}
