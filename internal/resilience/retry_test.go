package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return errors.New("bad input")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoNeverRetriesRateLimit(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return &RateLimitError{Err: errors.New("429")}
	})
	assert.True(t, IsRateLimit(err))
	assert.Equal(t, 1, calls)
}

func TestDoValReturnsValue(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, NewTransientError(errors.New("x"), 500)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDoRespectsContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastRetry(5), func(ctx context.Context) error {
		calls++
		return NewTransientError(errors.New("x"), 500)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
