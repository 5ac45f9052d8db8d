package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("version conflict")

func TestOptimisticRetrierExhausts(t *testing.T) {
	r := OptimisticRetrier(3, time.Microsecond, WithRetryIf(func(err error) bool { return errors.Is(err, errConflict) }))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errConflict
	})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 3, calls)
}

func TestPermanentStopsImmediately(t *testing.T) {
	final := errors.New("session full")
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(final)
	}, WithMaxAttempts(5), WithInitialDelay(time.Microsecond))

	assert.Same(t, final, err)
	assert.Equal(t, 1, calls)
}

func TestRetryableSucceedsLater(t *testing.T) {
	got, err := DoWithData(context.Background(), func() func(context.Context) (int, error) {
		n := 0
		return func(context.Context) (int, error) {
			n++
			if n < 3 {
				return 0, Retryable(errConflict)
			}
			return n, nil
		}
	}(), WithMaxAttempts(5), WithInitialDelay(time.Microsecond))

	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestUnclassifiedErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errConflict
	}, WithMaxAttempts(4))

	assert.ErrorIs(t, err, errConflict)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
