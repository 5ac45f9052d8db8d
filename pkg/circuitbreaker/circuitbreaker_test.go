package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestOpensAfterThresholdAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []string
	cb := New("redis",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithTimeout(time.Minute),
		WithMaxHalfOpenRequests(1),
		WithClock(func() time.Time { return now }),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Len(t, transitions, 3)
}

func TestCacheBreakerIgnoresCancellation(t *testing.T) {
	cb := CacheBreaker(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.EqualValues(t, 0, cb.Counts().TotalFailures)
}

func TestFallback(t *testing.T) {
	cb := New("x", WithFailureThreshold(1), WithTimeout(time.Hour))
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)

	used := false
	err := cb.ExecuteWithFallback(ctx, ok, func(err error) error {
		used = true
		assert.ErrorIs(t, err, ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, used)
}
