package ratelimit_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/UnknownOlympus/meridian/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("capacity defaults to integer rate", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(30.5, 0)

		assert.InDelta(t, 30.5, l.Limit(), 1e-9)
		assert.Equal(t, 30, l.Burst())
	})

	t.Run("capacity is at least one", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(0.2, 0)

		assert.Equal(t, 1, l.Burst())
	})

	t.Run("non-positive rate is unlimited", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(0, 0)

		assert.True(t, math.IsInf(l.Limit(), 1))
		for range 1000 {
			require.NoError(t, l.Acquire(t.Context()))
		}
	})

	t.Run("nil limiter never blocks", func(t *testing.T) {
		t.Parallel()
		var l *ratelimit.Limiter

		require.NoError(t, l.Acquire(t.Context()))
		assert.Zero(t, l.Burst())
	})
}

func TestLimiter_Acquire(t *testing.T) {
	t.Parallel()

	t.Run("throttles concurrent callers", func(t *testing.T) {
		t.Parallel()
		// 2 tokens up front, then one every 20ms.
		l := ratelimit.New(50, 2)
		start := time.Now()

		var wg sync.WaitGroup
		for range 6 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, l.Acquire(context.Background()))
			}()
		}
		wg.Wait()

		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("error - context canceled while waiting", func(t *testing.T) {
		t.Parallel()
		l := ratelimit.New(0.1, 1)
		require.NoError(t, l.Acquire(t.Context()))

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()

		err := l.Acquire(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limit wait aborted")
	})
}
