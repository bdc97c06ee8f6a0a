package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNoLimiter(t *testing.T) {
	l := &NoLimiter{}
	for i := 0; i < 10000; i++ {
		allowed, err := l.Allow("")
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.NoError(t, l.Wait(context.Background()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, l.Wait(ctx))
}

func TestLocalRateLimiter(t *testing.T) {
	l := NewLocalRateLimiter(rate.Limit(2))

	for i := 0; i < 2; i++ {
		allowed, err := l.Allow("a")
		assert.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := l.Allow("a")
	assert.NoError(t, err)
	assert.False(t, allowed)

	// Ensure key partitioning is valid
	for i := 0; i < 2; i++ {
		allowed, err := l.Allow("b")
		assert.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err = l.Allow("b")
	assert.NoError(t, err)
	assert.False(t, allowed)
}

func TestLocalRateLimiter_FractionalRate(t *testing.T) {
	l := NewLocalRateLimiter(rate.Limit(0.5))

	allowed, err := l.Allow("a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow("a")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLocalWaiter(t *testing.T) {
	_, ok := NewLocalWaiter(0).(*NoLimiter)
	assert.True(t, ok)

	w := NewLocalWaiter(10)

	start := time.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, w.Wait(context.Background()))
	}
	// The first 10 are served by the burst, the remaining 5 at 10/s
	assert.True(t, time.Since(start) >= 400*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	for i := 0; i < 20; i++ {
		if err := w.Wait(ctx); err != nil {
			return
		}
	}
	t.Fatal("expected wait to fail once the context deadline is exceeded")
}
