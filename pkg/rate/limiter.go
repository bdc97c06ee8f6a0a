package rate

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter limits operations based on a provided key.
type Limiter interface {
	Allow(key string) (bool, error)
}

// Waiter blocks callers until an operation is permitted.
type Waiter interface {
	Wait(ctx context.Context) error
}

// LimiterCtor allows the creation of a Limiter using a provided rate.
type LimiterCtor func(rate float64) Limiter

type localRateLimiter struct {
	limit rate.Limit

	sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter returns an in memory limiter.
func NewLocalRateLimiter(limit rate.Limit) Limiter {
	return &localRateLimiter{
		limit:    limit,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements limiter.Allow.
func (l *localRateLimiter) Allow(key string) (bool, error) {
	l.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, burst(l.limit))
		l.limiters[key] = limiter
	}
	l.Unlock()

	return limiter.Allow(), nil
}

type localWaiter struct {
	limiter *rate.Limiter
}

// NewLocalWaiter returns an in memory Waiter permitting perSecond operations
// per second. A non-positive rate disables limiting.
func NewLocalWaiter(perSecond float64) Waiter {
	if perSecond <= 0 {
		return &NoLimiter{}
	}

	limit := rate.Limit(perSecond)
	return &localWaiter{
		limiter: rate.NewLimiter(limit, burst(limit)),
	}
}

// Wait implements Waiter.Wait.
func (w *localWaiter) Wait(ctx context.Context) error {
	return w.limiter.Wait(ctx)
}

// NoLimiter never limits operations
type NoLimiter struct {
}

// Allow implements limiter.Allow.
func (n *NoLimiter) Allow(key string) (bool, error) {
	return true, nil
}

// Wait implements Waiter.Wait.
func (n *NoLimiter) Wait(ctx context.Context) error {
	return ctx.Err()
}

func burst(limit rate.Limit) int {
	if limit < 1 {
		return 1
	}
	return int(limit)
}
