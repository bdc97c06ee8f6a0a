package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/retry/backoff"
)

// Strategy is a function that determines whether or not an action should be
// retried. Strategies are allowed to delay or cause other side effects.
type Strategy func(attempts uint, err error) bool

// Limit returns a strategy that limits the total number of retries.
// maxAttempts should be >= 1, since the action is evaluateed first.
func Limit(maxAttempts uint) Strategy {
	return func(attempts uint, err error) bool {
		return attempts < maxAttempts
	}
}

// RetriableErrors returns a strategy that specifies which errors can be retried.
func RetriableErrors(retriableErrors ...error) Strategy {
	return func(attempts uint, err error) bool {
		for _, e := range retriableErrors {
			if errors.Is(err, e) {
				return true
			}
		}

		return false
	}
}

// RetriableFunc returns a strategy that retries errors matched by the
// provided classifier.
func RetriableFunc(isRetriable func(err error) bool) Strategy {
	return func(attempts uint, err error) bool {
		return isRetriable(err)
	}
}

// Backoff returns a strategy that sleeps for the strategy's delay, capped at
// maxBackoff, before every retry.
func Backoff(strategy backoff.Strategy, maxBackoff time.Duration) Strategy {
	return BackoffWithJitter(strategy, maxBackoff, 0)
}

// BackoffWithJitter returns a strategy similar to Backoff, but the capped
// delay is randomly shifted by up to jitter (a fraction of the delay) in
// either direction. A capped delay of 100ms with a jitter of 0.1 sleeps
// somewhere in [90ms, 110ms].
func BackoffWithJitter(strategy backoff.Strategy, maxBackoff time.Duration, jitter float64) Strategy {
	capped := backoff.Capped(strategy, maxBackoff)
	return func(attempts uint, err error) bool {
		sleeperImpl.Sleep(withJitter(capped(attempts), jitter))
		return true
	}
}

func withJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*jitter))
}

// BackoffWithContext returns a strategy similar to Backoff, except the delay
// is measured on the provided clock and is interrupted by context
// cancellation. No further retries are performed once ctx is done.
func BackoffWithContext(ctx context.Context, clock clockwork.Clock, strategy backoff.Strategy, maxBackoff time.Duration) Strategy {
	return func(attempts uint, err error) bool {
		return Sleep(ctx, clock, backoff.Capped(strategy, maxBackoff)(attempts)) == nil
	}
}

// Sleep blocks for d on the provided clock, or until ctx is done, in which
// case the context error is returned.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

type sleeper interface {
	Sleep(time.Duration)
}

// realSleeper uses the time package to perform actual sleeps
type realSleeper struct{}

func (r *realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

var sleeperImpl sleeper = &realSleeper{}
