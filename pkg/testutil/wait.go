package testutil

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// WaitFor waits for a condition to be met before the specified timeout
func WaitFor(timeout, interval time.Duration, condition func() bool) error {
	if timeout < interval {
		return errors.New("timeout must be greater than interval")
	}
	start := time.Now()
	for {
		if condition() {
			return nil
		}
		if time.Since(start) >= timeout {
			return errors.Errorf("condition not met within %v", timeout)
		}

		time.Sleep(interval)
	}
}

// AdvanceUntil repeatedly advances the fake clock by step, waiting for
// goroutines to block on the clock in between, until the condition is met or
// the real-time timeout elapses.
func AdvanceUntil(clock *clockwork.FakeClock, step, timeout time.Duration, condition func() bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		if condition() {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Errorf("condition not met within %v", timeout)
		case <-time.After(time.Millisecond):
		}

		clock.Advance(step)
	}
}
