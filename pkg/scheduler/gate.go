package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/code-payments/code-test-client/pkg/rate"
)

// admissionGate bounds the number of in-flight attempts across all
// orchestrators and paces their submissions
type admissionGate struct {
	sem     *semaphore.Weighted
	limiter rate.Waiter

	inFlight atomic.Int64
	peak     atomic.Int64
}

func newAdmissionGate(maxInFlight int64, submitRate float64) *admissionGate {
	return &admissionGate{
		sem:     semaphore.NewWeighted(maxInFlight),
		limiter: rate.NewLocalWaiter(submitRate),
	}
}

// Admit implements orchestrator.Gate.Admit
func (g *admissionGate) Admit(ctx context.Context) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return nil, err
	}

	current := g.inFlight.Add(1)
	for {
		peak := g.peak.Load()
		if current <= peak || g.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		})
	}, nil
}
