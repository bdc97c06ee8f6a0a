package scheduler

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/aggregator"
	"github.com/code-payments/code-test-client/pkg/confirmation"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/orchestrator"
	"github.com/code-payments/code-test-client/pkg/transfer"
)

const (
	fatalCycleEventName = "TestClientFatalCycle"
)

// Stats is a point in time view of the scheduler
type Stats struct {
	// InFlight is the number of admitted attempts that haven't resolved
	InFlight int64

	// PeakInFlight is the highest InFlight value observed
	PeakInFlight int64

	// FatalCounts is the number of escalated failures per orchestrator
	FatalCounts map[int]uint64
}

// Scheduler launches and supervises the orchestrators of a run
type Scheduler struct {
	log        *logrus.Entry
	conf       Config
	pool       *account.Pool
	submitter  *transfer.Submitter
	view       ledger.ViewClient
	aggregator *aggregator.Aggregator
	clock      clockwork.Clock
	seed       *int64
	gate       *admissionGate

	mu          sync.Mutex
	fatalCounts map[int]uint64
}

// Option configures a Scheduler
type Option func(s *Scheduler)

// WithClock sets the clock used by the orchestrators, their pollers and the
// shutdown grace period
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithSeed makes amount picking deterministic. Each orchestrator is seeded
// with seed plus its id.
func WithSeed(seed int64) Option {
	return func(s *Scheduler) {
		s.seed = &seed
	}
}

// New returns a new Scheduler
func New(
	conf Config,
	pool *account.Pool,
	submitter *transfer.Submitter,
	view ledger.ViewClient,
	aggregator *aggregator.Aggregator,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		log:         logrus.StandardLogger().WithField("type", "scheduler/scheduler"),
		conf:        conf,
		pool:        pool,
		submitter:   submitter,
		view:        view,
		aggregator:  aggregator,
		clock:       clockwork.NewRealClock(),
		gate:        newAdmissionGate(conf.MaxInFlight, conf.SubmitRate),
		fatalCounts: make(map[int]uint64),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run runs orchestrators until ctx is done. No new cycles start once ctx is
// done. In-flight attempts get the shutdown grace period to resolve, after
// which they're discarded. Run returns once every orchestrator has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.conf.Validate(); err != nil {
		return err
	}

	log := s.log.WithField("method", "Run")

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	done := make(chan struct{})
	graceExpired := make(chan struct{})
	go func() {
		defer close(graceExpired)

		select {
		case <-ctx.Done():
		case <-done:
			return
		}

		log.Infof("stopping, in-flight attempts have %s to resolve", s.conf.ShutdownGracePeriod)

		select {
		case <-s.clock.After(s.conf.ShutdownGracePeriod):
			log.Info("shutdown grace period expired, discarding in-flight attempts")
			cancelWork()
		case <-done:
		}
	}()

	poller := confirmation.NewPoller(s.view, s.clock, s.conf.Poller)

	log.WithFields(logrus.Fields{
		"concurrency":   s.conf.Concurrency,
		"max_in_flight": s.conf.MaxInFlight,
		"submit_rate":   s.conf.SubmitRate,
	}).Info("starting orchestrators")

	var g errgroup.Group
	for i := 0; i < s.conf.Concurrency; i++ {
		opts := []orchestrator.Option{
			orchestrator.WithFatalHandler(func(err *orchestrator.FatalCycleError) {
				s.onFatal(ctx, err)
			}),
		}
		if s.seed != nil {
			opts = append(opts, orchestrator.WithSeed(*s.seed+int64(i)))
		}

		orchestratorConf := s.conf.Orchestrator
		o := orchestrator.New(
			i,
			&orchestratorConf,
			s.pool,
			s.submitter,
			poller,
			s.aggregator,
			s.gate,
			s.clock,
			opts...,
		)

		g.Go(func() error {
			return o.Run(ctx, workCtx)
		})
	}

	err := g.Wait()
	close(done)
	<-graceExpired

	log.Info("all orchestrators stopped")

	return err
}

// Stats returns a point in time view of the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		FatalCounts: make(map[int]uint64, len(s.fatalCounts)),
	}
	for id, count := range s.fatalCounts {
		stats.FatalCounts[id] = count
	}

	stats.InFlight = s.gate.inFlight.Load()
	stats.PeakInFlight = s.gate.peak.Load()

	return stats
}

func (s *Scheduler) onFatal(ctx context.Context, err *orchestrator.FatalCycleError) {
	s.mu.Lock()
	s.fatalCounts[err.Orchestrator]++
	count := s.fatalCounts[err.Orchestrator]
	s.mu.Unlock()

	s.log.WithError(err).WithFields(logrus.Fields{
		"method":       "onFatal",
		"orchestrator": err.Orchestrator,
		"fatal_count":  count,
	}).Warn("orchestrator exceeded its consecutive failure budget")

	kvPairs := map[string]interface{}{
		"orchestrator": err.Orchestrator,
		"failures":     err.Failures,
		"last_kind":    err.LastKind.String(),
	}
	if err.LastErr != nil {
		kvPairs["last_error"] = err.LastErr.Error()
	}
	metrics.RecordEvent(context.WithoutCancel(ctx), fatalCycleEventName, kvPairs)
}
