package aggregator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/outcome"
)

var (
	// ErrUnknownAttempt indicates an outcome was recorded for an attempt that
	// was never opened
	ErrUnknownAttempt = errors.New("unknown attempt")
	// ErrDuplicateOutcome indicates a second outcome was recorded for an
	// attempt
	ErrDuplicateOutcome = errors.New("duplicate outcome")
	// ErrAlreadyOpen indicates an attempt id was opened twice
	ErrAlreadyOpen = errors.New("attempt already open")
)

// Sink receives every recorded outcome, after the aggregator's own state is
// updated. Sink failures never fail recording.
type Sink interface {
	Observe(ctx context.Context, o *outcome.Outcome) error
}

// Snapshot is a consistent point in time view of the aggregator. It never
// reflects a partially applied update.
type Snapshot struct {
	Counts map[outcome.Kind]uint64

	// Total is the number of recorded outcomes
	Total uint64

	// Failures is the number of recorded outcomes that are failures
	Failures uint64

	// CorrectnessFailures is the subset of failures indicating a defect in
	// the system under test
	CorrectnessFailures uint64

	// InFlight is the number of opened attempts without an outcome
	InFlight int

	// AccountingErrors is the number of rejected Record calls
	AccountingErrors uint64

	Latency HistogramSnapshot
}

// Aggregator counts outcomes per classification and tracks their latency.
// Every opened attempt is expected to be recorded exactly once.
type Aggregator struct {
	log   *logrus.Entry
	sinks []Sink

	mu               sync.Mutex
	open             map[uuid.UUID]struct{}
	recorded         map[uuid.UUID]struct{}
	counts           map[outcome.Kind]uint64
	latency          *histogram
	accountingErrors uint64
}

// New returns a new Aggregator forwarding outcomes to the provided sinks
func New(sinks ...Sink) *Aggregator {
	return &Aggregator{
		log:      logrus.StandardLogger().WithField("type", "aggregator/aggregator"),
		sinks:    sinks,
		open:     make(map[uuid.UUID]struct{}),
		recorded: make(map[uuid.UUID]struct{}),
		counts:   make(map[outcome.Kind]uint64),
		latency:  newHistogram(DefaultLatencyBuckets),
	}
}

// Open registers an attempt that's expected to be recorded
func (a *Aggregator) Open(attemptID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.open[attemptID]; ok {
		return ErrAlreadyOpen
	}
	if _, ok := a.recorded[attemptID]; ok {
		return ErrAlreadyOpen
	}

	a.open[attemptID] = struct{}{}
	return nil
}

// Record closes an open attempt with its outcome, then forwards the outcome
// to every sink
func (a *Aggregator) Record(ctx context.Context, o *outcome.Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}

	log := a.log.WithFields(logrus.Fields{
		"method":  "Record",
		"attempt": o.AttemptID,
		"kind":    o.Kind,
	})

	sinks, err := a.apply(o)
	if err != nil {
		log.WithError(err).Warn("outcome accounting error")
		return err
	}

	for _, sink := range sinks {
		if err := sink.Observe(ctx, o); err != nil {
			log.WithError(err).Warn("failure forwarding outcome to sink")
		}
	}

	return nil
}

func (a *Aggregator) apply(o *outcome.Outcome) ([]Sink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.recorded[o.AttemptID]; ok {
		a.accountingErrors++
		return nil, ErrDuplicateOutcome
	}

	if _, ok := a.open[o.AttemptID]; !ok {
		a.accountingErrors++
		return nil, ErrUnknownAttempt
	}

	delete(a.open, o.AttemptID)
	a.recorded[o.AttemptID] = struct{}{}
	a.counts[o.Kind]++
	a.latency.observe(o.Latency)

	return a.sinks, nil
}

// AddSink adds a sink for outcomes recorded from now on
func (a *Aggregator) AddSink(sink Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sinks = append(a.sinks[:len(a.sinks):len(a.sinks)], sink)
}

// InFlight returns the number of opened attempts without an outcome
func (a *Aggregator) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.open)
}

// Snapshot returns a consistent copy of the aggregated state
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Counts:           make(map[outcome.Kind]uint64, len(outcome.AllKinds)),
		InFlight:         len(a.open),
		AccountingErrors: a.accountingErrors,
		Latency:          a.latency.snapshot(),
	}

	for _, kind := range outcome.AllKinds {
		count := a.counts[kind]
		s.Counts[kind] = count
		s.Total += count

		if kind.IsFailure() {
			s.Failures += count
		}
		if kind.IsCorrectnessFailure() {
			s.CorrectnessFailures += count
		}
	}

	return s
}
