package aggregator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	outcome_store "github.com/code-payments/code-test-client/pkg/data/outcome"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/outcome"
	sync_util "github.com/code-payments/code-test-client/pkg/sync"
)

const (
	outcomeEventName = "TestClientOutcome"
)

type newRelicSink struct{}

// NewNewRelicSink returns a Sink that records each outcome as a New Relic
// custom event, using the application carried by the context
func NewNewRelicSink() Sink {
	return &newRelicSink{}
}

// Observe implements Sink.Observe
func (s *newRelicSink) Observe(ctx context.Context, o *outcome.Outcome) error {
	metrics.RecordEvent(ctx, outcomeEventName, map[string]interface{}{
		"attempt":     o.AttemptID.String(),
		"kind":        o.Kind.String(),
		"latency_ms":  o.Latency.Milliseconds(),
		"amount":      o.Amount,
		"fee":         o.Fee,
		"token_id":    uint32(o.TokenID),
		"source":      o.Source,
		"destination": o.Destination,
		"submissions": o.Submissions,
		"queries":     o.Queries,
		"detail":      o.Detail,
	})
	metrics.RecordDuration(ctx, latencyMetricName(o.Kind), o.Latency)
	return nil
}

func latencyMetricName(kind outcome.Kind) string {
	return "TestClient/Latency/" + kind.String()
}

type storeSink struct {
	store outcome_store.Store
}

// NewStoreSink returns a Sink that archives each outcome
func NewStoreSink(store outcome_store.Store) Sink {
	return &storeSink{
		store: store,
	}
}

// Observe implements Sink.Observe
func (s *storeSink) Observe(ctx context.Context, o *outcome.Outcome) error {
	err := s.store.Put(ctx, outcome_store.FromOutcome(o))
	if err == outcome_store.ErrAlreadyExists {
		return nil
	}
	return err
}

type asyncItem struct {
	ctx     context.Context
	outcome *outcome.Outcome
}

// AsyncSink forwards outcomes to a slower Sink, such as the archive store,
// from a fixed set of workers. Outcomes for the same attempt are forwarded in
// order. Outcomes are dropped when the queue is full.
type AsyncSink struct {
	log     *logrus.Entry
	sink    Sink
	channel *sync_util.StripedChannel[*asyncItem]
	workers sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewAsyncSink returns a new AsyncSink and starts its workers
func NewAsyncSink(sink Sink, workers, queueSize uint) *AsyncSink {
	s := &AsyncSink{
		log:     logrus.StandardLogger().WithField("type", "aggregator/async_sink"),
		sink:    sink,
		channel: sync_util.NewStripedChannel[*asyncItem](workers, queueSize),
	}

	for _, items := range s.channel.GetChannels() {
		s.workers.Add(1)
		go s.worker(items)
	}

	return s
}

// Observe implements Sink.Observe
func (s *AsyncSink) Observe(ctx context.Context, o *outcome.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sink is closed")
	}

	item := &asyncItem{
		ctx:     context.WithoutCancel(ctx),
		outcome: o,
	}
	if !s.channel.Send(o.AttemptID[:], item) {
		s.dropped++
		return errors.New("sink queue is full")
	}
	return nil
}

// Dropped returns the number of outcomes dropped because the queue was full
func (s *AsyncSink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dropped
}

// Close stops accepting outcomes and waits for queued ones to be forwarded
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.channel.Close()
	}
	s.mu.Unlock()

	s.workers.Wait()
}

func (s *AsyncSink) worker(items <-chan *asyncItem) {
	defer s.workers.Done()

	for item := range items {
		if err := s.sink.Observe(item.ctx, item.outcome); err != nil {
			s.log.WithError(err).WithField("attempt", item.outcome.AttemptID).Warn("failure forwarding outcome")
		}
	}
}
