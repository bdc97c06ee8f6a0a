package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	prometheus_testutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outcome_store "github.com/code-payments/code-test-client/pkg/data/outcome"
	outcome_memory "github.com/code-payments/code-test-client/pkg/data/outcome/memory"
	"github.com/code-payments/code-test-client/pkg/database/query"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/outcome"
)

func TestPrometheusSink(t *testing.T) {
	a := New()
	sink := NewPrometheusSink(a)

	registry := prometheus.NewRegistry()
	require.NoError(t, sink.Register(registry))
	assert.Error(t, sink.Register(registry))

	open := newTestOutcome(outcome.KindConfirmed, time.Second)
	require.NoError(t, a.Open(open.AttemptID))
	assert.EqualValues(t, 1, prometheus_testutil.ToFloat64(sink.inFlight))

	ctx := context.Background()
	for _, kind := range []outcome.Kind{outcome.KindConfirmed, outcome.KindConfirmed, outcome.KindTimedOut} {
		require.NoError(t, sink.Observe(ctx, newTestOutcome(kind, 2*time.Second)))
	}

	assert.EqualValues(t, 2, prometheus_testutil.ToFloat64(sink.outcomes.WithLabelValues("confirmed")))
	assert.EqualValues(t, 1, prometheus_testutil.ToFloat64(sink.outcomes.WithLabelValues("timed_out")))
	assert.EqualValues(t, 0, prometheus_testutil.ToFloat64(sink.outcomes.WithLabelValues("duplicate_output")))

	// Every classification is exported, plus one latency series per observed
	// kind and the in-flight gauge
	count, err := prometheus_testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Equal(t, len(outcome.AllKinds)+2+1, count)
}

func TestStoreSink(t *testing.T) {
	store := outcome_memory.New()
	sink := NewStoreSink(store)
	ctx := context.Background()

	o := newTestOutcome(outcome.KindRejected, time.Second)
	o.Detail = "double spend"
	require.NoError(t, sink.Observe(ctx, o))

	// Archiving is idempotent
	require.NoError(t, sink.Observe(ctx, o))

	record, err := store.Get(ctx, o.AttemptID.String())
	require.NoError(t, err)
	assert.Equal(t, outcome.KindRejected, record.Kind)
	assert.Equal(t, "double spend", record.Detail)
	assert.Equal(t, o.Latency, record.Latency)

	count, err := store.CountByKind(ctx, outcome.KindRejected)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestNewRelicSink(t *testing.T) {
	o := newTestOutcome(outcome.KindConfirmed, time.Second)

	// Without an application, recording is a no-op
	assert.NoError(t, NewNewRelicSink().Observe(context.Background(), o))

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName("test-client"),
		newrelic.ConfigEnabled(false),
	)
	require.NoError(t, err)

	ctx := metrics.WithNewRelic(context.Background(), app)
	assert.NoError(t, NewNewRelicSink().Observe(ctx, o))
}

type blockingSink struct {
	recordingSink
	unblock chan struct{}
}

func (s *blockingSink) Observe(ctx context.Context, o *outcome.Outcome) error {
	<-s.unblock
	return s.recordingSink.Observe(ctx, o)
}

func TestAsyncSink(t *testing.T) {
	sink := &recordingSink{}
	async := NewAsyncSink(sink, 4, 100)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 50; i++ {
		require.NoError(t, async.Observe(ctx, newTestOutcome(outcome.KindConfirmed, time.Second)))
	}

	// Forwarding isn't tied to the caller's context
	cancel()

	async.Close()
	assert.Equal(t, 50, sink.count())
	assert.EqualValues(t, 0, async.Dropped())

	assert.Error(t, async.Observe(context.Background(), newTestOutcome(outcome.KindConfirmed, time.Second)))

	// Closing twice is safe
	async.Close()
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{unblock: make(chan struct{})}
	async := NewAsyncSink(sink, 1, 1)

	var dropped int
	for i := 0; i < 10; i++ {
		if err := async.Observe(context.Background(), newTestOutcome(outcome.KindConfirmed, time.Second)); err != nil {
			dropped++
		}
	}

	// At most one item is queued and one held by the worker
	assert.GreaterOrEqual(t, dropped, 8)
	assert.EqualValues(t, dropped, async.Dropped())

	close(sink.unblock)
	async.Close()
	assert.Equal(t, 10-dropped, sink.count())
}

func TestAggregator_ForwardsToAsyncStoreSink(t *testing.T) {
	store := outcome_memory.New()
	async := NewAsyncSink(NewStoreSink(store), 2, 100)
	a := New(async)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			o := newTestOutcome(outcome.KindTimedOut, time.Second)
			assert.NoError(t, a.Open(o.AttemptID))
			assert.NoError(t, a.Record(ctx, o))
		}()
	}
	wg.Wait()
	async.Close()

	count, err := store.CountByKind(ctx, outcome.KindTimedOut)
	require.NoError(t, err)
	assert.EqualValues(t, 20, count)

	_, err = store.GetAllByKind(ctx, outcome.KindConfirmed, query.EmptyCursor, 10, query.Ascending)
	assert.Equal(t, outcome_store.ErrNotFound, err)
}
