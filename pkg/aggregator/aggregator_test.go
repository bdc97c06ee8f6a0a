package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-test-client/pkg/outcome"
	"github.com/code-payments/code-test-client/pkg/token"
)

func newTestOutcome(kind outcome.Kind, latency time.Duration) *outcome.Outcome {
	now := time.Now()
	return &outcome.Outcome{
		AttemptID:   uuid.New(),
		Kind:        kind,
		Latency:     latency,
		Source:      "source",
		Destination: "destination",
		Amount:      1000,
		Fee:         token.MobMinimumFee,
		TokenID:     token.MOB,
		Submissions: 1,
		Queries:     1,
		CreatedAt:   now.Add(-latency),
		ResolvedAt:  now,
	}
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []*outcome.Outcome
	err      error
}

func (s *recordingSink) Observe(_ context.Context, o *outcome.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, o)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.outcomes)
}

func TestAggregator_ExactlyOnceAccounting(t *testing.T) {
	sink := &recordingSink{}
	a := New(sink)
	ctx := context.Background()

	o := newTestOutcome(outcome.KindConfirmed, time.Second)

	// Never opened
	assert.Equal(t, ErrUnknownAttempt, a.Record(ctx, o))

	require.NoError(t, a.Open(o.AttemptID))
	assert.Equal(t, ErrAlreadyOpen, a.Open(o.AttemptID))
	assert.Equal(t, 1, a.InFlight())

	require.NoError(t, a.Record(ctx, o))
	assert.Equal(t, 0, a.InFlight())

	// Recorded twice
	assert.Equal(t, ErrDuplicateOutcome, a.Record(ctx, o))
	assert.Equal(t, ErrAlreadyOpen, a.Open(o.AttemptID))

	s := a.Snapshot()
	assert.EqualValues(t, 1, s.Total)
	assert.EqualValues(t, 1, s.Counts[outcome.KindConfirmed])
	assert.EqualValues(t, 2, s.AccountingErrors)
	assert.Equal(t, 1, sink.count())
}

func TestAggregator_InvalidOutcome(t *testing.T) {
	a := New()

	o := newTestOutcome(outcome.KindUnknown, time.Second)
	require.NoError(t, a.Open(o.AttemptID))
	assert.Error(t, a.Record(context.Background(), o))
	assert.Equal(t, 1, a.InFlight())
}

func TestAggregator_SinkFailureDoesntFailRecord(t *testing.T) {
	failing := &recordingSink{err: errors.New("unavailable")}
	healthy := &recordingSink{}
	a := New(failing, healthy)

	o := newTestOutcome(outcome.KindTimedOut, time.Second)
	require.NoError(t, a.Open(o.AttemptID))
	require.NoError(t, a.Record(context.Background(), o))

	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())
}

func TestAggregator_Counts(t *testing.T) {
	a := New()
	ctx := context.Background()

	expected := map[outcome.Kind]uint64{
		outcome.KindConfirmed:        5,
		outcome.KindTimedOut:         2,
		outcome.KindRejected:         1,
		outcome.KindMismatchedAmount: 1,
		outcome.KindDuplicateOutput:  1,
		outcome.KindDiscarded:        3,
	}
	for kind, count := range expected {
		for i := uint64(0); i < count; i++ {
			o := newTestOutcome(kind, time.Second)
			require.NoError(t, a.Open(o.AttemptID))
			require.NoError(t, a.Record(ctx, o))
		}
	}

	s := a.Snapshot()
	assert.EqualValues(t, 13, s.Total)
	assert.EqualValues(t, 5, s.Failures)
	assert.EqualValues(t, 2, s.CorrectnessFailures)
	assert.Len(t, s.Counts, len(outcome.AllKinds))
	for _, kind := range outcome.AllKinds {
		assert.Equal(t, expected[kind], s.Counts[kind], kind.String())
	}
	assert.EqualValues(t, 13, s.Latency.Count)
}

func TestAggregator_ConcurrentSnapshotsAreConsistent(t *testing.T) {
	a := New()
	ctx := context.Background()

	const workers = 8
	const perWorker = 250

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < perWorker; j++ {
				o := newTestOutcome(outcome.KindConfirmed, time.Duration(j)*time.Millisecond)
				assert.NoError(t, a.Open(o.AttemptID))
				assert.NoError(t, a.Record(ctx, o))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		s := a.Snapshot()

		var total uint64
		for _, count := range s.Counts {
			total += count
		}
		require.Equal(t, s.Total, total)
		require.Equal(t, s.Total, s.Latency.Count)

		var bucketed uint64
		for _, count := range s.Latency.Counts {
			bucketed += count
		}
		require.Equal(t, s.Latency.Count, bucketed)

		select {
		case <-done:
			assert.EqualValues(t, workers*perWorker, a.Snapshot().Total)
			assert.Equal(t, 0, a.InFlight())
			return
		default:
		}
	}
}

func TestAggregator_Report(t *testing.T) {
	a := New()

	o := newTestOutcome(outcome.KindConfirmed, 250*time.Millisecond)
	require.NoError(t, a.Open(o.AttemptID))
	require.NoError(t, a.Record(context.Background(), o))

	s := a.Report(context.Background())
	assert.EqualValues(t, 1, s.Total)
	assert.Equal(t, 250*time.Millisecond, s.Latency.Max)
}

func TestAggregator_StartPeriodicReport(t *testing.T) {
	a := New()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Equal(t, context.DeadlineExceeded, a.StartPeriodicReport(ctx, 10*time.Millisecond))
}

func TestAggregator_AddSink(t *testing.T) {
	first := &recordingSink{}
	a := New(first)

	ctx := context.Background()
	before := newTestOutcome(outcome.KindConfirmed, time.Second)
	require.NoError(t, a.Open(before.AttemptID))
	require.NoError(t, a.Record(ctx, before))

	second := &recordingSink{}
	a.AddSink(second)

	after := newTestOutcome(outcome.KindTimedOut, time.Second)
	require.NoError(t, a.Open(after.AttemptID))
	require.NoError(t, a.Record(ctx, after))

	assert.Equal(t, 2, first.count())
	require.Equal(t, 1, second.count())
	assert.Equal(t, after.AttemptID, second.outcomes[0].AttemptID)
}
