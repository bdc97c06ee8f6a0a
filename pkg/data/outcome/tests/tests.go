package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-test-client/pkg/data/outcome"
	"github.com/code-payments/code-test-client/pkg/database/query"
	domain "github.com/code-payments/code-test-client/pkg/outcome"
	"github.com/code-payments/code-test-client/pkg/token"
)

func RunTests(t *testing.T, s outcome.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s outcome.Store){
		testHappyPath,
		testValidation,
		testCounting,
		testGetAllByKind,
	} {
		tf(t, s)
		teardown()
	}
}

func testHappyPath(t *testing.T, s outcome.Store) {
	t.Run("testHappyPath", func(t *testing.T) {
		ctx := context.Background()
		start := time.Now()
		time.Sleep(time.Millisecond)

		record := newTestRecord(domain.KindMismatchedAmount)
		record.Detail = "expected 1000, observed 999"
		cloned := record.Clone()

		_, err := s.Get(ctx, record.AttemptId)
		assert.Equal(t, outcome.ErrNotFound, err)

		require.NoError(t, s.Put(ctx, record))
		assert.True(t, record.Id > 0)
		assert.Equal(t, outcome.ErrAlreadyExists, s.Put(ctx, record))

		actual, err := s.Get(ctx, record.AttemptId)
		require.NoError(t, err)
		assert.Equal(t, record.Id, actual.Id)
		assert.True(t, actual.CreatedAt.After(start))
		assertEquivalentRecords(t, &cloned, actual)

		// Records without detail round trip as empty
		record = newTestRecord(domain.KindConfirmed)
		cloned = record.Clone()
		require.NoError(t, s.Put(ctx, record))

		actual, err = s.Get(ctx, record.AttemptId)
		require.NoError(t, err)
		assertEquivalentRecords(t, &cloned, actual)
	})
}

func testValidation(t *testing.T, s outcome.Store) {
	t.Run("testValidation", func(t *testing.T) {
		ctx := context.Background()

		for _, mutate := range []func(r *outcome.Record){
			func(r *outcome.Record) { r.AttemptId = "not-a-uuid" },
			func(r *outcome.Record) { r.Kind = domain.KindUnknown },
			func(r *outcome.Record) { r.Latency = -time.Second },
			func(r *outcome.Record) { r.Source = "" },
			func(r *outcome.Record) { r.Destination = "" },
			func(r *outcome.Record) { r.Amount = 0 },
			func(r *outcome.Record) { r.ResolvedAt = time.Time{} },
		} {
			record := newTestRecord(domain.KindConfirmed)
			mutate(record)
			assert.Error(t, s.Put(ctx, record))

			_, err := s.Get(ctx, record.AttemptId)
			assert.Equal(t, outcome.ErrNotFound, err)
		}
	})
}

func testCounting(t *testing.T, s outcome.Store) {
	t.Run("testCounting", func(t *testing.T) {
		ctx := context.Background()

		kinds := []domain.Kind{
			domain.KindConfirmed,
			domain.KindConfirmed,
			domain.KindConfirmed,
			domain.KindTimedOut,
			domain.KindTimedOut,
			domain.KindDuplicateOutput,
		}
		for _, kind := range kinds {
			require.NoError(t, s.Put(ctx, newTestRecord(kind)))
		}

		for kind, expected := range map[domain.Kind]uint64{
			domain.KindConfirmed:       3,
			domain.KindTimedOut:        2,
			domain.KindDuplicateOutput: 1,
			domain.KindRejected:        0,
		} {
			count, err := s.CountByKind(ctx, kind)
			require.NoError(t, err)
			assert.Equal(t, expected, count, kind.String())
		}
	})
}

func testGetAllByKind(t *testing.T, s outcome.Store) {
	t.Run("testGetAllByKind", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAllByKind(ctx, domain.KindRejected, query.EmptyCursor, 10, query.Ascending)
		assert.Equal(t, outcome.ErrNotFound, err)

		var rejected []*outcome.Record
		for i := 0; i < 5; i++ {
			record := newTestRecord(domain.KindRejected)
			record.Detail = fmt.Sprintf("rejection %d", i)
			require.NoError(t, s.Put(ctx, record))
			rejected = append(rejected, record)

			require.NoError(t, s.Put(ctx, newTestRecord(domain.KindConfirmed)))
		}

		actual, err := s.GetAllByKind(ctx, domain.KindRejected, query.EmptyCursor, 10, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, 5)
		for i, record := range actual {
			assertEquivalentRecords(t, rejected[i], record)
		}

		actual, err = s.GetAllByKind(ctx, domain.KindRejected, query.EmptyCursor, 10, query.Descending)
		require.NoError(t, err)
		require.Len(t, actual, 5)
		for i, record := range actual {
			assertEquivalentRecords(t, rejected[4-i], record)
		}

		// Page through in both directions
		actual, err = s.GetAllByKind(ctx, domain.KindRejected, query.EmptyCursor, 2, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, rejected[0], actual[0])
		assertEquivalentRecords(t, rejected[1], actual[1])

		actual, err = s.GetAllByKind(ctx, domain.KindRejected, query.ToCursor(actual[1].Id), 2, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, rejected[2], actual[0])
		assertEquivalentRecords(t, rejected[3], actual[1])

		actual, err = s.GetAllByKind(ctx, domain.KindRejected, query.ToCursor(actual[1].Id), 2, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, 1)
		assertEquivalentRecords(t, rejected[4], actual[0])

		_, err = s.GetAllByKind(ctx, domain.KindRejected, query.ToCursor(actual[0].Id), 2, query.Ascending)
		assert.Equal(t, outcome.ErrNotFound, err)

		actual, err = s.GetAllByKind(ctx, domain.KindRejected, query.ToCursor(rejected[3].Id), 10, query.Descending)
		require.NoError(t, err)
		require.Len(t, actual, 3)
		for i, record := range actual {
			assertEquivalentRecords(t, rejected[2-i], record)
		}

		_, err = s.GetAllByKind(ctx, domain.KindRejected, query.ToCursor(rejected[0].Id), 10, query.Descending)
		assert.Equal(t, outcome.ErrNotFound, err)
	})
}

func newTestRecord(kind domain.Kind) *outcome.Record {
	now := time.Now()
	return &outcome.Record{
		AttemptId: uuid.New().String(),
		Kind:      kind,
		Latency:   1500 * time.Millisecond,

		Source:      "source",
		Destination: "destination",
		Amount:      1000,
		Fee:         token.MobMinimumFee,
		TokenId:     token.MOB,

		Submissions: 2,
		Queries:     5,

		AttemptedAt: now.Add(-1500 * time.Millisecond),
		ResolvedAt:  now,
	}
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *outcome.Record) {
	assert.Equal(t, obj1.AttemptId, obj2.AttemptId)
	assert.Equal(t, obj1.Kind, obj2.Kind)
	assert.Equal(t, obj1.Latency, obj2.Latency)
	assert.Equal(t, obj1.Detail, obj2.Detail)
	assert.Equal(t, obj1.Source, obj2.Source)
	assert.Equal(t, obj1.Destination, obj2.Destination)
	assert.Equal(t, obj1.Amount, obj2.Amount)
	assert.Equal(t, obj1.Fee, obj2.Fee)
	assert.Equal(t, obj1.TokenId, obj2.TokenId)
	assert.Equal(t, obj1.Submissions, obj2.Submissions)
	assert.Equal(t, obj1.Queries, obj2.Queries)
	assert.Equal(t, obj1.AttemptedAt.UnixMilli(), obj2.AttemptedAt.UnixMilli())
	assert.Equal(t, obj1.ResolvedAt.UnixMilli(), obj2.ResolvedAt.UnixMilli())
}
