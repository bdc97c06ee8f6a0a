package outcome

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_StringRoundTrip(t *testing.T) {
	seen := make(map[string]struct{})
	for _, kind := range AllKinds {
		assert.True(t, kind.IsValid())

		_, ok := seen[kind.String()]
		require.False(t, ok)
		seen[kind.String()] = struct{}{}

		parsed, err := ParseKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}

	assert.False(t, KindUnknown.IsValid())
	assert.False(t, Kind(100).IsValid())
	assert.Equal(t, "unknown", Kind(100).String())

	_, err := ParseKind("unknown")
	assert.Error(t, err)
}

func TestKind_Classification(t *testing.T) {
	for _, tc := range []struct {
		kind        Kind
		failure     bool
		correctness bool
	}{
		{KindConfirmed, false, false},
		{KindTimedOut, true, false},
		{KindRejected, true, false},
		{KindMismatchedAmount, true, true},
		{KindDuplicateOutput, true, true},
		{KindTransportFailure, true, false},
		{KindDiscarded, false, false},
	} {
		assert.Equal(t, tc.failure, tc.kind.IsFailure(), tc.kind.String())
		assert.Equal(t, tc.correctness, tc.kind.IsCorrectnessFailure(), tc.kind.String())
	}
}

func TestOutcome_Validate(t *testing.T) {
	now := time.Now()
	valid := func() *Outcome {
		return &Outcome{
			AttemptID:   uuid.New(),
			Kind:        KindConfirmed,
			Latency:     time.Second,
			Source:      "source",
			Destination: "destination",
			Amount:      1000,
			CreatedAt:   now,
			ResolvedAt:  now.Add(time.Second),
		}
	}

	require.NoError(t, valid().Validate())

	for _, mutate := range []func(o *Outcome){
		func(o *Outcome) { o.AttemptID = uuid.Nil },
		func(o *Outcome) { o.Kind = KindUnknown },
		func(o *Outcome) { o.Latency = -1 },
		func(o *Outcome) { o.Source = "" },
		func(o *Outcome) { o.Destination = "" },
		func(o *Outcome) { o.Amount = 0 },
		func(o *Outcome) { o.CreatedAt = time.Time{} },
		func(o *Outcome) { o.ResolvedAt = now.Add(-time.Second) },
	} {
		o := valid()
		mutate(o)
		assert.Error(t, o.Validate())
	}
}
