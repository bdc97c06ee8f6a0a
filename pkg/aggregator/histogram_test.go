package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogram_Empty(t *testing.T) {
	s := newHistogram(DefaultLatencyBuckets).snapshot()
	assert.EqualValues(t, 0, s.Count)
	assert.EqualValues(t, 0, s.Mean())
	assert.EqualValues(t, 0, s.Quantile(0.5))
	assert.Len(t, s.Counts, len(DefaultLatencyBuckets)+1)
}

func TestHistogram_Buckets(t *testing.T) {
	h := newHistogram([]float64{0.1, 0.2, 0.4})

	h.observe(50 * time.Millisecond)
	h.observe(100 * time.Millisecond) // Upper bounds are inclusive
	h.observe(150 * time.Millisecond)
	h.observe(time.Second)
	h.observe(-time.Second)

	s := h.snapshot()
	assert.Equal(t, []uint64{3, 1, 0, 1}, s.Counts)
	assert.EqualValues(t, 5, s.Count)
	assert.Equal(t, time.Duration(0), s.Min)
	assert.Equal(t, time.Second, s.Max)
	assert.Equal(t, 1300*time.Millisecond, s.Sum)
	assert.Equal(t, 260*time.Millisecond, s.Mean())
}

func TestHistogram_Quantile(t *testing.T) {
	h := newHistogram(DefaultLatencyBuckets)
	for i := 1; i <= 1000; i++ {
		h.observe(time.Duration(i) * time.Millisecond)
	}
	s := h.snapshot()

	assert.Equal(t, time.Millisecond, s.Quantile(0))
	assert.Equal(t, time.Second, s.Quantile(1))

	// Estimates land within the bucket holding the true quantile
	for _, tc := range []struct {
		q     float64
		lower time.Duration
		upper time.Duration
	}{
		{0.005, time.Millisecond, 10 * time.Millisecond},
		{0.5, 320 * time.Millisecond, 640 * time.Millisecond},
		{0.9, 640 * time.Millisecond, time.Second},
		{0.99, 640 * time.Millisecond, time.Second},
	} {
		estimate := s.Quantile(tc.q)
		assert.GreaterOrEqual(t, estimate, tc.lower, tc.q)
		assert.LessOrEqual(t, estimate, tc.upper, tc.q)
	}

	// Quantiles are non-decreasing
	var previous time.Duration
	for q := 0.0; q <= 1.0; q += 0.01 {
		estimate := s.Quantile(q)
		require.GreaterOrEqual(t, estimate, previous)
		previous = estimate
	}
}

func TestHistogram_SingleValue(t *testing.T) {
	h := newHistogram(DefaultLatencyBuckets)
	h.observe(3 * time.Second)
	h.observe(3 * time.Second)

	s := h.snapshot()
	for _, q := range []float64{0, 0.1, 0.5, 0.99, 1} {
		assert.Equal(t, 3*time.Second, s.Quantile(q))
	}
}
