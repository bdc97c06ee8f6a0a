package aggregator

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultLatencyBuckets are the upper bounds, in seconds, of the latency
// histogram: 10ms doubling up to ~82s. Latencies above the last bound fall
// into an overflow bucket.
var DefaultLatencyBuckets = prometheus.ExponentialBuckets(0.01, 2, 14)

// HistogramSnapshot is a point in time copy of a latency histogram
type HistogramSnapshot struct {
	// Bounds are the bucket upper bounds. Counts has one more entry than
	// Bounds, for the overflow bucket.
	Bounds []time.Duration
	Counts []uint64

	Count uint64
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
}

type histogram struct {
	bounds []time.Duration
	counts []uint64
	count  uint64
	sum    time.Duration
	min    time.Duration
	max    time.Duration
}

func newHistogram(bucketsInSeconds []float64) *histogram {
	bounds := make([]time.Duration, len(bucketsInSeconds))
	for i, bound := range bucketsInSeconds {
		bounds[i] = time.Duration(bound * float64(time.Second))
	}

	return &histogram{
		bounds: bounds,
		counts: make([]uint64, len(bounds)+1),
	}
}

func (h *histogram) observe(d time.Duration) {
	if d < 0 {
		d = 0
	}

	i := 0
	for i < len(h.bounds) && d > h.bounds[i] {
		i++
	}
	h.counts[i]++

	if h.count == 0 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}
	h.count++
	h.sum += d
}

func (h *histogram) snapshot() HistogramSnapshot {
	return HistogramSnapshot{
		Bounds: append([]time.Duration(nil), h.bounds...),
		Counts: append([]uint64(nil), h.counts...),
		Count:  h.count,
		Sum:    h.sum,
		Min:    h.min,
		Max:    h.max,
	}
}

// Mean returns the mean latency
func (s HistogramSnapshot) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / time.Duration(s.Count)
}

// Quantile estimates the q-th quantile, 0 <= q <= 1, by linear interpolation
// within the bucket containing it. The estimate is clamped to the observed
// min and max.
func (s HistogramSnapshot) Quantile(q float64) time.Duration {
	if s.Count == 0 || math.IsNaN(q) {
		return 0
	}
	if q <= 0 {
		return s.Min
	}
	if q >= 1 {
		return s.Max
	}

	rank := q * float64(s.Count)

	var cumulative uint64
	for i, count := range s.Counts {
		if count == 0 {
			continue
		}

		if float64(cumulative+count) >= rank {
			lower := s.Min
			if i > 0 && s.Bounds[i-1] > lower {
				lower = s.Bounds[i-1]
			}

			upper := s.Max
			if i < len(s.Bounds) && s.Bounds[i] < upper {
				upper = s.Bounds[i]
			}

			fraction := (rank - float64(cumulative)) / float64(count)
			estimate := lower + time.Duration(fraction*float64(upper-lower))
			return clamp(estimate, s.Min, s.Max)
		}

		cumulative += count
	}

	return s.Max
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
