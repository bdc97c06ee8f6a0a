package aggregator

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/code-payments/code-test-client/pkg/outcome"
)

const (
	prometheusNamespace = "test_client"
)

// PrometheusSink exposes outcome counts, latency and in-flight attempts as
// Prometheus collectors
type PrometheusSink struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.GaugeFunc
}

// NewPrometheusSink returns a new PrometheusSink. The in-flight gauge reports
// the aggregator's open attempts at scrape time.
func NewPrometheusSink(aggregator *Aggregator) *PrometheusSink {
	s := &PrometheusSink{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Name:      "outcomes_total",
			Help:      "Number of transfer attempt outcomes, by classification.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Name:      "attempt_latency_seconds",
			Help:      "End-to-end latency of transfer attempts, by classification.",
			Buckets:   DefaultLatencyBuckets,
		}, []string{"kind"}),
		inFlight: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Name:      "attempts_in_flight",
			Help:      "Number of transfer attempts without an outcome.",
		}, func() float64 {
			return float64(aggregator.InFlight())
		}),
	}

	// Initialize every classification, so absent kinds report zero
	for _, kind := range outcome.AllKinds {
		s.outcomes.WithLabelValues(kind.String())
	}

	return s
}

// Register registers the sink's collectors
func (s *PrometheusSink) Register(registerer prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{s.outcomes, s.latency, s.inFlight} {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Observe implements Sink.Observe
func (s *PrometheusSink) Observe(_ context.Context, o *outcome.Outcome) error {
	s.outcomes.WithLabelValues(o.Kind.String()).Inc()
	s.latency.WithLabelValues(o.Kind.String()).Observe(o.Latency.Seconds())
	return nil
}
