package aggregator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/outcome"
)

const (
	summaryEventName = "TestClientSummary"
)

// Report logs a summary line and records it as a metrics event
func (a *Aggregator) Report(ctx context.Context) Snapshot {
	s := a.Snapshot()

	fields := logrus.Fields{
		"total":                s.Total,
		"failures":             s.Failures,
		"correctness_failures": s.CorrectnessFailures,
		"in_flight":            s.InFlight,
		"accounting_errors":    s.AccountingErrors,
		"latency_mean":         s.Latency.Mean(),
		"latency_p50":          s.Latency.Quantile(0.5),
		"latency_p99":          s.Latency.Quantile(0.99),
		"latency_max":          s.Latency.Max,
	}
	event := map[string]interface{}{
		"total":                s.Total,
		"failures":             s.Failures,
		"correctness_failures": s.CorrectnessFailures,
		"in_flight":            s.InFlight,
		"accounting_errors":    s.AccountingErrors,
		"latency_mean_ms":      s.Latency.Mean().Milliseconds(),
		"latency_p50_ms":       s.Latency.Quantile(0.5).Milliseconds(),
		"latency_p99_ms":       s.Latency.Quantile(0.99).Milliseconds(),
		"latency_max_ms":       s.Latency.Max.Milliseconds(),
	}
	for _, kind := range outcome.AllKinds {
		fields[kind.String()] = s.Counts[kind]
		event[kind.String()] = s.Counts[kind]
	}

	log := a.log.WithField("method", "Report").WithFields(fields)
	if s.CorrectnessFailures > 0 || s.AccountingErrors > 0 {
		log.Warn("outcome summary")
	} else {
		log.Info("outcome summary")
	}

	metrics.RecordEvent(ctx, summaryEventName, event)
	return s
}

// StartPeriodicReport reports every interval until ctx is done
func (a *Aggregator) StartPeriodicReport(ctx context.Context, interval time.Duration) error {
	delay := interval

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			start := time.Now()

			a.Report(ctx)

			delay = interval - time.Since(start)
		}
	}
}
