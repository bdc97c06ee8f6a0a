package confirmation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/outcome"
	"github.com/code-payments/code-test-client/pkg/retry/backoff"
)

const (
	metricsStructName = "confirmation.poller"

	DefaultBaseInterval = 500 * time.Millisecond
	DefaultMaxInterval  = 8 * time.Second
	DefaultTimeout      = 60 * time.Second
)

var (
	ErrInvalidConfig = errors.New("invalid poller config")
)

// Config bounds the polling of a single attempt
type Config struct {
	// BaseInterval is the wait after the first query. Subsequent waits
	// double, up to MaxInterval.
	BaseInterval time.Duration
	MaxInterval  time.Duration

	// Timeout is the per-attempt deadline, measured from the start of Await
	Timeout time.Duration
}

// DefaultConfig returns the default poller config
func DefaultConfig() Config {
	return Config{
		BaseInterval: DefaultBaseInterval,
		MaxInterval:  DefaultMaxInterval,
		Timeout:      DefaultTimeout,
	}
}

// Validate validates the config
func (c Config) Validate() error {
	if c.BaseInterval <= 0 {
		return errors.Wrap(ErrInvalidConfig, "base interval must be positive")
	}
	if c.MaxInterval < c.BaseInterval {
		return errors.Wrap(ErrInvalidConfig, "max interval must be at least the base interval")
	}
	if c.Timeout <= 0 {
		return errors.Wrap(ErrInvalidConfig, "timeout must be positive")
	}
	return nil
}

// Schedule returns the backoff strategy between queries
func (c Config) Schedule() backoff.Strategy {
	return backoff.Capped(backoff.BinaryExponential(c.BaseInterval), c.MaxInterval)
}

// Expectation is what the destination should observe for a transfer
type Expectation struct {
	Destination string
	Amount      uint64
}

// Resolution is the terminal result of polling for a transfer
type Resolution struct {
	Kind outcome.Kind

	// Outputs are the outputs observed at the destination, if found
	Outputs []account.Output

	// Queries is the number of ticks performed
	Queries int

	// Intervals are the waits scheduled between ticks
	Intervals []time.Duration

	Elapsed time.Duration
	Detail  string
}

// query is the polling state of one attempt
type query struct {
	attemptID    uuid.UUID
	count        int
	nextRetryAt  time.Time
	lastStatus   ledger.StatusCode
	lastError    error
	transportErr int
}

// Poller polls the view service for the output of a submitted transfer
type Poller struct {
	log   *logrus.Entry
	view  ledger.ViewClient
	clock clockwork.Clock
	conf  Config
}

// NewPoller returns a new Poller
func NewPoller(view ledger.ViewClient, clock clockwork.Clock, conf Config) *Poller {
	return &Poller{
		log:   logrus.StandardLogger().WithField("type", "confirmation/poller"),
		view:  view,
		clock: clock,
		conf:  conf,
	}
}

// Await polls until the transfer reaches a terminal classification or the
// per-attempt deadline passes.
//
// The first query is issued immediately, with subsequent queries following
// the capped exponential schedule. Transport errors from the view service
// count as a pending tick. If ctx is cancelled, ctx.Err() is returned with no
// resolution.
func (p *Poller) Await(ctx context.Context, attemptID uuid.UUID, receipt *ledger.Receipt, expected Expectation) (*Resolution, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Await")
	defer tracer.End()

	log := p.log.WithFields(logrus.Fields{
		"method":  "Await",
		"attempt": attemptID,
		"tx_id":   receipt.TxID,
	})

	start := p.clock.Now()
	schedule := p.conf.Schedule()
	q := &query{attemptID: attemptID}
	res := &Resolution{}

	queryCtx, cancelQuery := context.WithCancel(ctx)
	defer cancelQuery()

	// The deadline timer aborts an in-flight query, so a hung view service
	// can't hold the attempt past its deadline
	expired := make(chan struct{})
	done := make(chan struct{})
	defer close(done)

	deadline := p.clock.NewTimer(p.conf.Timeout)
	defer deadline.Stop()
	go func() {
		select {
		case <-deadline.Chan():
			close(expired)
			cancelQuery()
		case <-done:
		}
	}()

	finish := func(kind outcome.Kind, detail string) (*Resolution, error) {
		res.Kind = kind
		res.Detail = detail
		res.Queries = q.count
		res.Elapsed = p.clock.Now().Sub(start)

		log.WithFields(logrus.Fields{
			"kind":    kind,
			"queries": q.count,
			"elapsed": res.Elapsed,
		}).Debug("attempt resolved")
		return res, nil
	}

	timedOut := func() (*Resolution, error) {
		detail := fmt.Sprintf("no terminal status after %d queries, last status %s", q.count, q.lastStatus)
		if q.lastError != nil {
			detail = fmt.Sprintf("%s, %d transport errors, last error: %v", detail, q.transportErr, q.lastError)
		}
		return finish(outcome.KindTimedOut, detail)
	}

	isExpired := func() bool {
		select {
		case <-expired:
			return true
		default:
			return false
		}
	}

	for {
		q.count++

		status, err := p.view.CheckForOutput(queryCtx, &ledger.OutputQuery{
			TxID:        receipt.TxID,
			Destination: expected.Destination,
			AmountHint:  expected.Amount,
			TokenID:     receipt.TokenID,
		})

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// A query aborted by the deadline isn't a transport error. The
		// deadline closes expired before aborting, so isExpired covers it.
		if err != nil && queryCtx.Err() == nil {
			q.lastError = err
			q.transportErr++
			tracer.OnError(err)
			log.WithError(err).Debug("transport error querying view service")
		}

		if isExpired() {
			return timedOut()
		}

		if err == nil {
			q.lastStatus = status.Code

			if kind, detail, ok := classify(status, expected); ok {
				res.Outputs = status.Outputs
				return finish(kind, detail)
			}
		}

		// A tick due at or after the deadline never runs, so the deadline
		// alone decides the attempt
		now := p.clock.Now()
		delay := schedule(uint(q.count))
		if delay >= start.Add(p.conf.Timeout).Sub(now) {
			q.nextRetryAt = time.Time{}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-expired:
				return timedOut()
			}
		}

		q.nextRetryAt = now.Add(delay)
		res.Intervals = append(res.Intervals, delay)

		wait := p.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-expired:
			wait.Stop()
			return timedOut()
		case <-wait.Chan():
		}
	}
}

// classify maps a view service status to a terminal classification, if any
func classify(status *ledger.OutputStatus, expected Expectation) (outcome.Kind, string, bool) {
	switch status.Code {
	case ledger.StatusDefinitivelyRejected:
		return outcome.KindRejected, "definitively rejected by view service", true
	case ledger.StatusFound:
		switch len(status.Outputs) {
		case 0:
			// Found without outputs isn't evidence of arrival
			return outcome.KindUnknown, "", false
		case 1:
			if status.Outputs[0].Value != expected.Amount {
				return outcome.KindMismatchedAmount, fmt.Sprintf("expected %d, observed %d", expected.Amount, status.Outputs[0].Value), true
			}
			return outcome.KindConfirmed, "", true
		default:
			return outcome.KindDuplicateOutput, fmt.Sprintf("observed %d outputs for a single transfer", len(status.Outputs)), true
		}
	}
	return outcome.KindUnknown, "", false
}
