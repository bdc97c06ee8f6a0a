package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/aggregator"
	"github.com/code-payments/code-test-client/pkg/confirmation"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/outcome"
	"github.com/code-payments/code-test-client/pkg/retry"
	"github.com/code-payments/code-test-client/pkg/retry/backoff"
	"github.com/code-payments/code-test-client/pkg/transfer"
)

const (
	cycleTransactionName = "test_client__orchestrator__cycle"
	localFailureMetric   = "TestClient/LocalFailure"
)

// Config configures the transfer cycles of an orchestrator
type Config struct {
	// MinAmount and MaxAmount bound the uniformly picked amount of each
	// transfer
	MinAmount uint64
	MaxAmount uint64

	// RetryLimit is the number of consecutive failures tolerated before a
	// FatalCycleError is escalated
	RetryLimit int

	// SubmitRetryLimit is the number of re-submissions after transport errors
	SubmitRetryLimit uint
	SubmitBackoff    time.Duration
	SubmitMaxBackoff time.Duration

	// LocalFailureBackoff is the base delay before retrying a cycle that
	// failed a local precondition, doubling up to LocalFailureMaxBackoff
	LocalFailureBackoff    time.Duration
	LocalFailureMaxBackoff time.Duration
}

// Gate admits attempts for submission. The returned release function is
// called once the attempt is resolved.
type Gate interface {
	Admit(ctx context.Context) (release func(), err error)
}

// FatalCycleError is escalated when an orchestrator exceeds its consecutive
// failure budget
type FatalCycleError struct {
	Orchestrator int
	Failures     int

	// LastKind is the classification of the last failed attempt, or
	// KindUnknown if the last failure was local
	LastKind outcome.Kind
	LastErr  error
}

func (e *FatalCycleError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("orchestrator %d: %d consecutive failures, last: %v", e.Orchestrator, e.Failures, e.LastErr)
	}
	return fmt.Sprintf("orchestrator %d: %d consecutive failures, last: %s", e.Orchestrator, e.Failures, e.LastKind)
}

// FatalHandler receives escalated failures
type FatalHandler func(err *FatalCycleError)

// Orchestrator drives account pairs through repeated submit, poll and verify
// cycles. Cycles within one orchestrator are strictly sequential.
type Orchestrator struct {
	id         int
	log        *logrus.Entry
	conf       *Config
	pool       *account.Pool
	submitter  *transfer.Submitter
	poller     *confirmation.Poller
	aggregator *aggregator.Aggregator
	gate       Gate
	clock      clockwork.Clock
	rand       *rand.Rand
	onFatal    FatalHandler

	// prefer reverses the direction of the previously confirmed pair
	prefer              account.Criteria
	consecutiveFailures int
}

// Option configures an Orchestrator
type Option func(o *Orchestrator)

// WithFatalHandler sets the handler for escalated failures
func WithFatalHandler(handler FatalHandler) Option {
	return func(o *Orchestrator) {
		o.onFatal = handler
	}
}

// WithSeed seeds the amount picker
func WithSeed(seed int64) Option {
	return func(o *Orchestrator) {
		o.rand = rand.New(rand.NewSource(seed))
	}
}

// New returns a new Orchestrator
func New(
	id int,
	conf *Config,
	pool *account.Pool,
	submitter *transfer.Submitter,
	poller *confirmation.Poller,
	aggregator *aggregator.Aggregator,
	gate Gate,
	clock clockwork.Clock,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		id:         id,
		log:        logrus.StandardLogger().WithFields(logrus.Fields{"type": "orchestrator/orchestrator", "orchestrator": id}),
		conf:       conf,
		pool:       pool,
		submitter:  submitter,
		poller:     poller,
		aggregator: aggregator,
		gate:       gate,
		clock:      clock,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		onFatal:    func(*FatalCycleError) {},
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes cycles until stopCtx is done. No new cycle starts once
// stopCtx is done. The in-flight attempt keeps running under workCtx, and is
// discarded if workCtx is cancelled before it resolves.
func (o *Orchestrator) Run(stopCtx, workCtx context.Context) error {
	err := retry.Loop(
		func() error {
			if err := stopCtx.Err(); err != nil {
				return err
			}

			_, err := o.RunCycle(stopCtx, workCtx)
			return err
		},
		retry.RetriableFunc(func(err error) bool {
			return !isContextErr(err)
		}),
		retry.BackoffWithContext(stopCtx, o.clock, backoff.BinaryExponential(o.conf.LocalFailureBackoff), o.conf.LocalFailureMaxBackoff),
	)

	if isContextErr(err) || stopCtx.Err() != nil {
		return nil
	}
	return err
}

// RunCycle runs a single cycle. The outcome is nil if no attempt was created,
// in which case the local failure is returned.
func (o *Orchestrator) RunCycle(stopCtx, workCtx context.Context) (*outcome.Outcome, error) {
	res, err := o.runCycle(stopCtx, workCtx)

	switch {
	case err != nil && !isContextErr(err):
		metrics.RecordCount(workCtx, localFailureMetric, 1)
		o.log.WithError(err).Debug("local failure")
		o.noteFailure(outcome.KindUnknown, err)
	case res != nil && res.Kind.IsFailure():
		o.noteFailure(res.Kind, nil)
	case res != nil && res.Kind == outcome.KindConfirmed:
		o.consecutiveFailures = 0
	}

	return res, err
}

func (o *Orchestrator) runCycle(stopCtx, workCtx context.Context) (*outcome.Outcome, error) {
	amount := o.pickAmount()

	fee, err := o.submitter.Fee()
	if err != nil {
		return nil, err
	}

	criteria := o.prefer
	criteria.MinBalance = amount + fee

	sourceLease, destinationLease, err := o.pool.AcquirePair(stopCtx, criteria)
	if err != nil {
		return nil, err
	}

	source := sourceLease.Account
	destination := destinationLease.Account

	// Leases are handed back unmodified when no attempt is created
	releaseUnmodified := func() {
		o.release(sourceLease, nil)
		o.release(destinationLease, nil)
	}

	if err := o.submitter.CheckFunds(source, amount); err != nil {
		releaseUnmodified()
		return nil, err
	}

	releaseGate, err := o.gate.Admit(stopCtx)
	if err != nil {
		releaseUnmodified()
		return nil, err
	}

	attempt := transfer.NewAttempt(source.Address(), destination.Address(), amount, fee, o.submitter.TokenID(), o.clock.Now())
	if err := o.aggregator.Open(attempt.ID); err != nil {
		releaseGate()
		releaseUnmodified()
		return nil, err
	}

	ctx, end := metrics.StartBackgroundTransaction(workCtx, cycleTransactionName)
	defer end()

	log := o.log.WithFields(logrus.Fields{
		"method":      "RunCycle",
		"attempt":     attempt.ID,
		"source":      attempt.Source,
		"destination": attempt.Destination,
		"amount":      amount,
	})

	kind, detail, queries := o.execute(ctx, attempt, source, destination)

	res, err := attempt.Resolve(kind, detail, queries, o.clock.Now())
	releaseGate()
	if err != nil {
		log.WithError(err).Error("failure resolving attempt")
		o.release(sourceLease, source)
		o.release(destinationLease, destination)
		return nil, err
	}

	o.release(sourceLease, source)
	o.release(destinationLease, destination)

	if kind == outcome.KindConfirmed {
		o.prefer = account.Criteria{
			PreferSource:      destination.Address(),
			PreferDestination: source.Address(),
		}
	}

	log = log.WithFields(logrus.Fields{
		"kind":        kind,
		"latency":     res.Latency,
		"submissions": res.Submissions,
		"queries":     res.Queries,
	})
	switch {
	case kind.IsCorrectnessFailure():
		log.WithField("detail", detail).Warn("correctness failure")
	case kind.IsFailure():
		log.WithField("detail", detail).Info("attempt failed")
	default:
		log.Debug("attempt resolved")
	}

	if err := o.aggregator.Record(ctx, res); err != nil {
		log.WithError(err).Warn("failure recording outcome")
	}

	return res, nil
}

// execute submits and polls an attempt, applying the result to the leased
// account state
func (o *Orchestrator) execute(ctx context.Context, attempt *transfer.Attempt, source, destination *account.Account) (kind outcome.Kind, detail string, queries int) {
	var receipt *ledger.Receipt
	_, err := retry.Retry(
		func() error {
			var err error
			attempt.Submissions++
			receipt, err = o.submitter.Submit(ctx, source, destination, attempt.Amount)
			return err
		},
		retry.RetriableFunc(func(err error) bool {
			kind, ok := transfer.KindOf(err)
			return ok && kind == transfer.KindTransportError
		}),
		retry.Limit(o.conf.SubmitRetryLimit+1),
		retry.BackoffWithContext(ctx, o.clock, backoff.BinaryExponential(o.conf.SubmitBackoff), o.conf.SubmitMaxBackoff),
	)
	if err != nil {
		if ctx.Err() != nil {
			return outcome.KindDiscarded, "shutdown before submission completed", 0
		}

		kind, _ := transfer.KindOf(err)
		switch kind {
		case transfer.KindRejected:
			return outcome.KindRejected, err.Error(), 0
		case transfer.KindInsufficientFunds:
			return outcome.KindRejected, fmt.Sprintf("re-submission failed locally: %v", err), 0
		default:
			return outcome.KindTransportFailure, fmt.Sprintf("%d submissions: %v", attempt.Submissions, err), 0
		}
	}

	attempt.OnSubmitted(receipt)

	res, err := o.poller.Await(ctx, attempt.ID, receipt, confirmation.Expectation{
		Destination: destination.Address(),
		Amount:      attempt.Amount,
	})
	if err != nil {
		// The transfer may still land, so the spent inputs stay consumed
		source.DropChange(receipt.TxID)
		return outcome.KindDiscarded, "shutdown while awaiting confirmation", 0
	}

	switch res.Kind {
	case outcome.KindConfirmed:
		destination.Credit(res.Outputs[0])
		source.SettleChange(receipt.TxID)
	case outcome.KindRejected:
		o.submitter.Restore(source, receipt)
	default:
		source.DropChange(receipt.TxID)
	}

	return res.Kind, res.Detail, res.Queries
}

func (o *Orchestrator) release(lease *account.Lease, updated *account.Account) {
	if err := o.pool.Release(lease, updated); err != nil {
		o.log.WithError(err).WithField("account", lease.Address()).Warn("failure releasing lease")
	}
}

func (o *Orchestrator) noteFailure(kind outcome.Kind, err error) {
	o.consecutiveFailures++
	if o.consecutiveFailures <= o.conf.RetryLimit {
		return
	}

	fatal := &FatalCycleError{
		Orchestrator: o.id,
		Failures:     o.consecutiveFailures,
		LastKind:     kind,
		LastErr:      err,
	}
	o.consecutiveFailures = 0
	o.onFatal(fatal)
}

func (o *Orchestrator) pickAmount() uint64 {
	if o.conf.MaxAmount <= o.conf.MinAmount {
		return o.conf.MinAmount
	}

	span := o.conf.MaxAmount - o.conf.MinAmount + 1
	if span == 0 {
		// The range covers every uint64
		return o.rand.Uint64()
	}
	if span <= math.MaxInt64 {
		return o.conf.MinAmount + uint64(o.rand.Int63n(int64(span)))
	}

	// span > 2^63, so at least half the draws are accepted
	for {
		if v := o.rand.Uint64(); v < span {
			return o.conf.MinAmount + v
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
