package transfer

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/token"
)

const (
	metricsStructName = "transfer.submitter"
)

var (
	// ErrInsufficientFunds indicates the source can't cover amount + fee. No
	// network call is made.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoFee indicates the fee map has no minimum fee for the token
	ErrNoFee = errors.New("no minimum fee configured for token")
	// ErrInvalidAmount indicates a zero amount
	ErrInvalidAmount = errors.New("amount must be positive")
)

// ErrorKind classifies a submission failure
type ErrorKind uint8

const (
	// KindInsufficientFunds is a local precondition failure
	KindInsufficientFunds ErrorKind = iota + 1
	// KindRejected is a definitive refusal by the remote service
	KindRejected
	// KindTransportError is a network or connection failure. It's retryable
	// at the orchestrator level with a fresh submission.
	KindTransportError
)

func (k ErrorKind) String() string {
	switch k {
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindRejected:
		return "rejected"
	case KindTransportError:
		return "transport_error"
	}
	return "unknown"
}

// SubmissionError is a classified submission failure
type SubmissionError struct {
	Kind ErrorKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a SubmissionError, if err is one
func KindOf(err error) (ErrorKind, bool) {
	var submissionErr *SubmissionError
	if errors.As(err, &submissionErr) {
		return submissionErr.Kind, true
	}
	return 0, false
}

// Submitter builds and submits single value transfers
type Submitter struct {
	log     *logrus.Entry
	builder ledger.TransactionBuilder
	fees    *token.FeeMap
	tokenID token.TokenID
	clock   clockwork.Clock
}

// NewSubmitter returns a new Submitter for the token
func NewSubmitter(builder ledger.TransactionBuilder, fees *token.FeeMap, tokenID token.TokenID, clock clockwork.Clock) *Submitter {
	return &Submitter{
		log:     logrus.StandardLogger().WithField("type", "transfer/submitter"),
		builder: builder,
		fees:    fees,
		tokenID: tokenID,
		clock:   clock,
	}
}

// TokenID returns the token transferred by the submitter
func (s *Submitter) TokenID() token.TokenID {
	return s.tokenID
}

// Fee returns the current minimum fee for the token
func (s *Submitter) Fee() (uint64, error) {
	fee, ok := s.fees.GetFee(s.tokenID)
	if !ok {
		return 0, errors.Wrapf(ErrNoFee, "%s", s.tokenID)
	}
	return fee, nil
}

// CheckFunds verifies the source can cover amount + fee, without consuming
// anything or making a network call.
func (s *Submitter) CheckFunds(source *account.Account, amount uint64) error {
	_, _, _, err := s.plan(source, amount)
	return err
}

// Submit builds and submits a transfer of amount from source to destination.
//
// On success, the spent inputs are optimistically removed from source and the
// expected change output is recorded as pending change. A sequence number is
// consumed on every call that reaches the network, successful or not.
//
// Errors are a *SubmissionError, except context cancellation, which is
// returned as is.
func (s *Submitter) Submit(ctx context.Context, source, destination *account.Account, amount uint64) (*ledger.Receipt, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Submit")
	defer tracer.End()

	log := s.log.WithFields(logrus.Fields{
		"method":      "Submit",
		"source":      source.Address(),
		"destination": destination.Address(),
		"amount":      amount,
	})

	inputs, fee, change, err := s.plan(source, amount)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := &ledger.TransferRequest{
		Source:      source.Key,
		Destination: destination.Address(),
		Inputs:      inputs,
		Amount:      amount,
		Fee:         fee,
		Change:      change,
		TokenID:     s.tokenID,
		Sequence:    source.NextSequence(),
	}

	receipt, err := s.builder.BuildAndSubmit(ctx, req)
	if err != nil {
		tracer.OnError(err)

		if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, ctxErr
		}

		if errors.Is(err, ledger.ErrTransactionRejected) {
			log.WithError(err).Info("transfer rejected")
			return nil, &SubmissionError{Kind: KindRejected, Err: err}
		}

		log.WithError(err).Warn("transport error submitting transfer")
		return nil, &SubmissionError{Kind: KindTransportError, Err: err}
	}

	if receipt.SubmittedAt.IsZero() {
		receipt.SubmittedAt = s.clock.Now()
	}

	source.RemoveOutputs(receipt.Inputs)
	if receipt.Change != nil {
		source.AddPendingChange(receipt.TxID, *receipt.Change)
	}

	log.WithField("tx_id", receipt.TxID).Debug("transfer submitted")
	return receipt, nil
}

// Restore undoes the optimistic update of a submission that was definitively
// rejected: the inputs are spendable again, and the pending change is
// dropped.
func (s *Submitter) Restore(source *account.Account, receipt *ledger.Receipt) {
	for _, input := range receipt.Inputs {
		source.Credit(input)
	}
	source.DropChange(receipt.TxID)
}

func (s *Submitter) plan(source *account.Account, amount uint64) (inputs []account.Output, fee, change uint64, err error) {
	if amount == 0 {
		return nil, 0, 0, &SubmissionError{Kind: KindInsufficientFunds, Err: ErrInvalidAmount}
	}

	fee, err = s.Fee()
	if err != nil {
		return nil, 0, 0, err
	}

	inputs, total, err := source.SelectInputs(amount + fee)
	if err != nil {
		return nil, 0, 0, &SubmissionError{
			Kind: KindInsufficientFunds,
			Err:  errors.Wrapf(ErrInsufficientFunds, "balance %d < %d + %d", source.Balance(), amount, fee),
		}
	}

	return inputs, fee, total - amount - fee, nil
}
