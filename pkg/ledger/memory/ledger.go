package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/jonboulle/clockwork"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/rate"
	sync_util "github.com/code-payments/code-test-client/pkg/sync"
	"github.com/code-payments/code-test-client/pkg/token"
)

// Fault is a failure injected into a submitted transfer
type Fault uint8

const (
	FaultNone Fault = iota
	// FaultReject refuses the transfer at submission
	FaultReject
	// FaultTransportError fails the submission without applying it
	FaultTransportError
	// FaultRejectLater accepts the submission, but the view service reports
	// it as definitively rejected
	FaultRejectLater
	// FaultWrongAmount delivers an output with a different amount
	FaultWrongAmount
	// FaultDuplicateOutput delivers the output twice
	FaultDuplicateOutput
	// FaultNeverConfirm spends the inputs, but the output never appears
	FaultNeverConfirm
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultReject:
		return "reject"
	case FaultTransportError:
		return "transport_error"
	case FaultRejectLater:
		return "reject_later"
	case FaultWrongAmount:
		return "wrong_amount"
	case FaultDuplicateOutput:
		return "duplicate_output"
	case FaultNeverConfirm:
		return "never_confirm"
	}
	return "unknown"
}

// ParseFault parses a fault from its name
func ParseFault(name string) (Fault, error) {
	for f := FaultReject; f <= FaultNeverConfirm; f++ {
		if f.String() == name {
			return f, nil
		}
	}
	return FaultNone, errors.Errorf("unknown fault %q", name)
}

type output struct {
	account.Output

	owner   string
	tokenID token.TokenID
	spent   bool
}

type transaction struct {
	txID        string
	destination string
	rejected    bool
	visibleAt   time.Time
	outputs     []account.Output
	change      *account.Output
}

// Ledger is an in memory ledger that implements ledger.Client. Transfers are
// validated like the real service would (signatures, fees, double spends)
// and become visible to the view service after a configurable delay.
type Ledger struct {
	log   *logrus.Entry
	clock clockwork.Clock
	fees  *token.FeeMap

	confirmationDelay time.Duration
	limiter           rate.Limiter
	rand              *rand.Rand
	faultRates        map[Fault]float64

	// sourceLocks serializes submissions per source address
	sourceLocks *sync_util.StripedLock

	mu                sync.Mutex
	nextID            uint64
	outputs           map[string]*output
	outputsByOwner    map[string][]string
	transactions      map[string]*transaction
	knownDestinations *bloom.BloomFilter
	queuedFaults      []Fault
	viewFailures      int
	submissions       int
	queries           int
}

// Option configures a Ledger
type Option func(l *Ledger)

// WithClock sets the clock used for confirmation delays
func WithClock(clock clockwork.Clock) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// WithFeeMap sets the minimum fees enforced on submission
func WithFeeMap(fees *token.FeeMap) Option {
	return func(l *Ledger) {
		l.fees = fees
	}
}

// WithConfirmationDelay sets how long submitted transfers take to become
// visible to the view service
func WithConfirmationDelay(delay time.Duration) Option {
	return func(l *Ledger) {
		l.confirmationDelay = delay
	}
}

// WithSubmissionRateLimit limits submissions per source address, failing
// excess submissions with a transport error
func WithSubmissionRateLimit(limiter rate.Limiter) Option {
	return func(l *Ledger) {
		l.limiter = limiter
	}
}

// WithRandomFaults injects faults at the provided per-submission rates
func WithRandomFaults(seed int64, rates map[Fault]float64) Option {
	return func(l *Ledger) {
		l.rand = rand.New(rand.NewSource(seed))
		l.faultRates = rates
	}
}

// New returns a new in memory ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{
		log:               logrus.StandardLogger().WithField("type", "ledger/memory"),
		clock:             clockwork.NewRealClock(),
		fees:              token.NewDefaultFeeMap(),
		limiter:           &rate.NoLimiter{},
		sourceLocks:       sync_util.NewStripedLock(64),
		outputs:           make(map[string]*output),
		outputsByOwner:    make(map[string][]string),
		transactions:      make(map[string]*transaction),
		knownDestinations: bloom.NewWithEstimates(100_000, 0.01),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Fund mints a new output for an address
func (l *Ledger) Fund(address string, tokenID token.TokenID, value uint64) account.Output {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.mintLocked(fmt.Sprintf("fund%d", l.nextID), address, tokenID, value)
}

// InjectFaults queues faults that are applied, in order, to the next
// submissions
func (l *Ledger) InjectFaults(faults ...Fault) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.queuedFaults = append(l.queuedFaults, faults...)
}

// FailViewQueries makes the next n view service queries fail with a
// transport error
func (l *Ledger) FailViewQueries(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.viewFailures += n
}

// Balance returns the sum of unspent outputs owned by an address
func (l *Ledger) Balance(address string, tokenID token.TokenID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total uint64
	for _, id := range l.outputsByOwner[address] {
		if out := l.outputs[id]; !out.spent && out.tokenID == tokenID {
			total += out.Value
		}
	}
	return total
}

// Counts returns the number of submissions and view queries served
func (l *Ledger) Counts() (submissions, queries int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.submissions, l.queries
}

// ListUnspent implements ledger.OutputLister.ListUnspent
func (l *Ledger) ListUnspent(ctx context.Context, address string, tokenID token.TokenID) ([]account.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var res []account.Output
	for _, id := range l.outputsByOwner[address] {
		if out := l.outputs[id]; !out.spent && out.tokenID == tokenID {
			res = append(res, out.Output)
		}
	}
	return res, nil
}

// BuildAndSubmit implements ledger.TransactionBuilder.BuildAndSubmit
func (l *Ledger) BuildAndSubmit(ctx context.Context, req *ledger.TransferRequest) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source := req.Source.Address()
	log := l.log.WithFields(logrus.Fields{
		"method":      "BuildAndSubmit",
		"source":      source,
		"destination": req.Destination,
		"sequence":    req.Sequence,
	})

	allowed, err := l.limiter.Allow(source)
	if err != nil {
		return nil, errors.Wrap(ledger.ErrUnavailable, err.Error())
	} else if !allowed {
		return nil, errors.Wrap(ledger.ErrUnavailable, "rate limited")
	}

	// Sign and verify the transfer body, standing in for real transaction
	// construction
	body := transferBody(source, req)
	signature := req.Source.Sign(body)
	if !account.Verify(source, body, signature) {
		return nil, errors.Wrap(ledger.ErrTransactionRejected, "invalid signature")
	}

	sourceLock := l.sourceLocks.GetString(source)
	sourceLock.Lock()
	defer sourceLock.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.submissions++

	fault := l.nextFaultLocked()
	switch fault {
	case FaultReject:
		log.Debug("injecting rejection")
		return nil, errors.Wrap(ledger.ErrTransactionRejected, "injected rejection")
	case FaultTransportError:
		log.Debug("injecting transport error")
		return nil, errors.Wrap(ledger.ErrUnavailable, "injected transport error")
	}

	if err := l.validateLocked(source, req); err != nil {
		log.WithError(err).Debug("rejecting transfer")
		return nil, errors.Wrap(ledger.ErrTransactionRejected, err.Error())
	}

	txID := base58.Encode(sha256Sum(body))
	if _, ok := l.transactions[txID]; ok {
		return nil, errors.Wrap(ledger.ErrTransactionRejected, "duplicate transaction")
	}

	tx := &transaction{
		txID:        txID,
		destination: req.Destination,
		visibleAt:   l.clock.Now().Add(l.confirmationDelay),
	}
	l.transactions[txID] = tx
	l.knownDestinations.AddString(req.Destination)

	receipt := &ledger.Receipt{
		TxID:        txID,
		Source:      source,
		Destination: req.Destination,
		Amount:      req.Amount,
		Fee:         req.Fee,
		TokenID:     req.TokenID,
		Sequence:    req.Sequence,
		Inputs:      append([]account.Output(nil), req.Inputs...),
		SubmittedAt: l.clock.Now(),
	}

	if fault == FaultRejectLater {
		log.Debug("injecting delayed rejection")
		tx.rejected = true
		if req.Change > 0 {
			receipt.Change = &account.Output{ID: fmt.Sprintf("%s:change", txID), Value: req.Change}
		}
		return receipt, nil
	}

	for _, input := range req.Inputs {
		l.outputs[input.ID].spent = true
	}

	if fault == FaultNeverConfirm {
		log.Debug("injecting lost transfer")
		if req.Change > 0 {
			receipt.Change = &account.Output{ID: fmt.Sprintf("%s:change", txID), Value: req.Change}
		}
		return receipt, nil
	}

	delivered := req.Amount
	if fault == FaultWrongAmount {
		log.Debug("injecting wrong amount")
		if delivered > 1 {
			delivered--
		} else {
			delivered++
		}
	}

	tx.outputs = append(tx.outputs, l.mintLocked(fmt.Sprintf("%s:0", txID), req.Destination, req.TokenID, delivered))
	if fault == FaultDuplicateOutput {
		log.Debug("injecting duplicate output")
		tx.outputs = append(tx.outputs, l.mintLocked(fmt.Sprintf("%s:1", txID), req.Destination, req.TokenID, delivered))
	}

	if req.Change > 0 {
		change := l.mintLocked(fmt.Sprintf("%s:change", txID), source, req.TokenID, req.Change)
		tx.change = &change
		receipt.Change = &change
	}

	return receipt, nil
}

// CheckForOutput implements ledger.ViewClient.CheckForOutput
func (l *Ledger) CheckForOutput(ctx context.Context, query *ledger.OutputQuery) (*ledger.OutputStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.queries++

	if l.viewFailures > 0 {
		l.viewFailures--
		return nil, errors.Wrap(ledger.ErrUnavailable, "injected view failure")
	}

	notFound := &ledger.OutputStatus{Code: ledger.StatusNotFound}

	if !l.knownDestinations.TestString(query.Destination) {
		return notFound, nil
	}

	tx, ok := l.transactions[query.TxID]
	if !ok || tx.destination != query.Destination {
		return notFound, nil
	}

	if tx.rejected {
		return &ledger.OutputStatus{Code: ledger.StatusDefinitivelyRejected}, nil
	}

	if l.clock.Now().Before(tx.visibleAt) || len(tx.outputs) == 0 {
		return notFound, nil
	}

	return &ledger.OutputStatus{
		Code:    ledger.StatusFound,
		Outputs: append([]account.Output(nil), tx.outputs...),
	}, nil
}

func (l *Ledger) validateLocked(source string, req *ledger.TransferRequest) error {
	if req.Amount == 0 {
		return errors.New("amount is required")
	}

	if req.Destination == source {
		return errors.New("cannot transfer to self")
	}

	minFee, ok := l.fees.GetFee(req.TokenID)
	if !ok {
		return errors.Errorf("no minimum fee for %s", req.TokenID)
	} else if req.Fee < minFee {
		return errors.Errorf("fee %d below minimum %d", req.Fee, minFee)
	}

	if len(req.Inputs) == 0 {
		return errors.New("inputs are required")
	}

	var total uint64
	seen := make(map[string]struct{})
	for _, input := range req.Inputs {
		if _, ok := seen[input.ID]; ok {
			return errors.Errorf("input %s used twice", input.ID)
		}
		seen[input.ID] = struct{}{}

		out, ok := l.outputs[input.ID]
		switch {
		case !ok:
			return errors.Errorf("unknown input %s", input.ID)
		case out.owner != source:
			return errors.Errorf("input %s not owned by source", input.ID)
		case out.spent:
			return errors.Errorf("input %s already spent", input.ID)
		case out.tokenID != req.TokenID:
			return errors.Errorf("input %s has the wrong token", input.ID)
		case out.Value != input.Value:
			return errors.Errorf("input %s has value %d", input.ID, out.Value)
		}

		total += out.Value
	}

	if total != req.Amount+req.Fee+req.Change {
		return errors.Errorf("inputs %d don't balance outputs %d", total, req.Amount+req.Fee+req.Change)
	}

	return nil
}

func (l *Ledger) nextFaultLocked() Fault {
	if len(l.queuedFaults) > 0 {
		fault := l.queuedFaults[0]
		l.queuedFaults = l.queuedFaults[1:]
		return fault
	}

	if l.rand == nil {
		return FaultNone
	}

	roll := l.rand.Float64()
	for _, fault := range []Fault{
		FaultReject,
		FaultTransportError,
		FaultRejectLater,
		FaultWrongAmount,
		FaultDuplicateOutput,
		FaultNeverConfirm,
	} {
		roll -= l.faultRates[fault]
		if roll < 0 {
			return fault
		}
	}
	return FaultNone
}

func (l *Ledger) mintLocked(id, owner string, tokenID token.TokenID, value uint64) account.Output {
	l.nextID++

	out := &output{
		Output:  account.Output{ID: id, Value: value},
		owner:   owner,
		tokenID: tokenID,
	}
	l.outputs[id] = out
	l.outputsByOwner[owner] = append(l.outputsByOwner[owner], id)
	return out.Output
}

func transferBody(source string, req *ledger.TransferRequest) []byte {
	var buf [8]byte

	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte(req.Destination))
	for _, value := range []uint64{req.Amount, req.Fee, req.Change, uint64(req.TokenID), req.Sequence} {
		binary.LittleEndian.PutUint64(buf[:], value)
		h.Write(buf[:])
	}
	for _, input := range req.Inputs {
		h.Write([]byte(input.ID))
	}
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
