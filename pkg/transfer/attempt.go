package transfer

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/outcome"
	"github.com/code-payments/code-test-client/pkg/token"
)

var (
	// ErrAlreadyResolved indicates a second terminal transition was attempted
	ErrAlreadyResolved = errors.New("attempt already resolved")
)

// State is the lifecycle state of an attempt
type State uint8

const (
	StateCreated State = iota
	StateSubmitted
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubmitted:
		return "submitted"
	case StateResolved:
		return "resolved"
	}
	return "unknown"
}

// Attempt is one end-to-end submit and confirm cycle for a single transfer.
// It's owned exclusively by the orchestrator that created it.
type Attempt struct {
	ID uuid.UUID

	Source      string
	Destination string
	Amount      uint64
	Fee         uint64
	TokenID     token.TokenID

	CreatedAt time.Time
	State     State

	// Submissions is the number of network submissions performed, including
	// re-submissions after transport errors
	Submissions int

	Receipt *ledger.Receipt

	outcome *outcome.Outcome
}

// NewAttempt returns a new attempt with a unique id
func NewAttempt(source, destination string, amount, fee uint64, tokenID token.TokenID, now time.Time) *Attempt {
	return &Attempt{
		ID:          uuid.New(),
		Source:      source,
		Destination: destination,
		Amount:      amount,
		Fee:         fee,
		TokenID:     tokenID,
		CreatedAt:   now,
		State:       StateCreated,
	}
}

// OnSubmitted records a successful submission
func (a *Attempt) OnSubmitted(receipt *ledger.Receipt) {
	a.Receipt = receipt
	a.State = StateSubmitted
}

// Resolve transitions the attempt to its terminal classification, producing
// its one and only Outcome. Subsequent calls fail with ErrAlreadyResolved.
func (a *Attempt) Resolve(kind outcome.Kind, detail string, queries int, now time.Time) (*outcome.Outcome, error) {
	if a.State == StateResolved {
		return nil, ErrAlreadyResolved
	}

	if !kind.IsValid() {
		return nil, errors.Errorf("invalid outcome kind %d", kind)
	}

	latency := now.Sub(a.CreatedAt)
	if latency < 0 {
		latency = 0
	}

	a.State = StateResolved
	a.outcome = &outcome.Outcome{
		AttemptID:   a.ID,
		Kind:        kind,
		Latency:     latency,
		Detail:      detail,
		Source:      a.Source,
		Destination: a.Destination,
		Amount:      a.Amount,
		Fee:         a.Fee,
		TokenID:     a.TokenID,
		Submissions: a.Submissions,
		Queries:     queries,
		CreatedAt:   a.CreatedAt,
		ResolvedAt:  a.CreatedAt.Add(latency),
	}

	res := *a.outcome
	return &res, nil
}

// Outcome returns a copy of the terminal outcome, if resolved
func (a *Attempt) Outcome() (*outcome.Outcome, bool) {
	if a.outcome == nil {
		return nil, false
	}

	res := *a.outcome
	return &res, true
}
