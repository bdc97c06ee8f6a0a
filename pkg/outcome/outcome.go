package outcome

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/token"
)

// Kind is the final classification of a transfer attempt
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfirmed
	KindTimedOut
	KindRejected
	KindMismatchedAmount
	KindDuplicateOutput
	KindTransportFailure
	KindDiscarded
)

// AllKinds lists every valid classification
var AllKinds = []Kind{
	KindConfirmed,
	KindTimedOut,
	KindRejected,
	KindMismatchedAmount,
	KindDuplicateOutput,
	KindTransportFailure,
	KindDiscarded,
}

// IsValid returns whether the kind is a known, terminal classification
func (k Kind) IsValid() bool {
	return k > KindUnknown && k <= KindDiscarded
}

// IsFailure returns whether the classification counts against the retry
// budget of an orchestrator. Discarded attempts were cut short by shutdown
// and aren't failures of the system under test.
func (k Kind) IsFailure() bool {
	switch k {
	case KindTimedOut, KindRejected, KindMismatchedAmount, KindDuplicateOutput, KindTransportFailure:
		return true
	}
	return false
}

// IsCorrectnessFailure returns whether the classification indicates a defect
// in the system under test, rather than transient unavailability.
func (k Kind) IsCorrectnessFailure() bool {
	return k == KindMismatchedAmount || k == KindDuplicateOutput
}

func (k Kind) String() string {
	switch k {
	case KindConfirmed:
		return "confirmed"
	case KindTimedOut:
		return "timed_out"
	case KindRejected:
		return "rejected"
	case KindMismatchedAmount:
		return "mismatched_amount"
	case KindDuplicateOutput:
		return "duplicate_output"
	case KindTransportFailure:
		return "transport_failure"
	case KindDiscarded:
		return "discarded"
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String
func ParseKind(val string) (Kind, error) {
	for _, kind := range AllKinds {
		if kind.String() == val {
			return kind, nil
		}
	}
	return KindUnknown, errors.Errorf("unknown outcome kind %q", val)
}

// Outcome is the immutable terminal result of one transfer attempt
type Outcome struct {
	AttemptID uuid.UUID
	Kind      Kind

	// Latency is the end-to-end time from attempt creation to resolution
	Latency time.Duration
	Detail  string

	Source      string
	Destination string
	Amount      uint64
	Fee         uint64
	TokenID     token.TokenID

	Submissions int
	Queries     int

	CreatedAt  time.Time
	ResolvedAt time.Time
}

func (o *Outcome) Validate() error {
	if o.AttemptID == uuid.Nil {
		return errors.New("attempt id is required")
	}

	if !o.Kind.IsValid() {
		return errors.New("outcome kind is required")
	}

	if o.Latency < 0 {
		return errors.New("latency cannot be negative")
	}

	if len(o.Source) == 0 || len(o.Destination) == 0 {
		return errors.New("source and destination are required")
	}

	if o.Amount == 0 {
		return errors.New("amount is required")
	}

	if o.CreatedAt.IsZero() || o.ResolvedAt.Before(o.CreatedAt) {
		return errors.New("invalid attempt timestamps")
	}

	return nil
}
