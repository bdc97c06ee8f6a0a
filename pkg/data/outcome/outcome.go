package outcome

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	domain "github.com/code-payments/code-test-client/pkg/outcome"
	"github.com/code-payments/code-test-client/pkg/token"
)

type Record struct {
	Id uint64

	AttemptId string
	Kind      domain.Kind
	Latency   time.Duration
	Detail    string

	Source      string
	Destination string
	Amount      uint64
	Fee         uint64
	TokenId     token.TokenID

	Submissions uint32
	Queries     uint32

	AttemptedAt time.Time
	ResolvedAt  time.Time
	CreatedAt   time.Time
}

// FromOutcome returns the archive record for an outcome
func FromOutcome(o *domain.Outcome) *Record {
	return &Record{
		AttemptId: o.AttemptID.String(),
		Kind:      o.Kind,
		Latency:   o.Latency,
		Detail:    o.Detail,

		Source:      o.Source,
		Destination: o.Destination,
		Amount:      o.Amount,
		Fee:         o.Fee,
		TokenId:     o.TokenID,

		Submissions: uint32(o.Submissions),
		Queries:     uint32(o.Queries),

		AttemptedAt: o.CreatedAt,
		ResolvedAt:  o.ResolvedAt,
	}
}

func (r *Record) Validate() error {
	if _, err := uuid.Parse(r.AttemptId); err != nil {
		return errors.Wrap(err, "invalid attempt id")
	}

	if !r.Kind.IsValid() {
		return errors.New("kind is required")
	}

	if r.Latency < 0 {
		return errors.New("latency cannot be negative")
	}

	if len(r.Source) == 0 {
		return errors.New("source is required")
	}

	if len(r.Destination) == 0 {
		return errors.New("destination is required")
	}

	if r.Amount == 0 {
		return errors.New("amount is required")
	}

	if r.AttemptedAt.IsZero() || r.ResolvedAt.IsZero() {
		return errors.New("attempt timestamps are required")
	}

	return nil
}

func (r *Record) Clone() Record {
	return Record{
		Id: r.Id,

		AttemptId: r.AttemptId,
		Kind:      r.Kind,
		Latency:   r.Latency,
		Detail:    r.Detail,

		Source:      r.Source,
		Destination: r.Destination,
		Amount:      r.Amount,
		Fee:         r.Fee,
		TokenId:     r.TokenId,

		Submissions: r.Submissions,
		Queries:     r.Queries,

		AttemptedAt: r.AttemptedAt,
		ResolvedAt:  r.ResolvedAt,
		CreatedAt:   r.CreatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.AttemptId = r.AttemptId
	dst.Kind = r.Kind
	dst.Latency = r.Latency
	dst.Detail = r.Detail

	dst.Source = r.Source
	dst.Destination = r.Destination
	dst.Amount = r.Amount
	dst.Fee = r.Fee
	dst.TokenId = r.TokenId

	dst.Submissions = r.Submissions
	dst.Queries = r.Queries

	dst.AttemptedAt = r.AttemptedAt
	dst.ResolvedAt = r.ResolvedAt
	dst.CreatedAt = r.CreatedAt
}
