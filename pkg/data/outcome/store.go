package outcome

import (
	"context"

	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/database/query"
	domain "github.com/code-payments/code-test-client/pkg/outcome"
)

var (
	ErrNotFound      = errors.New("outcome record not found")
	ErrAlreadyExists = errors.New("outcome record already exists")
)

type Store interface {
	// Put archives an outcome record
	//
	// Returns ErrAlreadyExists if a record already exists for the attempt.
	Put(ctx context.Context, record *Record) error

	// Get finds the outcome record for a given attempt ID
	//
	// Returns ErrNotFound if no record is found.
	Get(ctx context.Context, attemptId string) (*Record, error)

	// CountByKind counts all outcome records with a provided classification
	CountByKind(ctx context.Context, kind domain.Kind) (uint64, error)

	// GetAllByKind gets a page of outcome records with a provided
	// classification, ordered by insertion in the provided direction
	//
	// Returns ErrNotFound if no record is found.
	GetAllByKind(ctx context.Context, kind domain.Kind, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*Record, error)
}
