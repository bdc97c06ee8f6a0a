package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/code-payments/code-test-client/pkg/data/outcome"
	"github.com/code-payments/code-test-client/pkg/database/query"
	domain "github.com/code-payments/code-test-client/pkg/outcome"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres-backed outcome.Store
func New(db *sql.DB) outcome.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Put implements outcome.Store.Put
func (s *store) Put(ctx context.Context, record *outcome.Record) error {
	obj, err := toModel(record)
	if err != nil {
		return err
	}

	err = obj.dbPut(ctx, s.db)
	if err != nil {
		return err
	}

	res := fromModel(obj)
	res.CopyTo(record)

	return nil
}

// Get implements outcome.Store.Get
func (s *store) Get(ctx context.Context, attemptId string) (*outcome.Record, error) {
	model, err := dbGetByAttemptId(ctx, s.db, attemptId)
	if err != nil {
		return nil, err
	}

	return fromModel(model), nil
}

// CountByKind implements outcome.Store.CountByKind
func (s *store) CountByKind(ctx context.Context, kind domain.Kind) (uint64, error) {
	return dbCountByKind(ctx, s.db, kind)
}

// GetAllByKind implements outcome.Store.GetAllByKind
func (s *store) GetAllByKind(ctx context.Context, kind domain.Kind, cursor query.Cursor, limit uint64, direction query.Ordering) ([]*outcome.Record, error) {
	models, err := dbGetAllByKind(ctx, s.db, kind, cursor, limit, direction)
	if err != nil {
		return nil, err
	}

	var res []*outcome.Record
	for _, model := range models {
		res = append(res, fromModel(model))
	}
	return res, nil
}
