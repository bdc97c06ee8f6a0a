package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/code-payments/code-test-client/pkg/data/outcome"
	pgutil "github.com/code-payments/code-test-client/pkg/database/postgres"
	q "github.com/code-payments/code-test-client/pkg/database/query"
	domain "github.com/code-payments/code-test-client/pkg/outcome"
	"github.com/code-payments/code-test-client/pkg/token"
)

const (
	tableName = "testclient__core_outcome"

	allColumns = `id, attempt_id, kind, latency_ns, detail, source, destination, amount, fee, token_id, submissions, queries, attempted_at, resolved_at, created_at`
)

type model struct {
	Id sql.NullInt64 `db:"id"`

	AttemptId string         `db:"attempt_id"`
	Kind      uint8          `db:"kind"`
	LatencyNs int64          `db:"latency_ns"`
	Detail    sql.NullString `db:"detail"`

	Source      string `db:"source"`
	Destination string `db:"destination"`
	Amount      uint64 `db:"amount"`
	Fee         uint64 `db:"fee"`
	TokenId     uint32 `db:"token_id"`

	Submissions uint32 `db:"submissions"`
	Queries     uint32 `db:"queries"`

	AttemptedAt time.Time `db:"attempted_at"`
	ResolvedAt  time.Time `db:"resolved_at"`
	CreatedAt   time.Time `db:"created_at"`
}

func toModel(obj *outcome.Record) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	return &model{
		AttemptId: obj.AttemptId,
		Kind:      uint8(obj.Kind),
		LatencyNs: int64(obj.Latency),
		Detail: sql.NullString{
			Valid:  len(obj.Detail) > 0,
			String: obj.Detail,
		},

		Source:      obj.Source,
		Destination: obj.Destination,
		Amount:      obj.Amount,
		Fee:         obj.Fee,
		TokenId:     uint32(obj.TokenId),

		Submissions: obj.Submissions,
		Queries:     obj.Queries,

		AttemptedAt: obj.AttemptedAt.UTC(),
		ResolvedAt:  obj.ResolvedAt.UTC(),
		CreatedAt:   obj.CreatedAt,
	}, nil
}

func fromModel(obj *model) *outcome.Record {
	return &outcome.Record{
		Id: uint64(obj.Id.Int64),

		AttemptId: obj.AttemptId,
		Kind:      domain.Kind(obj.Kind),
		Latency:   time.Duration(obj.LatencyNs),
		Detail:    obj.Detail.String,

		Source:      obj.Source,
		Destination: obj.Destination,
		Amount:      obj.Amount,
		Fee:         obj.Fee,
		TokenId:     token.TokenID(obj.TokenId),

		Submissions: obj.Submissions,
		Queries:     obj.Queries,

		AttemptedAt: obj.AttemptedAt,
		ResolvedAt:  obj.ResolvedAt,
		CreatedAt:   obj.CreatedAt,
	}
}

func (m *model) dbPut(ctx context.Context, db *sqlx.DB) error {
	err := pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		query := `INSERT INTO ` + tableName + `
			(attempt_id, kind, latency_ns, detail, source, destination, amount, fee, token_id, submissions, queries, attempted_at, resolved_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING ` + allColumns

		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}

		return tx.QueryRowxContext(
			ctx,
			query,
			m.AttemptId,
			m.Kind,
			m.LatencyNs,
			m.Detail,
			m.Source,
			m.Destination,
			m.Amount,
			m.Fee,
			m.TokenId,
			m.Submissions,
			m.Queries,
			m.AttemptedAt,
			m.ResolvedAt,
			m.CreatedAt,
		).StructScan(m)
	})
	return pgutil.CheckUniqueViolation(err, outcome.ErrAlreadyExists)
}

func dbGetByAttemptId(ctx context.Context, db *sqlx.DB, attemptId string) (*model, error) {
	var res model
	query := `SELECT ` + allColumns + ` FROM ` + tableName + `
		WHERE attempt_id = $1
	`

	err := db.GetContext(ctx, &res, query, attemptId)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, outcome.ErrNotFound)
	}
	return &res, nil
}

func dbCountByKind(ctx context.Context, db *sqlx.DB, kind domain.Kind) (uint64, error) {
	var res uint64
	query := `SELECT COUNT(*) FROM ` + tableName + `
		WHERE kind = $1
	`

	err := pgutil.ExecuteRetryable(func() error {
		return db.GetContext(ctx, &res, query, uint8(kind))
	})
	if err != nil {
		return 0, err
	}
	return res, nil
}

func dbGetAllByKind(ctx context.Context, db *sqlx.DB, kind domain.Kind, cursor q.Cursor, limit uint64, direction q.Ordering) ([]*model, error) {
	res := []*model{}

	query := `SELECT ` + allColumns + ` FROM ` + tableName + `
		WHERE (kind = $1)
	`

	opts := []interface{}{uint8(kind)}
	query, opts = q.PaginateQuery(query, opts, cursor, limit, direction)

	err := db.SelectContext(ctx, &res, query, opts...)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, outcome.ErrNotFound)
	} else if len(res) == 0 {
		return nil, outcome.ErrNotFound
	}
	return res, nil
}
