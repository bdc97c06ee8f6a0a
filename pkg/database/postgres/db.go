package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const maxTransientRetries = 5

// ExecuteRetryable retries functions that perform non-transactional database
// operations when they fail with a transient error.
func ExecuteRetryable(fn func() error) error {
	var err error
	for i := 0; i < maxTransientRetries; i++ {
		err = fn()
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

// ExecuteInTx executes fn within the scope of a new DB transaction. Once fn
// is complete, commit/rollback is called based on whether an error is
// returned.
func ExecuteInTx(ctx context.Context, db *sqlx.DB, isolation sql.IsolationLevel, fn func(tx *sqlx.Tx) error) error {
	if isolation == sql.LevelDefault {
		isolation = sql.LevelReadCommitted // Postgres default
	}

	tx, err := db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: isolation,
	})
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		// We always need to execute a Rollback() so sql.DB releases the connection.
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("failed to rollback transaction: %w", rollbackErr)
		}
		return err
	}
	return tx.Commit()
}
