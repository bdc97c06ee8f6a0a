package pg

import (
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
)

// CheckNoRows maps sql.ErrNoRows to the store's own not found error.
func CheckNoRows(inErr, outErr error) error {
	if IsNoRows(inErr) {
		return outErr
	}
	return inErr
}

func IsNoRows(err error) bool {
	return err != nil && errors.Is(err, sql.ErrNoRows)
}

// CheckUniqueViolation maps a unique constraint violation to the store's own
// already exists error.
func CheckUniqueViolation(inErr, outErr error) error {
	if IsUniqueViolation(inErr) {
		return outErr
	}
	return inErr
}

func IsUniqueViolation(err error) bool {
	return hasErrorCode(err, pgerrcode.UniqueViolation)
}

// IsTransient returns whether err is a postgres error that is expected to
// clear up when the operation is attempted again.
func IsTransient(err error) bool {
	return hasErrorCode(
		err,
		pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
	)
}

func hasErrorCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	for _, code := range codes {
		if pgErr.Code == code {
			return true
		}
	}
	return false
}
