package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateEntry is returned when a ledger insert hits the (task_id, kind)
// uniqueness constraint. Callers treat it as proof the settlement already
// happened, not as a failure.
var ErrDuplicateEntry = errors.New("duplicate ledger entry for task and kind")

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
