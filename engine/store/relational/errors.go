package relational

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is Postgres SQLSTATE 23505.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint violation,
// letting callers translate it into domain.ErrConflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
