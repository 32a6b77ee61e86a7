// errors.go -- Postgres error classification.
package store

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// IsMalformedInput reports whether err is Postgres rejecting a parameter's text form
// (22P02, e.g. a cookie UUID that is not a UUID). Handlers map it to 400, not 500.
func IsMalformedInput(err error) bool {
	return pgCode(err) == pgerrcode.InvalidTextRepresentation
}

// IsUniqueViolation reports whether err is a 23505 unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgerrcode.UniqueViolation
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
