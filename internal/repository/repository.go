// Package repository provides data access layer implementations. All
// repositories resolve a tenant to its isolated pool per call; invariants on
// checkin, reward-code and balance rows are enforced inside explicit
// transactions with row-level locks.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors for repository operations.
var (
	ErrNoRows = errors.New("no matching rows")
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations. Services map it to idempotent-replay outcomes.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
