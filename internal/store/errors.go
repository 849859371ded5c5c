package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict matches any *ConflictError via errors.Is.
var ErrConflict = errors.New("conflict")

// ErrBatchAborted marks batch rows that were rolled back because another row failed.
var ErrBatchAborted = errors.New("batch aborted")

// ConflictError reports a violated uniqueness constraint.
type ConflictError struct {
	Constraint string
	Msg        string
}

func (e *ConflictError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("conflict on %s: %s", e.Constraint, e.Msg)
	}
	return "conflict: " + e.Msg
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

const pgUniqueViolation = "23505"

// classify maps driver errors onto ErrNotFound and *ConflictError,
// wrapping everything with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", op, &ConflictError{Constraint: pgErr.ConstraintName, Msg: pgErr.Detail})
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsDataError reports whether err was raised by PostgreSQL for the row's data
// (class 21 cardinality, 22 data exception or 23 integrity violation) rather than by the
// connection or the server. Such rows can be skipped without aborting an import.
func IsDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23" || pgErr.Code[:2] == "21")
}
