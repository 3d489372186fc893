package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error taxonomy shared by the stock, procurement and billing engines.
// Components fail fast at their own boundary and never downgrade each
// other's errors; handlers match these with errors.Is.
var (
	// ErrValidation indicates malformed, missing or non-positive input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an operation that is not legal for the
	// record's current lifecycle state.
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrInsufficientStock indicates a debit or transfer exceeding the
	// quantity available at the source location.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates a concurrent-write version mismatch. It is the
	// one error a caller is expected to retry after re-reading state.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrNotFound indicates an unknown id.
	ErrNotFound = errors.New("not found")
)

// NotFoundErr wraps ErrNotFound with a formatted detail message.
func NotFoundErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// MapPgConflict converts Postgres serialization failures (40001) and
// deadlocks (40P01) into ErrConflict so callers can retry after re-reading
// state. Other errors pass through unchanged.
func MapPgConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}
