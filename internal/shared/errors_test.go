package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMapPgConflict(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key"}

	require.ErrorIs(t, MapPgConflict(serialization), ErrConflict)
	require.ErrorIs(t, MapPgConflict(deadlock), ErrConflict)

	// wrapped errors still map
	wrapped := fmt.Errorf("insert movement: %w", serialization)
	require.ErrorIs(t, MapPgConflict(wrapped), ErrConflict)

	// anything else passes through untouched
	require.Equal(t, unique, MapPgConflict(unique))
	plain := errors.New("boom")
	require.Equal(t, plain, MapPgConflict(plain))
	require.NoError(t, MapPgConflict(nil))
}

func TestNotFoundErr(t *testing.T) {
	err := NotFoundErr("vendor %d", 42)
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "vendor 42")
}
