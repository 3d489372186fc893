package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestar-erp/lodestar-erp/internal/shared"
)

// WithTx executes fn inside a repeatable-read transaction. Serialization
// failures and deadlocks surface as shared.ErrConflict so callers can retry
// after re-reading state.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return shared.MapPgConflict(err)
	}

	if err := tx.Commit(ctx); err != nil {
		if conflict := shared.MapPgConflict(err); errors.Is(conflict, shared.ErrConflict) {
			return conflict
		}
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
