package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	repositoryErrors "github.com/kiesh/exchange-core/internal/errors/repository"
	"github.com/kiesh/exchange-core/internal/repository"
)

// Store is the durable pgx-backed implementation of the repository surface.
type Store struct {
	queries
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		queries: queries{conn: pool},
		pool:    pool,
	}
}

func (s *Store) Begin(ctx context.Context) (repository.Tx, error) {
	const op = "postgres.Store.Begin"

	pgxTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return newTx(pgxTx), nil
}

// Tx wraps a pgx transaction. Nested Begin maps to a savepoint, so an inner
// rollback never tears down the outer work. Rollback after Commit is a no-op
// so it can sit in a defer.
type Tx struct {
	queries
	tx   pgx.Tx
	done atomic.Bool
}

func newTx(pgxTx pgx.Tx) *Tx {
	return &Tx{
		queries: queries{conn: pgxTx, forUpdate: true},
		tx:      pgxTx,
	}
}

func (t *Tx) Begin(ctx context.Context) (repository.Tx, error) {
	const op = "postgres.Tx.Begin"

	if t.done.Load() {
		return nil, fmt.Errorf("%s: %w", op, repositoryErrors.ErrTxDone)
	}

	inner, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return newTx(inner), nil
}

func (t *Tx) Commit(ctx context.Context) error {
	const op = "postgres.Tx.Commit"

	if !t.done.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", op, repositoryErrors.ErrTxDone)
	}

	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	const op = "postgres.Tx.Rollback"

	if !t.done.CompareAndSwap(false, true) {
		return nil
	}

	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
