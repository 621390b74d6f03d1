package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiesh/exchange-core/internal/book"
	"github.com/kiesh/exchange-core/internal/engine"
	"github.com/kiesh/exchange-core/internal/infrastructure/auth"
	"github.com/kiesh/exchange-core/internal/infrastructure/postgres"
	"github.com/kiesh/exchange-core/internal/ledger"
)

type DiContainer struct {
	dbPool   *pgxpool.Pool
	notifier engine.TickNotifier
	limiter  engine.RateLimiter

	store       *postgres.Store
	ledger      *ledger.Ledger
	bookManager *book.Manager
	engine      *engine.Engine
}

func NewDIContainer(dbPool *pgxpool.Pool, notifier engine.TickNotifier, limiter engine.RateLimiter) *DiContainer {
	if dbPool == nil {
		panic("dbPool is nil")
	}

	return &DiContainer{
		dbPool:   dbPool,
		notifier: notifier,
		limiter:  limiter,
	}
}

func (d *DiContainer) Store(_ context.Context) *postgres.Store {
	if d.store == nil {
		d.store = postgres.NewStore(d.dbPool)
	}

	return d.store
}

func (d *DiContainer) Ledger(_ context.Context) *ledger.Ledger {
	if d.ledger == nil {
		d.ledger = ledger.New()
	}

	return d.ledger
}

func (d *DiContainer) BookManager(ctx context.Context) *book.Manager {
	if d.bookManager == nil {
		d.bookManager = book.NewManager(d.Store(ctx))
	}

	return d.bookManager
}

func (d *DiContainer) Engine(ctx context.Context) *engine.Engine {
	if d.engine == nil {
		d.engine = engine.New(
			d.Store(ctx),
			d.Ledger(ctx),
			d.BookManager(ctx),
			auth.NewRoleAuthorizer(),
			d.notifier,
			d.limiter,
		)
	}

	return d.engine
}
