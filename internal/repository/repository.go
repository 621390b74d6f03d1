package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/kiesh/exchange-core/internal/domain/models"
)

// Querier is the persistence surface shared by the plain store and a
// transaction handle. The ledger and the engine only ever talk to a Querier;
// which one is in play is decided by the caller that opened the transaction,
// never by ambient state.
type Querier interface {
	CreateOrder(ctx context.Context, order models.Order) error
	UpdateOrder(ctx context.Context, order models.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (models.Order, error)
	GetOpenLimitOrders(ctx context.Context, instrument, currency string) ([]models.Order, error)

	CreateTrade(ctx context.Context, trade models.Trade) error

	GetFund(ctx context.Context, userID uuid.UUID, currency string) (models.Fund, error)
	UpsertFund(ctx context.Context, fund models.Fund) error
	ListFunds(ctx context.Context, userID uuid.UUID) ([]models.Fund, error)
	DeleteFund(ctx context.Context, userID uuid.UUID, currency string) error

	GetPosition(ctx context.Context, userID uuid.UUID, instrument string) (models.Position, error)
	UpsertPosition(ctx context.Context, position models.Position) error
	ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error)
	DeletePosition(ctx context.Context, userID uuid.UUID, instrument string) error
}

// Tx is an explicit transaction handle. Begin on a Tx opens a nested scope
// (savepoint) that commits or rolls back independently of its parent.
// Rollback after Commit is a no-op so it can sit in a defer.
type Tx interface {
	Querier

	Begin(ctx context.Context) (Tx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the durable gateway consumed by the ledger and the matching
// engine.
type Store interface {
	Querier

	Begin(ctx context.Context) (Tx, error)
}
