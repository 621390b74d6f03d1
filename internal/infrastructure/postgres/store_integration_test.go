//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgContainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kiesh/exchange-core/internal/domain/models"
	repositoryErrors "github.com/kiesh/exchange-core/internal/errors/repository"
	"github.com/kiesh/exchange-core/internal/infra/db/migrator"
	"github.com/kiesh/exchange-core/internal/infrastructure/postgres"
	"github.com/kiesh/exchange-core/migrations"
)

const (
	dbUser     = "test_user"
	dbPassword = "test_password"
	dbName     = "exchange_test_db"

	longTimeout    = 2 * time.Minute
	startupTimeout = 30 * time.Second
)

func newStore(test *testing.T) (context.Context, *postgres.Store, *pgxpool.Pool) {
	test.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), longTimeout)
	test.Cleanup(cancel)

	container, err := pgContainer.Run(ctx,
		"postgres:17.0-alpine3.20",
		pgContainer.WithDatabase(dbName),
		pgContainer.WithUsername(dbUser),
		pgContainer.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		test.Fatalf("failed to start postgres container: %v", err)
	}
	test.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			test.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connection, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		test.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connection)
	if err != nil {
		test.Fatalf("failed to create pgxpool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		test.Fatalf("failed to ping postgres: %v", err)
	}
	test.Cleanup(pool.Close)

	sqlDB := stdlib.OpenDBFromPool(pool)
	test.Cleanup(func() {
		_ = sqlDB.Close()
	})

	dbMigrator := migrator.NewMigrator(sqlDB, migrations.Migrations)
	if err := dbMigrator.Up(ctx); err != nil {
		test.Fatalf("failed to run migrations: %v", err)
	}

	return ctx, postgres.NewStore(pool), pool
}

func randomLimitOrder(userID uuid.UUID) models.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)

	return models.Order{
		ID:         uuid.New(),
		UserID:     userID,
		Instrument: "ACME",
		Currency:   "USD",
		Side:       models.SideBuy,
		Kind:       models.KindLimit,
		Quantity:   int64(gofakeit.IntRange(1, 1000)),
		Price:      decimal.NewFromFloat(gofakeit.Float64Range(1, 9999)).Round(4),
		Status:     models.StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestOrderRoundTrip(test *testing.T) {
	ctx, store, _ := newStore(test)
	gofakeit.Seed(0)

	order := randomLimitOrder(uuid.New())
	require.NoError(test, store.CreateOrder(ctx, order))

	got, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(test, err)

	assert.Equal(test, order.ID, got.ID)
	assert.Equal(test, order.UserID, got.UserID)
	assert.Equal(test, order.Side, got.Side)
	assert.Equal(test, order.Kind, got.Kind)
	assert.Equal(test, order.Quantity, got.Quantity)
	assert.True(test, order.Price.Equal(got.Price), "price %s != %s", order.Price, got.Price)
	assert.Equal(test, models.StatusOpen, got.Status)
	assert.WithinDuration(test, order.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestCreateOrderDuplicateID(test *testing.T) {
	ctx, store, _ := newStore(test)
	gofakeit.Seed(0)

	order := randomLimitOrder(uuid.New())
	require.NoError(test, store.CreateOrder(ctx, order))

	err := store.CreateOrder(ctx, order)
	assert.ErrorIs(test, err, repositoryErrors.ErrOrderAlreadyExists)
}

func TestUpdateMissingOrder(test *testing.T) {
	ctx, store, _ := newStore(test)
	gofakeit.Seed(0)

	err := store.UpdateOrder(ctx, randomLimitOrder(uuid.New()))
	assert.ErrorIs(test, err, repositoryErrors.ErrOrderNotFound)
}

func TestGetOpenLimitOrdersFiltersAndOrders(test *testing.T) {
	ctx, store, _ := newStore(test)
	gofakeit.Seed(0)

	userID := uuid.New()
	base := time.Now().UTC().Truncate(time.Microsecond)

	older := randomLimitOrder(userID)
	older.CreatedAt = base.Add(-time.Minute)
	newer := randomLimitOrder(userID)
	newer.CreatedAt = base

	cancelled := randomLimitOrder(userID)
	cancelled.Status = models.StatusCancelled

	market := randomLimitOrder(userID)
	market.Kind = models.KindMarket
	market.Price = decimal.Zero

	otherBook := randomLimitOrder(userID)
	otherBook.Currency = "EUR"

	for _, order := range []models.Order{newer, older, cancelled, market, otherBook} {
		require.NoError(test, store.CreateOrder(ctx, order))
	}

	open, err := store.GetOpenLimitOrders(ctx, "ACME", "USD")
	require.NoError(test, err)

	require.Len(test, open, 2)
	assert.Equal(test, older.ID, open[0].ID, "oldest order must come first")
	assert.Equal(test, newer.ID, open[1].ID)
}

func TestFundUpsertAndDelete(test *testing.T) {
	ctx, store, _ := newStore(test)

	userID := uuid.New()
	fund := models.Fund{
		UserID:   userID,
		Currency: "USD",
		Total:    decimal.NewFromInt(1000),
		Reserved: decimal.NewFromInt(250),
	}
	require.NoError(test, store.UpsertFund(ctx, fund))

	fund.Reserved = decimal.NewFromInt(300)
	require.NoError(test, store.UpsertFund(ctx, fund))

	got, err := store.GetFund(ctx, userID, "USD")
	require.NoError(test, err)
	assert.True(test, got.Total.Equal(decimal.NewFromInt(1000)))
	assert.True(test, got.Reserved.Equal(decimal.NewFromInt(300)))

	require.NoError(test, store.DeleteFund(ctx, userID, "USD"))

	_, err = store.GetFund(ctx, userID, "USD")
	assert.ErrorIs(test, err, repositoryErrors.ErrFundNotFound)
}

func TestPositionUpsertAndList(test *testing.T) {
	ctx, store, _ := newStore(test)

	userID := uuid.New()
	require.NoError(test, store.UpsertPosition(ctx, models.Position{
		UserID:     userID,
		Instrument: "ACME",
		Quantity:   100,
		Reserved:   10,
	}))
	require.NoError(test, store.UpsertPosition(ctx, models.Position{
		UserID:     userID,
		Instrument: "GLOBEX",
		Quantity:   50,
	}))

	positions, err := store.ListPositions(ctx, userID)
	require.NoError(test, err)
	assert.Len(test, positions, 2)

	require.NoError(test, store.DeletePosition(ctx, userID, "GLOBEX"))

	positions, err = store.ListPositions(ctx, userID)
	require.NoError(test, err)
	require.Len(test, positions, 1)
	assert.Equal(test, "ACME", positions[0].Instrument)
}

func TestTradePersistence(test *testing.T) {
	ctx, store, pool := newStore(test)
	gofakeit.Seed(0)

	buy := randomLimitOrder(uuid.New())
	sell := randomLimitOrder(uuid.New())
	sell.Side = models.SideSell
	require.NoError(test, store.CreateOrder(ctx, buy))
	require.NoError(test, store.CreateOrder(ctx, sell))

	trade := models.Trade{
		ID:          uuid.New(),
		Instrument:  "ACME",
		Currency:    "USD",
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		Price:       decimal.NewFromInt(10),
		Quantity:    5,
		ExecutedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(test, store.CreateTrade(ctx, trade))

	err := store.CreateTrade(ctx, trade)
	assert.ErrorIs(test, err, repositoryErrors.ErrTradeAlreadyExists)

	var count int
	require.NoError(test, pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&count))
	assert.Equal(test, 1, count)
}

func TestTxCommitAndRollback(test *testing.T) {
	ctx, store, _ := newStore(test)
	gofakeit.Seed(0)

	committed := randomLimitOrder(uuid.New())
	tx, err := store.Begin(ctx)
	require.NoError(test, err)
	require.NoError(test, tx.CreateOrder(ctx, committed))
	require.NoError(test, tx.Commit(ctx))
	require.NoError(test, tx.Rollback(ctx), "rollback after commit must be a no-op")

	_, err = store.GetOrderByID(ctx, committed.ID)
	assert.NoError(test, err)

	discarded := randomLimitOrder(uuid.New())
	tx, err = store.Begin(ctx)
	require.NoError(test, err)
	require.NoError(test, tx.CreateOrder(ctx, discarded))
	require.NoError(test, tx.Rollback(ctx))

	_, err = store.GetOrderByID(ctx, discarded.ID)
	assert.ErrorIs(test, err, repositoryErrors.ErrOrderNotFound)
}

func TestNestedTxSavepoints(test *testing.T) {
	ctx, store, _ := newStore(test)
	gofakeit.Seed(0)

	outerOrder := randomLimitOrder(uuid.New())
	innerOrder := randomLimitOrder(uuid.New())

	tx, err := store.Begin(ctx)
	require.NoError(test, err)
	require.NoError(test, tx.CreateOrder(ctx, outerOrder))

	inner, err := tx.Begin(ctx)
	require.NoError(test, err)
	require.NoError(test, inner.CreateOrder(ctx, innerOrder))
	require.NoError(test, inner.Rollback(ctx))

	require.NoError(test, tx.Commit(ctx))

	_, err = store.GetOrderByID(ctx, outerOrder.ID)
	assert.NoError(test, err, "outer work survives inner rollback")

	_, err = store.GetOrderByID(ctx, innerOrder.ID)
	assert.ErrorIs(test, err, repositoryErrors.ErrOrderNotFound)
}

func TestTxOpsAfterFinishFail(test *testing.T) {
	ctx, store, _ := newStore(test)

	tx, err := store.Begin(ctx)
	require.NoError(test, err)
	require.NoError(test, tx.Commit(ctx))

	err = tx.Commit(ctx)
	assert.ErrorIs(test, err, repositoryErrors.ErrTxDone)

	_, err = tx.Begin(ctx)
	assert.ErrorIs(test, err, repositoryErrors.ErrTxDone)
}
