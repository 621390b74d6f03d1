package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesh/exchange-core/internal/book"
	"github.com/kiesh/exchange-core/internal/domain/models"
	"github.com/kiesh/exchange-core/internal/infrastructure/auth"
	"github.com/kiesh/exchange-core/internal/infrastructure/memory"
	"github.com/kiesh/exchange-core/internal/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type capturingNotifier struct {
	mu     sync.Mutex
	trades []models.Trade
}

func (n *capturingNotifier) OnTick(_ context.Context, trade models.Trade) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trades = append(n.trades, trade)
}

func (n *capturingNotifier) Trades() []models.Trade {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Trade(nil), n.trades...)
}

type deniedLimiter struct{}

func (deniedLimiter) Allow(context.Context, uuid.UUID) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, uuid.UUID) (bool, error) {
	return false, errors.New("redis down")
}

type fixture struct {
	engine   *Engine
	store    *memory.Store
	ledger   *ledger.Ledger
	notifier *capturingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	ldg := ledger.New()
	notifier := &capturingNotifier{}

	return &fixture{
		engine:   New(store, ldg, book.NewManager(store), auth.NewRoleAuthorizer(), notifier, nil),
		store:    store,
		ledger:   ldg,
		notifier: notifier,
	}
}

func (f *fixture) fundUser(t *testing.T, userID uuid.UUID, amount string) {
	t.Helper()
	require.NoError(t, f.ledger.AddFunds(context.Background(), f.store, models.SystemScope(), userID, "USD", dec(amount)))
}

func (f *fixture) grantShares(t *testing.T, userID uuid.UUID, qty int64) {
	t.Helper()
	require.NoError(t, f.ledger.AddShares(context.Background(), f.store, models.SystemScope(), userID, "ACME", qty))
}

func limitOrder(userID uuid.UUID, side models.Side, price string, qty int64) models.Order {
	return models.Order{
		UserID:     userID,
		Instrument: "ACME",
		Currency:   "USD",
		Side:       side,
		Kind:       models.KindLimit,
		Quantity:   qty,
		Price:      dec(price),
	}
}

func marketOrder(userID uuid.UUID, side models.Side, qty int64) models.Order {
	return models.Order{
		UserID:     userID,
		Instrument: "ACME",
		Currency:   "USD",
		Side:       side,
		Kind:       models.KindMarket,
		Quantity:   qty,
	}
}

func slippageOrder(userID uuid.UUID, side models.Side, anchor, slippage string, qty int64) models.Order {
	return models.Order{
		UserID:          userID,
		Instrument:      "ACME",
		Currency:        "USD",
		Side:            side,
		Kind:            models.KindSlippageMarket,
		Quantity:        qty,
		Price:           dec(anchor),
		SlippagePercent: dec(slippage),
	}
}

func TestPlaceLimitBuyRestsOnEmptyBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := uuid.New()
	f.fundUser(t, buyer, "1000")

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "10", 10))

	require.Equal(t, models.StatusPlacedOnBook, res.Status, res.Message)
	assert.Empty(t, res.Fills)

	fund, err := f.store.GetFund(ctx, buyer, "USD")
	require.NoError(t, err)
	assert.True(t, fund.Reserved.Equal(dec("100")), "price x quantity must be reserved, got %s", fund.Reserved)
	assert.True(t, fund.Total.Equal(dec("1000")))

	stored, err := f.store.GetOrderByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, stored.Status)
}

func TestPlaceCrossingLimitsTradeAtMakerPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := uuid.New()
	buyer := uuid.New()
	f.grantShares(t, seller, 10)
	f.fundUser(t, buyer, "1000")

	sellRes := f.engine.PlaceAndMatch(ctx, models.UserScope(seller), limitOrder(seller, models.SideSell, "10", 10))
	require.Equal(t, models.StatusPlacedOnBook, sellRes.Status)

	// Taker bids 12, maker asked 10: execution happens at the maker's 10.
	buyRes := f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "12", 10))
	require.Equal(t, models.StatusFilledResult, buyRes.Status, buyRes.Message)
	require.Len(t, buyRes.Fills, 1)
	assert.True(t, buyRes.Fills[0].Price.Equal(dec("10")))
	assert.Equal(t, int64(10), buyRes.Fills[0].Quantity)

	buyerFund, err := f.store.GetFund(ctx, buyer, "USD")
	require.NoError(t, err)
	assert.True(t, buyerFund.Total.Equal(dec("900")), "buyer pays maker price, got %s", buyerFund.Total)
	assert.True(t, buyerFund.Reserved.IsZero(), "over-reservation released, got %s", buyerFund.Reserved)

	sellerFund, err := f.store.GetFund(ctx, seller, "USD")
	require.NoError(t, err)
	assert.True(t, sellerFund.Total.Equal(dec("100")))

	buyerPos, err := f.store.GetPosition(ctx, buyer, "ACME")
	require.NoError(t, err)
	assert.Equal(t, int64(10), buyerPos.Quantity)

	assert.Len(t, f.notifier.Trades(), 1)
	assert.Len(t, f.store.Trades(), 1)
}

func TestPlacePartialFillRestsRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := uuid.New()
	buyer := uuid.New()
	f.grantShares(t, seller, 4)
	f.fundUser(t, buyer, "1000")

	f.engine.PlaceAndMatch(ctx, models.UserScope(seller), limitOrder(seller, models.SideSell, "10", 4))

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "10", 10))
	require.Equal(t, models.StatusPartialFill, res.Status, res.Message)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(4), res.Fills[0].Quantity)
	assert.Equal(t, int64(4), res.Order.Filled)

	// Remainder stays reserved and on the book.
	fund, err := f.store.GetFund(ctx, buyer, "USD")
	require.NoError(t, err)
	assert.True(t, fund.Reserved.Equal(dec("60")), "6 shares x 10 still reserved, got %s", fund.Reserved)

	stored, err := f.store.GetOrderByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, stored.Status)
}

func TestPlaceSweepsMultipleMakersInPriceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sellerA := uuid.New()
	sellerB := uuid.New()
	buyer := uuid.New()
	f.grantShares(t, sellerA, 5)
	f.grantShares(t, sellerB, 5)
	f.fundUser(t, buyer, "1000")

	f.engine.PlaceAndMatch(ctx, models.UserScope(sellerB), limitOrder(sellerB, models.SideSell, "11", 5))
	f.engine.PlaceAndMatch(ctx, models.UserScope(sellerA), limitOrder(sellerA, models.SideSell, "10", 5))

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "11", 10))
	require.Equal(t, models.StatusFilledResult, res.Status, res.Message)
	require.Len(t, res.Fills, 2)
	assert.True(t, res.Fills[0].Price.Equal(dec("10")), "cheapest ask fills first")
	assert.True(t, res.Fills[1].Price.Equal(dec("11")))

	buyerFund, err := f.store.GetFund(ctx, buyer, "USD")
	require.NoError(t, err)
	assert.True(t, buyerFund.Total.Equal(dec("895")), "50 + 55 paid, got %s", buyerFund.Total)
	assert.True(t, buyerFund.Reserved.IsZero())
}

func TestPlaceMarketBuyOnEmptyBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := uuid.New()
	f.fundUser(t, buyer, "1000")

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), marketOrder(buyer, models.SideBuy, 10))

	require.Equal(t, models.StatusNoLiquidity, res.Status, res.Message)
	assert.Empty(t, res.Fills)

	fund, err := f.store.GetFund(ctx, buyer, "USD")
	require.NoError(t, err)
	assert.True(t, fund.Reserved.IsZero())
	assert.True(t, fund.Total.Equal(dec("1000")))

	stored, err := f.store.GetOrderByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status, "market remainder never rests")
}

func TestPlaceMarketSellPartialCancelsRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := uuid.New()
	buyer := uuid.New()
	f.grantShares(t, seller, 10)
	f.fundUser(t, buyer, "1000")

	f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "10", 4))

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(seller), marketOrder(seller, models.SideSell, 10))
	require.Equal(t, models.StatusPartialFill, res.Status, res.Message)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, int64(4), res.Fills[0].Quantity)

	stored, err := f.store.GetOrderByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	// The 6 unsold shares go back to available.
	position, err := f.store.GetPosition(ctx, seller, "ACME")
	require.NoError(t, err)
	assert.Equal(t, int64(6), position.Quantity)
	assert.Equal(t, int64(0), position.Reserved)
}

func TestPlaceSlippageMarketStopsAtCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := uuid.New()
	buyer := uuid.New()
	f.grantShares(t, seller, 10)
	f.fundUser(t, buyer, "1000")

	f.engine.PlaceAndMatch(ctx, models.UserScope(seller), limitOrder(seller, models.SideSell, "10", 5))
	f.engine.PlaceAndMatch(ctx, models.UserScope(seller), limitOrder(seller, models.SideSell, "12", 5))

	// Anchor 10, 10% slippage: cap 11. The 12 ask is out of reach.
	res := f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), slippageOrder(buyer, models.SideBuy, "10", "10", 10))
	require.Equal(t, models.StatusPartialFill, res.Status, res.Message)
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(dec("10")))

	stored, err := f.store.GetOrderByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status, "slippage remainder never rests")

	fund, err := f.store.GetFund(ctx, buyer, "USD")
	require.NoError(t, err)
	assert.True(t, fund.Reserved.IsZero(), "remainder reservation released, got %s", fund.Reserved)
	assert.True(t, fund.Total.Equal(dec("950")))
}

func TestPlaceSelfTradePreventionSkipsOwnOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trader := uuid.New()
	other := uuid.New()
	f.grantShares(t, trader, 10)
	f.grantShares(t, other, 10)
	f.fundUser(t, trader, "1000")

	// The trader's own ask sits at the best price; another user's ask behind it.
	ownAsk := f.engine.PlaceAndMatch(ctx, models.UserScope(trader), limitOrder(trader, models.SideSell, "10", 5))
	require.Equal(t, models.StatusPlacedOnBook, ownAsk.Status)
	theirAsk := f.engine.PlaceAndMatch(ctx, models.UserScope(other), limitOrder(other, models.SideSell, "10", 5))
	require.Equal(t, models.StatusPlacedOnBook, theirAsk.Status)

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(trader), limitOrder(trader, models.SideBuy, "10", 5))
	require.Equal(t, models.StatusFilledResult, res.Status, res.Message)
	require.Len(t, res.Fills, 1)
	assert.Equal(t, other, res.Fills[0].SellerID, "own resting order must be skipped")

	// The skipped order is restored: it still fills for a later taker.
	laterBuyer := uuid.New()
	f.fundUser(t, laterBuyer, "1000")
	later := f.engine.PlaceAndMatch(ctx, models.UserScope(laterBuyer), limitOrder(laterBuyer, models.SideBuy, "10", 5))
	require.Equal(t, models.StatusFilledResult, later.Status, later.Message)
	assert.Equal(t, trader, later.Fills[0].SellerID)
}

func TestPlaceInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := uuid.New()
	f.fundUser(t, buyer, "50")

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "10", 10))

	require.Equal(t, models.StatusInvalidParameters, res.Status, res.Message)

	// The failed attempt leaves no order and no reservation behind.
	fund, err := f.store.GetFund(ctx, buyer, "USD")
	require.NoError(t, err)
	assert.True(t, fund.Reserved.IsZero())
	assert.Empty(t, f.store.Trades())
}

func TestPlaceInsufficientShares(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seller := uuid.New()
	f.grantShares(t, seller, 3)

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(seller), limitOrder(seller, models.SideSell, "10", 10))
	require.Equal(t, models.StatusInvalidParameters, res.Status, res.Message)
}

func TestPlaceValidationRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := uuid.New()
	f.fundUser(t, userID, "1000")
	as := models.UserScope(userID)

	tests := []struct {
		name  string
		order models.Order
	}{
		{"zero quantity", limitOrder(userID, models.SideBuy, "10", 0)},
		{"negative quantity", limitOrder(userID, models.SideBuy, "10", -5)},
		{"zero limit price", limitOrder(userID, models.SideBuy, "0", 5)},
		{"missing side", models.Order{UserID: userID, Instrument: "ACME", Currency: "USD", Kind: models.KindLimit, Quantity: 5, Price: dec("10")}},
		{"missing instrument", models.Order{UserID: userID, Currency: "USD", Side: models.SideBuy, Kind: models.KindLimit, Quantity: 5, Price: dec("10")}},
		{"market with price", models.Order{UserID: userID, Instrument: "ACME", Currency: "USD", Side: models.SideBuy, Kind: models.KindMarket, Quantity: 5, Price: dec("10")}},
		{"slippage without percent", slippageOrder(userID, models.SideBuy, "10", "0", 5)},
		{"unknown kind", models.Order{UserID: userID, Instrument: "ACME", Currency: "USD", Side: models.SideBuy, Quantity: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.engine.PlaceAndMatch(ctx, as, tt.order)
			assert.Equal(t, models.StatusInvalidParameters, res.Status)
		})
	}
}

func TestPlaceRequiresAuthentication(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.engine.PlaceAndMatch(ctx, models.Scope{}, limitOrder(uuid.New(), models.SideBuy, "10", 5))
	assert.Equal(t, models.StatusNotAuthenticated, res.Status)
}

func TestPlaceForAnotherUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := uuid.New()
	stranger := uuid.New()
	admin := uuid.New()
	f.fundUser(t, owner, "1000")

	res := f.engine.PlaceAndMatch(ctx, models.UserScope(stranger), limitOrder(owner, models.SideBuy, "10", 5))
	assert.Equal(t, models.StatusNotAuthorized, res.Status)

	res = f.engine.PlaceAndMatch(ctx, models.AdminScope(admin), limitOrder(owner, models.SideBuy, "10", 5))
	assert.Equal(t, models.StatusPlacedOnBook, res.Status, res.Message)
	assert.Equal(t, owner, res.Order.UserID)
}

func TestPlaceRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	buyer := uuid.New()
	f.fundUser(t, buyer, "1000")

	limited := New(f.store, f.ledger, book.NewManager(f.store), auth.NewRoleAuthorizer(), nil, deniedLimiter{})
	res := limited.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "10", 5))
	assert.Equal(t, models.StatusRateLimited, res.Status)

	broken := New(f.store, f.ledger, book.NewManager(f.store), auth.NewRoleAuthorizer(), nil, brokenLimiter{})
	res = broken.PlaceAndMatch(ctx, models.UserScope(buyer), limitOrder(buyer, models.SideBuy, "10", 5))
	assert.Equal(t, models.StatusOperationFailed, res.Status)
}

func TestConcurrentPlacementsKeepLedgerConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const traders = 8
	var wg sync.WaitGroup

	for i := 0; i < traders; i++ {
		sellerID := uuid.New()
		buyerID := uuid.New()
		f.grantShares(t, sellerID, 10)
		f.fundUser(t, buyerID, "1000")

		wg.Add(2)
		go func() {
			defer wg.Done()
			f.engine.PlaceAndMatch(ctx, models.UserScope(sellerID), limitOrder(sellerID, models.SideSell, "10", 10))
		}()
		go func() {
			defer wg.Done()
			f.engine.PlaceAndMatch(ctx, models.UserScope(buyerID), limitOrder(buyerID, models.SideBuy, "10", 10))
		}()
	}
	wg.Wait()

	// Every fund and position row must still satisfy the reservation invariant.
	for _, trade := range f.store.Trades() {
		assert.True(t, trade.Price.Equal(dec("10")))
	}
}
