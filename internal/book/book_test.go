package book

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesh/exchange-core/internal/domain/models"
)

func newLimitOrder(side models.Side, price string, qty int64) *models.Order {
	return &models.Order{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Instrument: "ACME",
		Currency:   "USD",
		Side:       side,
		Kind:       models.KindLimit,
		Quantity:   qty,
		Price:      decimal.RequireFromString(price),
		Status:     models.StatusOpen,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestBookPriceTimePriority(t *testing.T) {
	ctx := context.Background()
	b := New("ACME", "USD")

	cheap := newLimitOrder(models.SideSell, "10.00", 5)
	expensive := newLimitOrder(models.SideSell, "12.00", 5)
	b.Upsert(expensive)
	b.Upsert(cheap)

	best, ok := b.PeekBestSell(ctx)
	require.True(t, ok)
	assert.Equal(t, cheap.ID, best.ID, "lowest ask must come first")

	// Same price level: the earlier insertion keeps priority.
	first := newLimitOrder(models.SideBuy, "11.00", 5)
	second := newLimitOrder(models.SideBuy, "11.00", 5)
	b.Upsert(first)
	b.Upsert(second)

	bestBuy, ok := b.PeekBestBuy(ctx)
	require.True(t, ok)
	assert.Equal(t, first.ID, bestBuy.ID)
}

func TestBookBidsDescendAsksAscend(t *testing.T) {
	ctx := context.Background()
	b := New("ACME", "USD")

	lowBid := newLimitOrder(models.SideBuy, "9.00", 1)
	highBid := newLimitOrder(models.SideBuy, "11.00", 1)
	b.Upsert(lowBid)
	b.Upsert(highBid)

	best, ok := b.PeekBestBuy(ctx)
	require.True(t, ok)
	assert.Equal(t, highBid.ID, best.ID, "highest bid must come first")
}

func TestBookPriceChangeForfeitsPriority(t *testing.T) {
	ctx := context.Background()
	b := New("ACME", "USD")

	first := newLimitOrder(models.SideSell, "10.00", 5)
	second := newLimitOrder(models.SideSell, "10.00", 5)
	b.Upsert(first)
	b.Upsert(second)

	// Re-pricing the head order to the same level sends it behind the other.
	first.Price = decimal.RequireFromString("10.50")
	b.Upsert(first)
	first.Price = decimal.RequireFromString("10.00")
	b.Upsert(first)

	best, ok := b.PeekBestSell(ctx)
	require.True(t, ok)
	assert.Equal(t, second.ID, best.ID)
}

func TestBookQuantityChangeKeepsPriority(t *testing.T) {
	ctx := context.Background()
	b := New("ACME", "USD")

	first := newLimitOrder(models.SideSell, "10.00", 5)
	second := newLimitOrder(models.SideSell, "10.00", 5)
	b.Upsert(first)
	b.Upsert(second)

	first.Quantity = 50
	b.Upsert(first)

	best, ok := b.PeekBestSell(ctx)
	require.True(t, ok)
	assert.Equal(t, first.ID, best.ID)
}

func TestBookTakeAndRestoreKeepsPriority(t *testing.T) {
	ctx := context.Background()
	b := New("ACME", "USD")

	first := newLimitOrder(models.SideSell, "10.00", 5)
	second := newLimitOrder(models.SideSell, "10.00", 5)
	b.Upsert(first)
	b.Upsert(second)

	entry, ok := b.TakeByID(first.ID)
	require.True(t, ok)

	best, ok := b.PeekBestSell(ctx)
	require.True(t, ok)
	assert.Equal(t, second.ID, best.ID)

	b.Restore(entry)

	best, ok = b.PeekBestSell(ctx)
	require.True(t, ok)
	assert.Equal(t, first.ID, best.ID, "restored order must regain its slot")
}

func TestBookPeekEvictsClosedEntries(t *testing.T) {
	ctx := context.Background()
	b := New("ACME", "USD")

	closed := newLimitOrder(models.SideSell, "10.00", 5)
	open := newLimitOrder(models.SideSell, "11.00", 5)
	b.Upsert(closed)
	b.Upsert(open)

	closed.Status = models.StatusCancelled

	best, ok := b.PeekBestSell(ctx)
	require.True(t, ok)
	assert.Equal(t, open.ID, best.ID)
	assert.Equal(t, 1, b.AskCount())
}

func TestBookRemoveByID(t *testing.T) {
	b := New("ACME", "USD")

	order := newLimitOrder(models.SideBuy, "10.00", 5)
	b.Upsert(order)

	assert.True(t, b.RemoveByID(order.ID))
	assert.False(t, b.RemoveByID(order.ID), "second removal reports absence")
	assert.Equal(t, 0, b.BidCount())

	_, found := b.Get(order.ID)
	assert.False(t, found)
}

func TestBookValidateAndFix(t *testing.T) {
	ctx := context.Background()
	b := New("ACME", "USD")

	order := newLimitOrder(models.SideSell, "10.00", 5)
	b.Upsert(order)

	ok, reason := b.ValidateIndex()
	require.True(t, ok, reason)

	order.Status = models.StatusFilled
	removed, _ := b.FixAll(ctx)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, b.AskCount())

	ok, reason = b.ValidateIndex()
	assert.True(t, ok, reason)
}
