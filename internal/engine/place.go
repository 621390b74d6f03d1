package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/book"
	"github.com/kiesh/exchange-core/internal/domain/models"
	serviceErrors "github.com/kiesh/exchange-core/internal/errors/service"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
	"github.com/kiesh/exchange-core/internal/metrics"
)

// PlaceAndMatch validates, reserves, persists, and matches one order under
// its pair's gate. Domain failures come back as Result statuses, never as
// panics or errors.
func (e *Engine) PlaceAndMatch(ctx context.Context, as models.Scope, order models.Order) (res models.Result) {
	const op = "engine.Engine.PlaceAndMatch"

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic during order placement", zap.Any("panic", r))
			res = placeResult(models.StatusOperationFailed, &order, nil, "internal error")
		}
	}()

	if !as.IsAuthenticated() {
		return placeResult(models.StatusNotAuthenticated, &order, nil, "caller is not authenticated")
	}

	if !as.IsSystem() {
		allowed, err := e.limiter.Allow(ctx, as.UserID)
		if err != nil {
			logger.Error(ctx, "rate limiter unavailable", zap.Error(err))
			return placeResult(models.StatusOperationFailed, &order, nil, "rate limiter unavailable")
		}
		if !allowed {
			return placeResult(models.StatusRateLimited, &order, nil, serviceErrors.ErrRateLimitExceeded.Error())
		}
	}

	if order.UserID == uuid.Nil {
		order.UserID = as.UserID
	}
	if order.UserID != as.UserID && !e.authorizer.MayActFor(ctx, as, order.UserID) {
		return placeResult(models.StatusNotAuthorized, &order, nil, "caller may not place orders for this user")
	}

	if err := validateOrder(&order); err != nil {
		return placeResult(models.StatusInvalidParameters, &order, nil, err.Error())
	}

	key := book.Key{Instrument: order.Instrument, Currency: order.Currency}
	b, release, err := e.books.Acquire(ctx, key)
	if err != nil {
		logger.Error(ctx, "could not acquire order book", zap.String("pair", key.String()), zap.Error(err))
		return placeResult(models.StatusOperationFailed, &order, nil, "order book unavailable")
	}
	defer release()

	order.ID = uuid.New()
	order.Status = models.StatusOpen
	order.Filled = 0
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	// Reservation and order persistence commit as one unit: a failed
	// reservation leaves no trace of the attempt.
	if res, ok := e.reserveAndPersist(ctx, as, &order); !ok {
		return res
	}

	fills, err := e.matchLoop(ctx, b, &order)
	if err != nil {
		e.forceCancel(ctx, b, &order)
		return placeResult(models.StatusOperationFailed, &order, fills, "matching aborted: "+err.Error())
	}

	if order.Kind == models.KindLimit {
		return e.finishLimit(ctx, b, &order, fills)
	}
	return e.finishMarket(ctx, b, &order, fills)
}

func (e *Engine) reserveAndPersist(ctx context.Context, as models.Scope, order *models.Order) (models.Result, bool) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		logger.Error(ctx, "could not open placement transaction", zap.Error(err))
		return placeResult(models.StatusOperationFailed, order, nil, "storage unavailable"), false
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.reserve(ctx, tx, as, order); err != nil {
		switch {
		case errors.Is(err, serviceErrors.ErrInsufficientFunds),
			errors.Is(err, serviceErrors.ErrInsufficientShares):
			return placeResult(models.StatusInvalidParameters, order, nil, err.Error()), false
		case errors.Is(err, serviceErrors.ErrNotAuthorized):
			return placeResult(models.StatusNotAuthorized, order, nil, err.Error()), false
		default:
			logger.Error(ctx, "reservation failed", zap.Error(err))
			return placeResult(models.StatusOperationFailed, order, nil, "reservation failed"), false
		}
	}

	if err := tx.CreateOrder(ctx, *order); err != nil {
		logger.Error(ctx, "could not persist order", zap.Error(err))
		return placeResult(models.StatusOperationFailed, order, nil, "could not persist order"), false
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Error(ctx, "placement commit failed", zap.Error(err))
		return placeResult(models.StatusOperationFailed, order, nil, "placement commit failed"), false
	}

	return models.Result{}, true
}

// matchLoop walks the opposite side of the book while the taker is open and
// crossing. Self-trades are pulled off the book and restored afterwards with
// their original time priority. Context cancellation is honored only between
// fills, never mid-settlement.
func (e *Engine) matchLoop(ctx context.Context, b *book.Book, taker *models.Order) ([]models.Trade, error) {
	var fills []models.Trade
	var pulled []book.Entry

	defer func() {
		for _, entry := range pulled {
			b.Restore(entry)
		}
	}()

	for taker.Status == models.StatusOpen && taker.Remaining() > 0 {
		if err := ctx.Err(); err != nil {
			return fills, err
		}

		var maker *models.Order
		var ok bool
		if taker.Side == models.SideBuy {
			maker, ok = b.PeekBestSell(ctx)
		} else {
			maker, ok = b.PeekBestBuy(ctx)
		}
		if !ok {
			break
		}

		if maker.Currency != taker.Currency {
			// Should be impossible on a per-pair book; evict and keep going.
			b.RemoveByID(maker.ID)
			logger.Error(ctx, "currency mismatch on book, entry evicted",
				zap.String("order_id", maker.ID.String()),
				zap.String("maker_currency", maker.Currency),
				zap.String("taker_currency", taker.Currency))
			continue
		}

		if maker.UserID == taker.UserID {
			entry, found := b.TakeByID(maker.ID)
			if found {
				pulled = append(pulled, entry)
			}
			logger.Debug(ctx, "self-trade prevented, resting order pulled",
				zap.String("order_id", maker.ID.String()),
				zap.String("user_id", maker.UserID.String()))
			continue
		}

		if !taker.Crosses(maker.Price) {
			break
		}

		qty := taker.Remaining()
		if maker.Remaining() < qty {
			qty = maker.Remaining()
		}

		trade, err := e.settleFill(ctx, taker, maker, qty)
		if err != nil {
			return fills, err
		}
		fills = append(fills, trade)

		if maker.IsClosed() {
			b.RemoveByID(maker.ID)
		}

		e.notifyTick(ctx, trade)
	}

	return fills, nil
}

// settleFill executes one match step at the maker's price: fill counters,
// ledger settlement, the trade record, and both order snapshots commit in
// one transaction. On rollback the in-memory fills are reverted so the book
// stays consistent with storage.
func (e *Engine) settleFill(ctx context.Context, taker, maker *models.Order, qty int64) (models.Trade, error) {
	buyOrder, sellOrder := taker, maker
	if taker.Side == models.SideSell {
		buyOrder, sellOrder = maker, taker
	}

	trade := models.Trade{
		ID:          uuid.New(),
		Instrument:  taker.Instrument,
		Currency:    taker.Currency,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyerID:     buyOrder.UserID,
		SellerID:    sellOrder.UserID,
		Price:       maker.Price,
		Quantity:    qty,
		ExecutedAt:  time.Now().UTC(),
	}

	if err := taker.ApplyFill(qty); err != nil {
		return models.Trade{}, err
	}
	if err := maker.ApplyFill(qty); err != nil {
		taker.RevertFill(qty)
		return models.Trade{}, err
	}

	revert := func() {
		taker.RevertFill(qty)
		maker.RevertFill(qty)
		metrics.SettlementFailures.Inc()
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		revert()
		return models.Trade{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.ledger.SettleTrade(ctx, tx, trade, buyOrder, sellOrder); err != nil {
		revert()
		return models.Trade{}, err
	}
	if err := tx.CreateTrade(ctx, trade); err != nil {
		revert()
		return models.Trade{}, err
	}
	if err := tx.UpdateOrder(ctx, *taker); err != nil {
		revert()
		return models.Trade{}, err
	}
	if err := tx.UpdateOrder(ctx, *maker); err != nil {
		revert()
		return models.Trade{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		revert()
		return models.Trade{}, err
	}

	metrics.TradesSettled.Inc()
	return trade, nil
}

func (e *Engine) notifyTick(ctx context.Context, trade models.Trade) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TickNotifyFailures.Inc()
			logger.Error(ctx, "tick notifier panicked", zap.Any("panic", r))
		}
	}()
	e.notifier.OnTick(ctx, trade)
}

func (e *Engine) finishLimit(ctx context.Context, b *book.Book, order *models.Order, fills []models.Trade) models.Result {
	if order.Status == models.StatusFilled {
		return placeResult(models.StatusFilledResult, order, fills, "order fully filled")
	}

	b.Upsert(order)
	if len(fills) > 0 {
		return placeResult(models.StatusPartialFill, order, fills, "partial fill, remainder resting on book")
	}
	return placeResult(models.StatusPlacedOnBook, order, fills, "order resting on book")
}

// finishMarket cancels any unmatched market remainder: market orders never
// rest. Zero fills make it a no-liquidity outcome.
func (e *Engine) finishMarket(ctx context.Context, b *book.Book, order *models.Order, fills []models.Trade) models.Result {
	if order.Status == models.StatusFilled {
		return placeResult(models.StatusFilledResult, order, fills, "order fully filled")
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		e.forceCancel(ctx, b, order)
		return placeResult(models.StatusOperationFailed, order, fills, "could not cancel market remainder")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := e.releaseRemaining(ctx, tx, models.SystemScope(), order); err != nil {
		logger.Error(ctx, "could not release market remainder", zap.Error(err))
		e.forceCancel(ctx, b, order)
		return placeResult(models.StatusOperationFailed, order, fills, "could not release market remainder")
	}

	order.Status = models.StatusCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		logger.Error(ctx, "could not persist market remainder cancellation", zap.Error(err))
		return placeResult(models.StatusOperationFailed, order, fills, "could not cancel market remainder")
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error(ctx, "market remainder cancellation commit failed", zap.Error(err))
		return placeResult(models.StatusOperationFailed, order, fills, "could not cancel market remainder")
	}
	committed = true

	if len(fills) == 0 {
		return placeResult(models.StatusNoLiquidity, order, fills, "no liquidity on the opposite side")
	}
	return placeResult(models.StatusPartialFill, order, fills, "partial fill, market remainder cancelled")
}
