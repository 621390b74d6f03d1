package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/book"
	"github.com/kiesh/exchange-core/internal/domain/models"
	repoErrors "github.com/kiesh/exchange-core/internal/errors/repository"
	serviceErrors "github.com/kiesh/exchange-core/internal/errors/service"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
	"github.com/kiesh/exchange-core/internal/repository"
)

// ModifyOrder changes the quantity and/or limit price of an open order.
// Reservations are adjusted by the delta, a price change forfeits time
// priority, and a modification that makes the order cross is matched
// immediately.
func (e *Engine) ModifyOrder(
	ctx context.Context,
	as models.Scope,
	orderID uuid.UUID,
	newQuantity *int64,
	newPrice *decimal.Decimal,
) (res models.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic during order modification", zap.Any("panic", r))
			res = result(models.StatusOperationFailed, nil, nil, "internal error")
		}
	}()

	if !as.IsAuthenticated() {
		return result(models.StatusNotAuthenticated, nil, nil, "caller is not authenticated")
	}
	if newQuantity == nil && newPrice == nil {
		return result(models.StatusInvalidParameters, nil, nil, "nothing to modify")
	}

	stored, err := e.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repoErrors.ErrOrderNotFound) {
			return result(models.StatusInvalidParameters, nil, nil, "order not found")
		}
		logger.Error(ctx, "could not look up order", zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "storage unavailable")
	}

	if stored.UserID != as.UserID && !e.authorizer.MayActFor(ctx, as, stored.UserID) {
		return result(models.StatusNotAuthorized, nil, nil, "caller may not modify this order")
	}

	key := book.Key{Instrument: stored.Instrument, Currency: stored.Currency}
	b, release, err := e.books.Acquire(ctx, key)
	if err != nil {
		logger.Error(ctx, "could not acquire order book", zap.String("pair", key.String()), zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "order book unavailable")
	}
	defer release()

	order, onBook := b.Get(orderID)
	if !onBook {
		order = &stored
	}

	if order.IsClosed() {
		return result(models.StatusAlreadyClosed, order, nil, "order is already closed")
	}

	if newPrice != nil && order.Kind != models.KindLimit {
		return result(models.StatusInvalidParameters, order, nil, "only limit orders take a price change")
	}
	if newPrice != nil && !newPrice.IsPositive() {
		return result(models.StatusInvalidParameters, order, nil, serviceErrors.ErrInvalidPrice.Error())
	}
	if newQuantity != nil {
		if *newQuantity <= 0 {
			return result(models.StatusInvalidParameters, order, nil, serviceErrors.ErrInvalidQuantity.Error())
		}
		if *newQuantity < order.Filled {
			return result(models.StatusInvalidParameters, order, nil, "new quantity is below the filled amount")
		}
	}

	next := *order
	if newQuantity != nil {
		next.Quantity = *newQuantity
	}
	priceChanged := false
	if newPrice != nil && !newPrice.Equal(order.Price) {
		next.Price = *newPrice
		priceChanged = true
	}
	if next.Remaining() == 0 {
		next.Status = models.StatusFilled
	}
	next.UpdatedAt = time.Now().UTC()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		logger.Error(ctx, "could not open modification transaction", zap.Error(err))
		return result(models.StatusOperationFailed, order, nil, "storage unavailable")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := e.adjustReservation(ctx, tx, as, order, &next); err != nil {
		switch {
		case errors.Is(err, serviceErrors.ErrInsufficientFunds),
			errors.Is(err, serviceErrors.ErrInsufficientShares):
			return result(models.StatusInvalidParameters, order, nil, err.Error())
		case errors.Is(err, serviceErrors.ErrNotAuthorized):
			return result(models.StatusNotAuthorized, order, nil, err.Error())
		default:
			logger.Error(ctx, "could not adjust reservation", zap.Error(err))
			return result(models.StatusOperationFailed, order, nil, "could not adjust reservation")
		}
	}

	if err := tx.UpdateOrder(ctx, next); err != nil {
		logger.Error(ctx, "could not persist modification", zap.Error(err))
		return result(models.StatusOperationFailed, order, nil, "could not persist modification")
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error(ctx, "modification commit failed", zap.Error(err))
		return result(models.StatusOperationFailed, order, nil, "modification commit failed")
	}
	committed = true

	*order = next

	if order.Status == models.StatusFilled {
		b.RemoveByID(orderID)
		return result(models.StatusFilledResult, order, nil, "quantity trimmed to the filled amount")
	}

	if !priceChanged {
		// Quantity-only change keeps time priority at the same price level.
		if onBook {
			b.Upsert(order)
		}
		return result(models.StatusSuccess, order, nil, "order modified")
	}

	b.RemoveByID(orderID)
	fills, err := e.matchLoop(ctx, b, order)
	if err != nil {
		e.forceCancel(ctx, b, order)
		return result(models.StatusOperationFailed, order, fills, "matching aborted: "+err.Error())
	}

	if order.Status == models.StatusFilled {
		return result(models.StatusFilledResult, order, fills, "order fully filled after modification")
	}

	b.Upsert(order)
	if len(fills) > 0 {
		return result(models.StatusPartialFill, order, fills, "partial fill, remainder resting on book")
	}
	return result(models.StatusSuccess, order, fills, "order modified")
}

// adjustReservation moves the backing reservation from the old shape of the
// order to the new one. Capital deltas use each shape's own reserved unit
// price so a price change re-prices the whole remaining reservation.
func (e *Engine) adjustReservation(
	ctx context.Context,
	q repository.Querier,
	as models.Scope,
	old, next *models.Order,
) error {
	if old.Side == models.SideSell {
		delta := next.Remaining() - old.Remaining()
		switch {
		case delta > 0:
			return e.ledger.ReserveShares(ctx, q, as, old.UserID, old.Instrument, delta)
		case delta < 0:
			return e.ledger.ReleaseShares(ctx, q, as, old.UserID, old.Instrument, -delta)
		}
		return nil
	}

	oldAmount := old.ReservedUnitPrice().Mul(decimal.NewFromInt(old.Remaining()))
	newAmount := next.ReservedUnitPrice().Mul(decimal.NewFromInt(next.Remaining()))
	delta := newAmount.Sub(oldAmount)
	switch {
	case delta.IsPositive():
		return e.ledger.ReserveFunds(ctx, q, as, old.UserID, old.Currency, delta)
	case delta.IsNegative():
		return e.ledger.ReleaseFunds(ctx, q, as, old.UserID, old.Currency, delta.Neg())
	}
	return nil
}
