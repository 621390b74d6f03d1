package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/book"
	"github.com/kiesh/exchange-core/internal/domain/models"
	repoErrors "github.com/kiesh/exchange-core/internal/errors/repository"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
)

// CancelOrder closes an open order and releases whatever it still holds.
// Cancelling an already closed order reports AlreadyClosed, never an error.
func (e *Engine) CancelOrder(ctx context.Context, as models.Scope, orderID uuid.UUID) (res models.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic during order cancellation", zap.Any("panic", r))
			res = result(models.StatusOperationFailed, nil, nil, "internal error")
		}
	}()

	if !as.IsAuthenticated() {
		return result(models.StatusNotAuthenticated, nil, nil, "caller is not authenticated")
	}

	// A first read outside the gate resolves the pair so the right gate can
	// be taken; the authoritative state is re-read inside the transaction.
	stored, err := e.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repoErrors.ErrOrderNotFound) {
			return result(models.StatusInvalidParameters, nil, nil, "order not found")
		}
		logger.Error(ctx, "could not look up order", zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "storage unavailable")
	}

	if stored.UserID != as.UserID && !e.authorizer.MayActFor(ctx, as, stored.UserID) {
		return result(models.StatusNotAuthorized, nil, nil, "caller may not cancel this order")
	}

	key := book.Key{Instrument: stored.Instrument, Currency: stored.Currency}
	b, release, err := e.books.Acquire(ctx, key)
	if err != nil {
		logger.Error(ctx, "could not acquire order book", zap.String("pair", key.String()), zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "order book unavailable")
	}
	defer release()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		logger.Error(ctx, "could not open cancellation transaction", zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "storage unavailable")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	// Prefer the live book copy: it carries fill progress the pre-gate read
	// may have missed.
	order, onBook := b.Get(orderID)
	if !onBook {
		fresh, err := tx.GetOrderByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, repoErrors.ErrOrderNotFound) {
				return result(models.StatusInvalidParameters, nil, nil, "order not found")
			}
			logger.Error(ctx, "could not re-read order", zap.Error(err))
			return result(models.StatusOperationFailed, nil, nil, "storage unavailable")
		}
		order = &fresh
	}

	if order.IsClosed() {
		return result(models.StatusAlreadyClosed, order, nil, "order is already closed")
	}

	if err := e.releaseRemaining(ctx, tx, as, order); err != nil {
		logger.Error(ctx, "could not release remaining reservation",
			zap.String("order_id", orderID.String()), zap.Error(err))
		return result(models.StatusOperationFailed, order, nil, "could not release reservation")
	}

	order.Status = models.StatusCancelled
	order.UpdatedAt = time.Now().UTC()
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		logger.Error(ctx, "could not persist cancellation", zap.Error(err))
		return result(models.StatusOperationFailed, order, nil, "could not persist cancellation")
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error(ctx, "cancellation commit failed", zap.Error(err))
		return result(models.StatusOperationFailed, order, nil, "cancellation commit failed")
	}
	committed = true

	if !b.RemoveByID(orderID) && onBook {
		logger.Debug(ctx, "cancelled order was already off the book",
			zap.String("order_id", orderID.String()))
	}

	return result(models.StatusSuccess, order, nil, "order cancelled")
}
