package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/book"
	"github.com/kiesh/exchange-core/internal/domain/models"
	serviceErrors "github.com/kiesh/exchange-core/internal/errors/service"
	"github.com/kiesh/exchange-core/internal/ledger"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
	"github.com/kiesh/exchange-core/internal/metrics"
	"github.com/kiesh/exchange-core/internal/repository"
)

// Authorizer decides whether a caller may act on behalf of another user. The
// engine treats its answers as opaque booleans.
type Authorizer interface {
	MayActFor(ctx context.Context, as models.Scope, userID uuid.UUID) bool
}

// TickNotifier receives every settled fill after its transaction commits.
// Fire-and-forget: implementations must never fail a committed trade.
type TickNotifier interface {
	OnTick(ctx context.Context, trade models.Trade)
}

// RateLimiter caps order placements per user.
type RateLimiter interface {
	Allow(ctx context.Context, userID uuid.UUID) (bool, error)
}

type NopNotifier struct{}

func (NopNotifier) OnTick(context.Context, models.Trade) {}

type NopLimiter struct{}

func (NopLimiter) Allow(context.Context, uuid.UUID) (bool, error) { return true, nil }

// Engine orchestrates order intake, reservation, matching, and settlement.
// All book-mutating work for one (instrument, currency) pair runs under that
// pair's gate; pairs are fully parallel to each other.
type Engine struct {
	store      repository.Store
	ledger     *ledger.Ledger
	books      *book.Manager
	authorizer Authorizer
	notifier   TickNotifier
	limiter    RateLimiter
}

func New(
	store repository.Store,
	ldg *ledger.Ledger,
	books *book.Manager,
	authorizer Authorizer,
	notifier TickNotifier,
	limiter RateLimiter,
) *Engine {
	if store == nil || ldg == nil || books == nil || authorizer == nil {
		panic("engine: nil dependency")
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if limiter == nil {
		limiter = NopLimiter{}
	}

	return &Engine{
		store:      store,
		ledger:     ldg,
		books:      books,
		authorizer: authorizer,
		notifier:   notifier,
		limiter:    limiter,
	}
}

func validateOrder(order *models.Order) error {
	if order.Instrument == "" || order.Currency == "" {
		return fmt.Errorf("instrument and currency are required")
	}
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return fmt.Errorf("side must be buy or sell")
	}
	if order.Quantity <= 0 {
		return serviceErrors.ErrInvalidQuantity
	}

	switch order.Kind {
	case models.KindLimit:
		if !order.Price.IsPositive() {
			return serviceErrors.ErrInvalidPrice
		}
		if !order.SlippagePercent.IsZero() {
			return fmt.Errorf("limit orders take no slippage percent")
		}
	case models.KindMarket:
		if !order.Price.IsZero() {
			return fmt.Errorf("true-market orders take no price")
		}
		if !order.SlippagePercent.IsZero() {
			return fmt.Errorf("true-market orders take no slippage percent")
		}
	case models.KindSlippageMarket:
		if !order.Price.IsPositive() {
			return fmt.Errorf("slippage-market orders require a positive anchor price")
		}
		if !order.SlippagePercent.IsPositive() {
			return serviceErrors.ErrInvalidSlippage
		}
	default:
		return fmt.Errorf("unknown order kind")
	}

	return nil
}

// reserve earmarks the capital or shares backing order. True-market buys
// reserve nothing, they settle directly at fill time.
func (e *Engine) reserve(ctx context.Context, q repository.Querier, as models.Scope, order *models.Order) error {
	if order.Side == models.SideSell {
		return e.ledger.ReserveShares(ctx, q, as, order.UserID, order.Instrument, order.Quantity)
	}
	if order.Kind == models.KindMarket {
		return nil
	}
	amount := order.ReservedUnitPrice().Mul(decimal.NewFromInt(order.Quantity))
	return e.ledger.ReserveFunds(ctx, q, as, order.UserID, order.Currency, amount)
}

// releaseRemaining returns the unspent part of order's reservation: the
// filled portion is already settled and must not be touched.
func (e *Engine) releaseRemaining(ctx context.Context, q repository.Querier, as models.Scope, order *models.Order) error {
	remaining := order.Remaining()
	if remaining <= 0 {
		return nil
	}
	if order.Side == models.SideSell {
		return e.ledger.ReleaseShares(ctx, q, as, order.UserID, order.Instrument, remaining)
	}
	if order.Kind == models.KindMarket {
		return nil
	}
	amount := order.ReservedUnitPrice().Mul(decimal.NewFromInt(remaining))
	return e.ledger.ReleaseFunds(ctx, q, as, order.UserID, order.Currency, amount)
}

// forceCancel closes a persisted order after a mid-flight failure so it is
// never left open without book representation. Best effort: a failure here
// is logged and the order is flagged for administrative repair.
func (e *Engine) forceCancel(ctx context.Context, b *book.Book, order *models.Order) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		logger.Error(ctx, "force-cancel could not open transaction",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.releaseRemaining(ctx, tx, models.SystemScope(), order); err != nil {
		logger.Error(ctx, "force-cancel could not release reservation",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}

	order.Status = models.StatusCancelled
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		logger.Error(ctx, "force-cancel could not persist order",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error(ctx, "force-cancel commit failed",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}

	if b != nil {
		b.RemoveByID(order.ID)
	}
	logger.Warn(ctx, "order force-cancelled after operation failure",
		zap.String("order_id", order.ID.String()))
}

func result(status models.ResultStatus, order *models.Order, fills []models.Trade, message string) models.Result {
	res := models.Result{Status: status, Fills: fills, Message: message}
	if order != nil {
		res.Order = *order
	}
	return res
}

func placeResult(status models.ResultStatus, order *models.Order, fills []models.Trade, message string) models.Result {
	metrics.OrdersPlaced.WithLabelValues(status.String()).Inc()
	return result(status, order, fills, message)
}
