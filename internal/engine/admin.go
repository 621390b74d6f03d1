package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/book"
	"github.com/kiesh/exchange-core/internal/domain/models"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
	"github.com/kiesh/exchange-core/internal/metrics"
)

func (e *Engine) requireAdmin(as models.Scope) *models.Result {
	if !as.IsAuthenticated() {
		r := result(models.StatusNotAuthenticated, nil, nil, "caller is not authenticated")
		return &r
	}
	if !as.IsSystem() && as.Role != models.UserRoleAdmin {
		r := result(models.StatusNotAuthorized, nil, nil, "admin scope required")
		return &r
	}
	return nil
}

// ValidateBook checks the side-tree/index consistency of one pair's book
// without mutating it.
func (e *Engine) ValidateBook(ctx context.Context, as models.Scope, instrument, currency string) models.Result {
	if r := e.requireAdmin(as); r != nil {
		return *r
	}

	key := book.Key{Instrument: instrument, Currency: currency}
	b, release, err := e.books.Acquire(ctx, key)
	if err != nil {
		logger.Error(ctx, "could not acquire order book", zap.String("pair", key.String()), zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "order book unavailable")
	}
	defer release()

	if ok, reason := b.ValidateIndex(); !ok {
		return result(models.StatusOperationFailed, nil, nil, "book inconsistent: "+reason)
	}
	return result(models.StatusSuccess, nil, nil,
		fmt.Sprintf("book consistent, %d bids and %d asks", b.BidCount(), b.AskCount()))
}

// FixBook drops closed or unindexed entries and re-indexes the rest.
func (e *Engine) FixBook(ctx context.Context, as models.Scope, instrument, currency string) models.Result {
	if r := e.requireAdmin(as); r != nil {
		return *r
	}

	key := book.Key{Instrument: instrument, Currency: currency}
	b, release, err := e.books.Acquire(ctx, key)
	if err != nil {
		logger.Error(ctx, "could not acquire order book", zap.String("pair", key.String()), zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "order book unavailable")
	}
	defer release()

	removed, added := b.FixAll(ctx)
	if removed > 0 || added > 0 {
		metrics.BookRepairs.Inc()
		logger.Warn(ctx, "order book repaired",
			zap.String("pair", key.String()),
			zap.Int("removed", removed),
			zap.Int("reindexed", added))
	}
	return result(models.StatusSuccess, nil, nil,
		fmt.Sprintf("repair done, %d entries removed, %d reindexed", removed, added))
}

// NormalizeUser merges duplicate ledger rows and clamps reservation
// anomalies for one user.
func (e *Engine) NormalizeUser(ctx context.Context, as models.Scope, userID uuid.UUID) models.Result {
	if r := e.requireAdmin(as); r != nil {
		return *r
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		logger.Error(ctx, "could not open normalization transaction", zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "storage unavailable")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	report, err := e.ledger.Normalize(ctx, tx, userID)
	if err != nil {
		logger.Error(ctx, "ledger normalization failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "normalization failed")
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error(ctx, "normalization commit failed", zap.Error(err))
		return result(models.StatusOperationFailed, nil, nil, "normalization commit failed")
	}
	committed = true

	return result(models.StatusSuccess, nil, nil,
		fmt.Sprintf("funds merged %d clamped %d, positions merged %d clamped %d",
			report.FundsMerged, report.FundsClamped, report.PositionsMerged, report.PositionsClamped))
}
