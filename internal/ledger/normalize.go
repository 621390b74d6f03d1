package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/domain/models"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
	"github.com/kiesh/exchange-core/internal/repository"
)

// NormalizeReport summarizes what a normalization pass changed.
type NormalizeReport struct {
	FundsMerged      int
	FundsClamped     int
	PositionsMerged  int
	PositionsClamped int
}

// Normalize detects and repairs duplicate or inconsistent ledger rows for one
// user: rows sharing a currency/instrument are merged, negative reserved
// amounts are zeroed, and reservations exceeding the total are clamped down
// to it. Defensive maintenance, run out of the hot path, never during
// settlement.
func (l *Ledger) Normalize(ctx context.Context, q repository.Querier, userID uuid.UUID) (NormalizeReport, error) {
	const op = "ledger.Ledger.Normalize"

	var report NormalizeReport

	funds, err := q.ListFunds(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}

	byCurrency := make(map[string]models.Fund)
	dupCurrencies := make(map[string]bool)
	for _, fund := range funds {
		if merged, ok := byCurrency[fund.Currency]; ok {
			merged.Total = merged.Total.Add(fund.Total)
			merged.Reserved = merged.Reserved.Add(fund.Reserved)
			byCurrency[fund.Currency] = merged
			dupCurrencies[fund.Currency] = true
			report.FundsMerged++
			continue
		}
		byCurrency[fund.Currency] = fund
	}

	for currency, fund := range byCurrency {
		clamped := fund
		if clamped.Reserved.IsNegative() {
			clamped.Reserved = decimal.Zero
		}
		if clamped.Reserved.GreaterThan(clamped.Total) {
			clamped.Reserved = clamped.Total
		}

		changed := dupCurrencies[currency] || !clamped.Reserved.Equal(fund.Reserved)
		if !clamped.Reserved.Equal(fund.Reserved) {
			report.FundsClamped++
		}
		if !changed {
			continue
		}

		if dupCurrencies[currency] {
			if err := q.DeleteFund(ctx, userID, currency); err != nil {
				return report, fmt.Errorf("%s: %w", op, err)
			}
		}
		if err := q.UpsertFund(ctx, clamped); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}
		logger.Warn(ctx, "normalized fund row",
			zap.String("user_id", userID.String()),
			zap.String("currency", currency),
		)
	}

	positions, err := q.ListPositions(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}

	byInstrument := make(map[string]models.Position)
	dupInstruments := make(map[string]bool)
	for _, position := range positions {
		if merged, ok := byInstrument[position.Instrument]; ok {
			merged.Quantity += position.Quantity
			merged.Reserved += position.Reserved
			byInstrument[position.Instrument] = merged
			dupInstruments[position.Instrument] = true
			report.PositionsMerged++
			continue
		}
		byInstrument[position.Instrument] = position
	}

	for instrument, position := range byInstrument {
		clamped := position
		if clamped.Reserved < 0 {
			clamped.Reserved = 0
		}
		if clamped.Reserved > clamped.Quantity {
			clamped.Reserved = clamped.Quantity
		}

		changed := dupInstruments[instrument] || clamped.Reserved != position.Reserved
		if clamped.Reserved != position.Reserved {
			report.PositionsClamped++
		}
		if !changed {
			continue
		}

		if dupInstruments[instrument] {
			if err := q.DeletePosition(ctx, userID, instrument); err != nil {
				return report, fmt.Errorf("%s: %w", op, err)
			}
		}
		if err := q.UpsertPosition(ctx, clamped); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}
		logger.Warn(ctx, "normalized position row",
			zap.String("user_id", userID.String()),
			zap.String("instrument", instrument),
		)
	}

	return report, nil
}
