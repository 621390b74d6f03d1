package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kiesh/exchange-core/internal/domain/models"
	serviceErrors "github.com/kiesh/exchange-core/internal/errors/service"
	"github.com/kiesh/exchange-core/internal/repository"
)

// SettleTrade moves money and shares for one fill. The caller runs it inside
// the same transaction that persists the trade and both orders; all ledger
// writes here commit or roll back as one unit with them.
//
// Buy side: the buyer reserved ReservedUnitPrice() per share when placing.
// When that exceeds the execution price (slippage orders anchored above the
// maker's price), the excess is released back to available first, then
// exactly price x quantity is consumed from the reservation. True-market buys
// reserved nothing and pay straight from the available balance.
// Sell side: the seller's reserved shares are consumed and the proceeds land
// in the seller's available balance. Net fund movement across both parties is
// zero.
func (l *Ledger) SettleTrade(ctx context.Context, q repository.Querier, trade models.Trade, buyOrder, sellOrder *models.Order) error {
	const op = "ledger.Ledger.SettleTrade"

	if buyOrder == nil || sellOrder == nil {
		return fmt.Errorf("%s: nil order", op)
	}
	if trade.BuyerID == trade.SellerID {
		return fmt.Errorf("%s: buyer and seller are the same user", op)
	}
	if buyOrder.Currency != sellOrder.Currency {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrCurrencyMismatch)
	}

	system := models.SystemScope()
	qty := decimal.NewFromInt(trade.Quantity)
	amount := trade.Price.Mul(qty)

	if buyOrder.Kind == models.KindMarket {
		if err := l.WithdrawFunds(ctx, q, system, trade.BuyerID, trade.Currency, amount); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	} else {
		reservedUnit := buyOrder.ReservedUnitPrice()
		if reservedUnit.GreaterThan(trade.Price) {
			excess := reservedUnit.Sub(trade.Price).Mul(qty)
			if err := l.ReleaseFunds(ctx, q, system, trade.BuyerID, trade.Currency, excess); err != nil {
				return fmt.Errorf("%s: release excess: %w", op, err)
			}
		}
		if err := l.ConsumeReservedFunds(ctx, q, system, trade.BuyerID, trade.Currency, amount); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := l.AddFunds(ctx, q, system, trade.SellerID, trade.Currency, amount); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := l.ConsumeReservedShares(ctx, q, system, trade.SellerID, trade.Instrument, trade.Quantity); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := l.AddShares(ctx, q, system, trade.BuyerID, trade.Instrument, trade.Quantity); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
