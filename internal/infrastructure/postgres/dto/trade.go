package dto

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiesh/exchange-core/internal/domain/models"
)

type Trade struct {
	ID          uuid.UUID `db:"id"`
	Instrument  string    `db:"instrument"`
	Currency    string    `db:"currency"`
	BuyOrderID  uuid.UUID `db:"buy_order_id"`
	SellOrderID uuid.UUID `db:"sell_order_id"`
	BuyerID     uuid.UUID `db:"buyer_id"`
	SellerID    uuid.UUID `db:"seller_id"`
	Price       string    `db:"price"`
	Quantity    int64     `db:"quantity"`
	ExecutedAt  time.Time `db:"executed_at"`
}

func (t Trade) ToDomain() (models.Trade, error) {
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return models.Trade{}, fmt.Errorf("parse price: %w", err)
	}

	return models.Trade{
		ID:          t.ID,
		Instrument:  t.Instrument,
		Currency:    t.Currency,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Price:       price,
		Quantity:    t.Quantity,
		ExecutedAt:  t.ExecutedAt,
	}, nil
}

func TradeFromDomain(trade models.Trade) Trade {
	return Trade{
		ID:          trade.ID,
		Instrument:  trade.Instrument,
		Currency:    trade.Currency,
		BuyOrderID:  trade.BuyOrderID,
		SellOrderID: trade.SellOrderID,
		BuyerID:     trade.BuyerID,
		SellerID:    trade.SellerID,
		Price:       trade.Price.String(),
		Quantity:    trade.Quantity,
		ExecutedAt:  trade.ExecutedAt,
	}
}
