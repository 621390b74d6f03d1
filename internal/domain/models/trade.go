package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one match step. Price is always the
// resting (maker) order's price.
type Trade struct {
	ID          uuid.UUID
	Instrument  string
	Currency    string
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Price       decimal.Decimal
	Quantity    int64
	ExecutedAt  time.Time
}

// Amount is the monetary value of the trade, price times quantity.
func (t Trade) Amount() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
