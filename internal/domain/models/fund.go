package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fund is one user's money balance in one currency. Invariant:
// 0 <= Reserved <= Total. Mutated only through the ledger primitives.
type Fund struct {
	UserID   uuid.UUID
	Currency string
	Total    decimal.Decimal
	Reserved decimal.Decimal
}

func (f Fund) Available() decimal.Decimal {
	return f.Total.Sub(f.Reserved)
}

func (f Fund) Consistent() bool {
	return !f.Reserved.IsNegative() && f.Reserved.LessThanOrEqual(f.Total)
}
