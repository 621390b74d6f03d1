package models

import "github.com/google/uuid"

// Position is one user's share holding in one instrument. Invariant:
// 0 <= Reserved <= Quantity. Mutated only through the ledger primitives.
type Position struct {
	UserID     uuid.UUID
	Instrument string
	Quantity   int64
	Reserved   int64
}

func (p Position) Available() int64 {
	return p.Quantity - p.Reserved
}

func (p Position) Consistent() bool {
	return p.Reserved >= 0 && p.Reserved <= p.Quantity
}
