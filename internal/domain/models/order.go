package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	serviceErrors "github.com/kiesh/exchange-core/internal/errors/service"
)

// Order is a buy or sell instruction against one (instrument, currency) book.
// Fill accounting is owned by the matching engine: no other component may
// mutate Filled or Status.
type Order struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Instrument      string
	Currency        string
	Side            Side
	Kind            Kind
	Quantity        int64
	Price           decimal.Decimal // limit price, or anchor price for slippage orders; zero for market
	SlippagePercent decimal.Decimal // zero unless Kind is KindSlippageMarket
	Filled          int64
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Side uint8

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unspecified"
	}
}

type Kind uint8

const (
	KindUnspecified Kind = iota
	KindLimit
	KindMarket
	KindSlippageMarket
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "limit"
	case KindMarket:
		return "market"
	case KindSlippageMarket:
		return "slippage_market"
	default:
		return "unspecified"
	}
}

type Status uint8

const (
	StatusUnspecified Status = iota
	StatusOpen
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusFilled:
		return "filled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

func (o *Order) IsClosed() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// ReservedUnitPrice is the per-share amount earmarked when the order was
// placed: the limit price for limit orders, the slippage cap for
// slippage-market buys, zero for true-market buys (they settle from the
// available balance directly).
func (o *Order) ReservedUnitPrice() decimal.Decimal {
	switch o.Kind {
	case KindLimit:
		return o.Price
	case KindSlippageMarket:
		return o.SlippageCap()
	default:
		return decimal.Zero
	}
}

// SlippageCap is the worst price a slippage-market order accepts: anchor
// inflated by the slippage percent for buys, deflated for sells.
func (o *Order) SlippageCap() decimal.Decimal {
	offset := o.Price.Mul(o.SlippagePercent).Div(decimal.NewFromInt(100))
	if o.Side == SideBuy {
		return o.Price.Add(offset)
	}
	return o.Price.Sub(offset)
}

// Crosses reports whether this order would trade against a resting order at
// makerPrice. True-market orders cross unconditionally.
func (o *Order) Crosses(makerPrice decimal.Decimal) bool {
	switch o.Kind {
	case KindMarket:
		return true
	case KindSlippageMarket:
		if o.Side == SideBuy {
			return makerPrice.LessThanOrEqual(o.SlippageCap())
		}
		return makerPrice.GreaterThanOrEqual(o.SlippageCap())
	default:
		if o.Side == SideBuy {
			return makerPrice.LessThanOrEqual(o.Price)
		}
		return makerPrice.GreaterThanOrEqual(o.Price)
	}
}

// ApplyFill records qty against the order and transitions it to StatusFilled
// when fully consumed. Fills on closed orders or beyond the remaining
// quantity are rejected.
func (o *Order) ApplyFill(qty int64) error {
	if o.IsClosed() {
		return serviceErrors.ErrOrderClosed
	}
	if qty <= 0 || qty > o.Remaining() {
		return serviceErrors.ErrInvalidQuantity
	}

	o.Filled += qty
	if o.Filled == o.Quantity {
		o.Status = StatusFilled
	}
	o.UpdatedAt = time.Now().UTC()

	return nil
}

// RevertFill backs out an in-memory fill whose settlement transaction rolled
// back. It is the engine's reconciliation primitive and must mirror ApplyFill
// exactly.
func (o *Order) RevertFill(qty int64) {
	o.Filled -= qty
	if o.Filled < 0 {
		o.Filled = 0
	}
	if o.Status == StatusFilled {
		o.Status = StatusOpen
	}
	o.UpdatedAt = time.Now().UTC()
}
