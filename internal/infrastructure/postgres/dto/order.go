package dto

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiesh/exchange-core/internal/domain/models"
)

type Order struct {
	ID              uuid.UUID `db:"id"`
	UserID          uuid.UUID `db:"user_id"`
	Instrument      string    `db:"instrument"`
	Currency        string    `db:"currency"`
	Side            int16     `db:"side"`
	Kind            int16     `db:"kind"`
	Quantity        int64     `db:"quantity"`
	Price           string    `db:"price"`
	SlippagePercent string    `db:"slippage_percent"`
	Filled          int64     `db:"filled"`
	Status          int16     `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (o Order) ToDomain() (models.Order, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return models.Order{}, fmt.Errorf("parse price: %w", err)
	}
	slippage, err := decimal.NewFromString(o.SlippagePercent)
	if err != nil {
		return models.Order{}, fmt.Errorf("parse slippage percent: %w", err)
	}

	return models.Order{
		ID:              o.ID,
		UserID:          o.UserID,
		Instrument:      o.Instrument,
		Currency:        o.Currency,
		Side:            models.Side(o.Side),
		Kind:            models.Kind(o.Kind),
		Quantity:        o.Quantity,
		Price:           price,
		SlippagePercent: slippage,
		Filled:          o.Filled,
		Status:          models.Status(o.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

func OrderFromDomain(order models.Order) Order {
	return Order{
		ID:              order.ID,
		UserID:          order.UserID,
		Instrument:      order.Instrument,
		Currency:        order.Currency,
		Side:            int16(order.Side),
		Kind:            int16(order.Kind),
		Quantity:        order.Quantity,
		Price:           order.Price.String(),
		SlippagePercent: order.SlippagePercent.String(),
		Filled:          order.Filled,
		Status:          int16(order.Status),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}
