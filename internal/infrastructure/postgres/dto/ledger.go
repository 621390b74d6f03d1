package dto

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiesh/exchange-core/internal/domain/models"
)

type Fund struct {
	UserID   uuid.UUID `db:"user_id"`
	Currency string    `db:"currency"`
	Total    string    `db:"total"`
	Reserved string    `db:"reserved"`
}

func (f Fund) ToDomain() (models.Fund, error) {
	total, err := decimal.NewFromString(f.Total)
	if err != nil {
		return models.Fund{}, fmt.Errorf("parse total: %w", err)
	}
	reserved, err := decimal.NewFromString(f.Reserved)
	if err != nil {
		return models.Fund{}, fmt.Errorf("parse reserved: %w", err)
	}

	return models.Fund{
		UserID:   f.UserID,
		Currency: f.Currency,
		Total:    total,
		Reserved: reserved,
	}, nil
}

func FundFromDomain(fund models.Fund) Fund {
	return Fund{
		UserID:   fund.UserID,
		Currency: fund.Currency,
		Total:    fund.Total.String(),
		Reserved: fund.Reserved.String(),
	}
}

type Position struct {
	UserID     uuid.UUID `db:"user_id"`
	Instrument string    `db:"instrument"`
	Quantity   int64     `db:"quantity"`
	Reserved   int64     `db:"reserved"`
}

func (p Position) ToDomain() models.Position {
	return models.Position{
		UserID:     p.UserID,
		Instrument: p.Instrument,
		Quantity:   p.Quantity,
		Reserved:   p.Reserved,
	}
}

func PositionFromDomain(position models.Position) Position {
	return Position{
		UserID:     position.UserID,
		Instrument: position.Instrument,
		Quantity:   position.Quantity,
		Reserved:   position.Reserved,
	}
}
