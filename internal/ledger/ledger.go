package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiesh/exchange-core/internal/domain/models"
	repositoryErrors "github.com/kiesh/exchange-core/internal/errors/repository"
	serviceErrors "github.com/kiesh/exchange-core/internal/errors/service"
	"github.com/kiesh/exchange-core/internal/repository"
)

// Ledger owns every mutation of Fund and Position rows. All operations take
// an explicit Querier (plain store or transaction handle) and an explicit
// Scope capability; there is no ambient transaction or caller state. Row
// protection comes from the store (row locks in postgres, the store mutex in
// memory), not from the book gates, so primitives are safe under concurrent
// calls from different gates.
type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

func (l *Ledger) guard(as models.Scope, userID uuid.UUID, positive bool) error {
	if !positive {
		return serviceErrors.ErrInvalidAmount
	}
	if !as.MayActFor(userID) {
		return serviceErrors.ErrNotAuthorized
	}
	return nil
}

func (l *Ledger) fund(ctx context.Context, q repository.Querier, userID uuid.UUID, currency string) (models.Fund, error) {
	fund, err := q.GetFund(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, repositoryErrors.ErrFundNotFound) {
			return models.Fund{UserID: userID, Currency: currency}, nil
		}
		return models.Fund{}, err
	}
	return fund, nil
}

func (l *Ledger) position(ctx context.Context, q repository.Querier, userID uuid.UUID, instrument string) (models.Position, error) {
	position, err := q.GetPosition(ctx, userID, instrument)
	if err != nil {
		if errors.Is(err, repositoryErrors.ErrPositionNotFound) {
			return models.Position{UserID: userID, Instrument: instrument}, nil
		}
		return models.Position{}, err
	}
	return position, nil
}

// AddFunds credits amount to the user's available balance.
func (l *Ledger) AddFunds(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	const op = "ledger.Ledger.AddFunds"

	if err := l.guard(as, userID, amount.IsPositive()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fund, err := l.fund(ctx, q, userID, currency)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fund.Total = fund.Total.Add(amount)
	if err := q.UpsertFund(ctx, fund); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// WithdrawFunds debits amount from the user's available balance. The
// reserved pool is untouchable here.
func (l *Ledger) WithdrawFunds(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	const op = "ledger.Ledger.WithdrawFunds"

	if err := l.guard(as, userID, amount.IsPositive()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fund, err := l.fund(ctx, q, userID, currency)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if fund.Available().LessThan(amount) {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientFunds)
	}

	fund.Total = fund.Total.Sub(amount)
	if err := q.UpsertFund(ctx, fund); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ReserveFunds earmarks amount out of the available balance.
func (l *Ledger) ReserveFunds(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	const op = "ledger.Ledger.ReserveFunds"

	if err := l.guard(as, userID, amount.IsPositive()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fund, err := l.fund(ctx, q, userID, currency)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if fund.Available().LessThan(amount) {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientFunds)
	}

	fund.Reserved = fund.Reserved.Add(amount)
	if err := q.UpsertFund(ctx, fund); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ReleaseFunds returns amount from the reserved pool to the available
// balance without spending it. Releasing more than is reserved is rejected,
// never silently clamped: a double release is a caller bug.
func (l *Ledger) ReleaseFunds(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	const op = "ledger.Ledger.ReleaseFunds"

	if err := l.guard(as, userID, amount.IsPositive()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fund, err := l.fund(ctx, q, userID, currency)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if fund.Reserved.LessThan(amount) {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientReserved)
	}

	fund.Reserved = fund.Reserved.Sub(amount)
	if err := q.UpsertFund(ctx, fund); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ConsumeReservedFunds spends amount out of the reserved pool. Settlement
// only.
func (l *Ledger) ConsumeReservedFunds(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	const op = "ledger.Ledger.ConsumeReservedFunds"

	if err := l.guard(as, userID, amount.IsPositive()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	fund, err := l.fund(ctx, q, userID, currency)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if fund.Reserved.LessThan(amount) {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientReserved)
	}

	fund.Reserved = fund.Reserved.Sub(amount)
	fund.Total = fund.Total.Sub(amount)
	if err := q.UpsertFund(ctx, fund); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// AddShares credits qty shares to the user's position.
func (l *Ledger) AddShares(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, instrument string, qty int64) error {
	const op = "ledger.Ledger.AddShares"

	if err := l.guard(as, userID, qty > 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	position, err := l.position(ctx, q, userID, instrument)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	position.Quantity += qty
	if err := q.UpsertPosition(ctx, position); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// WithdrawShares debits qty shares from the user's available position.
func (l *Ledger) WithdrawShares(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, instrument string, qty int64) error {
	const op = "ledger.Ledger.WithdrawShares"

	if err := l.guard(as, userID, qty > 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	position, err := l.position(ctx, q, userID, instrument)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if position.Available() < qty {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientShares)
	}

	position.Quantity -= qty
	if err := q.UpsertPosition(ctx, position); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ReserveShares earmarks qty shares out of the available position.
func (l *Ledger) ReserveShares(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, instrument string, qty int64) error {
	const op = "ledger.Ledger.ReserveShares"

	if err := l.guard(as, userID, qty > 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	position, err := l.position(ctx, q, userID, instrument)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if position.Available() < qty {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientShares)
	}

	position.Reserved += qty
	if err := q.UpsertPosition(ctx, position); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ReleaseShares returns qty shares from the reserved pool without spending
// them.
func (l *Ledger) ReleaseShares(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, instrument string, qty int64) error {
	const op = "ledger.Ledger.ReleaseShares"

	if err := l.guard(as, userID, qty > 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	position, err := l.position(ctx, q, userID, instrument)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if position.Reserved < qty {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientReserved)
	}

	position.Reserved -= qty
	if err := q.UpsertPosition(ctx, position); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ConsumeReservedShares spends qty shares out of the reserved pool.
// Settlement only.
func (l *Ledger) ConsumeReservedShares(ctx context.Context, q repository.Querier, as models.Scope, userID uuid.UUID, instrument string, qty int64) error {
	const op = "ledger.Ledger.ConsumeReservedShares"

	if err := l.guard(as, userID, qty > 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	position, err := l.position(ctx, q, userID, instrument)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if position.Reserved < qty {
		return fmt.Errorf("%s: %w", op, serviceErrors.ErrInsufficientReserved)
	}

	position.Reserved -= qty
	position.Quantity -= qty
	if err := q.UpsertPosition(ctx, position); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
