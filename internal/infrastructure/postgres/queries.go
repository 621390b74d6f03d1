package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kiesh/exchange-core/internal/domain/models"
	"github.com/kiesh/exchange-core/internal/infrastructure/postgres/dto"
	repositoryErrors "github.com/kiesh/exchange-core/internal/errors/repository"
)

const duplicateKeyCode = "23505"

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// queries implements the repository surface over either a pool or an open
// transaction. Ledger row reads lock with FOR UPDATE when transactional so
// reserve and consume cycles see a stable row.
type queries struct {
	conn      dbConn
	forUpdate bool
}

func (q queries) lockSuffix() string {
	if q.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (q queries) CreateOrder(ctx context.Context, order models.Order) error {
	const op = "postgres.Store.CreateOrder"

	orderDTO := dto.OrderFromDomain(order)

	_, err := q.conn.Exec(ctx,
		`INSERT INTO orders (id, user_id, instrument, currency, side, kind, quantity, price,
		                     slippage_percent, filled, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		orderDTO.ID,
		orderDTO.UserID,
		orderDTO.Instrument,
		orderDTO.Currency,
		orderDTO.Side,
		orderDTO.Kind,
		orderDTO.Quantity,
		orderDTO.Price,
		orderDTO.SlippagePercent,
		orderDTO.Filled,
		orderDTO.Status,
		orderDTO.CreatedAt,
		orderDTO.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, repositoryErrors.ErrOrderAlreadyExists)
		}
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	return nil
}

func (q queries) UpdateOrder(ctx context.Context, order models.Order) error {
	const op = "postgres.Store.UpdateOrder"

	orderDTO := dto.OrderFromDomain(order)

	tag, err := q.conn.Exec(ctx,
		`UPDATE orders
		 SET quantity = $2, price = $3, filled = $4, status = $5, updated_at = $6
		 WHERE id = $1`,
		orderDTO.ID,
		orderDTO.Quantity,
		orderDTO.Price,
		orderDTO.Filled,
		orderDTO.Status,
		orderDTO.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repositoryErrors.ErrOrderNotFound)
	}

	return nil
}

func (q queries) GetOrderByID(ctx context.Context, id uuid.UUID) (models.Order, error) {
	const op = "postgres.Store.GetOrderByID"

	rows, err := q.conn.Query(ctx,
		`SELECT id, user_id, instrument, currency, side, kind, quantity, price::text,
		        slippage_percent::text, filled, status, created_at, updated_at
		 FROM orders
		 WHERE id = $1
		 LIMIT 1`,
		id,
	)
	if err != nil {
		return models.Order{}, fmt.Errorf("%s: query: %w", op, err)
	}

	orderDTO, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[dto.Order])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, fmt.Errorf("%s: %w", op, repositoryErrors.ErrOrderNotFound)
		}
		return models.Order{}, fmt.Errorf("%s: collect: %w", op, err)
	}

	order, err := orderDTO.ToDomain()
	if err != nil {
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	return order, nil
}

func (q queries) GetOpenLimitOrders(ctx context.Context, instrument, currency string) ([]models.Order, error) {
	const op = "postgres.Store.GetOpenLimitOrders"

	rows, err := q.conn.Query(ctx,
		`SELECT id, user_id, instrument, currency, side, kind, quantity, price::text,
		        slippage_percent::text, filled, status, created_at, updated_at
		 FROM orders
		 WHERE instrument = $1 AND currency = $2 AND kind = $3 AND status = $4
		 ORDER BY created_at`,
		instrument,
		currency,
		int16(models.KindLimit),
		int16(models.StatusOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	orderDTOs, err := pgx.CollectRows(rows, pgx.RowToStructByName[dto.Order])
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	orders := make([]models.Order, 0, len(orderDTOs))
	for _, orderDTO := range orderDTOs {
		order, err := orderDTO.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		orders = append(orders, order)
	}

	return orders, nil
}

func (q queries) CreateTrade(ctx context.Context, trade models.Trade) error {
	const op = "postgres.Store.CreateTrade"

	tradeDTO := dto.TradeFromDomain(trade)

	_, err := q.conn.Exec(ctx,
		`INSERT INTO trades (id, instrument, currency, buy_order_id, sell_order_id,
		                     buyer_id, seller_id, price, quantity, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tradeDTO.ID,
		tradeDTO.Instrument,
		tradeDTO.Currency,
		tradeDTO.BuyOrderID,
		tradeDTO.SellOrderID,
		tradeDTO.BuyerID,
		tradeDTO.SellerID,
		tradeDTO.Price,
		tradeDTO.Quantity,
		tradeDTO.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, repositoryErrors.ErrTradeAlreadyExists)
		}
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	return nil
}

func (q queries) GetFund(ctx context.Context, userID uuid.UUID, currency string) (models.Fund, error) {
	const op = "postgres.Store.GetFund"

	rows, err := q.conn.Query(ctx,
		`SELECT user_id, currency, total::text, reserved::text
		 FROM funds
		 WHERE user_id = $1 AND currency = $2
		 LIMIT 1`+q.lockSuffix(),
		userID,
		currency,
	)
	if err != nil {
		return models.Fund{}, fmt.Errorf("%s: query: %w", op, err)
	}

	fundDTO, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[dto.Fund])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Fund{}, fmt.Errorf("%s: %w", op, repositoryErrors.ErrFundNotFound)
		}
		return models.Fund{}, fmt.Errorf("%s: collect: %w", op, err)
	}

	fund, err := fundDTO.ToDomain()
	if err != nil {
		return models.Fund{}, fmt.Errorf("%s: %w", op, err)
	}

	return fund, nil
}

func (q queries) UpsertFund(ctx context.Context, fund models.Fund) error {
	const op = "postgres.Store.UpsertFund"

	fundDTO := dto.FundFromDomain(fund)

	_, err := q.conn.Exec(ctx,
		`INSERT INTO funds (user_id, currency, total, reserved)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, currency)
		 DO UPDATE SET total = EXCLUDED.total, reserved = EXCLUDED.reserved`,
		fundDTO.UserID,
		fundDTO.Currency,
		fundDTO.Total,
		fundDTO.Reserved,
	)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	return nil
}

func (q queries) ListFunds(ctx context.Context, userID uuid.UUID) ([]models.Fund, error) {
	const op = "postgres.Store.ListFunds"

	rows, err := q.conn.Query(ctx,
		`SELECT user_id, currency, total::text, reserved::text
		 FROM funds
		 WHERE user_id = $1
		 ORDER BY currency`+q.lockSuffix(),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	fundDTOs, err := pgx.CollectRows(rows, pgx.RowToStructByName[dto.Fund])
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	funds := make([]models.Fund, 0, len(fundDTOs))
	for _, fundDTO := range fundDTOs {
		fund, err := fundDTO.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		funds = append(funds, fund)
	}

	return funds, nil
}

func (q queries) DeleteFund(ctx context.Context, userID uuid.UUID, currency string) error {
	const op = "postgres.Store.DeleteFund"

	_, err := q.conn.Exec(ctx,
		`DELETE FROM funds WHERE user_id = $1 AND currency = $2`,
		userID,
		currency,
	)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	return nil
}

func (q queries) GetPosition(ctx context.Context, userID uuid.UUID, instrument string) (models.Position, error) {
	const op = "postgres.Store.GetPosition"

	rows, err := q.conn.Query(ctx,
		`SELECT user_id, instrument, quantity, reserved
		 FROM positions
		 WHERE user_id = $1 AND instrument = $2
		 LIMIT 1`+q.lockSuffix(),
		userID,
		instrument,
	)
	if err != nil {
		return models.Position{}, fmt.Errorf("%s: query: %w", op, err)
	}

	positionDTO, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[dto.Position])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Position{}, fmt.Errorf("%s: %w", op, repositoryErrors.ErrPositionNotFound)
		}
		return models.Position{}, fmt.Errorf("%s: collect: %w", op, err)
	}

	return positionDTO.ToDomain(), nil
}

func (q queries) UpsertPosition(ctx context.Context, position models.Position) error {
	const op = "postgres.Store.UpsertPosition"

	positionDTO := dto.PositionFromDomain(position)

	_, err := q.conn.Exec(ctx,
		`INSERT INTO positions (user_id, instrument, quantity, reserved)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, instrument)
		 DO UPDATE SET quantity = EXCLUDED.quantity, reserved = EXCLUDED.reserved`,
		positionDTO.UserID,
		positionDTO.Instrument,
		positionDTO.Quantity,
		positionDTO.Reserved,
	)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	return nil
}

func (q queries) ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error) {
	const op = "postgres.Store.ListPositions"

	rows, err := q.conn.Query(ctx,
		`SELECT user_id, instrument, quantity, reserved
		 FROM positions
		 WHERE user_id = $1
		 ORDER BY instrument`+q.lockSuffix(),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}

	positionDTOs, err := pgx.CollectRows(rows, pgx.RowToStructByName[dto.Position])
	if err != nil {
		return nil, fmt.Errorf("%s: collect: %w", op, err)
	}

	positions := make([]models.Position, 0, len(positionDTOs))
	for _, positionDTO := range positionDTOs {
		positions = append(positions, positionDTO.ToDomain())
	}

	return positions, nil
}

func (q queries) DeletePosition(ctx context.Context, userID uuid.UUID, instrument string) error {
	const op = "postgres.Store.DeletePosition"

	_, err := q.conn.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND instrument = $2`,
		userID,
		instrument,
	)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	return nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		return pgErr.Code == duplicateKeyCode
	}

	return false
}
