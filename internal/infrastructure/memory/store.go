package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kiesh/exchange-core/internal/domain/models"
	repositoryErrors "github.com/kiesh/exchange-core/internal/errors/repository"
	"github.com/kiesh/exchange-core/internal/repository"
)

// Store is an in-memory persistence gateway with full transaction semantics:
// a transaction holds the store mutex for its whole lifetime, so concurrent
// transactions serialize exactly like row-locked database transactions, and
// nested Begin snapshots the state savepoint-style.
type Store struct {
	mu    sync.Mutex
	state state
}

type state struct {
	orders    map[uuid.UUID]models.Order
	trades    []models.Trade
	funds     []models.Fund
	positions []models.Position
}

func NewStore() *Store {
	return &Store{
		state: state{orders: make(map[uuid.UUID]models.Order)},
	}
}

func (s state) clone() state {
	cloned := state{
		orders:    make(map[uuid.UUID]models.Order, len(s.orders)),
		trades:    append([]models.Trade(nil), s.trades...),
		funds:     append([]models.Fund(nil), s.funds...),
		positions: append([]models.Position(nil), s.positions...),
	}
	for id, order := range s.orders {
		cloned.orders[id] = order
	}
	return cloned
}

func (s *Store) Begin(_ context.Context) (repository.Tx, error) {
	s.mu.Lock()
	return &Tx{store: s, snapshot: s.state.clone(), root: true}, nil
}

// Trades returns a copy of all recorded trades, for tests.
func (s *Store) Trades() []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Trade(nil), s.state.trades...)
}

// InjectFundRow appends a raw fund row, bypassing upsert semantics. It
// exists so tests can stage duplicate or inconsistent rows for the
// normalization pass.
func (s *Store) InjectFundRow(fund models.Fund) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.funds = append(s.state.funds, fund)
}

// InjectPositionRow appends a raw position row, bypassing upsert semantics.
func (s *Store) InjectPositionRow(position models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.positions = append(s.state.positions, position)
}

func (s *Store) CreateOrder(_ context.Context, order models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createOrder(order)
}

func (s *Store) UpdateOrder(_ context.Context, order models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateOrder(order)
}

func (s *Store) GetOrderByID(_ context.Context, id uuid.UUID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getOrderByID(id)
}

func (s *Store) GetOpenLimitOrders(_ context.Context, instrument, currency string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getOpenLimitOrders(instrument, currency), nil
}

func (s *Store) CreateTrade(_ context.Context, trade models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createTrade(trade)
}

func (s *Store) GetFund(_ context.Context, userID uuid.UUID, currency string) (models.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getFund(userID, currency)
}

func (s *Store) UpsertFund(_ context.Context, fund models.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.upsertFund(fund)
	return nil
}

func (s *Store) ListFunds(_ context.Context, userID uuid.UUID) ([]models.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listFunds(userID), nil
}

func (s *Store) DeleteFund(_ context.Context, userID uuid.UUID, currency string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.deleteFund(userID, currency)
	return nil
}

func (s *Store) GetPosition(_ context.Context, userID uuid.UUID, instrument string) (models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getPosition(userID, instrument)
}

func (s *Store) UpsertPosition(_ context.Context, position models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.upsertPosition(position)
	return nil
}

func (s *Store) ListPositions(_ context.Context, userID uuid.UUID) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listPositions(userID), nil
}

func (s *Store) DeletePosition(_ context.Context, userID uuid.UUID, instrument string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.deletePosition(userID, instrument)
	return nil
}

func (s *state) createOrder(order models.Order) error {
	if _, exists := s.orders[order.ID]; exists {
		return repositoryErrors.ErrOrderAlreadyExists
	}
	s.orders[order.ID] = order
	return nil
}

func (s *state) updateOrder(order models.Order) error {
	if _, exists := s.orders[order.ID]; !exists {
		return repositoryErrors.ErrOrderNotFound
	}
	s.orders[order.ID] = order
	return nil
}

func (s *state) getOrderByID(id uuid.UUID) (models.Order, error) {
	order, exists := s.orders[id]
	if !exists {
		return models.Order{}, repositoryErrors.ErrOrderNotFound
	}
	return order, nil
}

func (s *state) getOpenLimitOrders(instrument, currency string) []models.Order {
	var result []models.Order
	for _, order := range s.orders {
		if order.Instrument != instrument || order.Currency != currency {
			continue
		}
		if order.Kind != models.KindLimit || order.Status != models.StatusOpen || order.Remaining() <= 0 {
			continue
		}
		result = append(result, order)
	}
	return result
}

func (s *state) createTrade(trade models.Trade) error {
	for _, existing := range s.trades {
		if existing.ID == trade.ID {
			return repositoryErrors.ErrTradeAlreadyExists
		}
	}
	s.trades = append(s.trades, trade)
	return nil
}

func (s *state) getFund(userID uuid.UUID, currency string) (models.Fund, error) {
	for _, fund := range s.funds {
		if fund.UserID == userID && fund.Currency == currency {
			return fund, nil
		}
	}
	return models.Fund{}, repositoryErrors.ErrFundNotFound
}

func (s *state) upsertFund(fund models.Fund) {
	for i, existing := range s.funds {
		if existing.UserID == fund.UserID && existing.Currency == fund.Currency {
			s.funds[i] = fund
			return
		}
	}
	s.funds = append(s.funds, fund)
}

func (s *state) listFunds(userID uuid.UUID) []models.Fund {
	var result []models.Fund
	for _, fund := range s.funds {
		if fund.UserID == userID {
			result = append(result, fund)
		}
	}
	return result
}

func (s *state) deleteFund(userID uuid.UUID, currency string) {
	kept := s.funds[:0]
	for _, fund := range s.funds {
		if fund.UserID == userID && fund.Currency == currency {
			continue
		}
		kept = append(kept, fund)
	}
	s.funds = kept
}

func (s *state) getPosition(userID uuid.UUID, instrument string) (models.Position, error) {
	for _, position := range s.positions {
		if position.UserID == userID && position.Instrument == instrument {
			return position, nil
		}
	}
	return models.Position{}, repositoryErrors.ErrPositionNotFound
}

func (s *state) upsertPosition(position models.Position) {
	for i, existing := range s.positions {
		if existing.UserID == position.UserID && existing.Instrument == position.Instrument {
			s.positions[i] = position
			return
		}
	}
	s.positions = append(s.positions, position)
}

func (s *state) listPositions(userID uuid.UUID) []models.Position {
	var result []models.Position
	for _, position := range s.positions {
		if position.UserID == userID {
			result = append(result, position)
		}
	}
	return result
}

func (s *state) deletePosition(userID uuid.UUID, instrument string) {
	kept := s.positions[:0]
	for _, position := range s.positions {
		if position.UserID == userID && position.Instrument == instrument {
			continue
		}
		kept = append(kept, position)
	}
	s.positions = kept
}

// Tx holds the store mutex from Begin until Commit or Rollback. Nested
// transactions share the lock and restore to their own snapshot on rollback.
type Tx struct {
	store    *Store
	snapshot state
	root     bool
	done     bool
}

func (t *Tx) Begin(_ context.Context) (repository.Tx, error) {
	if t.done {
		return nil, repositoryErrors.ErrTxDone
	}
	return &Tx{store: t.store, snapshot: t.store.state.clone()}, nil
}

func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return repositoryErrors.ErrTxDone
	}
	t.done = true
	if t.root {
		t.store.mu.Unlock()
	}
	return nil
}

// Rollback restores the snapshot taken at Begin. Rolling back a finished
// transaction is a no-op so the handle can sit in a defer.
func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.state = t.snapshot
	if t.root {
		t.store.mu.Unlock()
	}
	return nil
}

func (t *Tx) guard() error {
	if t.done {
		return fmt.Errorf("memory.Tx: %w", repositoryErrors.ErrTxDone)
	}
	return nil
}

func (t *Tx) CreateOrder(_ context.Context, order models.Order) error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.store.state.createOrder(order)
}

func (t *Tx) UpdateOrder(_ context.Context, order models.Order) error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.store.state.updateOrder(order)
}

func (t *Tx) GetOrderByID(_ context.Context, id uuid.UUID) (models.Order, error) {
	if err := t.guard(); err != nil {
		return models.Order{}, err
	}
	return t.store.state.getOrderByID(id)
}

func (t *Tx) GetOpenLimitOrders(_ context.Context, instrument, currency string) ([]models.Order, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return t.store.state.getOpenLimitOrders(instrument, currency), nil
}

func (t *Tx) CreateTrade(_ context.Context, trade models.Trade) error {
	if err := t.guard(); err != nil {
		return err
	}
	return t.store.state.createTrade(trade)
}

func (t *Tx) GetFund(_ context.Context, userID uuid.UUID, currency string) (models.Fund, error) {
	if err := t.guard(); err != nil {
		return models.Fund{}, err
	}
	return t.store.state.getFund(userID, currency)
}

func (t *Tx) UpsertFund(_ context.Context, fund models.Fund) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.store.state.upsertFund(fund)
	return nil
}

func (t *Tx) ListFunds(_ context.Context, userID uuid.UUID) ([]models.Fund, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return t.store.state.listFunds(userID), nil
}

func (t *Tx) DeleteFund(_ context.Context, userID uuid.UUID, currency string) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.store.state.deleteFund(userID, currency)
	return nil
}

func (t *Tx) GetPosition(_ context.Context, userID uuid.UUID, instrument string) (models.Position, error) {
	if err := t.guard(); err != nil {
		return models.Position{}, err
	}
	return t.store.state.getPosition(userID, instrument)
}

func (t *Tx) UpsertPosition(_ context.Context, position models.Position) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.store.state.upsertPosition(position)
	return nil
}

func (t *Tx) ListPositions(_ context.Context, userID uuid.UUID) ([]models.Position, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return t.store.state.listPositions(userID), nil
}

func (t *Tx) DeletePosition(_ context.Context, userID uuid.UUID, instrument string) error {
	if err := t.guard(); err != nil {
		return err
	}
	t.store.state.deletePosition(userID, instrument)
	return nil
}
