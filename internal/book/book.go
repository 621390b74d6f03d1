package book

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kiesh/exchange-core/internal/domain/models"
	logger "github.com/kiesh/exchange-core/internal/logger/zap"
)

// Entry is a single resting order keyed by (price, arrival seq, id). Seq is a
// per-book monotonic counter: re-inserting an entry with its original seq
// restores its exact time priority, which is what the self-trade
// pull-and-restore path relies on.
type Entry struct {
	OrderID uuid.UUID
	Price   decimal.Decimal
	Seq     uint64
	Order   *models.Order
}

// bidLess orders the bid side price descending, then seq ascending. Min()
// returns the best bid.
func bidLess(a, b Entry) bool {
	if cmp := a.Price.Cmp(b.Price); cmp != 0 {
		return cmp > 0
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return bytes.Compare(a.OrderID[:], b.OrderID[:]) < 0
}

// askLess orders the ask side price ascending, then seq ascending. Min()
// returns the best ask.
func askLess(a, b Entry) bool {
	if cmp := a.Price.Cmp(b.Price); cmp != 0 {
		return cmp < 0
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return bytes.Compare(a.OrderID[:], b.OrderID[:]) < 0
}

// Book holds the open limit orders of one (instrument, currency) pair in two
// B-trees plus a by-id index. It is not safe for concurrent use; the manager
// serializes access through the per-pair gate.
type Book struct {
	instrument string
	currency   string

	bids  *btree.BTreeG[Entry]
	asks  *btree.BTreeG[Entry]
	index map[uuid.UUID]Entry

	nextSeq uint64
}

func New(instrument, currency string) *Book {
	const degree = 32
	return &Book{
		instrument: instrument,
		currency:   currency,
		bids:       btree.NewG[Entry](degree, bidLess),
		asks:       btree.NewG[Entry](degree, askLess),
		index:      make(map[uuid.UUID]Entry),
	}
}

func (b *Book) Instrument() string { return b.instrument }
func (b *Book) Currency() string   { return b.currency }

func (b *Book) side(s models.Side) *btree.BTreeG[Entry] {
	if s == models.SideBuy {
		return b.bids
	}
	return b.asks
}

// Upsert inserts an open order with remaining quantity, or repositions an
// existing one. A price change re-keys the entry with a fresh seq (time
// priority is forfeited); a quantity-only change keeps the original seq.
func (b *Book) Upsert(order *models.Order) {
	if order == nil || order.Kind != models.KindLimit {
		return
	}
	if order.Status != models.StatusOpen || order.Remaining() <= 0 {
		return
	}

	if existing, ok := b.index[order.ID]; ok {
		if existing.Price.Equal(order.Price) {
			existing.Order = order
			b.index[order.ID] = existing
			b.side(order.Side).ReplaceOrInsert(existing)
			return
		}
		b.side(order.Side).Delete(existing)
		delete(b.index, order.ID)
	}

	entry := Entry{
		OrderID: order.ID,
		Price:   order.Price,
		Seq:     b.allocSeq(),
		Order:   order,
	}
	b.side(order.Side).ReplaceOrInsert(entry)
	b.index[order.ID] = entry
}

func (b *Book) allocSeq() uint64 {
	b.nextSeq++
	return b.nextSeq
}

// PeekBestBuy returns the highest-priority resting bid without removing it.
// Closed or zero-remaining entries discovered on the way are a
// data-integrity anomaly: they are evicted and logged, and the scan
// continues.
func (b *Book) PeekBestBuy(ctx context.Context) (*models.Order, bool) {
	return b.peekBest(ctx, b.bids)
}

// PeekBestSell returns the highest-priority resting ask without removing it.
func (b *Book) PeekBestSell(ctx context.Context) (*models.Order, bool) {
	return b.peekBest(ctx, b.asks)
}

func (b *Book) peekBest(ctx context.Context, tree *btree.BTreeG[Entry]) (*models.Order, bool) {
	for {
		entry, ok := tree.Min()
		if !ok {
			return nil, false
		}
		if entry.Order == nil || entry.Order.IsClosed() || entry.Order.Remaining() <= 0 {
			tree.Delete(entry)
			delete(b.index, entry.OrderID)
			logger.Warn(ctx, "evicted stale order book entry",
				zap.String("order_id", entry.OrderID.String()),
				zap.String("instrument", b.instrument),
				zap.String("currency", b.currency),
			)
			continue
		}
		return entry.Order, true
	}
}

// RemoveBestBuy removes and returns the current best bid.
func (b *Book) RemoveBestBuy(ctx context.Context) (*models.Order, bool) {
	return b.removeBest(ctx, b.bids)
}

// RemoveBestSell removes and returns the current best ask.
func (b *Book) RemoveBestSell(ctx context.Context) (*models.Order, bool) {
	return b.removeBest(ctx, b.asks)
}

func (b *Book) removeBest(ctx context.Context, tree *btree.BTreeG[Entry]) (*models.Order, bool) {
	order, ok := b.peekBest(ctx, tree)
	if !ok {
		return nil, false
	}
	b.RemoveByID(order.ID)
	return order, true
}

// RemoveByID removes a specific order regardless of side ranking and reports
// whether it was present.
func (b *Book) RemoveByID(id uuid.UUID) bool {
	entry, ok := b.index[id]
	if !ok {
		return false
	}
	delete(b.index, id)
	// Delete is a no-op on the side the entry is not on.
	b.bids.Delete(entry)
	b.asks.Delete(entry)
	return true
}

// TakeByID removes an order but hands back its entry, seq included, so the
// caller can Restore it later with unchanged time priority.
func (b *Book) TakeByID(id uuid.UUID) (Entry, bool) {
	entry, ok := b.index[id]
	if !ok {
		return Entry{}, false
	}
	delete(b.index, id)
	b.bids.Delete(entry)
	b.asks.Delete(entry)
	return entry, true
}

// Restore re-inserts an entry previously removed with TakeByID. The entry
// keeps its original seq, so its position within the price level is exactly
// where it was. Entries whose order closed in the meantime are dropped.
func (b *Book) Restore(entry Entry) {
	if entry.Order == nil || entry.Order.IsClosed() || entry.Order.Remaining() <= 0 {
		return
	}
	b.side(entry.Order.Side).ReplaceOrInsert(entry)
	b.index[entry.OrderID] = entry
}

// Get returns the resting order for id, if present.
func (b *Book) Get(id uuid.UUID) (*models.Order, bool) {
	entry, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return entry.Order, true
}

func (b *Book) BidCount() int { return b.bids.Len() }
func (b *Book) AskCount() int { return b.asks.Len() }

// ValidateIndex cross-checks the by-id index against the ranked structures.
// It returns false with a diagnostic reason on the first divergence found.
func (b *Book) ValidateIndex() (bool, string) {
	treeCount := 0
	var reason string

	check := func(entry Entry) bool {
		treeCount++
		indexed, ok := b.index[entry.OrderID]
		if !ok {
			reason = fmt.Sprintf("order %s ranked but not indexed", entry.OrderID)
			return false
		}
		if indexed.Seq != entry.Seq || !indexed.Price.Equal(entry.Price) {
			reason = fmt.Sprintf("order %s index entry diverges from ranked entry", entry.OrderID)
			return false
		}
		return true
	}

	b.bids.Ascend(check)
	if reason == "" {
		b.asks.Ascend(check)
	}
	if reason != "" {
		return false, reason
	}

	if treeCount != len(b.index) {
		return false, fmt.Sprintf("index holds %d entries, ranked structures hold %d", len(b.index), treeCount)
	}

	return true, ""
}

// FixAll rebuilds the by-id index from the ranked structures, evicting
// closed and zero-remaining entries along the way. It reports how many
// entries were removed from the trees and how many index rows were added.
// Administrative recovery only, never the hot path.
func (b *Book) FixAll(ctx context.Context) (removed, added int) {
	rebuilt := make(map[uuid.UUID]Entry, len(b.index))
	var stale []Entry

	collect := func(entry Entry) bool {
		if entry.Order == nil || entry.Order.IsClosed() || entry.Order.Remaining() <= 0 {
			stale = append(stale, entry)
			return true
		}
		rebuilt[entry.OrderID] = entry
		return true
	}

	b.bids.Ascend(collect)
	b.asks.Ascend(collect)

	for _, entry := range stale {
		b.bids.Delete(entry)
		b.asks.Delete(entry)
		removed++
		logger.Warn(ctx, "removed stale entry during book repair",
			zap.String("order_id", entry.OrderID.String()),
			zap.String("instrument", b.instrument),
		)
	}

	for id := range rebuilt {
		if _, ok := b.index[id]; !ok {
			added++
		}
	}
	b.index = rebuilt

	return removed, added
}
