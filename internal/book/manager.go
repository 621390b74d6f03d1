package book

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kiesh/exchange-core/internal/repository"
)

// Key identifies one order book.
type Key struct {
	Instrument string
	Currency   string
}

func (k Key) String() string {
	return k.Instrument + "/" + k.Currency
}

type managed struct {
	gate   sync.Mutex
	book   *Book
	loaded atomic.Bool
}

// Manager owns the in-memory books and one serialization gate per
// (instrument, currency). The first touch of a key loads its open limit
// orders from storage exactly once, outside the gate, deduplicated through
// singleflight so concurrent first callers share one load.
type Manager struct {
	store repository.Store

	mu    sync.Mutex
	books map[Key]*managed
	group singleflight.Group
}

func NewManager(store repository.Store) *Manager {
	return &Manager{
		store: store,
		books: make(map[Key]*managed),
	}
}

func (m *Manager) managedFor(key Key) *managed {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.books[key]
	if !ok {
		entry = &managed{book: New(key.Instrument, key.Currency)}
		m.books[key] = entry
	}
	return entry
}

// Acquire returns the book for key with its gate held. The release func must
// be called exactly once, on every path.
func (m *Manager) Acquire(ctx context.Context, key Key) (*Book, func(), error) {
	const op = "book.Manager.Acquire"

	entry := m.managedFor(key)

	if err := m.ensureLoaded(ctx, key, entry); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	entry.gate.Lock()
	release := func() { entry.gate.Unlock() }
	return entry.book, release, nil
}

func (m *Manager) ensureLoaded(ctx context.Context, key Key, entry *managed) error {
	if entry.loaded.Load() {
		return nil
	}

	_, err, _ := m.group.Do(key.String(), func() (any, error) {
		entry.gate.Lock()
		defer entry.gate.Unlock()

		if entry.loaded.Load() {
			return nil, nil
		}

		orders, err := m.store.GetOpenLimitOrders(ctx, key.Instrument, key.Currency)
		if err != nil {
			return nil, err
		}

		// Arrival order decides seq assignment on reload.
		sort.SliceStable(orders, func(i, j int) bool {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		})
		for i := range orders {
			order := orders[i]
			entry.book.Upsert(&order)
		}

		entry.loaded.Store(true)
		return nil, nil
	})

	return err
}

// Peek returns the book for key without loading or locking; nil when the key
// has never been touched. Test and snapshot use only.
func (m *Manager) Peek(key Key) *Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.books[key]; ok {
		return entry.book
	}
	return nil
}
