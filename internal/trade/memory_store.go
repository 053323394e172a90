package trade

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory trade store for demo/development mode.
type MemoryStore struct {
	trades map[string]*Trade
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory trade store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades: make(map[string]*Trade),
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trades[t.ID]; !ok {
		return ErrTradeNotFound
	}
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	return m.list(limit, func(t *Trade) bool { return t.UserID == userID })
}

func (m *MemoryStore) ListByAdmin(ctx context.Context, adminID string, limit int) ([]*Trade, error) {
	return m.list(limit, func(t *Trade) bool { return t.AdminID == adminID })
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Trade, error) {
	return m.list(limit, func(t *Trade) bool {
		// Proof submitted or disputed means the clock has stopped.
		return !t.IsTerminal() &&
			t.Status != StatusDisputed &&
			t.Status != StatusUnderVerification &&
			t.ExpiresAt.Before(before)
	})
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Trade, error) {
	return m.list(limit, func(t *Trade) bool { return t.Status == status })
}

func (m *MemoryStore) list(limit int, match func(*Trade) bool) ([]*Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Trade
	for _, t := range m.trades {
		if match(t) {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
