package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	entries []*Entry
	keys    map[string]bool
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]bool),
	}
}

func (m *MemoryStore) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.IdempotencyKey != "" && m.keys[e.IdempotencyKey] {
		return ErrDuplicateEntry
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	if e.IdempotencyKey != "" {
		m.keys[e.IdempotencyKey] = true
	}
	return nil
}

func (m *MemoryStore) GetBalance(ctx context.Context, accountID, currency string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bal := &Balance{AccountID: accountID, Currency: currency}
	var last time.Time
	for _, e := range m.entries {
		if e.AccountID != accountID || e.Currency != currency {
			continue
		}
		switch e.Type {
		case TypeCredit:
			bal.Available += e.Amount
			bal.TotalIn += e.Amount
		case TypeDebit:
			bal.Available -= e.Amount
			bal.TotalOut += e.Amount
		}
		if e.CreatedAt.After(last) {
			last = e.CreatedAt
		}
	}
	bal.UpdatedAt = last
	return bal, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			cp := *e
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

func (m *MemoryStore) HasKey(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[idempotencyKey], nil
}
