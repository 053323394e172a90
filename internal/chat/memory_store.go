package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/swiftramp/swiftramp/internal/pagination"
)

// MemoryStore is an in-memory chat store for demo/development mode.
type MemoryStore struct {
	messages map[string][]*Message // tradeID -> thread
	seen     map[string]bool       // message ID dedup
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory chat store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]*Message),
		seen:     make(map[string]bool),
	}
}

func (m *MemoryStore) Append(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[msg.ID] {
		return nil // idempotent on message ID
	}
	cp := *msg
	m.messages[msg.TradeID] = append(m.messages[msg.TradeID], &cp)
	m.seen[msg.ID] = true
	return nil
}

func (m *MemoryStore) ListSince(ctx context.Context, tradeID string, after *pagination.Cursor, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.messages[tradeID]
	sorted := make([]*Message, len(thread))
	copy(sorted, thread)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var result []*Message
	for _, msg := range sorted {
		if after != nil {
			if msg.CreatedAt.Before(after.CreatedAt) {
				continue
			}
			if msg.CreatedAt.Equal(after.CreatedAt) && msg.ID <= after.ID {
				continue
			}
		}
		cp := *msg
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
