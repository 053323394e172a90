package admins

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory admin store for demo/development mode.
type MemoryStore struct {
	admins map[string]*Profile
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory admin store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins: make(map[string]*Profile),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.admins[p.ID]; ok {
		return ErrAdminExists
	}
	cp := *p
	m.admins[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.admins[id]
	if !ok {
		return nil, ErrAdminNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.admins[p.ID]
	if !ok {
		return ErrAdminNotFound
	}
	cp := *p
	// Load is owned by CompareAndSwapLoad; Update never clobbers it.
	cp.CurrentLoad = stored.CurrentLoad
	m.admins[p.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Profile, 0, len(m.admins))
	for _, p := range m.admins {
		cp := *p
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.admins[id]
	if !ok {
		return ErrAdminNotFound
	}
	p.LastHeartbeat = at
	p.UpdatedAt = at
	return nil
}

func (m *MemoryStore) CompareAndSwapLoad(ctx context.Context, id string, expected, next int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.admins[id]
	if !ok {
		return ErrAdminNotFound
	}
	if p.CurrentLoad != expected {
		return ErrLoadConflict
	}
	p.CurrentLoad = next
	return nil
}
