package pollstate

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory poll-state store for demo/development mode.
// State does not survive a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	blob []byte
}

// NewMemoryStore creates a new in-memory poll-state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(ctx context.Context, blob []byte) error {
	cp := make([]byte, len(blob))
	copy(cp, blob)

	m.mu.Lock()
	m.blob = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.blob == nil {
		return nil, ErrNoState
	}
	cp := make([]byte, len(m.blob))
	copy(cp, m.blob)
	return cp, nil
}
