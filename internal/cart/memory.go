package cart

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe map store. Carts are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[ID]Cart
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[ID]Cart)}
}

func (m *MemoryStore) Load(ctx context.Context, id ID) (Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[id].clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, id ID, c Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = c.clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}
