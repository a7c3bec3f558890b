package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/order"
)

// Memory is an in-process Order Store used for local runs and tests.
type Memory struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]*order.Order
	now    func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{orders: make(map[uuid.UUID]*order.Order), now: time.Now}
}

func (m *Memory) CreateOrder(ctx context.Context, arg CreateOrderParams) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.TableID == arg.TableID && o.Number == arg.Number {
			return nil, ErrOrderNumberConflict
		}
	}

	now := m.now().UTC()
	o := &order.Order{
		ID:        uuid.New(),
		TableID:   arg.TableID,
		Number:    arg.Number,
		Items:     append([]order.Item(nil), arg.Items...),
		Status:    arg.Status,
		Notes:     arg.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.orders[o.ID] = o
	return o.Clone(), nil
}

func (m *Memory) UpdateOrder(ctx context.Context, id uuid.UUID, patch UpdateOrderPatch) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Items != nil {
		o.Items = append([]order.Item(nil), (*patch.Items)...)
	}
	if patch.Notes != nil {
		o.Notes = *patch.Notes
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	o.UpdatedAt = m.now().UTC()
	return o.Clone(), nil
}

func (m *Memory) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) ListOrders(ctx context.Context, tableID string) ([]order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]order.Order, 0)
	for _, o := range m.orders {
		if o.TableID == tableID {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}
