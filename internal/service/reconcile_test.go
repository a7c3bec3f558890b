package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileOrder_TagsOrigins(t *testing.T) {
	o := &order.Order{
		ID:     uuid.New(),
		Number: 1,
		Status: order.StatusSent,
		Items:  []order.Item{item("1", "", 2, 10)},
	}
	cartItems := []order.Item{item("1", "", 1, 10), item("2", "sin cebolla", 1, 8)}

	v := ReconcileOrder(o, cartItems)
	require.Len(t, v.Lines, 2)

	assert.Equal(t, enum.LineOriginOriginal, v.Lines[0].Origin)
	assert.True(t, v.Lines[0].Removable)
	assert.Equal(t, int32(2), v.Lines[0].Quantity)

	assert.Equal(t, enum.LineOriginCart, v.Lines[1].Origin)
	assert.True(t, v.Lines[1].Removable)
	assert.Equal(t, "2", v.Lines[1].DishID)

	assert.True(t, v.Total.Equal(decimal.NewFromInt(20)))
	assert.True(t, v.PendingTotal.Equal(decimal.NewFromInt(8)))
	assert.True(t, v.CanEdit)
	assert.True(t, v.Mergeable)
}

func TestReconcileOrder_LockedOriginalsNotRemovable(t *testing.T) {
	o := &order.Order{Status: order.StatusPreparing, Items: []order.Item{item("1", "", 1, 10)}}

	v := ReconcileOrder(o, []order.Item{item("2", "", 1, 4)})
	require.Len(t, v.Lines, 2)
	assert.False(t, v.Lines[0].Removable, "original lines of a locked order cannot be removed")
	assert.True(t, v.Lines[1].Removable, "cart lines are always removable")
	assert.False(t, v.CanEdit)
	assert.True(t, v.Mergeable)
}

func TestReconcileOrder_IsPure(t *testing.T) {
	o := &order.Order{Status: order.StatusSent, Items: []order.Item{item("1", "", 1, 10)}}
	cartItems := []order.Item{item("2", "", 1, 4), item("2", " ", 2, 4)}

	a := ReconcileOrder(o, cartItems)
	b := ReconcileOrder(o, cartItems)
	require.Len(t, b.Lines, len(a.Lines))
	for i := range a.Lines {
		assert.Equal(t, a.Lines[i].Origin, b.Lines[i].Origin)
		assert.Equal(t, order.KeyOf(a.Lines[i].Item), order.KeyOf(b.Lines[i].Item))
	}
	assert.True(t, a.PendingTotal.Equal(b.PendingTotal))
	assert.Len(t, o.Items, 1)
	assert.Len(t, cartItems, 2)

	// Cart lines sharing a key are shown once.
	require.Len(t, a.Lines, 2)
	assert.Equal(t, int32(3), a.Lines[1].Quantity)
}

func TestReconcile_EveryOrder(t *testing.T) {
	orders := []order.Order{
		{Number: 1, Status: order.StatusDelivered, Items: []order.Item{item("1", "", 1, 10)}},
		{Number: 2, Status: order.StatusSent, Items: []order.Item{item("2", "", 1, 5)}},
	}
	views := Reconcile(orders, []order.Item{item("2", "", 1, 5)})
	require.Len(t, views, 2)
	assert.Len(t, views[0].Lines, 2)
	assert.Len(t, views[1].Lines, 1)
	assert.Empty(t, Reconcile(nil, nil))
}

func TestView(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc, carts, _ := newTestService(mem)

	_, err := mem.CreateOrder(ctx, store.CreateOrderParams{TableID: tableID, Number: 1, Status: order.StatusSent, Items: []order.Item{item("1", "", 1, 10)}})
	require.NoError(t, err)
	fillCart(t, carts, item("3", "", 2, 2))

	v, err := svc.View(ctx, tableID, diner)
	require.NoError(t, err)
	require.Len(t, v.Orders, 1)
	assert.Len(t, v.Orders[0].Lines, 2)
	assert.Len(t, v.Cart.Items, 1)
}

func TestView_FetchFailure(t *testing.T) {
	st := unexpectedStore(t)
	st.listOrdersFn = func(ctx context.Context, tid string) ([]order.Order, error) { return nil, errors.New("down") }
	svc, _, _ := newTestService(st)

	_, err := svc.View(context.Background(), tableID, diner)
	assert.ErrorIs(t, err, ErrTransientFetch)
}
