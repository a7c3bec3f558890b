package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/shopspring/decimal"
)

// Line is one display row of an order view.
type Line struct {
	order.Item
	Origin    string          `json:"origin"`
	Removable bool            `json:"removable"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// OrderView is an order merged with the diner's unsubmitted cart.
type OrderView struct {
	ID           uuid.UUID       `json:"id"`
	Number       int32           `json:"order_number"`
	Status       order.Status    `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	CanEdit      bool            `json:"can_edit"`
	Mergeable    bool            `json:"mergeable"`
	Lines        []Line          `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	PendingTotal decimal.Decimal `json:"pending_total"`
}

// ReconcileOrder lists the order's items as original lines followed by the
// cart items whose key the order does not already hold. It has no side
// effects.
func ReconcileOrder(o *order.Order, items []order.Item) OrderView {
	editable := order.CanEdit(o)
	v := OrderView{
		ID:           o.ID,
		Number:       o.Number,
		Status:       o.Status,
		Notes:        o.Notes,
		CanEdit:      editable,
		Mergeable:    order.IsMergeable(o),
		Lines:        make([]Line, 0, len(o.Items)+len(items)),
		Total:        o.Total(),
		PendingTotal: decimal.Zero,
	}

	for _, it := range o.Items {
		v.Lines = append(v.Lines, Line{Item: it, Origin: enum.LineOriginOriginal, Removable: editable, Subtotal: it.Subtotal()})
	}
	for _, it := range order.Dedupe(items) {
		if o.Has(order.KeyOf(it)) {
			continue
		}
		v.Lines = append(v.Lines, Line{Item: it, Origin: enum.LineOriginCart, Removable: true, Subtotal: it.Subtotal()})
		v.PendingTotal = v.PendingTotal.Add(it.Subtotal())
	}
	return v
}

// Reconcile applies ReconcileOrder to every order.
func Reconcile(orders []order.Order, items []order.Item) []OrderView {
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, ReconcileOrder(&orders[i], items))
	}
	return views
}

// TableView is what a diner's surface renders.
type TableView struct {
	Orders []OrderView `json:"orders"`
	Cart   cart.Cart   `json:"cart"`
}

// View loads the table's orders and the diner's cart and reconciles them.
func (s *OrderService) View(ctx context.Context, tableID string, cartID cart.ID) (*TableView, error) {
	orders, err := s.Orders(ctx, tableID)
	if err != nil {
		return nil, err
	}
	c, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if c.Items == nil {
		c.Items = []order.Item{}
	}
	return &TableView{Orders: Reconcile(orders, c.Items), Cart: c}, nil
}
