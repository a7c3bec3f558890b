package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/events"
	"github.com/kiwari-pos/tableorder/internal/metrics"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/sirupsen/logrus"
)

const maxOrderNumberRetries = 3

// Errors returned by the order service.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrNothingToAdd     = errors.New("nothing to add: every cart item is already in the order")
	ErrEditNotPermitted = errors.New("order items can no longer be edited")
	ErrItemNotFound     = errors.New("item not found in order")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPersistence      = errors.New("order could not be saved")
	ErrTransientFetch   = errors.New("orders could not be loaded")
)

// OrderStore defines the storage methods the engine needs.
// Satisfied by *store.Postgres, *store.GormStore and *store.Memory.
type OrderStore interface {
	CreateOrder(ctx context.Context, arg store.CreateOrderParams) (*order.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, patch store.UpdateOrderPatch) (*order.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error)
	ListOrders(ctx context.Context, tableID string) ([]order.Order, error)
}

// Carts is the part of the cart service the engine reads and clears.
type Carts interface {
	Get(ctx context.Context, id cart.ID) (cart.Cart, error)
	Consume(ctx context.Context, id cart.ID, submitted cart.Cart) error
}

// MergeRequest is the input of a single merge.
type MergeRequest struct {
	TableID       string
	Cart          []order.Item
	Orders        []order.Order
	Instructions  string
	InitialStatus order.Status // used only when a new order is created
}

// MergeResult reports where the cart items ended up.
type MergeResult struct {
	Order   *order.Order `json:"order"`
	Created bool         `json:"created"`
	Added   int          `json:"added"`
}

// SubmitRequest submits one diner's cart.
type SubmitRequest struct {
	TableID string
	CartID  cart.ID
	SendNow bool // new orders start as orden_enviada instead of pending
}

// OrderService consolidates carts into table orders.
type OrderService struct {
	store   OrderStore
	carts   Carts
	events  events.Publisher
	log     logrus.FieldLogger
	metrics *metrics.Registry

	tables keyedMutex
}

// NewOrderService creates a new OrderService.
func NewOrderService(st OrderStore, carts Carts, pub events.Publisher, log logrus.FieldLogger, m *metrics.Registry) *OrderService {
	if pub == nil {
		pub = events.Nop
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &OrderService{store: st, carts: carts, events: pub, log: log, metrics: m}
}

// Orders lists the table's orders. A failure is never reported as an empty
// list.
func (s *OrderService) Orders(ctx context.Context, tableID string) ([]order.Order, error) {
	orders, err := s.store.ListOrders(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}
	return orders, nil
}

// SubmitCart moves the diner's cart into the table's open order, or into a
// new one. Only the submitted lines leave the cart, and only after the order
// is persisted.
func (s *OrderService) SubmitCart(ctx context.Context, req SubmitRequest) (*MergeResult, error) {
	unlock := s.tables.Lock(req.TableID)
	defer unlock()

	c, err := s.carts.Get(ctx, req.CartID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if c.Empty() {
		return nil, ErrEmptyCart
	}

	orders, err := s.store.ListOrders(ctx, req.TableID)
	if err != nil {
		s.log.WithField("table_id", req.TableID).WithError(err).Warn("list orders before submit")
		return nil, fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}

	status := order.StatusPending
	if req.SendNow {
		status = order.StatusSent
	}
	res, err := s.Merge(ctx, MergeRequest{
		TableID:       req.TableID,
		Cart:          c.Items,
		Orders:        orders,
		Instructions:  c.Instructions,
		InitialStatus: status,
	})
	if err != nil {
		return nil, err
	}

	if err := s.carts.Consume(ctx, req.CartID, c); err != nil {
		// The order is already saved; a leftover cart only re-merges as
		// "nothing to add".
		s.log.WithField("table_id", req.TableID).WithError(err).Error("clear cart after submit")
	}
	return res, nil
}

// Merge applies the consolidation rules to req. It never writes a partial
// merge: either every new item is persisted or nothing is.
func (s *OrderService) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	start := time.Now()
	res, err := s.merge(ctx, req)
	s.metrics.MergeLatencySec.Observe(time.Since(start).Seconds())

	switch {
	case err == nil && res.Created:
		s.metrics.Merges.WithLabelValues("created").Inc()
	case err == nil:
		s.metrics.Merges.WithLabelValues("appended").Inc()
	case errors.Is(err, ErrNothingToAdd), errors.Is(err, ErrEmptyCart):
		s.metrics.Merges.WithLabelValues("nothing_to_add").Inc()
	default:
		s.metrics.Merges.WithLabelValues("error").Inc()
	}
	if err != nil {
		return nil, err
	}

	typ := enum.EventOrderUpdated
	if res.Created {
		typ = enum.EventOrderCreated
	}
	s.publish(ctx, events.Event{Type: typ, TableID: req.TableID, Order: res.Order})
	return res, nil
}

func (s *OrderService) merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if len(req.Cart) == 0 {
		return nil, ErrEmptyCart
	}
	status := req.InitialStatus
	if status == "" {
		status = order.StatusPending
	}
	if err := order.ValidateInitialStatus(status); err != nil {
		return nil, err
	}

	items := order.Dedupe(req.Cart)
	instructions := strings.TrimSpace(req.Instructions)
	orders := req.Orders
	log := s.log.WithField("table_id", req.TableID)

	// Retry loop: another session may take the same order number between
	// our list and our insert.
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		if candidate := findCandidate(orders); candidate != nil {
			return s.appendItems(ctx, candidate, items, instructions)
		}

		created, err := s.store.CreateOrder(ctx, store.CreateOrderParams{
			TableID: req.TableID,
			Number:  order.NextNumber(orders),
			Items:   items,
			Status:  status,
			Total:   order.Total(items),
			Notes:   instructions,
		})
		if err == nil {
			if created == nil {
				log.Error("create order returned no record")
				return nil, fmt.Errorf("%w: create returned no order", ErrPersistence)
			}
			return &MergeResult{Order: created, Created: true, Added: len(items)}, nil
		}
		if !errors.Is(err, store.ErrOrderNumberConflict) {
			log.WithError(err).Error("create order")
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}

		lastErr = err
		log.WithField("attempt", attempt+1).Warn("order number taken, reloading orders")
		orders, err = s.store.ListOrders(ctx, req.TableID)
		if err != nil {
			log.WithError(err).Warn("list orders after conflict")
			return nil, fmt.Errorf("%w: %w", ErrTransientFetch, err)
		}
	}
	log.WithError(lastErr).Error("create order: retries exhausted")
	return nil, fmt.Errorf("%w: %w", ErrPersistence, lastErr)
}

func (s *OrderService) appendItems(ctx context.Context, candidate *order.Order, items []order.Item, instructions string) (*MergeResult, error) {
	var fresh []order.Item
	for _, it := range items {
		if !candidate.Has(order.KeyOf(it)) {
			fresh = append(fresh, it)
		}
	}
	if len(fresh) > 0 && instructions != "" {
		fresh = attachInstructions(candidate, fresh, instructions)
	}
	if len(fresh) == 0 {
		return nil, ErrNothingToAdd
	}

	// Existing lines are never touched; only new keys are appended.
	merged := append(append([]order.Item(nil), candidate.Items...), fresh...)
	total := order.Total(merged)
	updated, err := s.store.UpdateOrder(ctx, candidate.ID, store.UpdateOrderPatch{Items: &merged, Total: &total})
	log := s.log.WithFields(logrus.Fields{"table_id": candidate.TableID, "order_id": candidate.ID})
	if err != nil {
		log.WithError(err).Error("append items")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if updated == nil {
		log.Error("update order returned no record")
		return nil, fmt.Errorf("%w: update returned no order", ErrPersistence)
	}
	return &MergeResult{Order: updated, Added: len(fresh)}, nil
}

// RemoveItem removes the line with key k from an order that still allows
// edits.
func (s *OrderService) RemoveItem(ctx context.Context, tableID string, orderID uuid.UUID, k order.Key) (*order.Order, error) {
	unlock := s.tables.Lock(tableID)
	defer unlock()

	o, err := s.loadOrder(ctx, tableID, orderID)
	if err != nil {
		s.metrics.ItemRemovals.WithLabelValues("error").Inc()
		return nil, err
	}
	if !order.CanEdit(o) {
		s.metrics.ItemRemovals.WithLabelValues("not_permitted").Inc()
		return nil, ErrEditNotPermitted
	}

	set := order.NewItemSet(o.Items)
	if !set.Remove(k) {
		s.metrics.ItemRemovals.WithLabelValues("not_found").Inc()
		return nil, ErrItemNotFound
	}
	items := set.Items()
	total := order.Total(items)

	updated, err := s.store.UpdateOrder(ctx, o.ID, store.UpdateOrderPatch{Items: &items, Total: &total})
	if err == nil && updated == nil {
		err = errors.New("update returned no order")
	}
	if err != nil {
		s.metrics.ItemRemovals.WithLabelValues("error").Inc()
		s.log.WithFields(logrus.Fields{"table_id": tableID, "order_id": orderID}).WithError(err).Error("remove item")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.metrics.ItemRemovals.WithLabelValues("removed").Inc()
	s.publish(ctx, events.Event{Type: enum.EventOrderUpdated, TableID: tableID, Order: updated})
	return updated, nil
}

// UpdateNotes replaces the order-level notes of an order that still allows
// edits.
func (s *OrderService) UpdateNotes(ctx context.Context, tableID string, orderID uuid.UUID, notes string) (*order.Order, error) {
	unlock := s.tables.Lock(tableID)
	defer unlock()

	o, err := s.loadOrder(ctx, tableID, orderID)
	if err != nil {
		return nil, err
	}
	if !order.CanEdit(o) {
		return nil, ErrEditNotPermitted
	}
	notes = strings.TrimSpace(notes)
	if notes == o.Notes {
		return o, nil
	}

	updated, err := s.store.UpdateOrder(ctx, o.ID, store.UpdateOrderPatch{Notes: &notes})
	if err == nil && updated == nil {
		err = errors.New("update returned no order")
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"table_id": tableID, "order_id": orderID}).WithError(err).Error("update notes")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.publish(ctx, events.Event{Type: enum.EventOrderUpdated, TableID: tableID, Order: updated})
	return updated, nil
}

// UpdateStatus moves an order along its lifecycle.
func (s *OrderService) UpdateStatus(ctx context.Context, tableID string, orderID uuid.UUID, next order.Status) (*order.Order, error) {
	unlock := s.tables.Lock(tableID)
	defer unlock()

	o, err := s.loadOrder(ctx, tableID, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.ValidateTransition(o.Status, next); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateOrder(ctx, o.ID, store.UpdateOrderPatch{Status: &next})
	if err == nil && updated == nil {
		err = errors.New("update returned no order")
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{"table_id": tableID, "order_id": orderID}).WithError(err).Error("update status")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.metrics.StatusChanges.WithLabelValues(string(next)).Inc()
	s.publish(ctx, events.Event{Type: enum.EventOrderUpdated, TableID: tableID, Order: updated})
	return updated, nil
}

func (s *OrderService) loadOrder(ctx context.Context, tableID string, orderID uuid.UUID) (*order.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}
	if o == nil || o.TableID != tableID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// publish hands e to the sinks. Sinks log their own failures and a failed
// notification never undoes a saved order.
func (s *OrderService) publish(ctx context.Context, e events.Event) {
	_ = s.events.Publish(ctx, e)
}

// --- Helpers ---

// findCandidate returns the earliest-created order that accepts appended
// items.
func findCandidate(orders []order.Order) *order.Order {
	var best *order.Order
	for i := range orders {
		o := &orders[i]
		if !order.IsMergeable(o) {
			continue
		}
		if best == nil || o.CreatedAt.Before(best.CreatedAt) ||
			(o.CreatedAt.Equal(best.CreatedAt) && o.Number < best.Number) {
			best = o
		}
	}
	return best
}

// attachInstructions writes instructions onto the first item without notes,
// or appends them to the first item's notes. When the annotated line is
// already in the candidate order it counts as present and is dropped.
func attachInstructions(candidate *order.Order, fresh []order.Item, instructions string) []order.Item {
	i := 0
	for j := range fresh {
		if fresh[j].Notes == "" {
			i = j
			break
		}
	}
	annotated := fresh[i]
	if annotated.Notes == "" {
		annotated.Notes = instructions
	} else {
		annotated.Notes = annotated.Notes + ". " + instructions
	}
	if candidate.Has(order.KeyOf(annotated)) {
		return append(fresh[:i:i], fresh[i+1:]...)
	}

	out := append([]order.Item(nil), fresh...)
	out[i] = annotated
	return order.Dedupe(out)
}
