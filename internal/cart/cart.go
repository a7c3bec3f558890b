// Package cart keeps each diner's not-yet-submitted items and special
// instructions. Nothing in a cart touches the Order Store until the
// consolidation engine transfers it into an order.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/shopspring/decimal"
)

// Errors returned by the cart service.
var (
	ErrInvalidItem     = errors.New("dish_id is required")
	ErrInvalidQuantity = errors.New("quantity must be > 0")
	ErrInvalidPrice    = errors.New("price must be >= 0")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrCartLocked      = errors.New("cart is locked after group confirmation")
)

// ID addresses one diner's cart within a table session.
type ID struct {
	TableID string
	DinerID string
}

func (id ID) String() string { return id.TableID + "/" + id.DinerID }

// Cart is the local state of one diner.
type Cart struct {
	Items        []order.Item `json:"items"`
	Instructions string       `json:"instructions"`
}

// Total sums the cart lines.
func (c Cart) Total() decimal.Decimal {
	return order.Total(c.Items)
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool { return len(c.Items) == 0 }

func (c Cart) clone() Cart {
	return Cart{Items: append([]order.Item(nil), c.Items...), Instructions: c.Instructions}
}

// Store persists carts. Load returns an empty cart for unknown IDs.
type Store interface {
	Load(ctx context.Context, id ID) (Cart, error)
	Save(ctx context.Context, id ID, c Cart) error
	Delete(ctx context.Context, id ID) error
}

// ChangeFunc observes a cart after every successful change.
type ChangeFunc func(ctx context.Context, id ID, c Cart)

// Service implements the cart operations on top of a Store.
type Service struct {
	store Store

	mu     sync.Mutex
	locked map[ID]bool
	hooks  []ChangeFunc
}

// NewService creates a new cart Service.
func NewService(store Store) *Service {
	return &Service{store: store, locked: make(map[ID]bool)}
}

// OnChange registers fn to be called after each change. Hooks run outside
// the service lock, in registration order.
func (s *Service) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Lock freezes diner edits on id. Clear still works so a submitted cart can
// be emptied.
func (s *Service) Lock(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[id] = true
}

// Unlock lifts a previous Lock.
func (s *Service) Unlock(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, id)
}

// Locked reports whether diner edits on id are frozen.
func (s *Service) Locked(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked[id]
}

// Get returns the current cart.
func (s *Service) Get(ctx context.Context, id ID) (Cart, error) {
	c, err := s.store.Load(ctx, id)
	if err != nil {
		return Cart{}, fmt.Errorf("load cart %s: %w", id, err)
	}
	return c, nil
}

// Add puts item in the cart, adding to the quantity of an existing line
// with the same identity key.
func (s *Service) Add(ctx context.Context, id ID, item order.Item) (Cart, error) {
	if err := validateItem(item); err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, id, func(c *Cart) error {
		set := order.NewItemSet(c.Items)
		set.Add(item)
		c.Items = set.Items()
		return nil
	})
}

// Remove deletes the line with key k. Always permitted for unlocked carts:
// nothing in a cart has been persisted as an order.
func (s *Service) Remove(ctx context.Context, id ID, k order.Key) (Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) error {
		set := order.NewItemSet(c.Items)
		if !set.Remove(k) {
			return ErrItemNotFound
		}
		c.Items = set.Items()
		return nil
	})
}

// UpdateQuantity sets the quantity of the line with key k. Zero removes it.
func (s *Service) UpdateQuantity(ctx context.Context, id ID, k order.Key, qty int32) (Cart, error) {
	if qty < 0 {
		return Cart{}, ErrInvalidQuantity
	}
	return s.mutate(ctx, id, func(c *Cart) error {
		idx := indexOf(c.Items, k)
		if idx < 0 {
			return ErrItemNotFound
		}
		if qty == 0 {
			c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			return nil
		}
		c.Items[idx].Quantity = qty
		return nil
	})
}

// UpdateNotes changes the notes of the line with key k. The line takes a
// new identity; if that identity already exists the two lines merge.
func (s *Service) UpdateNotes(ctx context.Context, id ID, k order.Key, notes string) (Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) error {
		idx := indexOf(c.Items, k)
		if idx < 0 {
			return ErrItemNotFound
		}
		c.Items[idx].Notes = strings.TrimSpace(notes)
		c.Items = order.Dedupe(c.Items)
		return nil
	})
}

// SetItems replaces all cart lines.
func (s *Service) SetItems(ctx context.Context, id ID, items []order.Item) (Cart, error) {
	for _, it := range items {
		if err := validateItem(it); err != nil {
			return Cart{}, err
		}
	}
	return s.mutate(ctx, id, func(c *Cart) error {
		c.Items = order.Dedupe(items)
		return nil
	})
}

// SetInstructions replaces the diner's special instructions.
func (s *Service) SetInstructions(ctx context.Context, id ID, text string) (Cart, error) {
	return s.mutate(ctx, id, func(c *Cart) error {
		c.Instructions = strings.TrimSpace(text)
		return nil
	})
}

// Clear empties the cart, including instructions.
func (s *Service) Clear(ctx context.Context, id ID) error {
	s.mu.Lock()
	if err := s.store.Delete(ctx, id); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("clear cart %s: %w", id, err)
	}
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, id, Cart{})
	}
	return nil
}

// Consume removes what was submitted from the cart: each submitted line's
// quantity is subtracted from the line with the same key, and instructions
// are dropped if unchanged. Items added after the snapshot stay. Like
// Clear, it works on a locked cart.
func (s *Service) Consume(ctx context.Context, id ID, submitted Cart) error {
	s.mu.Lock()
	c, err := s.store.Load(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load cart %s: %w", id, err)
	}

	sent := make(map[order.Key]int32, len(submitted.Items))
	for _, it := range submitted.Items {
		sent[order.KeyOf(it)] += it.Quantity
	}
	var left Cart
	for _, it := range c.Items {
		it.Quantity -= sent[order.KeyOf(it)]
		if it.Quantity > 0 {
			left.Items = append(left.Items, it)
		}
	}
	if c.Instructions != submitted.Instructions {
		left.Instructions = c.Instructions
	}

	if left.Empty() && left.Instructions == "" {
		err = s.store.Delete(ctx, id)
	} else {
		err = s.store.Save(ctx, id, left)
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("consume cart %s: %w", id, err)
	}
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, id, left.clone())
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, id ID, fn func(c *Cart) error) (Cart, error) {
	s.mu.Lock()
	if s.locked[id] {
		s.mu.Unlock()
		return Cart{}, ErrCartLocked
	}
	c, err := s.store.Load(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return Cart{}, fmt.Errorf("load cart %s: %w", id, err)
	}
	c = c.clone()
	if err := fn(&c); err != nil {
		s.mu.Unlock()
		return Cart{}, err
	}
	if err := s.store.Save(ctx, id, c); err != nil {
		s.mu.Unlock()
		return Cart{}, fmt.Errorf("save cart %s: %w", id, err)
	}
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		h(ctx, id, c.clone())
	}
	return c, nil
}

func validateItem(it order.Item) error {
	if strings.TrimSpace(it.DishID) == "" {
		return ErrInvalidItem
	}
	if it.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if it.Price.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

func indexOf(items []order.Item, k order.Key) int {
	for i, it := range items {
		if order.KeyOf(it) == k {
			return i
		}
	}
	return -1
}
