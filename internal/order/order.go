// Package order holds the table order data model: line items and their
// identity key, orders and their derived totals, and the status machine that
// gates item mutations.
package order

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is a single order or cart line.
type Item struct {
	DishID   string          `json:"dish_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Notes    string          `json:"notes"`
	Quantity int32           `json:"quantity"`
}

// Subtotal is price × quantity.
func (it Item) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt32(it.Quantity))
}

// Key identifies a logical line. Two lines with the same dish and the same
// notes are the same line; their quantities add up instead of duplicating.
type Key struct {
	DishID string
	Notes  string
}

// NewKey builds a Key, normalizing surrounding whitespace in notes.
func NewKey(dishID, notes string) Key {
	return Key{DishID: dishID, Notes: strings.TrimSpace(notes)}
}

// KeyOf returns the identity key of it.
func KeyOf(it Item) Key {
	return NewKey(it.DishID, it.Notes)
}

func (k Key) String() string {
	if k.Notes == "" {
		return k.DishID
	}
	return k.DishID + " (" + k.Notes + ")"
}

// Order is a persisted, numbered collection of line items for one table.
type Order struct {
	ID        uuid.UUID `json:"id"`
	TableID   string    `json:"table_id"`
	Number    int32     `json:"order_number"`
	Items     []Item    `json:"items"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total sums price × quantity over the order's items.
func (o *Order) Total() decimal.Decimal {
	return Total(o.Items)
}

// Clone returns a copy of o whose item slice can be modified freely.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return &c
}

// Has reports whether a line with key k exists in the order.
func (o *Order) Has(k Key) bool {
	for _, it := range o.Items {
		if KeyOf(it) == k {
			return true
		}
	}
	return false
}

// Total sums price × quantity over items.
func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

// NextNumber returns max(order numbers)+1, or 1 when there are no orders.
func NextNumber(orders []Order) int32 {
	var max int32
	for _, o := range orders {
		if o.Number > max {
			max = o.Number
		}
	}
	return max + 1
}

// ItemSet is an insertion-ordered collection of items keyed by identity.
type ItemSet struct {
	keys  []Key
	items map[Key]Item
}

// NewItemSet builds a set from items, summing quantities of repeated keys.
func NewItemSet(items []Item) *ItemSet {
	s := &ItemSet{items: make(map[Key]Item, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts it, or adds its quantity to the existing line with the same key.
func (s *ItemSet) Add(it Item) {
	k := KeyOf(it)
	it.Notes = k.Notes
	if cur, ok := s.items[k]; ok {
		cur.Quantity += it.Quantity
		s.items[k] = cur
		return
	}
	s.keys = append(s.keys, k)
	s.items[k] = it
}

// Contains reports whether a line with key k is present.
func (s *ItemSet) Contains(k Key) bool {
	_, ok := s.items[k]
	return ok
}

// Get returns the line stored under k.
func (s *ItemSet) Get(k Key) (Item, bool) {
	it, ok := s.items[k]
	return it, ok
}

// Remove deletes the line stored under k and reports whether it existed.
func (s *ItemSet) Remove(k Key) bool {
	if _, ok := s.items[k]; !ok {
		return false
	}
	delete(s.items, k)
	for i, key := range s.keys {
		if key == k {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of distinct lines.
func (s *ItemSet) Len() int { return len(s.keys) }

// Items returns the lines in insertion order.
func (s *ItemSet) Items() []Item {
	out := make([]Item, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.items[k])
	}
	return out
}

// Dedupe merges items sharing an identity key, summing their quantities and
// keeping the position of the first occurrence.
func Dedupe(items []Item) []Item {
	return NewItemSet(items).Items()
}
