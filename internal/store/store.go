// Package store holds the Order Store backends. Every backend satisfies the
// same create/update/get/list contract; nothing else in the service reads
// order storage directly.
package store

import (
	"errors"

	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/shopspring/decimal"
)

// Errors returned by every backend.
var (
	ErrNotFound            = errors.New("order not found")
	ErrOrderNumberConflict = errors.New("order number already used for this table")
)

// CreateOrderParams is the input for creating an order.
type CreateOrderParams struct {
	TableID string
	Number  int32
	Items   []order.Item
	Status  order.Status
	Total   decimal.Decimal
	Notes   string
}

// UpdateOrderPatch lists the fields to overwrite. Nil fields are left as is.
type UpdateOrderPatch struct {
	Items  *[]order.Item
	Total  *decimal.Decimal
	Notes  *string
	Status *order.Status
}

// Empty reports whether the patch changes nothing.
func (p UpdateOrderPatch) Empty() bool {
	return p.Items == nil && p.Total == nil && p.Notes == nil && p.Status == nil
}
