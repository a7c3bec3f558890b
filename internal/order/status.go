package order

import (
	"errors"
	"fmt"

	"github.com/kiwari-pos/tableorder/internal/enum"
)

// Errors returned by status parsing and transition checks.
var (
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrInvalidInitialStatus = errors.New("initial status must be pending or orden_enviada")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// Status is the lifecycle state of an order. The set of values is closed.
type Status string

const (
	StatusPending        Status = enum.OrderStatusPending
	StatusSent           Status = enum.OrderStatusSent
	StatusReceived       Status = enum.OrderStatusReceived
	StatusPreparing      Status = enum.OrderStatusPreparing
	StatusReadyToDeliver Status = enum.OrderStatusReadyToDeliver
	StatusDelivering     Status = enum.OrderStatusDelivering
	StatusDelivered      Status = enum.OrderStatusDelivered
	StatusIncident       Status = enum.OrderStatusIncident
	StatusClosed         Status = enum.OrderStatusClosed
	StatusCancelled      Status = enum.OrderStatusCancelled
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusSent,
	StatusReceived,
	StatusPreparing,
	StatusReadyToDeliver,
	StatusDelivering,
	StatusDelivered,
	StatusIncident,
	StatusClosed,
	StatusCancelled,
}

// ParseStatus converts a wire literal into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Valid reports whether s is one of the ten known statuses.
func (s Status) Valid() bool {
	_, ok := permissions[s]
	return ok
}

// Terminal reports whether the order has finished its lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusClosed, StatusCancelled:
		return true
	}
	return false
}

// Action is an item-level mutation gated by the order status.
type Action int

const (
	// ActionAppendItems adds new line items to an existing order.
	ActionAppendItems Action = iota
	// ActionEditItems changes or removes line items already in the order.
	ActionEditItems
)

func (a Action) String() string {
	switch a {
	case ActionAppendItems:
		return "append_items"
	case ActionEditItems:
		return "edit_items"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// permissions maps each status to the item actions it allows. An order in
// preparation still accepts appended lines but its existing lines are fixed.
var permissions = map[Status]map[Action]bool{
	StatusPending:        {ActionAppendItems: false, ActionEditItems: true},
	StatusSent:           {ActionAppendItems: true, ActionEditItems: true},
	StatusReceived:       {ActionAppendItems: true, ActionEditItems: true},
	StatusPreparing:      {ActionAppendItems: true, ActionEditItems: false},
	StatusReadyToDeliver: {ActionAppendItems: true, ActionEditItems: false},
	StatusDelivering:     {ActionAppendItems: true, ActionEditItems: false},
	StatusDelivered:      {ActionAppendItems: false, ActionEditItems: false},
	StatusIncident:       {ActionAppendItems: false, ActionEditItems: false},
	StatusClosed:         {ActionAppendItems: false, ActionEditItems: false},
	StatusCancelled:      {ActionAppendItems: false, ActionEditItems: false},
}

// Permits reports whether an order in status s may undergo action a.
// Unknown statuses permit nothing.
func Permits(s Status, a Action) bool {
	return permissions[s][a]
}

// CanEdit reports whether existing items of o may be changed or removed.
func CanEdit(o *Order) bool {
	return o != nil && Permits(o.Status, ActionEditItems)
}

// IsMergeable reports whether new complementary items may be appended to o.
func IsMergeable(o *Order) bool {
	return o != nil && Permits(o.Status, ActionAppendItems)
}

// ValidateInitialStatus accepts only the two statuses a new order may start in.
func ValidateInitialStatus(s Status) error {
	if s == StatusPending || s == StatusSent {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidInitialStatus, s)
}

// allowedTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
var allowedTransitions = map[Status][]Status{
	StatusPending:        {StatusSent, StatusIncident, StatusCancelled},
	StatusSent:           {StatusReceived, StatusIncident, StatusCancelled},
	StatusReceived:       {StatusPreparing, StatusIncident, StatusCancelled},
	StatusPreparing:      {StatusReadyToDeliver, StatusIncident, StatusCancelled},
	StatusReadyToDeliver: {StatusDelivering, StatusIncident, StatusCancelled},
	StatusDelivering:     {StatusDelivered, StatusIncident, StatusCancelled},
	StatusDelivered:      {StatusClosed},
	StatusIncident:       {StatusClosed},
}

// ValidateTransition checks if the transition from current to next is allowed.
func ValidateTransition(current, next Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	for _, s := range allowedTransitions[current] {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
}
