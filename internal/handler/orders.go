package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/sirupsen/logrus"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	View(ctx context.Context, tableID string, cartID cart.ID) (*service.TableView, error)
	SubmitCart(ctx context.Context, req service.SubmitRequest) (*service.MergeResult, error)
	RemoveItem(ctx context.Context, tableID string, orderID uuid.UUID, k order.Key) (*order.Order, error)
	UpdateNotes(ctx context.Context, tableID string, orderID uuid.UUID, notes string) (*order.Order, error)
	UpdateStatus(ctx context.Context, tableID string, orderID uuid.UUID, next order.Status) (*order.Order, error)
}

// GroupChecker reports whether a diner is part of an open group order.
type GroupChecker interface {
	IsGroupOrder(tableID, participantID string) bool
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	groups GroupChecker
	log    logrus.FieldLogger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, groups GroupChecker, log logrus.FieldLogger) *OrderHandler {
	return &OrderHandler{svc: svc, groups: groups, log: log}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside a table-scoped subrouter: /tables/{tid}/orders
// The status route is registered separately so it can be staff-gated.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Submit)
	r.Delete("/{id}/items", h.RemoveItem)
	r.Put("/{id}/notes", h.UpdateNotes)
}

// RegisterStaffRoutes registers endpoints that only staff may call.
func (h *OrderHandler) RegisterStaffRoutes(r chi.Router) {
	r.Patch("/{id}/status", h.UpdateStatus)
}

const maxOrderNotes = 500

// --- Request / Response types ---

// submitRequest is the body of a submit or a group confirm. Orders are sent
// to the kitchen unless send_now is explicitly false.
type submitRequest struct {
	SendNow *bool `json:"send_now"`
}

func (r submitRequest) sendNow() bool {
	return r.SendNow == nil || *r.SendNow
}

type submitResponse struct {
	Order   *order.Order `json:"order"`
	Created bool         `json:"created"`
	Added   int          `json:"added"`
	Notice  string       `json:"notice,omitempty"`
}

type updateNotesRequest struct {
	Notes *string `json:"notes"`
}

type removeItemRequest struct {
	DishID string `json:"dish_id"`
	Notes  string `json:"notes"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// --- Handlers ---

// List handles GET /tables/{tid}/orders. It returns the table's orders with
// the caller's cart lines reconciled into them.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	cid, _, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	view, err := h.svc.View(r.Context(), cid.TableID, cid)
	if err != nil {
		writeError(w, tableLogger(h.log, r), "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Submit handles POST /tables/{tid}/orders.
func (h *OrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	cid, claims, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req submitRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	if h.groups != nil && h.groups.IsGroupOrder(cid.TableID, claims.ParticipantID) {
		writeError(w, tableLogger(h.log, r), "submit cart", service.ErrGroupOrderActive)
		return
	}

	res, err := h.svc.SubmitCart(r.Context(), service.SubmitRequest{
		TableID: cid.TableID,
		CartID:  cid,
		SendNow: req.sendNow(),
	})
	if errors.Is(err, service.ErrNothingToAdd) {
		writeJSON(w, http.StatusOK, submitResponse{Added: 0, Notice: err.Error()})
		return
	}
	if err != nil {
		writeError(w, tableLogger(h.log, r), "submit cart", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, submitResponse{Order: res.Order, Created: res.Created, Added: res.Added})
}

// RemoveItem handles DELETE /tables/{tid}/orders/{id}/items.
func (h *OrderHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req removeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.DishID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "dish_id is required"})
		return
	}

	updated, err := h.svc.RemoveItem(r.Context(), tableID(r), orderID, order.NewKey(req.DishID, req.Notes))
	if err != nil {
		writeError(w, tableLogger(h.log, r).WithField("order_id", orderID), "remove item", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UpdateNotes handles PUT /tables/{tid}/orders/{id}/notes.
func (h *OrderHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Notes == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "notes is required"})
		return
	}
	if len(*req.Notes) > maxOrderNotes {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "notes too long"})
		return
	}

	updated, err := h.svc.UpdateNotes(r.Context(), tableID(r), orderID, *req.Notes)
	if err != nil {
		writeError(w, tableLogger(h.log, r).WithField("order_id", orderID), "update notes", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UpdateStatus handles PATCH /tables/{tid}/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	next, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, h.log, "update status", err)
		return
	}

	updated, err := h.svc.UpdateStatus(r.Context(), tableID(r), orderID, next)
	if err != nil {
		writeError(w, tableLogger(h.log, r).WithField("order_id", orderID), "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
