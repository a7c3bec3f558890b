package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CartServicer defines the cart operations exposed over HTTP.
// Satisfied by *cart.Service.
type CartServicer interface {
	Get(ctx context.Context, id cart.ID) (cart.Cart, error)
	Add(ctx context.Context, id cart.ID, item order.Item) (cart.Cart, error)
	Remove(ctx context.Context, id cart.ID, k order.Key) (cart.Cart, error)
	UpdateQuantity(ctx context.Context, id cart.ID, k order.Key, qty int32) (cart.Cart, error)
	UpdateNotes(ctx context.Context, id cart.ID, k order.Key, notes string) (cart.Cart, error)
	SetItems(ctx context.Context, id cart.ID, items []order.Item) (cart.Cart, error)
	SetInstructions(ctx context.Context, id cart.ID, text string) (cart.Cart, error)
	Clear(ctx context.Context, id cart.ID) error
}

// CartHandler handles the caller's own cart.
type CartHandler struct {
	carts CartServicer
	log   logrus.FieldLogger
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(carts CartServicer, log logrus.FieldLogger) *CartHandler {
	return &CartHandler{carts: carts, log: log}
}

// RegisterRoutes registers cart endpoints. Expected to be mounted on
// /tables/{tid}/cart.
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Get)
	r.Put("/", h.Replace)
	r.Delete("/", h.Clear)
	r.Post("/items", h.AddItem)
	r.Patch("/items", h.UpdateItem)
	r.Delete("/items", h.RemoveItem)
}

// --- Request / Response types ---

type cartItemRequest struct {
	DishID   string `json:"dish_id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Notes    string `json:"notes"`
	Quantity int32  `json:"quantity"`
}

type replaceCartRequest struct {
	Items        []cartItemRequest `json:"items"`
	Instructions *string           `json:"instructions"`
}

// updateCartItemRequest addresses a line by its current key. Quantity and
// notes are applied when present, in that order.
type updateCartItemRequest struct {
	DishID   string  `json:"dish_id"`
	Notes    string  `json:"notes"`
	Quantity *int32  `json:"quantity"`
	NewNotes *string `json:"new_notes"`
}

type cartResponse struct {
	Items        []order.Item `json:"items"`
	Instructions string       `json:"instructions"`
	Total        string       `json:"total"`
}

func toCartResponse(c cart.Cart) cartResponse {
	items := c.Items
	if items == nil {
		items = []order.Item{}
	}
	return cartResponse{Items: items, Instructions: c.Instructions, Total: c.Total().StringFixed(2)}
}

func (req cartItemRequest) toItem() (order.Item, bool) {
	price := decimal.Zero
	if req.Price != "" {
		p, err := decimal.NewFromString(req.Price)
		if err != nil {
			return order.Item{}, false
		}
		price = p
	}
	return order.Item{
		DishID:   req.DishID,
		Name:     req.Name,
		Price:    price,
		Notes:    req.Notes,
		Quantity: req.Quantity,
	}, true
}

// --- Handlers ---

// Get handles GET /tables/{tid}/cart.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, _, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	c, err := h.carts.Get(r.Context(), id)
	if err != nil {
		writeError(w, tableLogger(h.log, r), "get cart", err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// Replace handles PUT /tables/{tid}/cart. Items, when given, replace every
// line; instructions, when given, replace the special instructions.
func (h *CartHandler) Replace(w http.ResponseWriter, r *http.Request) {
	id, _, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req replaceCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var (
		c   cart.Cart
		err error
	)
	if req.Items != nil {
		items := make([]order.Item, 0, len(req.Items))
		for _, ri := range req.Items {
			it, ok := ri.toItem()
			if !ok {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
				return
			}
			items = append(items, it)
		}
		if c, err = h.carts.SetItems(r.Context(), id, items); err != nil {
			writeError(w, tableLogger(h.log, r), "replace cart", err)
			return
		}
	}
	if req.Instructions != nil {
		if c, err = h.carts.SetInstructions(r.Context(), id, *req.Instructions); err != nil {
			writeError(w, tableLogger(h.log, r), "set instructions", err)
			return
		}
	}
	if req.Items == nil && req.Instructions == nil {
		if c, err = h.carts.Get(r.Context(), id); err != nil {
			writeError(w, tableLogger(h.log, r), "get cart", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// Clear handles DELETE /tables/{tid}/cart.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id, _, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	if err := h.carts.Clear(r.Context(), id); err != nil {
		writeError(w, tableLogger(h.log, r), "clear cart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /tables/{tid}/cart/items.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, _, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req cartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	it, ok := req.toItem()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
		return
	}

	c, err := h.carts.Add(r.Context(), id, it)
	if err != nil {
		writeError(w, tableLogger(h.log, r), "add cart item", err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// UpdateItem handles PATCH /tables/{tid}/cart/items.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, _, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req updateCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.DishID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "dish_id is required"})
		return
	}
	if req.Quantity == nil && req.NewNotes == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity or new_notes is required"})
		return
	}

	k := order.NewKey(req.DishID, req.Notes)
	var (
		c   cart.Cart
		err error
	)
	if req.Quantity != nil {
		if c, err = h.carts.UpdateQuantity(r.Context(), id, k, *req.Quantity); err != nil {
			writeError(w, tableLogger(h.log, r), "update cart quantity", err)
			return
		}
	}
	if req.NewNotes != nil && (req.Quantity == nil || *req.Quantity > 0) {
		if c, err = h.carts.UpdateNotes(r.Context(), id, k, *req.NewNotes); err != nil {
			writeError(w, tableLogger(h.log, r), "update cart notes", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// RemoveItem handles DELETE /tables/{tid}/cart/items.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, _, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
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

	c, err := h.carts.Remove(r.Context(), id, order.NewKey(req.DishID, req.Notes))
	if err != nil {
		writeError(w, tableLogger(h.log, r), "remove cart item", err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}
