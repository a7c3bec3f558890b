package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/sirupsen/logrus"
)

// GroupServicer defines the group order operations exposed over HTTP.
// Satisfied by *service.GroupService.
type GroupServicer interface {
	Session(tableID string) service.GroupSession
	CanConfirmOrder(tableID, currentID string) bool
	SetIsGroupOrder(ctx context.Context, tableID, participantID, name string, join bool) (service.GroupSession, error)
	UpdateParticipantOrder(ctx context.Context, tableID, participantID string, items []order.Item) (service.GroupSession, error)
	UpdateParticipantInstructions(ctx context.Context, tableID, participantID, text string) (service.GroupSession, error)
	SetParticipantReady(ctx context.Context, tableID, participantID string, ready bool) (service.GroupSession, error)
	ConfirmGroupOrder(ctx context.Context, tableID, currentID string, sendNow bool) (*service.MergeResult, error)
}

// GroupHandler handles the table's group order.
type GroupHandler struct {
	groups GroupServicer
	log    logrus.FieldLogger
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(groups GroupServicer, log logrus.FieldLogger) *GroupHandler {
	return &GroupHandler{groups: groups, log: log}
}

// RegisterRoutes registers group endpoints. Expected to be mounted on
// /tables/{tid}/group.
func (h *GroupHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Get)
	r.Post("/join", h.Join)
	r.Post("/leave", h.Leave)
	r.Put("/items", h.SetItems)
	r.Put("/instructions", h.SetInstructions)
	r.Put("/ready", h.SetReady)
	r.Post("/confirm", h.Confirm)
}

// --- Request / Response types ---

type groupResponse struct {
	service.GroupSession
	CanConfirm bool `json:"can_confirm"`
}

type groupItemsRequest struct {
	Items []cartItemRequest `json:"items"`
}

type groupInstructionsRequest struct {
	Instructions string `json:"instructions"`
}

type groupReadyRequest struct {
	Ready *bool `json:"ready"`
}

func (h *GroupHandler) respond(w http.ResponseWriter, status int, s service.GroupSession, participantID string) {
	if s.Participants == nil {
		s.Participants = []service.Participant{}
	}
	writeJSON(w, status, groupResponse{
		GroupSession: s,
		CanConfirm:   h.groups.CanConfirmOrder(s.TableID, participantID),
	})
}

// --- Handlers ---

// Get handles GET /tables/{tid}/group.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	_, claims, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	h.respond(w, http.StatusOK, h.groups.Session(tableID(r)), claims.ParticipantID)
}

// Join handles POST /tables/{tid}/group/join.
func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.setMembership(w, r, true)
}

// Leave handles POST /tables/{tid}/group/leave.
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.setMembership(w, r, false)
}

func (h *GroupHandler) setMembership(w http.ResponseWriter, r *http.Request, join bool) {
	_, claims, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	s, err := h.groups.SetIsGroupOrder(r.Context(), tableID(r), claims.ParticipantID, claims.Name, join)
	if err != nil {
		writeError(w, tableLogger(h.log, r), "set group membership", err)
		return
	}
	h.respond(w, http.StatusOK, s, claims.ParticipantID)
}

// SetItems handles PUT /tables/{tid}/group/items.
func (h *GroupHandler) SetItems(w http.ResponseWriter, r *http.Request) {
	_, claims, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req groupItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	items := make([]order.Item, 0, len(req.Items))
	for _, ri := range req.Items {
		it, ok := ri.toItem()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
			return
		}
		items = append(items, it)
	}

	s, err := h.groups.UpdateParticipantOrder(r.Context(), tableID(r), claims.ParticipantID, items)
	if err != nil {
		writeError(w, tableLogger(h.log, r), "update participant order", err)
		return
	}
	h.respond(w, http.StatusOK, s, claims.ParticipantID)
}

// SetInstructions handles PUT /tables/{tid}/group/instructions.
func (h *GroupHandler) SetInstructions(w http.ResponseWriter, r *http.Request) {
	_, claims, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req groupInstructionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	s, err := h.groups.UpdateParticipantInstructions(r.Context(), tableID(r), claims.ParticipantID, req.Instructions)
	if err != nil {
		writeError(w, tableLogger(h.log, r), "update participant instructions", err)
		return
	}
	h.respond(w, http.StatusOK, s, claims.ParticipantID)
}

// SetReady handles PUT /tables/{tid}/group/ready.
func (h *GroupHandler) SetReady(w http.ResponseWriter, r *http.Request) {
	_, claims, ok := cartOf(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req groupReadyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Ready == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ready is required"})
		return
	}

	s, err := h.groups.SetParticipantReady(r.Context(), tableID(r), claims.ParticipantID, *req.Ready)
	if err != nil {
		writeError(w, tableLogger(h.log, r), "set participant ready", err)
		return
	}
	h.respond(w, http.StatusOK, s, claims.ParticipantID)
}

// Confirm handles POST /tables/{tid}/group/confirm. It submits only the
// caller's cart.
func (h *GroupHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	_, claims, ok := cartOf(r)
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

	res, err := h.groups.ConfirmGroupOrder(r.Context(), tableID(r), claims.ParticipantID, req.sendNow())
	if errors.Is(err, service.ErrNothingToAdd) {
		writeJSON(w, http.StatusOK, submitResponse{Added: 0, Notice: err.Error()})
		return
	}
	if err != nil {
		writeError(w, tableLogger(h.log, r), "confirm group order", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, submitResponse{Order: res.Order, Created: res.Created, Added: res.Added})
}
