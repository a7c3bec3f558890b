package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/auth"
	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/middleware"
	"github.com/sirupsen/logrus"
)

const maxNameLength = 60

// SessionHandler issues table session tokens to diners who scan a table.
type SessionHandler struct {
	jwtSecret string
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(jwtSecret string, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{jwtSecret: jwtSecret, log: log, now: time.Now}
}

// RegisterRoutes registers session endpoints. Expected to be mounted on
// /tables/{tid}.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.Create)
}

type createSessionRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	Token         string    `json:"token"`
	TableID       string    `json:"table_id"`
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Create handles POST /tables/{tid}/sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	tid := tableID(r)
	if tid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing table ID"})
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if len(req.Name) > maxNameLength {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is too long"})
		return
	}

	participantID := uuid.NewString()
	token, err := auth.GenerateToken(h.jwtSecret, tid, participantID, req.Name, enum.RoleDiner)
	if err != nil {
		h.log.WithField("table_id", tid).WithError(err).Error("generate session token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:         token,
		TableID:       tid,
		ParticipantID: participantID,
		Name:          req.Name,
		ExpiresAt:     h.now().Add(auth.SessionTTL),
	})
}

// --- Helpers ---

func tableID(r *http.Request) string {
	return chi.URLParam(r, "tid")
}

// cartOf returns the cart of the authenticated diner at the routed table.
func cartOf(r *http.Request) (cart.ID, *auth.Claims, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return cart.ID{}, nil, false
	}
	return cart.ID{TableID: tableID(r), DinerID: claims.ParticipantID}, claims, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("encode JSON response")
	}
}
