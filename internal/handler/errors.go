package handler

import (
	"errors"
	"net/http"

	"github.com/kiwari-pos/tableorder/internal/cart"
	"github.com/kiwari-pos/tableorder/internal/order"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/sirupsen/logrus"
)

// writeError maps service and domain errors to a response. Validation and
// conflict errors are expected outcomes and are not logged; failures the
// caller can only retry are.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, action string, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidPrice),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrInvalidInitialStatus):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

	case errors.Is(err, service.ErrEmptyCart):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})

	case errors.Is(err, service.ErrEditNotPermitted),
		errors.Is(err, service.ErrGroupConfirmed),
		errors.Is(err, service.ErrGroupOrderActive),
		errors.Is(err, service.ErrNotAllReady),
		errors.Is(err, cart.ErrCartLocked),
		errors.Is(err, order.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})

	case errors.Is(err, service.ErrNotParticipant):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})

	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, cart.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})

	case errors.Is(err, service.ErrPersistence):
		log.WithError(err).Error(action)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": service.ErrPersistence.Error()})

	case errors.Is(err, service.ErrTransientFetch):
		log.WithError(err).Warn(action)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": service.ErrTransientFetch.Error()})

	default:
		log.WithError(err).Error(action)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func tableLogger(log logrus.FieldLogger, r *http.Request) logrus.FieldLogger {
	return log.WithField("table_id", tableID(r))
}
