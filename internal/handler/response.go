package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/middleware"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case model.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrDuplicatePendingRequest),
		errors.Is(err, model.ErrRequestNotPending),
		errors.Is(err, model.ErrStaleRequest),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrAccountExists),
		errors.Is(err, model.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientBlockedFunds),
		errors.Is(err, model.ErrAccountNotActive),
		errors.Is(err, model.ErrOverSell),
		errors.Is(err, model.ErrCurrencyMismatch),
		errors.Is(err, model.ErrJournalMismatch):
		return http.StatusUnprocessableEntity
	case model.IsDomainError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError writes err with its mapped status and stable code.
// Internal failures are logged and not echoed to the client.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		if status == http.StatusInternalServerError {
			writeJSON(w, status, errorResponse{Error: "Internal error", Code: "Internal"})
			return
		}
		writeJSON(w, status, errorResponse{Error: model.ErrStorageUnavailable.Error(), Code: model.Code(err)})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: model.Code(err)})
}

// writeResult answers a gated write: 202 with the request when it awaits
// review, otherwise status with the applied result
func writeResult(w http.ResponseWriter, status int, res *approval.Result) {
	if res.Pending {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, status, res.Applied)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// requireActor returns the authenticated operator, writing 401 if absent
func requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
	}
	return actor, ok
}

// pathID parses the {id} URL parameter, writing 400 if malformed
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ID format")
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid limit")
	}
	return n, nil
}
