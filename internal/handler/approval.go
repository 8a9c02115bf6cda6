package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// ApprovalHandler exposes the modification request queue
type ApprovalHandler struct {
	gate   *approval.Gate
	logger *zap.Logger
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(gate *approval.Gate, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{gate: gate, logger: logging.OrNop(logger).Named("handler.approval")}
}

// RegisterRoutes sets up the modification request routes
func (h *ApprovalHandler) RegisterRoutes(r chi.Router) {
	r.Route("/modification-requests", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Propose)
		r.Get("/{id}", h.GetByID)
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/reject", h.Reject)
	})
}

// List handles GET /modification-requests
// Optional query parameters: status, target_model, target_id, requested_by, limit
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ModificationFilter{
		Status:      model.RequestStatus(q.Get("status")),
		TargetModel: model.TargetModel(q.Get("target_model")),
	}

	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{
		{"target_id", &filter.TargetID},
		{"requested_by", &filter.RequestedBy},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+p.name)
			return
		}
		*p.dst = &id
	}

	limit, err := queryLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit

	requests, err := h.gate.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if requests == nil {
		requests = []model.ModificationRequest{}
	}
	writeJSON(w, http.StatusOK, requests)
}

// Propose handles POST /modification-requests for any registered target
func (h *ApprovalHandler) Propose(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req model.ProposeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.gate.Propose(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// GetByID handles GET /modification-requests/{id}
func (h *ApprovalHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	mr, err := h.gate.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, mr)
}

// Approve handles POST /modification-requests/{id}/approve
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.gate.Approve)
}

// Reject handles POST /modification-requests/{id}/reject
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.gate.Reject)
}

type decideFunc func(ctx context.Context, actor model.Actor, id uuid.UUID, notes string) (*approval.Result, error)

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, fn decideFunc) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	// The body is optional
	var req model.DecisionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := fn(r.Context(), actor, id, req.Notes)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
