package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/ipo"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// IPOHandler handles HTTP requests for IPO applications
type IPOHandler struct {
	ipo    *ipo.Service
	gate   *approval.Gate
	logger *zap.Logger
}

// NewIPOHandler creates a new IPOHandler
func NewIPOHandler(svc *ipo.Service, gate *approval.Gate, logger *zap.Logger) *IPOHandler {
	return &IPOHandler{ipo: svc, gate: gate, logger: logging.OrNop(logger).Named("handler.ipo")}
}

// RegisterRoutes sets up the IPO routes on the given router
func (h *IPOHandler) RegisterRoutes(r chi.Router) {
	r.Route("/ipo-applications", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/{id}", h.GetByID)
		r.Patch("/{id}", h.Amend)
		r.Delete("/{id}", h.Withdraw)
		r.Post("/{id}/verify", h.Verify)
		r.Post("/{id}/allot", h.Allot)
		r.Post("/{id}/reject", h.Reject)
	})
}

// Submit handles POST /ipo-applications
func (h *IPOHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req model.SubmitIPORequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	app, err := h.ipo.Submit(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

// GetByID handles GET /ipo-applications/{id}
func (h *IPOHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	app, err := h.ipo.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// Amend handles PATCH /ipo-applications/{id} (quantity, price_per_share)
func (h *IPOHandler) Amend(w http.ResponseWriter, r *http.Request) {
	var changes model.Changes
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if changes.Has("status") {
		writeError(w, http.StatusBadRequest, "Use the verify, allot or reject endpoints to change status")
		return
	}
	h.propose(w, r, model.ChangeTypeUpdate, changes)
}

// Withdraw handles DELETE /ipo-applications/{id}
func (h *IPOHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.propose(w, r, model.ChangeTypeDelete, nil)
}

// Verify handles POST /ipo-applications/{id}/verify.
// Reviewers verify directly; anyone else proposes the transition.
func (h *IPOHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if h.gate.Policy().CanReview(actor.Role) {
		app, err := h.ipo.Verify(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
		return
	}
	h.proposeFor(w, r, actor, id, model.ChangeTypeUpdate, model.Changes{"status": string(model.IPOStatusVerified)})
}

// Allot handles POST /ipo-applications/{id}/allot
func (h *IPOHandler) Allot(w http.ResponseWriter, r *http.Request) {
	var req model.AllotIPORequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.propose(w, r, model.ChangeTypeUpdate, model.Changes{
		"status":            string(model.IPOStatusAllotted),
		"allotted_quantity": req.AllottedQuantity,
	})
}

// Reject handles POST /ipo-applications/{id}/reject
func (h *IPOHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.propose(w, r, model.ChangeTypeUpdate, model.Changes{"status": string(model.IPOStatusRejected)})
}

func (h *IPOHandler) propose(w http.ResponseWriter, r *http.Request, ct model.ChangeType, changes model.Changes) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	h.proposeFor(w, r, actor, id, ct, changes)
}

func (h *IPOHandler) proposeFor(w http.ResponseWriter, r *http.Request, actor model.Actor, id uuid.UUID, ct model.ChangeType, changes model.Changes) {
	res, err := h.gate.Propose(r.Context(), actor, model.ProposeRequest{
		TargetModel:      model.TargetIPOApplication,
		TargetID:         id,
		ChangeType:       ct,
		RequestedChanges: changes,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}
