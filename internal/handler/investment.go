package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/profit"
)

// InvestmentHandler handles investments and their profit distributions.
// Recording investments and distributing require a direct-write role.
type InvestmentHandler struct {
	profit *profit.Service
	policy approval.Policy
	logger *zap.Logger
}

// NewInvestmentHandler creates a new InvestmentHandler
func NewInvestmentHandler(svc *profit.Service, policy approval.Policy, logger *zap.Logger) *InvestmentHandler {
	return &InvestmentHandler{profit: svc, policy: policy, logger: logging.OrNop(logger).Named("handler.investment")}
}

// RegisterRoutes sets up the investment routes
func (h *InvestmentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/investments", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{id}", h.GetByID)
		r.Get("/{id}/distributions", h.ListDistributions)
		r.Post("/{id}/distributions", h.Distribute)
		r.Post("/{id}/distributions/preview", h.Preview)
	})
}

// Create handles POST /investments
func (h *InvestmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !h.policy.CanWriteDirect(actor.Role) {
		writeDomainError(w, h.logger, model.ErrUnauthorized)
		return
	}

	var req model.CreateInvestmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inv, err := h.profit.CreateInvestment(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// GetByID handles GET /investments/{id}
func (h *InvestmentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.profit.GetInvestment(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// ListDistributions handles GET /investments/{id}/distributions
func (h *InvestmentHandler) ListDistributions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if _, err := h.profit.GetInvestment(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	rows, err := h.profit.ListDistributions(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []model.ProfitDistribution{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Preview handles POST /investments/{id}/distributions/preview
func (h *InvestmentHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req model.DistributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	split, err := h.profit.Preview(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, split)
}

// Distribute handles POST /investments/{id}/distributions
func (h *InvestmentHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if !h.policy.CanWriteDirect(actor.Role) {
		writeDomainError(w, h.logger, model.ErrUnauthorized)
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req model.DistributionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	dist, err := h.profit.Distribute(r.Context(), actor, id, req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dist)
}
