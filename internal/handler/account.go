package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/account"
	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// AccountHandler handles HTTP requests for accounts
type AccountHandler struct {
	accounts *account.Service
	engine   *ledger.Engine
	gate     *approval.Gate
	logger   *zap.Logger
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts *account.Service, engine *ledger.Engine, gate *approval.Gate, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		engine:   engine,
		gate:     gate,
		logger:   logging.OrNop(logger).Named("handler.account"),
	}
}

// RegisterRoutes sets up the account routes on the given router
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{id}", h.GetByID)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Close)
		r.Get("/{id}/transactions", h.Transactions)
		r.Get("/{id}/reconcile", h.Reconcile)
	})
}

// Create handles POST /accounts
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req model.CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.gate.Propose(r.Context(), actor, model.ProposeRequest{
		TargetModel:      model.TargetAccount,
		ChangeType:       model.ChangeTypeCreate,
		RequestedChanges: req.Changes(),
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusCreated, res)
}

// GetByID handles GET /accounts/{id}
func (h *AccountHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	acct, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Update handles PATCH /accounts/{id}. The body is the set of fields to change.
func (h *AccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var changes model.Changes
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.gate.Propose(r.Context(), actor, model.ProposeRequest{
		TargetModel:      model.TargetAccount,
		TargetID:         id,
		ChangeType:       model.ChangeTypeUpdate,
		RequestedChanges: changes,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// Close handles DELETE /accounts/{id}
func (h *AccountHandler) Close(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	res, err := h.gate.Propose(r.Context(), actor, model.ProposeRequest{
		TargetModel: model.TargetAccount,
		TargetID:    id,
		ChangeType:  model.ChangeTypeDelete,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// Transactions handles GET /accounts/{id}/transactions
// Optional query parameter: limit (0 returns the whole journal)
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.accounts.Transactions(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if rows == nil {
		rows = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// Reconcile handles GET /accounts/{id}/reconcile
func (h *AccountHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.engine.Reconcile(r.Context(), id)
	if err != nil && rec == nil {
		writeDomainError(w, h.logger, err)
		return
	}
	// A mismatch still reports both sides
	writeJSON(w, http.StatusOK, rec)
}
