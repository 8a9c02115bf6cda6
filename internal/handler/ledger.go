package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// LedgerHandler handles deposits, withdrawals and transfers. Each one is
// proposed to the gate as a LedgerOperation so the policy decides whether
// it posts immediately or waits for a checker. The Idempotency-Key header
// is required; a retry with the same key returns the posted rows or meets
// the pending request instead of moving money twice.
type LedgerHandler struct {
	gate   *approval.Gate
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(gate *approval.Gate, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{gate: gate, logger: logging.OrNop(logger).Named("handler.ledger")}
}

// RegisterRoutes sets up the ledger routes on the given router
func (h *LedgerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/accounts/{id}/deposit", h.Deposit)
	r.Post("/accounts/{id}/withdraw", h.Withdraw)
	r.Post("/transfers", h.Transfer)
}

// Deposit handles POST /accounts/{id}/deposit
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.amountOperation(w, r, model.TransactionTypeDeposit)
}

// Withdraw handles POST /accounts/{id}/withdraw
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.amountOperation(w, r, model.TransactionTypeWithdrawal)
}

func (h *LedgerHandler) amountOperation(w http.ResponseWriter, r *http.Request, txType model.TransactionType) {
	actor, ok := requireActor(w, r)
	if !ok || !requireIdempotencyKey(w, r) {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req model.AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		writeDomainError(w, h.logger, model.ErrInvalidAmount)
		return
	}

	h.propose(w, r, actor, ledger.Operation{
		Type:        txType,
		AccountID:   id,
		Amount:      req.Amount,
		Description: req.Description,
	})
}

// Transfer handles POST /transfers
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok || !requireIdempotencyKey(w, r) {
		return
	}

	var req model.CreateTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.propose(w, r, actor, ledger.Operation{
		Type:        model.TransactionTypeTransfer,
		AccountID:   req.FromAccountID,
		ToAccountID: req.ToAccountID,
		Amount:      req.Amount,
		Description: req.Description,
	})
}

func (h *LedgerHandler) propose(w http.ResponseWriter, r *http.Request, actor model.Actor, op ledger.Operation) {
	op.IdempotencyKey = r.Header.Get(idempotencyHeader)
	res, err := h.gate.Propose(r.Context(), actor, model.ProposeRequest{
		TargetModel:      model.TargetLedgerOperation,
		TargetID:         approval.LedgerTargetID(op.IdempotencyKey),
		ChangeType:       model.ChangeTypeCreate,
		RequestedChanges: approval.LedgerChanges(op),
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeResult(w, http.StatusCreated, res)
}

const (
	idempotencyHeader    = "Idempotency-Key"
	maxIdempotencyKeyLen = 255
)

func requireIdempotencyKey(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get(idempotencyHeader)
	if key == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return false
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is too long")
		return false
	}
	return true
}
