// Package ledger is the transaction engine: the only writer of account
// balances and the journal. Every operation runs as one unit of work that
// locks the affected accounts, validates, mutates and appends its journal
// rows before commit.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/metrics"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Operation describes one balance-affecting request.
// Amount is the primary amount; for ipo_allotment it is the debit and
// ReleaseAmount the block released before debiting. An operation carrying
// an IdempotencyKey is applied at most once.
type Operation struct {
	Type           model.TransactionType
	AccountID      uuid.UUID
	ToAccountID    uuid.UUID // transfer only
	Amount         decimal.Decimal
	ReleaseAmount  decimal.Decimal
	Description    string
	ReferenceType  string
	ReferenceID    *uuid.UUID
	IdempotencyKey string
}

// Engine applies operations to the ledger
type Engine struct {
	store   store.Store
	ids     *IDGenerator
	logger  *zap.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l).Named("ledger") }
}

// WithMetrics sets the metrics recorder
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = metrics.OrNoOp(r) }
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a new Engine over s
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		ids:     NewIDGenerator(),
		logger:  zap.NewNop(),
		metrics: metrics.NoOp{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's store
func (e *Engine) Store() store.Store {
	return e.store
}

// IDs returns the engine's id generator
func (e *Engine) IDs() *IDGenerator {
	return e.ids
}

// Apply runs op in its own unit of work and returns the journal rows written
func (e *Engine) Apply(ctx context.Context, op Operation) ([]*model.Transaction, error) {
	start := e.now()

	var rows []*model.Transaction
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rows, err = e.ApplyTx(ctx, tx, op)
		return err
	})

	e.metrics.RecordLedgerOperation(string(op.Type), metrics.Outcome(model.Code(err)), time.Since(start))
	if err != nil {
		e.logFailure(op, err)
		return nil, err
	}

	e.logger.Info("ledger operation applied",
		zap.String("type", string(op.Type)),
		zap.String("account_id", op.AccountID.String()),
		zap.String("amount", op.Amount.String()),
	)
	return rows, nil
}

// ApplyTx applies op inside an existing unit of work. Callers composing
// several operations must lock accounts in ascending id order (see
// LockAccounts) to avoid deadlocks.
func (e *Engine) ApplyTx(ctx context.Context, tx store.Tx, op Operation) ([]*model.Transaction, error) {
	if op.Type == model.TransactionTypeTransfer {
		return e.transferTx(ctx, tx, op)
	}

	if err := validateAmounts(op); err != nil {
		return nil, err
	}

	account, err := tx.GetAccountForUpdate(ctx, op.AccountID)
	if err != nil {
		return nil, err
	}
	if prior, found, err := e.ReplayTx(ctx, tx, op); err != nil || found {
		return prior, err
	}
	if err := checkStatus(account, op.Type); err != nil {
		return nil, err
	}
	if err := checkScale(account, op); err != nil {
		return nil, err
	}

	row, err := e.mutate(account, op)
	if err != nil {
		return nil, err
	}
	if err := account.CheckInvariants(); err != nil {
		return nil, err
	}

	if err := e.persist(ctx, tx, account, row); err != nil {
		return nil, err
	}
	return []*model.Transaction{row}, nil
}

// mutate changes account in memory and returns the journal row describing it
func (e *Engine) mutate(account *model.Account, op Operation) (*model.Transaction, error) {
	row := e.newRow(account.ID, op)

	switch op.Type {
	case model.TransactionTypeDeposit,
		model.TransactionTypeShareSale,
		model.TransactionTypeProfitDistribution,
		model.TransactionTypePrincipalReturn:
		account.Balance = account.Balance.Add(op.Amount)
		row.EntryType = model.EntryTypeCredit

	case model.TransactionTypeWithdrawal, model.TransactionTypeFeeDeduction:
		if op.Amount.GreaterThan(account.AvailableBalance()) {
			return nil, model.ErrInsufficientFunds
		}
		account.Balance = account.Balance.Sub(op.Amount)
		row.EntryType = model.EntryTypeDebit

	case model.TransactionTypeIPOHold:
		if op.Amount.GreaterThan(account.AvailableBalance()) {
			return nil, model.ErrInsufficientFunds
		}
		account.BlockedAmount = account.BlockedAmount.Add(op.Amount)
		row.EntryType = model.EntryTypeMemo

	case model.TransactionTypeIPORelease:
		if !account.BlockedAmount.IsPositive() {
			return nil, model.ErrInsufficientBlockedFunds
		}
		released := decimal.Min(op.Amount, account.BlockedAmount)
		account.BlockedAmount = account.BlockedAmount.Sub(released)
		row.Amount = released
		row.EntryType = model.EntryTypeMemo

	case model.TransactionTypeIPOAllotment:
		if op.ReleaseAmount.GreaterThan(account.BlockedAmount) {
			return nil, model.ErrInsufficientBlockedFunds
		}
		account.BlockedAmount = account.BlockedAmount.Sub(op.ReleaseAmount)
		if op.Amount.GreaterThan(account.AvailableBalance()) {
			return nil, model.ErrInsufficientBlockedFunds
		}
		account.Balance = account.Balance.Sub(op.Amount)
		if op.Amount.IsPositive() {
			row.EntryType = model.EntryTypeDebit
		} else {
			row.Amount = op.ReleaseAmount
			row.EntryType = model.EntryTypeMemo
		}

	case model.TransactionTypeTransfer:
		return nil, fmt.Errorf("%w: transfer touches two accounts", model.ErrUnknownTransactionType)

	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownTransactionType, op.Type)
	}

	row.BalanceAfter = account.Balance
	row.BlockedAfter = account.BlockedAmount
	return row, nil
}

func (e *Engine) transferTx(ctx context.Context, tx store.Tx, op Operation) ([]*model.Transaction, error) {
	if !op.Amount.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	if op.AccountID == op.ToAccountID {
		return nil, model.ErrSameAccount
	}

	locked, err := e.LockAccounts(ctx, tx, op.AccountID, op.ToAccountID)
	if err != nil {
		return nil, err
	}
	from, to := locked[op.AccountID], locked[op.ToAccountID]
	if prior, found, err := e.ReplayTx(ctx, tx, op); err != nil || found {
		return prior, err
	}

	if !from.IsActive() || !to.IsActive() {
		return nil, model.ErrAccountNotActive
	}
	if from.Currency != to.Currency {
		return nil, model.ErrCurrencyMismatch
	}
	if err := model.CheckCurrencyScale(op.Amount, from.Currency); err != nil {
		return nil, err
	}
	if op.Amount.GreaterThan(from.AvailableBalance()) {
		return nil, model.ErrInsufficientFunds
	}

	// Both legs share one reference so they can be paired later
	transferID := uuid.New()
	if op.ReferenceID == nil {
		op.ReferenceType = model.ReferenceTypeTransfer
		op.ReferenceID = &transferID
	}

	from.Balance = from.Balance.Sub(op.Amount)
	to.Balance = to.Balance.Add(op.Amount)

	debit := e.newRow(from.ID, op)
	debit.EntryType = model.EntryTypeDebit
	debit.BalanceAfter = from.Balance
	debit.BlockedAfter = from.BlockedAmount

	credit := e.newRow(to.ID, op)
	credit.EntryType = model.EntryTypeCredit
	credit.BalanceAfter = to.Balance
	credit.BlockedAfter = to.BlockedAmount

	if err := e.persist(ctx, tx, from, debit); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, tx, to, credit); err != nil {
		return nil, err
	}
	return []*model.Transaction{debit, credit}, nil
}

// ReplayTx returns the journal rows already written for op's idempotency
// key. found is false when op has no key or the key is unused; a key
// written by a different operation fails with ErrIdempotencyConflict.
func (e *Engine) ReplayTx(ctx context.Context, tx store.Tx, op Operation) (rows []*model.Transaction, found bool, err error) {
	if op.IdempotencyKey == "" {
		return nil, false, nil
	}
	prior, err := tx.FindTransactionsByIdempotencyKey(ctx, op.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if len(prior) == 0 {
		return nil, false, nil
	}
	if !sameOperation(prior, op) {
		return nil, false, model.ErrIdempotencyConflict
	}

	rows = make([]*model.Transaction, len(prior))
	for i := range prior {
		rows[i] = &prior[i]
	}
	e.logger.Info("ledger operation replayed",
		zap.String("type", string(op.Type)),
		zap.String("idempotency_key", op.IdempotencyKey),
	)
	return rows, true, nil
}

// sameOperation reports whether rows were written by op.
// Transfers write the debit leg first.
func sameOperation(rows []model.Transaction, op Operation) bool {
	want := 1
	if op.Type == model.TransactionTypeTransfer {
		want = 2
	}
	if len(rows) != want {
		return false
	}
	for _, r := range rows {
		if r.Type != op.Type || !r.Amount.Equal(op.Amount) {
			return false
		}
	}
	if rows[0].AccountID != op.AccountID {
		return false
	}
	return want == 1 || rows[1].AccountID == op.ToAccountID
}

// LockAccounts takes row locks on every id in ascending order and returns
// the locked accounts keyed by id
func (e *Engine) LockAccounts(ctx context.Context, tx store.Tx, ids ...uuid.UUID) (map[uuid.UUID]*model.Account, error) {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	out := make(map[uuid.UUID]*model.Account, len(sorted))
	for _, id := range sorted {
		a, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (e *Engine) newRow(accountID uuid.UUID, op Operation) *model.Transaction {
	now := e.now().UTC()
	return &model.Transaction{
		ID:             uuid.New(),
		ReceiptCode:    e.ids.ReceiptCode(now),
		AccountID:      accountID,
		Type:           op.Type,
		Amount:         op.Amount,
		Description:    op.Description,
		ReferenceType:  op.ReferenceType,
		ReferenceID:    op.ReferenceID,
		IdempotencyKey: op.IdempotencyKey,
		CreatedAt:      now,
	}
}

func (e *Engine) persist(ctx context.Context, tx store.Tx, account *model.Account, row *model.Transaction) error {
	account.UpdatedAt = row.CreatedAt
	if err := tx.SaveAccount(ctx, account); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	if err := tx.AppendTransaction(ctx, row); err != nil {
		return fmt.Errorf("failed to append journal row: %w", err)
	}
	return nil
}

func (e *Engine) logFailure(op Operation, err error) {
	fields := []zap.Field{
		zap.String("type", string(op.Type)),
		zap.String("account_id", op.AccountID.String()),
		zap.String("amount", op.Amount.String()),
		zap.String("code", model.Code(err)),
	}
	if model.IsDomainError(err) {
		e.logger.Debug("ledger operation rejected", append(fields, zap.Error(err))...)
		return
	}
	e.logger.Error("ledger operation failed", append(fields, zap.Error(err))...)
}

// validateAmounts rejects non-positive amounts before any lock is taken
func validateAmounts(op Operation) error {
	if op.Type == model.TransactionTypeIPOAllotment {
		if op.Amount.IsNegative() || op.ReleaseAmount.IsNegative() {
			return model.ErrInvalidAmount
		}
		if op.Amount.IsZero() && op.ReleaseAmount.IsZero() {
			return model.ErrInvalidAmount
		}
		return nil
	}
	if !op.Amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	return nil
}

// checkScale rejects amounts finer than the account currency's minor unit
func checkScale(a *model.Account, op Operation) error {
	if err := model.CheckCurrencyScale(op.Amount, a.Currency); err != nil {
		return err
	}
	return model.CheckCurrencyScale(op.ReleaseAmount, a.Currency)
}

// checkStatus enforces account status rules. A release may run on a
// frozen account so pending commitments can still be unwound.
func checkStatus(a *model.Account, t model.TransactionType) error {
	switch a.Status {
	case model.AccountStatusActive:
		return nil
	case model.AccountStatusFrozen:
		if t == model.TransactionTypeIPORelease {
			return nil
		}
	}
	return model.ErrAccountNotActive
}
