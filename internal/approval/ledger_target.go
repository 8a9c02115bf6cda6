package approval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// ledgerKeyNamespace scopes target ids derived from idempotency keys
var ledgerKeyNamespace = uuid.MustParse("5b0f6c2e-7d1a-4f43-9a5e-2c8e1d6b7f30")

// LedgerTargetID returns the target id of the ledger operation posted under key
func LedgerTargetID(key string) uuid.UUID {
	return uuid.NewSHA1(ledgerKeyNamespace, []byte(key))
}

// LedgerOperationTarget routes deposits, withdrawals, transfers and fee
// deductions. Only creation is meaningful; journal rows are immutable.
type LedgerOperationTarget struct {
	engine *ledger.Engine
}

var _ Idempotent = (*LedgerOperationTarget)(nil)

// NewLedgerOperationTarget creates a new LedgerOperationTarget
func NewLedgerOperationTarget(engine *ledger.Engine) *LedgerOperationTarget {
	return &LedgerOperationTarget{engine: engine}
}

func (t *LedgerOperationTarget) Model() model.TargetModel {
	return model.TargetLedgerOperation
}

func (t *LedgerOperationTarget) Validate(m Mutation) error {
	if m.ChangeType != model.ChangeTypeCreate {
		return fmt.Errorf("%w: ledger operations can only be created", model.ErrInvalidChange)
	}
	op, err := ledgerOperation(m.Changes)
	if err != nil {
		return err
	}
	if !op.Amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	if op.IdempotencyKey != "" && m.TargetID != LedgerTargetID(op.IdempotencyKey) {
		return fmt.Errorf("%w: target id does not match the idempotency key", model.ErrInvalidChange)
	}
	return nil
}

func (t *LedgerOperationTarget) KeyedID(c model.Changes) uuid.UUID {
	key, err := optionalString(c, "idempotency_key")
	if err != nil || key == "" {
		return uuid.Nil
	}
	return LedgerTargetID(key)
}

func (t *LedgerOperationTarget) Replay(ctx context.Context, tx store.Tx, m Mutation) (any, bool, error) {
	op, err := ledgerOperation(m.Changes)
	if err != nil {
		return nil, false, err
	}
	rows, found, err := t.engine.ReplayTx(ctx, tx, op)
	if err != nil || !found {
		return nil, false, err
	}
	return ledgerResult(op, rows), true, nil
}

func (t *LedgerOperationTarget) Snapshot(ctx context.Context, tx store.Tx, m Mutation) (model.Changes, error) {
	return nil, nil
}

func (t *LedgerOperationTarget) Apply(ctx context.Context, tx store.Tx, m Mutation) (Applied, error) {
	op, err := ledgerOperation(m.Changes)
	if err != nil {
		return Applied{}, err
	}
	if m.RequestID != nil {
		op.ReferenceType = model.ReferenceTypeModification
		op.ReferenceID = m.RequestID
	}

	rows, err := t.engine.ApplyTx(ctx, tx, op)
	if err != nil {
		return Applied{}, err
	}
	return Applied{Result: ledgerResult(op, rows)}, nil
}

func ledgerResult(op ledger.Operation, rows []*model.Transaction) any {
	if op.Type == model.TransactionTypeTransfer {
		return &model.TransferResult{Debit: rows[0], Credit: rows[1]}
	}
	return rows[0]
}

// LedgerChanges builds the proposal payload for a ledger operation
func LedgerChanges(op ledger.Operation) model.Changes {
	c := model.Changes{
		"operation":  string(op.Type),
		"account_id": op.AccountID.String(),
		"amount":     op.Amount.String(),
	}
	if op.Type == model.TransactionTypeTransfer {
		c["to_account_id"] = op.ToAccountID.String()
	}
	if op.Description != "" {
		c["description"] = op.Description
	}
	if op.IdempotencyKey != "" {
		c["idempotency_key"] = op.IdempotencyKey
	}
	return c
}

func ledgerOperation(c model.Changes) (ledger.Operation, error) {
	name, err := c.String("operation")
	if err != nil {
		return ledger.Operation{}, err
	}
	txType := model.TransactionType(name)
	switch txType {
	case model.TransactionTypeDeposit, model.TransactionTypeWithdrawal,
		model.TransactionTypeTransfer, model.TransactionTypeFeeDeduction:
	default:
		return ledger.Operation{}, fmt.Errorf("%w: %q cannot be proposed", model.ErrUnknownTransactionType, name)
	}

	accountID, err := c.UUID("account_id")
	if err != nil {
		return ledger.Operation{}, err
	}
	amount, err := c.Decimal("amount")
	if err != nil {
		return ledger.Operation{}, err
	}
	description, err := optionalString(c, "description")
	if err != nil {
		return ledger.Operation{}, err
	}
	key, err := optionalString(c, "idempotency_key")
	if err != nil {
		return ledger.Operation{}, err
	}

	op := ledger.Operation{
		Type:           txType,
		AccountID:      accountID,
		Amount:         amount,
		Description:    description,
		IdempotencyKey: key,
	}
	if txType == model.TransactionTypeTransfer {
		if op.ToAccountID, err = c.UUID("to_account_id"); err != nil {
			return ledger.Operation{}, err
		}
		if op.ToAccountID == op.AccountID {
			return ledger.Operation{}, model.ErrSameAccount
		}
	}
	return op, nil
}
