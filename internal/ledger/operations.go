package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Deposit credits amount to the account
func (e *Engine) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*model.Transaction, error) {
	return e.applyOne(ctx, Operation{
		Type:        model.TransactionTypeDeposit,
		AccountID:   accountID,
		Amount:      amount,
		Description: description,
	})
}

// Withdraw debits amount from the account's available balance
func (e *Engine) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*model.Transaction, error) {
	return e.applyOne(ctx, Operation{
		Type:        model.TransactionTypeWithdrawal,
		AccountID:   accountID,
		Amount:      amount,
		Description: description,
	})
}

// DeductFee debits a fee from the account's available balance
func (e *Engine) DeductFee(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*model.Transaction, error) {
	return e.applyOne(ctx, Operation{
		Type:        model.TransactionTypeFeeDeduction,
		AccountID:   accountID,
		Amount:      amount,
		Description: description,
	})
}

// Transfer moves amount between two active accounts of the same currency
func (e *Engine) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, description string) (*model.TransferResult, error) {
	rows, err := e.Apply(ctx, Operation{
		Type:        model.TransactionTypeTransfer,
		AccountID:   fromID,
		ToAccountID: toID,
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	return &model.TransferResult{Debit: rows[0], Credit: rows[1]}, nil
}

// Hold reserves amount against the account's available balance
func (e *Engine) Hold(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, refType string, refID uuid.UUID) (*model.Transaction, error) {
	return e.applyOne(ctx, HoldOp(accountID, amount, refType, refID))
}

// Release frees up to amount of the account's blocked funds
func (e *Engine) Release(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, refType string, refID uuid.UUID) (*model.Transaction, error) {
	return e.applyOne(ctx, ReleaseOp(accountID, amount, refType, refID))
}

// Settle releases releaseAmount from the block and debits debitAmount from the balance
func (e *Engine) Settle(ctx context.Context, accountID uuid.UUID, releaseAmount, debitAmount decimal.Decimal, refType string, refID uuid.UUID) (*model.Transaction, error) {
	return e.applyOne(ctx, SettleOp(accountID, releaseAmount, debitAmount, refType, refID))
}

// Credit adds amount to the account under one of the credit transaction types
func (e *Engine) Credit(ctx context.Context, accountID uuid.UUID, txType model.TransactionType, amount decimal.Decimal, refType string, refID uuid.UUID) (*model.Transaction, error) {
	switch txType {
	case model.TransactionTypeShareSale, model.TransactionTypeProfitDistribution, model.TransactionTypePrincipalReturn:
	default:
		return nil, fmt.Errorf("%w: %q is not a credit type", model.ErrUnknownTransactionType, txType)
	}
	return e.applyOne(ctx, Operation{
		Type:          txType,
		AccountID:     accountID,
		Amount:        amount,
		ReferenceType: refType,
		ReferenceID:   &refID,
	})
}

// ApplyOneTx applies an operation that writes a single journal row inside tx
func (e *Engine) ApplyOneTx(ctx context.Context, tx store.Tx, op Operation) (*model.Transaction, error) {
	rows, err := e.ApplyTx(ctx, tx, op)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// HoldOp builds an ipo_hold operation
func HoldOp(accountID uuid.UUID, amount decimal.Decimal, refType string, refID uuid.UUID) Operation {
	return Operation{
		Type:          model.TransactionTypeIPOHold,
		AccountID:     accountID,
		Amount:        amount,
		Description:   "funds blocked",
		ReferenceType: refType,
		ReferenceID:   &refID,
	}
}

// ReleaseOp builds an ipo_release operation
func ReleaseOp(accountID uuid.UUID, amount decimal.Decimal, refType string, refID uuid.UUID) Operation {
	return Operation{
		Type:          model.TransactionTypeIPORelease,
		AccountID:     accountID,
		Amount:        amount,
		Description:   "blocked funds released",
		ReferenceType: refType,
		ReferenceID:   &refID,
	}
}

// SettleOp builds an ipo_allotment operation
func SettleOp(accountID uuid.UUID, releaseAmount, debitAmount decimal.Decimal, refType string, refID uuid.UUID) Operation {
	return Operation{
		Type:          model.TransactionTypeIPOAllotment,
		AccountID:     accountID,
		Amount:        debitAmount,
		ReleaseAmount: releaseAmount,
		Description:   "allotment settled",
		ReferenceType: refType,
		ReferenceID:   &refID,
	}
}

func (e *Engine) applyOne(ctx context.Context, op Operation) (*model.Transaction, error) {
	rows, err := e.Apply(ctx, op)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}
