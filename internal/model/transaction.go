package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of balance-affecting operation
type TransactionType string

const (
	TransactionTypeDeposit            TransactionType = "deposit"
	TransactionTypeWithdrawal         TransactionType = "withdrawal"
	TransactionTypeTransfer           TransactionType = "transfer"
	TransactionTypeIPOHold            TransactionType = "ipo_hold"
	TransactionTypeIPORelease         TransactionType = "ipo_release"
	TransactionTypeIPOAllotment       TransactionType = "ipo_allotment"
	TransactionTypeShareSale          TransactionType = "share_sale"
	TransactionTypeProfitDistribution TransactionType = "profit_distribution"
	TransactionTypeFeeDeduction       TransactionType = "fee_deduction"
	TransactionTypePrincipalReturn    TransactionType = "principal_return"
)

// TransactionTypes lists every supported transaction type
var TransactionTypes = []TransactionType{
	TransactionTypeDeposit,
	TransactionTypeWithdrawal,
	TransactionTypeTransfer,
	TransactionTypeIPOHold,
	TransactionTypeIPORelease,
	TransactionTypeIPOAllotment,
	TransactionTypeShareSale,
	TransactionTypeProfitDistribution,
	TransactionTypeFeeDeduction,
	TransactionTypePrincipalReturn,
}

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EntryType describes how a journal row affects the account balance
type EntryType string

const (
	EntryTypeCredit EntryType = "credit" // balance increases by Amount
	EntryTypeDebit  EntryType = "debit"  // balance decreases by Amount
	EntryTypeMemo   EntryType = "memo"   // balance unchanged, only reservations move
)

// Reference types recorded on journal rows
const (
	ReferenceTypeIPOApplication = "ipo_application"
	ReferenceTypeInvestment     = "investment"
	ReferenceTypeTransfer       = "transfer"
	ReferenceTypeModification   = "modification_request"
)

// Transaction is an immutable journal row. Replaying an account's rows in
// Sequence order reproduces its balance. IdempotencyKey is the client key
// the operation was posted under; a key is written once per entry type.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	Sequence       int64           `json:"sequence"`
	ReceiptCode    string          `json:"receipt_code"`
	AccountID      uuid.UUID       `json:"account_id"`
	Type           TransactionType `json:"transaction_type"`
	EntryType      EntryType       `json:"entry_type"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	BlockedAfter   decimal.Decimal `json:"blocked_after"`
	Description    string          `json:"description,omitempty"`
	ReferenceType  string          `json:"reference_type,omitempty"`
	ReferenceID    *uuid.UUID      `json:"reference_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SignedAmount returns the balance delta of the row
func (t *Transaction) SignedAmount() decimal.Decimal {
	switch t.EntryType {
	case EntryTypeCredit:
		return t.Amount
	case EntryTypeDebit:
		return t.Amount.Neg()
	}
	return decimal.Zero
}

// AmountRequest is the payload for deposits and withdrawals
type AmountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// CreateTransferRequest is the payload for moving funds between two accounts
type CreateTransferRequest struct {
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ToAccountID   uuid.UUID       `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
}

// Validate checks if the transfer request is valid
func (r CreateTransferRequest) Validate() error {
	if r.FromAccountID == uuid.Nil || r.ToAccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if r.FromAccountID == r.ToAccountID {
		return ErrSameAccount
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// TransferResult holds both journal rows written by a transfer
type TransferResult struct {
	Debit  *Transaction `json:"debit"`
	Credit *Transaction `json:"credit"`
}
