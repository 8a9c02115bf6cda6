package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType represents the type of brokerage account
type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
	AccountTypePlatform AccountType = "platform"
)

// PlatformFeeAccountNumber is the default account number for the platform's fee account
const PlatformFeeAccountNumber = "PLATFORM-FEES-001"

// AccountStatus represents the current status of an account
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Valid reports whether s is a known account status
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether an account may move from s to next.
// Closed is terminal.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	switch s {
	case AccountStatusActive:
		return next == AccountStatusFrozen || next == AccountStatusClosed
	case AccountStatusFrozen:
		return next == AccountStatusActive || next == AccountStatusClosed
	}
	return false
}

// Valid reports whether t is a known account type
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypePlatform:
		return true
	}
	return false
}

// Account holds a customer's (or the platform's) funds.
// BlockedAmount and HeldBalance are reservations against Balance;
// AvailableBalance is derived and never stored.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	AccountNumber string          `json:"account_number"`
	CustomerID    *uuid.UUID      `json:"customer_id,omitempty"`
	AccountType   AccountType     `json:"account_type"`
	Currency      string          `json:"currency"`
	Status        AccountStatus   `json:"status"`
	Balance       decimal.Decimal `json:"balance"`
	BlockedAmount decimal.Decimal `json:"blocked_amount"`
	HeldBalance   decimal.Decimal `json:"held_balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AvailableBalance returns balance minus every reservation
func (a *Account) AvailableBalance() decimal.Decimal {
	return a.Balance.Sub(a.BlockedAmount).Sub(a.HeldBalance)
}

// IsActive returns true if the account accepts balance-affecting operations
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// IsSystemAccount returns true for the platform's own accounts
func (a *Account) IsSystemAccount() bool {
	return a.AccountType == AccountTypePlatform
}

// CheckInvariants verifies the balance constraints that must hold after every operation
func (a *Account) CheckInvariants() error {
	if a.Balance.IsNegative() || a.BlockedAmount.IsNegative() || a.HeldBalance.IsNegative() {
		return ErrInsufficientFunds
	}
	if a.AvailableBalance().IsNegative() {
		return ErrInsufficientFunds
	}
	return nil
}

// IsEmpty reports whether the account holds no funds and no reservations
func (a *Account) IsEmpty() bool {
	return a.Balance.IsZero() && a.BlockedAmount.IsZero() && a.HeldBalance.IsZero()
}

// MarshalJSON adds the derived available balance to the payload
func (a Account) MarshalJSON() ([]byte, error) {
	type alias Account
	return json.Marshal(struct {
		alias
		AvailableBalance decimal.Decimal `json:"available_balance"`
	}{
		alias:            alias(a),
		AvailableBalance: a.AvailableBalance(),
	})
}

// CreateAccountRequest is the payload for opening a new account
type CreateAccountRequest struct {
	AccountNumber string      `json:"account_number,omitempty"`
	CustomerID    *uuid.UUID  `json:"customer_id,omitempty"`
	AccountType   AccountType `json:"account_type"`
	Currency      string      `json:"currency"`
}

// Validate checks if the create request is valid
func (r CreateAccountRequest) Validate() error {
	// The platform account is only created by bootstrap
	if r.AccountType == AccountTypePlatform || !r.AccountType.Valid() {
		return ErrInvalidAccountType
	}
	return ValidateCurrency(r.Currency)
}

// Changes converts the request to a create proposal payload
func (r CreateAccountRequest) Changes() Changes {
	c := Changes{
		"account_type": string(r.AccountType),
		"currency":     r.Currency,
	}
	if r.AccountNumber != "" {
		c["account_number"] = r.AccountNumber
	}
	if r.CustomerID != nil {
		c["customer_id"] = r.CustomerID.String()
	}
	return c
}
