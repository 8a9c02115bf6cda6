package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IPOStatus is the lifecycle state of an IPO application
type IPOStatus string

const (
	IPOStatusPending  IPOStatus = "pending"
	IPOStatusVerified IPOStatus = "verified"
	IPOStatusAllotted IPOStatus = "allotted"
	IPOStatusRejected IPOStatus = "rejected"
)

// IsTerminal reports whether no further transition is possible
func (s IPOStatus) IsTerminal() bool {
	return s == IPOStatusAllotted || s == IPOStatusRejected
}

// CanTransitionTo reports whether an application may move from s to next
func (s IPOStatus) CanTransitionTo(next IPOStatus) bool {
	switch s {
	case IPOStatusPending:
		return next == IPOStatusVerified || next == IPOStatusRejected
	case IPOStatusVerified:
		return next == IPOStatusAllotted || next == IPOStatusRejected
	}
	return false
}

// IPOApplication is a customer's subscription to a share offering.
// While pending or verified, TotalAmount is blocked on the account.
type IPOApplication struct {
	ID               uuid.UUID       `json:"id"`
	CustomerID       uuid.UUID       `json:"customer_id"`
	AccountID        uuid.UUID       `json:"account_id"`
	CompanyName      string          `json:"company_name"`
	Quantity         int64           `json:"quantity"`
	PricePerShare    decimal.Decimal `json:"price_per_share"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AllottedQuantity int64           `json:"allotted_quantity"`
	Status           IPOStatus       `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HoldsFunds returns true while the application keeps an active block
func (a *IPOApplication) HoldsFunds() bool {
	return a.Status == IPOStatusPending || a.Status == IPOStatusVerified
}

// SubmitIPORequest is the payload for applying to an IPO
type SubmitIPORequest struct {
	CustomerID    uuid.UUID       `json:"customer_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	CompanyName   string          `json:"company_name"`
	Quantity      int64           `json:"quantity"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
}

// Validate checks if the submit request is valid
func (r SubmitIPORequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !r.PricePerShare.IsPositive() {
		return ErrInvalidAmount
	}
	if err := CheckScale(r.PricePerShare, MaxAmountScale); err != nil {
		return err
	}
	if r.CompanyName == "" {
		return ErrInvalidChange
	}
	return nil
}

// TotalAmount returns quantity × price
func (r SubmitIPORequest) TotalAmount() decimal.Decimal {
	return r.PricePerShare.Mul(decimal.NewFromInt(r.Quantity))
}

// AllotIPORequest is the payload for allotting shares
type AllotIPORequest struct {
	AllottedQuantity int64 `json:"allotted_quantity"`
}

// AllotmentResult reports the outcome of an allotment
type AllotmentResult struct {
	Application   *IPOApplication `json:"application"`
	SettledAmount decimal.Decimal `json:"settled_amount"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
	Transaction   *Transaction    `json:"transaction"`
	Investment    *Investment     `json:"investment,omitempty"`
}

// RejectionResult reports the outcome of a rejection or withdrawal
type RejectionResult struct {
	Application  *IPOApplication `json:"application"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Transaction  *Transaction    `json:"transaction,omitempty"`
}
