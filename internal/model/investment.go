package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvestmentStatus is the lifecycle state of an investment
type InvestmentStatus string

const (
	InvestmentStatusOpen   InvestmentStatus = "open"
	InvestmentStatusClosed InvestmentStatus = "closed"
)

// SplitRatios divides realised profit between investor, customer and platform
type SplitRatios struct {
	Investor decimal.Decimal `json:"investor_ratio"`
	Customer decimal.Decimal `json:"customer_ratio"`
	Admin    decimal.Decimal `json:"admin_ratio"`
}

// Validate checks every ratio is within [0, 1] and that they sum to exactly 1
func (r SplitRatios) Validate() error {
	for _, v := range []decimal.Decimal{r.Investor, r.Customer, r.Admin} {
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
			return ErrInvalidChange
		}
	}
	if !r.Investor.Add(r.Customer).Add(r.Admin).Equal(decimal.NewFromInt(1)) {
		return ErrInvalidChange
	}
	return nil
}

// Investment is a capital position held on behalf of an account
type Investment struct {
	ID               uuid.UUID        `json:"id"`
	AccountID        uuid.UUID        `json:"account_id"`
	IPOApplicationID *uuid.UUID       `json:"ipo_application_id,omitempty"`
	CompanyName      string           `json:"company_name"`
	SharesHeld       int64            `json:"shares_held"`
	CostBasis        decimal.Decimal  `json:"cost_basis"`
	Ratios           SplitRatios      `json:"ratios"`
	Status           InvestmentStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// CreateInvestmentRequest is the payload for recording an investment directly
type CreateInvestmentRequest struct {
	AccountID   uuid.UUID       `json:"account_id"`
	CompanyName string          `json:"company_name"`
	SharesHeld  int64           `json:"shares_held"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	Ratios      *SplitRatios    `json:"ratios,omitempty"`
}

// Validate checks if the create request is valid
func (r CreateInvestmentRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return ErrAccountNotFound
	}
	if r.SharesHeld <= 0 {
		return ErrInvalidQuantity
	}
	if r.CostBasis.IsNegative() {
		return ErrInvalidAmount
	}
	if err := CheckScale(r.CostBasis, MaxAmountScale); err != nil {
		return err
	}
	if r.Ratios != nil {
		return r.Ratios.Validate()
	}
	return nil
}

// DistributionRequest is the payload for liquidating part of an investment
type DistributionRequest struct {
	SharesSold        int64           `json:"shares_sold"`
	SalePricePerShare decimal.Decimal `json:"sale_price_per_share"`
}

// Validate checks if the distribution request is valid
func (r DistributionRequest) Validate() error {
	if r.SharesSold <= 0 {
		return ErrInvalidQuantity
	}
	if r.SalePricePerShare.IsNegative() {
		return ErrInvalidAmount
	}
	return CheckScale(r.SalePricePerShare, MaxAmountScale)
}

// Split is the computed breakdown of a sale.
// InvestorShare + CustomerShare + AdminFee == TotalProfit.
type Split struct {
	TotalSale     decimal.Decimal `json:"total_sale"`
	Principal     decimal.Decimal `json:"principal"`
	CostBasisSold decimal.Decimal `json:"cost_basis_sold"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	InvestorShare decimal.Decimal `json:"investor_share"`
	CustomerShare decimal.Decimal `json:"customer_share"`
	AdminFee      decimal.Decimal `json:"admin_fee"`
}

// Settlement is the amount credited to the originating account
func (s Split) Settlement() decimal.Decimal {
	return s.Principal.Add(s.CustomerShare)
}

// ProfitDistribution records one realised sale and its split
type ProfitDistribution struct {
	ID                uuid.UUID       `json:"id"`
	InvestmentID      uuid.UUID       `json:"investment_id"`
	AccountID         uuid.UUID       `json:"account_id"`
	SharesSold        int64           `json:"shares_sold"`
	SalePricePerShare decimal.Decimal `json:"sale_price_per_share"`
	Split
	TransactionID    *uuid.UUID `json:"transaction_id,omitempty"`
	FeeTransactionID *uuid.UUID `json:"fee_transaction_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
