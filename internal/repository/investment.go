package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

const investmentColumns = `
	id, account_id, ipo_application_id, company_name, shares_held, cost_basis::text,
	investor_ratio::text, customer_ratio::text, admin_ratio::text, status, created_at, updated_at
`

func scanInvestment(row pgx.Row) (*model.Investment, error) {
	var inv model.Investment
	err := row.Scan(
		&inv.ID,
		&inv.AccountID,
		&inv.IPOApplicationID,
		&inv.CompanyName,
		&inv.SharesHeld,
		&inv.CostBasis,
		&inv.Ratios.Investor,
		&inv.Ratios.Customer,
		&inv.Ratios.Admin,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrInvestmentNotFound
		}
		return nil, storageError("get investment", err)
	}
	return &inv, nil
}

// GetInvestment retrieves an investment by its ID
func (s *Store) GetInvestment(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE id = $1`
	return scanInvestment(s.db.QueryRow(ctx, query, id))
}

// GetInvestmentForUpdate retrieves an investment and locks its row
func (t *tx) GetInvestmentForUpdate(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE id = $1 FOR UPDATE`
	return scanInvestment(t.q.QueryRow(ctx, query, id))
}

// CreateInvestment inserts a new investment
func (t *tx) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	query := `
		INSERT INTO investments (id, account_id, ipo_application_id, company_name, shares_held, cost_basis,
			investor_ratio, customer_ratio, admin_ratio, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := t.q.Exec(ctx, query,
		inv.ID,
		inv.AccountID,
		inv.IPOApplicationID,
		inv.CompanyName,
		inv.SharesHeld,
		inv.CostBasis,
		inv.Ratios.Investor,
		inv.Ratios.Customer,
		inv.Ratios.Admin,
		inv.Status,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return model.ErrInvalidChange
		}
		return storageError("create investment", err)
	}
	return nil
}

// SaveInvestment writes an investment's position back
func (t *tx) SaveInvestment(ctx context.Context, inv *model.Investment) error {
	query := `
		UPDATE investments
		SET shares_held = $2, cost_basis = $3, status = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := t.q.Exec(ctx, query, inv.ID, inv.SharesHeld, inv.CostBasis, inv.Status, inv.UpdatedAt)
	if err != nil {
		return storageError("save investment", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrInvestmentNotFound
	}
	return nil
}

// CreateProfitDistribution records a realised sale
func (t *tx) CreateProfitDistribution(ctx context.Context, d *model.ProfitDistribution) error {
	query := `
		INSERT INTO profit_distributions (id, investment_id, account_id, shares_sold, sale_price_per_share,
			total_sale, principal, cost_basis_sold, total_profit, investor_share, customer_share, admin_fee,
			transaction_id, fee_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := t.q.Exec(ctx, query,
		d.ID,
		d.InvestmentID,
		d.AccountID,
		d.SharesSold,
		d.SalePricePerShare,
		d.TotalSale,
		d.Principal,
		d.CostBasisSold,
		d.TotalProfit,
		d.InvestorShare,
		d.CustomerShare,
		d.AdminFee,
		d.TransactionID,
		d.FeeTransactionID,
		d.CreatedAt,
	)
	if err != nil {
		return storageError("create profit distribution", err)
	}
	return nil
}

// ListProfitDistributions returns an investment's distributions in creation order
func (s *Store) ListProfitDistributions(ctx context.Context, investmentID uuid.UUID) ([]model.ProfitDistribution, error) {
	query := `
		SELECT id, investment_id, account_id, shares_sold, sale_price_per_share::text,
			total_sale::text, principal::text, cost_basis_sold::text, total_profit::text,
			investor_share::text, customer_share::text, admin_fee::text,
			transaction_id, fee_transaction_id, created_at
		FROM profit_distributions
		WHERE investment_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.Query(ctx, query, investmentID)
	if err != nil {
		return nil, storageError("list profit distributions", err)
	}
	defer rows.Close()

	out := []model.ProfitDistribution{}
	for rows.Next() {
		var d model.ProfitDistribution
		err := rows.Scan(
			&d.ID,
			&d.InvestmentID,
			&d.AccountID,
			&d.SharesSold,
			&d.SalePricePerShare,
			&d.TotalSale,
			&d.Principal,
			&d.CostBasisSold,
			&d.TotalProfit,
			&d.InvestorShare,
			&d.CustomerShare,
			&d.AdminFee,
			&d.TransactionID,
			&d.FeeTransactionID,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, storageError("scan profit distribution", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list profit distributions", err)
	}
	return out, nil
}
