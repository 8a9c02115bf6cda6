package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

const applicationColumns = `
	id, customer_id, account_id, company_name, quantity, price_per_share::text,
	total_amount::text, allotted_quantity, status, created_at, updated_at
`

func scanApplication(row pgx.Row) (*model.IPOApplication, error) {
	var a model.IPOApplication
	err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.AccountID,
		&a.CompanyName,
		&a.Quantity,
		&a.PricePerShare,
		&a.TotalAmount,
		&a.AllottedQuantity,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrApplicationNotFound
		}
		return nil, storageError("get ipo application", err)
	}
	return &a, nil
}

// GetIPOApplication retrieves an application by its ID
func (s *Store) GetIPOApplication(ctx context.Context, id uuid.UUID) (*model.IPOApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM ipo_applications WHERE id = $1`
	return scanApplication(s.db.QueryRow(ctx, query, id))
}

// GetIPOApplicationForUpdate retrieves an application and locks its row
func (t *tx) GetIPOApplicationForUpdate(ctx context.Context, id uuid.UUID) (*model.IPOApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM ipo_applications WHERE id = $1 FOR UPDATE`
	return scanApplication(t.q.QueryRow(ctx, query, id))
}

// CreateIPOApplication inserts a new application
func (t *tx) CreateIPOApplication(ctx context.Context, a *model.IPOApplication) error {
	query := `
		INSERT INTO ipo_applications (id, customer_id, account_id, company_name, quantity,
			price_per_share, total_amount, allotted_quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.q.Exec(ctx, query,
		a.ID,
		a.CustomerID,
		a.AccountID,
		a.CompanyName,
		a.Quantity,
		a.PricePerShare,
		a.TotalAmount,
		a.AllottedQuantity,
		a.Status,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return storageError("create ipo application", err)
	}
	return nil
}

// SaveIPOApplication writes an application's mutable fields back
func (t *tx) SaveIPOApplication(ctx context.Context, a *model.IPOApplication) error {
	query := `
		UPDATE ipo_applications
		SET quantity = $2, price_per_share = $3, total_amount = $4,
			allotted_quantity = $5, status = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := t.q.Exec(ctx, query,
		a.ID,
		a.Quantity,
		a.PricePerShare,
		a.TotalAmount,
		a.AllottedQuantity,
		a.Status,
		a.UpdatedAt,
	)
	if err != nil {
		return storageError("save ipo application", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrApplicationNotFound
	}
	return nil
}

// DeleteIPOApplication removes a withdrawn application
func (t *tx) DeleteIPOApplication(ctx context.Context, id uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM ipo_applications WHERE id = $1`, id)
	if err != nil {
		return storageError("delete ipo application", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrApplicationNotFound
	}
	return nil
}
