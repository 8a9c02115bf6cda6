package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// Numeric columns are read as text so no value passes through float64
const accountColumns = `
	id, account_number, customer_id, account_type, currency, status,
	balance::text, blocked_amount::text, held_balance::text, created_at, updated_at
`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.AccountNumber,
		&a.CustomerID,
		&a.AccountType,
		&a.Currency,
		&a.Status,
		&a.Balance,
		&a.BlockedAmount,
		&a.HeldBalance,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAccountNotFound
		}
		return nil, storageError("get account", err)
	}
	return &a, nil
}

func getAccount(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanAccount(q.QueryRow(ctx, query, id))
}

// GetAccount retrieves an account by its ID
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return getAccount(ctx, s.db, id, false)
}

// GetAccountByNumber retrieves an account by its account number
func (s *Store) GetAccountByNumber(ctx context.Context, accountNumber string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return scanAccount(s.db.QueryRow(ctx, query, accountNumber))
}

// GetAccountForUpdate retrieves an account and locks its row
func (t *tx) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return getAccount(ctx, t.q, id, true)
}

// CreateAccount inserts a new account
func (t *tx) CreateAccount(ctx context.Context, a *model.Account) error {
	query := `
		INSERT INTO accounts (id, account_number, customer_id, account_type, currency, status,
			balance, blocked_amount, held_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.q.Exec(ctx, query,
		a.ID,
		a.AccountNumber,
		a.CustomerID,
		a.AccountType,
		a.Currency,
		a.Status,
		a.Balance,
		a.BlockedAmount,
		a.HeldBalance,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrAccountExists
		}
		return storageError("create account", err)
	}
	return nil
}

// SaveAccount writes an account's mutable fields back
func (t *tx) SaveAccount(ctx context.Context, a *model.Account) error {
	query := `
		UPDATE accounts
		SET account_type = $2, currency = $3, status = $4,
			balance = $5, blocked_amount = $6, held_balance = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := t.q.Exec(ctx, query,
		a.ID,
		a.AccountType,
		a.Currency,
		a.Status,
		a.Balance,
		a.BlockedAmount,
		a.HeldBalance,
		a.UpdatedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return model.ErrInsufficientFunds
		}
		return storageError("save account", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}
