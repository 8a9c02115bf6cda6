package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

const idempotencyIndex = "idx_transactions_idempotency"

// AppendTransaction inserts a journal row and fills in its sequence number
func (t *tx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	query := `
		INSERT INTO transactions (id, receipt_code, account_id, transaction_type, entry_type, amount,
			balance_after, blocked_after, description, reference_type, reference_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING sequence
	`
	err := t.q.QueryRow(ctx, query,
		txn.ID,
		txn.ReceiptCode,
		txn.AccountID,
		txn.Type,
		txn.EntryType,
		txn.Amount,
		txn.BalanceAfter,
		txn.BlockedAfter,
		txn.Description,
		txn.ReferenceType,
		txn.ReferenceID,
		txn.IdempotencyKey,
		txn.CreatedAt,
	).Scan(&txn.Sequence)
	if err != nil {
		if isUniqueViolation(err) && constraintName(err) == idempotencyIndex {
			return model.ErrIdempotencyConflict
		}
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %s", model.ErrInvalidAmount, constraintName(err))
		}
		return storageError("append journal row", err)
	}
	return nil
}

// FindTransactionsByIdempotencyKey returns the rows written under key
func (t *tx) FindTransactionsByIdempotencyKey(ctx context.Context, key string) ([]model.Transaction, error) {
	rows, err := t.q.Query(ctx, selectTransactions+` WHERE idempotency_key = $1 ORDER BY sequence`, key)
	if err != nil {
		return nil, storageError("find transactions by idempotency key", err)
	}
	return scanTransactions(rows)
}

// ListTransactions returns an account's journal in creation order.
// A limit <= 0 returns every row.
func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.Transaction, error) {
	query := selectTransactions + ` WHERE account_id = $1 ORDER BY sequence`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list transactions", err)
	}
	return scanTransactions(rows)
}

const selectTransactions = `
	SELECT id, sequence, receipt_code, account_id, transaction_type, entry_type, amount::text,
		balance_after::text, blocked_after::text, description, reference_type, reference_id,
		idempotency_key, created_at
	FROM transactions`

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		err := rows.Scan(
			&t.ID,
			&t.Sequence,
			&t.ReceiptCode,
			&t.AccountID,
			&t.Type,
			&t.EntryType,
			&t.Amount,
			&t.BalanceAfter,
			&t.BlockedAfter,
			&t.Description,
			&t.ReferenceType,
			&t.ReferenceID,
			&t.IdempotencyKey,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, storageError("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list transactions", err)
	}
	return out, nil
}
