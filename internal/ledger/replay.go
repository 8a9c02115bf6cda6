package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/metrics"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// ReplayResult is the state rebuilt from a journal
type ReplayResult struct {
	Balance decimal.Decimal `json:"balance"`
	Blocked decimal.Decimal `json:"blocked"`
	Rows    int             `json:"rows"`
}

// Replay rebuilds balance and blocked amount from rows in creation order and
// checks every row's snapshots against the running totals
func Replay(rows []model.Transaction) (ReplayResult, error) {
	var res ReplayResult
	balance, blocked := decimal.Zero, decimal.Zero

	for i, row := range rows {
		if !row.Amount.IsPositive() {
			return res, fmt.Errorf("%w: row %d has non-positive amount", model.ErrJournalMismatch, row.Sequence)
		}
		if i > 0 && row.Sequence <= rows[i-1].Sequence {
			return res, fmt.Errorf("%w: row %d out of order", model.ErrJournalMismatch, row.Sequence)
		}

		balance = balance.Add(row.SignedAmount())
		if !balance.Equal(row.BalanceAfter) {
			return res, fmt.Errorf("%w: row %d balance %s, replay %s",
				model.ErrJournalMismatch, row.Sequence, row.BalanceAfter, balance)
		}
		// Reservations are not derivable from the amount alone, the snapshot is authoritative
		blocked = row.BlockedAfter
		res.Rows++
	}

	res.Balance = balance
	res.Blocked = blocked
	return res, nil
}

// Reconciliation compares an account's stored state with its journal
type Reconciliation struct {
	AccountID     uuid.UUID       `json:"account_id"`
	StoredBalance decimal.Decimal `json:"stored_balance"`
	StoredBlocked decimal.Decimal `json:"stored_blocked"`
	Replay        ReplayResult    `json:"replay"`
	Consistent    bool            `json:"consistent"`
}

// Reconcile replays the account's journal and compares it with the stored balance
func (e *Engine) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListTransactions(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{
		AccountID:     accountID,
		StoredBalance: account.Balance,
		StoredBlocked: account.BlockedAmount,
	}

	replay, err := Replay(rows)
	if err == nil {
		rec.Replay = replay
		rec.Consistent = replay.Balance.Equal(account.Balance) && replay.Blocked.Equal(account.BlockedAmount)
		if !rec.Consistent {
			err = model.ErrJournalMismatch
		}
	}

	e.metrics.RecordReconciliation(metrics.Outcome(model.Code(err)))
	if err != nil {
		e.logger.Error("journal reconciliation failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
		return rec, err
	}
	return rec, nil
}
