package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

func TestReconcileAfterMixedOperations(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	id := createAccount(t, s, "USD", model.AccountStatusActive)
	other := createAccount(t, s, "USD", model.AccountStatusActive)
	ref := uuid.New()

	steps := []func() error{
		func() error {
			_, err := e.Deposit(ctx, id, d("1000"), "")
			return err
		},
		func() error {
			_, err := e.Hold(ctx, id, d("400"), model.ReferenceTypeIPOApplication, ref)
			return err
		},
		func() error {
			_, err := e.Withdraw(ctx, id, d("100.25"), "")
			return err
		},
		func() error {
			_, err := e.Transfer(ctx, id, other, d("50"), "")
			return err
		},
		func() error {
			_, err := e.Settle(ctx, id, d("400"), d("240"), model.ReferenceTypeIPOApplication, ref)
			return err
		},
		func() error {
			_, err := e.Credit(ctx, id, model.TransactionTypeProfitDistribution, d("12.75"), model.ReferenceTypeInvestment, ref)
			return err
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	rec, err := e.Reconcile(ctx, id)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !rec.Consistent {
		t.Errorf("Reconcile() consistent = false")
	}
	if !rec.Replay.Balance.Equal(d("622.5")) {
		t.Errorf("replayed balance = %s, want 622.5", rec.Replay.Balance)
	}
	if !rec.Replay.Blocked.IsZero() {
		t.Errorf("replayed blocked = %s, want 0", rec.Replay.Blocked)
	}
	if rec.Replay.Rows != 6 {
		t.Errorf("rows = %d, want 6", rec.Replay.Rows)
	}
}

func TestReplayDetectsTampering(t *testing.T) {
	rows := []model.Transaction{
		{Sequence: 1, EntryType: model.EntryTypeCredit, Amount: d("100"), BalanceAfter: d("100")},
		{Sequence: 2, EntryType: model.EntryTypeMemo, Amount: d("40"), BalanceAfter: d("100"), BlockedAfter: d("40")},
		{Sequence: 3, EntryType: model.EntryTypeDebit, Amount: d("30"), BalanceAfter: d("70"), BlockedAfter: d("40")},
	}

	res, err := Replay(rows)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if !res.Balance.Equal(d("70")) || !res.Blocked.Equal(d("40")) {
		t.Errorf("Replay() = %s/%s, want 70/40", res.Balance, res.Blocked)
	}

	tests := []struct {
		name   string
		mutate func([]model.Transaction)
	}{
		{name: "wrong balance snapshot", mutate: func(r []model.Transaction) { r[2].BalanceAfter = d("60") }},
		{name: "amount edited", mutate: func(r []model.Transaction) { r[0].Amount = d("90") }},
		{name: "out of order", mutate: func(r []model.Transaction) { r[1].Sequence = 5 }},
		{name: "zero amount", mutate: func(r []model.Transaction) { r[1].Amount = d("0") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := append([]model.Transaction(nil), rows...)
			tt.mutate(tampered)
			if _, err := Replay(tampered); !errors.Is(err, model.ErrJournalMismatch) {
				t.Errorf("Replay() error = %v, want ErrJournalMismatch", err)
			}
		})
	}
}
