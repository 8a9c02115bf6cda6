package profit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/queue"
	"github.com/simonkvalheim/hm9-backoffice/internal/repository/memory"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

var operator = model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

type fixture struct {
	svc       *Service
	store     *memory.Store
	engine    *ledger.Engine
	events    *queue.MemoryPublisher
	accountID uuid.UUID
	feeID     uuid.UUID
}

func createAccount(t *testing.T, s *memory.Store, number string, typ model.AccountType) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAccount(ctx, &model.Account{
			ID:            id,
			AccountNumber: number,
			AccountType:   typ,
			Currency:      "NPR",
			Status:        model.AccountStatusActive,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return id
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	engine := ledger.NewEngine(s)
	events := &queue.MemoryPublisher{}

	f := &fixture{
		store:     s,
		engine:    engine,
		events:    events,
		accountID: createAccount(t, s, "ACC-PROFIT-1", model.AccountTypeChecking),
		feeID:     createAccount(t, s, model.PlatformFeeAccountNumber, model.AccountTypePlatform),
	}
	f.svc = NewService(engine, Config{
		DefaultRatios:    defaultRatios,
		FeeAccountNumber: model.PlatformFeeAccountNumber,
		Publisher:        events,
	})
	return f
}

func (f *fixture) invest(t *testing.T, shares int64, basis string) *model.Investment {
	t.Helper()
	inv, err := f.svc.CreateInvestment(context.Background(), model.CreateInvestmentRequest{
		AccountID:   f.accountID,
		CompanyName: "Himalayan Hydro",
		SharesHeld:  shares,
		CostBasis:   d(basis),
	})
	if err != nil {
		t.Fatalf("CreateInvestment() error = %v", err)
	}
	return inv
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) string {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	return a.Balance.String()
}

func TestDistributeFullSale(t *testing.T) {
	f := newFixture(t)
	inv := f.invest(t, 100, "1000")

	dist, err := f.svc.Distribute(context.Background(), operator, inv.ID, model.DistributionRequest{
		SharesSold:        100,
		SalePricePerShare: d("15"),
	})
	if err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	if !dist.Settlement().Equal(d("1150")) {
		t.Errorf("Settlement() = %s, want 1150", dist.Settlement())
	}
	if got := f.balance(t, f.accountID); got != "1150" {
		t.Errorf("account balance = %s, want 1150", got)
	}
	if got := f.balance(t, f.feeID); got != "100" {
		t.Errorf("fee account balance = %s, want 100", got)
	}
	if dist.TransactionID == nil || dist.FeeTransactionID == nil {
		t.Errorf("Distribute() transaction ids = %v, %v, want both set", dist.TransactionID, dist.FeeTransactionID)
	}

	after, err := f.svc.GetInvestment(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("GetInvestment() error = %v", err)
	}
	if after.SharesHeld != 0 || after.Status != model.InvestmentStatusClosed {
		t.Errorf("investment = %d shares %s, want 0 shares closed", after.SharesHeld, after.Status)
	}

	rows, err := f.store.ListTransactions(context.Background(), f.accountID, 0)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Type != model.TransactionTypeProfitDistribution {
		t.Errorf("journal = %v, want one profit_distribution row", rows)
	}

	if types := f.events.Types(); len(types) != 1 || types[0] != model.EventProfitDistributed {
		t.Errorf("events = %v, want [%s]", types, model.EventProfitDistributed)
	}
}

func TestDistributePartialSales(t *testing.T) {
	f := newFixture(t)
	inv := f.invest(t, 100, "1000")

	if _, err := f.svc.Distribute(context.Background(), operator, inv.ID, model.DistributionRequest{
		SharesSold:        40,
		SalePricePerShare: d("8"),
	}); err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	after, _ := f.svc.GetInvestment(context.Background(), inv.ID)
	if after.SharesHeld != 60 || !after.CostBasis.Equal(d("600")) {
		t.Errorf("investment = %d shares basis %s, want 60 shares basis 600", after.SharesHeld, after.CostBasis)
	}
	if got := f.balance(t, f.accountID); got != "320" {
		t.Errorf("account balance = %s, want 320", got)
	}
	if got := f.balance(t, f.feeID); got != "0" {
		t.Errorf("fee account balance = %s, want 0", got)
	}

	rows, _ := f.store.ListTransactions(context.Background(), f.accountID, 0)
	if len(rows) != 1 || rows[0].Type != model.TransactionTypePrincipalReturn {
		t.Errorf("journal = %v, want one principal_return row", rows)
	}

	_, err := f.svc.Distribute(context.Background(), operator, inv.ID, model.DistributionRequest{
		SharesSold:        61,
		SalePricePerShare: d("8"),
	})
	if !errors.Is(err, model.ErrOverSell) {
		t.Errorf("Distribute() error = %v, want %v", err, model.ErrOverSell)
	}

	dists, err := f.svc.ListDistributions(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("ListDistributions() error = %v", err)
	}
	if len(dists) != 1 {
		t.Errorf("ListDistributions() returned %d rows, want 1", len(dists))
	}
}

func TestDistributeClosedInvestment(t *testing.T) {
	f := newFixture(t)
	inv := f.invest(t, 10, "100")

	req := model.DistributionRequest{SharesSold: 10, SalePricePerShare: d("10")}
	if _, err := f.svc.Distribute(context.Background(), operator, inv.ID, req); err != nil {
		t.Fatalf("Distribute() error = %v", err)
	}

	tests := []struct {
		name string
		req  model.DistributionRequest
		want error
	}{
		{"sell again", req, model.ErrOverSell},
		{"single share", model.DistributionRequest{SharesSold: 1, SalePricePerShare: d("10")}, model.ErrOverSell},
		{"no shares", model.DistributionRequest{SharesSold: 0, SalePricePerShare: d("10")}, model.ErrInvalidQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Distribute(context.Background(), operator, inv.ID, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Distribute() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	inv := f.invest(t, 100, "1000")

	split, err := f.svc.Preview(context.Background(), inv.ID, model.DistributionRequest{
		SharesSold:        100,
		SalePricePerShare: d("15"),
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !split.AdminFee.Equal(d("100")) {
		t.Errorf("Preview().AdminFee = %s, want 100", split.AdminFee)
	}
	if got := f.balance(t, f.accountID); got != "0" {
		t.Errorf("account balance = %s, want 0", got)
	}
	if len(f.events.Events()) != 0 {
		t.Errorf("Preview() published %d events, want 0", len(f.events.Events()))
	}
}

func TestCreateInvestmentValidation(t *testing.T) {
	f := newFixture(t)

	bad := model.SplitRatios{Investor: d("0.5"), Customer: d("0.5"), Admin: d("0.1")}
	_, err := f.svc.CreateInvestment(context.Background(), model.CreateInvestmentRequest{
		AccountID:   f.accountID,
		CompanyName: "Himalayan Hydro",
		SharesHeld:  10,
		CostBasis:   d("100"),
		Ratios:      &bad,
	})
	if !errors.Is(err, model.ErrInvalidChange) {
		t.Errorf("CreateInvestment() error = %v, want %v", err, model.ErrInvalidChange)
	}

	_, err = f.svc.CreateInvestment(context.Background(), model.CreateInvestmentRequest{
		AccountID:  uuid.New(),
		SharesHeld: 10,
		CostBasis:  d("100"),
	})
	if !errors.Is(err, model.ErrAccountNotFound) {
		t.Errorf("CreateInvestment() error = %v, want %v", err, model.ErrAccountNotFound)
	}
}
