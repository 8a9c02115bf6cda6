package approval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/hm9-backoffice/internal/account"
	"github.com/simonkvalheim/hm9-backoffice/internal/ipo"
	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/queue"
	"github.com/simonkvalheim/hm9-backoffice/internal/repository/memory"
)

var (
	maker   = model.Actor{ID: uuid.New(), Role: model.RoleMaker}
	checker = model.Actor{ID: uuid.New(), Role: model.RoleChecker}
	admin   = model.Actor{ID: uuid.New(), Role: model.RoleAdmin}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	gate     *Gate
	store    *memory.Store
	engine   *ledger.Engine
	accounts *account.Service
	ipos     *ipo.Service
	events   *queue.MemoryPublisher
}

func newFixture(t *testing.T, protectLedger bool) *fixture {
	t.Helper()
	s := memory.New()
	engine := ledger.NewEngine(s)
	events := &queue.MemoryPublisher{}
	accounts := account.NewService(engine, nil)
	ipos := ipo.NewService(engine, ipo.Config{
		DefaultRatios: model.SplitRatios{Investor: d("0.5"), Customer: d("0.3"), Admin: d("0.2")},
	})
	gate := NewGate(s, DefaultPolicy(protectLedger), Config{Publisher: events},
		NewAccountTarget(accounts),
		NewIPOTarget(ipos),
		NewLedgerOperationTarget(engine),
	)
	return &fixture{gate: gate, store: s, engine: engine, accounts: accounts, ipos: ipos, events: events}
}

func (f *fixture) openAccount(t *testing.T, deposit string) *model.Account {
	t.Helper()
	res, err := f.gate.Propose(context.Background(), maker, model.ProposeRequest{
		TargetModel:      model.TargetAccount,
		ChangeType:       model.ChangeTypeCreate,
		RequestedChanges: model.Changes{"account_type": "savings", "currency": "NPR"},
	})
	if err != nil {
		t.Fatalf("Propose(create) error = %v", err)
	}
	acc, ok := res.Applied.(*model.Account)
	if !ok || res.Pending {
		t.Fatalf("Propose(create) = %+v, want an applied account", res)
	}
	if deposit != "" {
		if _, err := f.engine.Deposit(context.Background(), acc.ID, d(deposit), "funding"); err != nil {
			t.Fatalf("Deposit() error = %v", err)
		}
	}
	return acc
}

func (f *fixture) status(t *testing.T, id uuid.UUID) model.AccountStatus {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	return acc.Status
}

func freeze(id uuid.UUID) model.ProposeRequest {
	return model.ProposeRequest{
		TargetModel:      model.TargetAccount,
		TargetID:         id,
		ChangeType:       model.ChangeTypeUpdate,
		RequestedChanges: model.Changes{"status": "frozen"},
	}
}

func TestMakerCheckerFreeze(t *testing.T) {
	f := newFixture(t, false)
	acc := f.openAccount(t, "")

	res, err := f.gate.Propose(context.Background(), maker, freeze(acc.ID))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if !res.Pending || res.Request == nil {
		t.Fatalf("Propose() = %+v, want a pending request", res)
	}
	if got := f.status(t, acc.ID); got != model.AccountStatusActive {
		t.Errorf("status after propose = %s, want active", got)
	}
	if got := res.Request.OriginalValues["status"]; got != "active" {
		t.Errorf("OriginalValues[status] = %v, want active", got)
	}

	if _, err := f.gate.Propose(context.Background(), maker, freeze(acc.ID)); !errors.Is(err, model.ErrDuplicatePendingRequest) {
		t.Errorf("second Propose() error = %v, want %v", err, model.ErrDuplicatePendingRequest)
	}

	if _, err := f.gate.Approve(context.Background(), maker, res.Request.ID, ""); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Approve() by maker error = %v, want %v", err, model.ErrUnauthorized)
	}

	decided, err := f.gate.Approve(context.Background(), checker, res.Request.ID, "ok")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if decided.Request.Status != model.RequestStatusApproved || decided.Request.ReviewedBy == nil {
		t.Errorf("Approve() request = %+v, want approved with reviewer", decided.Request)
	}
	if got := f.status(t, acc.ID); got != model.AccountStatusFrozen {
		t.Errorf("status after approve = %s, want frozen", got)
	}

	if _, err := f.gate.Approve(context.Background(), checker, res.Request.ID, ""); !errors.Is(err, model.ErrRequestNotPending) {
		t.Errorf("second Approve() error = %v, want %v", err, model.ErrRequestNotPending)
	}
	if _, err := f.gate.Reject(context.Background(), admin, res.Request.ID, ""); !errors.Is(err, model.ErrRequestNotPending) {
		t.Errorf("Reject() after approve error = %v, want %v", err, model.ErrRequestNotPending)
	}

	want := []model.EventType{model.EventModificationProposed, model.EventModificationApproved}
	got := f.events.Types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRejectLeavesTargetUntouched(t *testing.T) {
	f := newFixture(t, false)
	acc := f.openAccount(t, "")

	res, err := f.gate.Propose(context.Background(), maker, freeze(acc.ID))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	decided, err := f.gate.Reject(context.Background(), checker, res.Request.ID, "not needed")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if decided.Request.Status != model.RequestStatusRejected || decided.Request.ReviewNotes != "not needed" {
		t.Errorf("Reject() request = %+v, want rejected with notes", decided.Request)
	}
	if got := f.status(t, acc.ID); got != model.AccountStatusActive {
		t.Errorf("status after reject = %s, want active", got)
	}

	// A new proposal is allowed once the previous one is decided
	if _, err := f.gate.Propose(context.Background(), maker, freeze(acc.ID)); err != nil {
		t.Errorf("Propose() after reject error = %v", err)
	}
}

func TestDirectWriteByAdmin(t *testing.T) {
	f := newFixture(t, false)
	acc := f.openAccount(t, "")

	res, err := f.gate.Propose(context.Background(), admin, freeze(acc.ID))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if res.Pending || res.Request != nil {
		t.Errorf("Propose() by admin = %+v, want direct", res)
	}
	if got := f.status(t, acc.ID); got != model.AccountStatusFrozen {
		t.Errorf("status = %s, want frozen", got)
	}

	if _, err := f.gate.Propose(context.Background(), admin, freeze(acc.ID)); !errors.Is(err, model.ErrInvalidChange) {
		t.Errorf("Propose() without a diff error = %v, want %v", err, model.ErrInvalidChange)
	}
}

func TestApproveStaleRequest(t *testing.T) {
	f := newFixture(t, false)
	acc := f.openAccount(t, "")

	res, err := f.gate.Propose(context.Background(), maker, freeze(acc.ID))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if _, err := f.gate.Propose(context.Background(), admin, freeze(acc.ID)); err != nil {
		t.Fatalf("direct Propose() error = %v", err)
	}

	if _, err := f.gate.Approve(context.Background(), checker, res.Request.ID, ""); !errors.Is(err, model.ErrStaleRequest) {
		t.Errorf("Approve() error = %v, want %v", err, model.ErrStaleRequest)
	}
	mr, err := f.gate.Get(context.Background(), res.Request.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !mr.IsPending() {
		t.Errorf("request status = %s, want pending", mr.Status)
	}
}

func TestApprovalReenforcesInvariants(t *testing.T) {
	f := newFixture(t, false)
	acc := f.openAccount(t, "100")

	res, err := f.gate.Propose(context.Background(), maker, model.ProposeRequest{
		TargetModel: model.TargetAccount,
		TargetID:    acc.ID,
		ChangeType:  model.ChangeTypeDelete,
	})
	if err != nil {
		t.Fatalf("Propose(delete) error = %v", err)
	}
	if _, err := f.gate.Approve(context.Background(), checker, res.Request.ID, ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("Approve(close non-empty) error = %v, want %v", err, model.ErrInvalidTransition)
	}
	if got := f.status(t, acc.ID); got != model.AccountStatusActive {
		t.Errorf("status = %s, want active", got)
	}
}

func TestIPOAllotmentThroughGate(t *testing.T) {
	f := newFixture(t, false)
	acc := f.openAccount(t, "1000")

	res, err := f.gate.Propose(context.Background(), maker, model.ProposeRequest{
		TargetModel: model.TargetIPOApplication,
		ChangeType:  model.ChangeTypeCreate,
		RequestedChanges: model.Changes{
			"account_id":      acc.ID.String(),
			"company_name":    "Himalayan Hydro",
			"quantity":        100,
			"price_per_share": "10",
		},
	})
	if err != nil {
		t.Fatalf("Propose(submit) error = %v", err)
	}
	app := res.Applied.(*model.IPOApplication)

	if _, err := f.ipos.Verify(context.Background(), checker, app.ID); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	res, err = f.gate.Propose(context.Background(), maker, model.ProposeRequest{
		TargetModel:      model.TargetIPOApplication,
		TargetID:         app.ID,
		ChangeType:       model.ChangeTypeUpdate,
		RequestedChanges: model.Changes{"status": "allotted", "allotted_quantity": 60},
	})
	if err != nil {
		t.Fatalf("Propose(allot) error = %v", err)
	}
	if !res.Pending {
		t.Fatalf("Propose(allot) by maker = %+v, want pending", res)
	}

	decided, err := f.gate.Approve(context.Background(), checker, res.Request.ID, "")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	allot := decided.Applied.(*model.AllotmentResult)
	if !allot.SettledAmount.Equal(d("600")) || !allot.RefundAmount.Equal(d("400")) {
		t.Errorf("allotment = settled %s refund %s, want 600 and 400", allot.SettledAmount, allot.RefundAmount)
	}

	after, _ := f.store.GetAccount(context.Background(), acc.ID)
	if !after.Balance.Equal(d("400")) || !after.BlockedAmount.IsZero() {
		t.Errorf("account = balance %s blocked %s, want 400 and 0", after.Balance, after.BlockedAmount)
	}
}

func TestProtectedLedgerOperation(t *testing.T) {
	f := newFixture(t, true)
	acc := f.openAccount(t, "")

	res, err := f.gate.Propose(context.Background(), maker, model.ProposeRequest{
		TargetModel: model.TargetLedgerOperation,
		ChangeType:  model.ChangeTypeCreate,
		RequestedChanges: LedgerChanges(ledger.Operation{
			Type:      model.TransactionTypeDeposit,
			AccountID: acc.ID,
			Amount:    d("250"),
		}),
	})
	if err != nil {
		t.Fatalf("Propose(deposit) error = %v", err)
	}
	if !res.Pending {
		t.Fatalf("Propose(deposit) = %+v, want pending", res)
	}

	decided, err := f.gate.Approve(context.Background(), checker, res.Request.ID, "")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	row := decided.Applied.(*model.Transaction)
	if row.ReferenceType != model.ReferenceTypeModification || row.ReferenceID == nil || *row.ReferenceID != res.Request.ID {
		t.Errorf("journal reference = %s %v, want the request", row.ReferenceType, row.ReferenceID)
	}
	after, _ := f.store.GetAccount(context.Background(), acc.ID)
	if !after.Balance.Equal(d("250")) {
		t.Errorf("balance = %s, want 250", after.Balance)
	}
}

func TestProposeValidation(t *testing.T) {
	f := newFixture(t, false)
	acc := f.openAccount(t, "")

	tests := []struct {
		name  string
		actor model.Actor
		req   model.ProposeRequest
		want  error
	}{
		{
			name:  "unknown role",
			actor: model.Actor{ID: uuid.New(), Role: "intern"},
			req:   freeze(acc.ID),
			want:  model.ErrUnauthorized,
		},
		{
			name:  "unknown target",
			actor: maker,
			req:   model.ProposeRequest{TargetModel: "Customer", TargetID: acc.ID, ChangeType: model.ChangeTypeUpdate},
			want:  model.ErrUnknownTarget,
		},
		{
			name:  "unknown field",
			actor: maker,
			req: model.ProposeRequest{
				TargetModel:      model.TargetAccount,
				TargetID:         acc.ID,
				ChangeType:       model.ChangeTypeUpdate,
				RequestedChanges: model.Changes{"balance": "1000000"},
			},
			want: model.ErrInvalidChange,
		},
		{
			name:  "missing target",
			actor: maker,
			req:   freeze(uuid.New()),
			want:  model.ErrAccountNotFound,
		},
		{
			name:  "update without target id",
			actor: maker,
			req:   freeze(uuid.Nil),
			want:  model.ErrInvalidChange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.gate.Propose(context.Background(), tt.actor, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Propose() error = %v, want %v", err, tt.want)
			}
		})
	}

	requests, err := f.gate.List(context.Background(), model.ModificationFilter{Status: model.RequestStatusPending})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(requests) != 0 {
		t.Errorf("List() returned %d pending requests, want 0", len(requests))
	}
}

func withdrawal(accountID uuid.UUID, amount, key string) model.ProposeRequest {
	return model.ProposeRequest{
		TargetModel: model.TargetLedgerOperation,
		ChangeType:  model.ChangeTypeCreate,
		RequestedChanges: LedgerChanges(ledger.Operation{
			Type:           model.TransactionTypeWithdrawal,
			AccountID:      accountID,
			Amount:         d(amount),
			IdempotencyKey: key,
		}),
	}
}

func TestRetriedLedgerProposal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	acc := f.openAccount(t, "1000")

	res, err := f.gate.Propose(ctx, maker, withdrawal(acc.ID, "300", "wd-1"))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if !res.Pending || res.Request.TargetID != LedgerTargetID("wd-1") {
		t.Fatalf("Propose() = %+v, want pending on the keyed target", res)
	}
	if _, err := f.gate.Propose(ctx, maker, withdrawal(acc.ID, "300", "wd-1")); !errors.Is(err, model.ErrDuplicatePendingRequest) {
		t.Errorf("retried Propose() error = %v, want %v", err, model.ErrDuplicatePendingRequest)
	}

	decided, err := f.gate.Approve(ctx, checker, res.Request.ID, "")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	posted := decided.Applied.(*model.Transaction)

	again, err := f.gate.Propose(ctx, maker, withdrawal(acc.ID, "300", "wd-1"))
	if err != nil {
		t.Fatalf("Propose() after approval error = %v", err)
	}
	if again.Pending || again.Applied.(*model.Transaction).ID != posted.ID {
		t.Errorf("Propose() after approval = %+v, want the posted row %s", again, posted.ID)
	}
	if _, err := f.gate.Propose(ctx, maker, withdrawal(acc.ID, "500", "wd-1")); !errors.Is(err, model.ErrIdempotencyConflict) {
		t.Errorf("Propose() with reused key error = %v, want %v", err, model.ErrIdempotencyConflict)
	}

	after, _ := f.store.GetAccount(ctx, acc.ID)
	if !after.Balance.Equal(d("700")) {
		t.Errorf("balance = %s, want 700", after.Balance)
	}
	pending, err := f.gate.List(ctx, model.ModificationFilter{Status: model.RequestStatusPending})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending requests = %d, want 0", len(pending))
	}
}

func TestLedgerProposalTargetMustMatchKey(t *testing.T) {
	f := newFixture(t, true)
	acc := f.openAccount(t, "1000")

	req := withdrawal(acc.ID, "300", "wd-1")
	req.TargetID = uuid.New()
	if _, err := f.gate.Propose(context.Background(), maker, req); !errors.Is(err, model.ErrInvalidChange) {
		t.Errorf("Propose() error = %v, want %v", err, model.ErrInvalidChange)
	}
}

func TestConcurrentProposalsKeepOnePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	acc := f.openAccount(t, "")

	const proposers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		refused  int
	)
	for i := 0; i < proposers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gate.Propose(ctx, maker, freeze(acc.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, model.ErrDuplicatePendingRequest):
				refused++
			default:
				t.Errorf("Propose() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || refused != proposers-1 {
		t.Errorf("accepted = %d refused = %d, want 1 and %d", accepted, refused, proposers-1)
	}
	pending, err := f.gate.List(ctx, model.ModificationFilter{Status: model.RequestStatusPending, TargetID: &acc.ID})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending requests = %d, want 1", len(pending))
	}
}

func TestApproveRacesDirectWithdrawal(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		f := newFixture(t, false)
		acc := f.openAccount(t, "1000")
		res, err := f.gate.Propose(ctx, maker, freeze(acc.ID))
		if err != nil {
			t.Fatalf("Propose() error = %v", err)
		}

		var (
			wg          sync.WaitGroup
			approveErr  error
			withdrawErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = f.gate.Approve(ctx, checker, res.Request.ID, "")
		}()
		go func() {
			defer wg.Done()
			_, withdrawErr = f.engine.Withdraw(ctx, acc.ID, d("300"), "")
		}()
		wg.Wait()

		if approveErr != nil {
			t.Fatalf("round %d: Approve() error = %v", round, approveErr)
		}
		want := "700"
		switch {
		case withdrawErr == nil:
		case errors.Is(withdrawErr, model.ErrAccountNotActive):
			want = "1000"
		default:
			t.Fatalf("round %d: Withdraw() error = %v", round, withdrawErr)
		}

		after, err := f.store.GetAccount(ctx, acc.ID)
		if err != nil {
			t.Fatalf("GetAccount() error = %v", err)
		}
		if after.Status != model.AccountStatusFrozen || !after.Balance.Equal(d(want)) {
			t.Errorf("round %d: account = %s/%s, want frozen/%s", round, after.Status, after.Balance, want)
		}
		rec, err := f.engine.Reconcile(ctx, acc.ID)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if !rec.Consistent || !rec.Replay.Balance.Equal(after.Balance) {
			t.Errorf("round %d: replay = %s consistent=%v, want %s", round, rec.Replay.Balance, rec.Consistent, after.Balance)
		}
	}
}
