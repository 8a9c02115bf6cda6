package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/hm9-backoffice/internal/account"
	"github.com/simonkvalheim/hm9-backoffice/internal/approval"
	"github.com/simonkvalheim/hm9-backoffice/internal/auth"
	"github.com/simonkvalheim/hm9-backoffice/internal/ipo"
	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/profit"
	"github.com/simonkvalheim/hm9-backoffice/internal/repository/memory"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid amount", model.ErrInvalidAmount, http.StatusBadRequest},
		{"invalid change", fmt.Errorf("%w: no fields", model.ErrInvalidChange), http.StatusBadRequest},
		{"unknown target", model.ErrUnknownTarget, http.StatusBadRequest},
		{"unauthorized", model.ErrUnauthorized, http.StatusForbidden},
		{"account not found", model.ErrAccountNotFound, http.StatusNotFound},
		{"request not found", model.ErrRequestNotFound, http.StatusNotFound},
		{"duplicate pending", model.ErrDuplicatePendingRequest, http.StatusConflict},
		{"not pending", model.ErrRequestNotPending, http.StatusConflict},
		{"stale", model.ErrStaleRequest, http.StatusConflict},
		{"transition", model.ErrInvalidTransition, http.StatusConflict},
		{"insufficient funds", model.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"insufficient blocked", model.ErrInsufficientBlockedFunds, http.StatusUnprocessableEntity},
		{"not active", model.ErrAccountNotActive, http.StatusUnprocessableEntity},
		{"oversell", model.ErrOverSell, http.StatusUnprocessableEntity},
		{"idempotency conflict", model.ErrIdempotencyConflict, http.StatusConflict},
		{"storage", fmt.Errorf("%w: failed to begin: %w", model.ErrStorageUnavailable, errors.New("eof")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

type server struct {
	t       *testing.T
	handler http.Handler
	tokens  map[model.Role]string
	actors  map[model.Role]model.Actor
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newServerWithPolicy(t, approval.DefaultPolicy(false))
}

func newServerWithPolicy(t *testing.T, policy approval.Policy) *server {
	t.Helper()
	s := memory.New()
	engine := ledger.NewEngine(s)
	ratios := model.SplitRatios{
		Investor: decimal.RequireFromString("0.5"),
		Customer: decimal.RequireFromString("0.3"),
		Admin:    decimal.RequireFromString("0.2"),
	}
	accounts := account.NewService(engine, nil)
	ipos := ipo.NewService(engine, ipo.Config{DefaultRatios: ratios})
	profits := profit.NewService(engine, profit.Config{DefaultRatios: ratios})
	gate := approval.NewGate(s, policy, approval.Config{},
		approval.NewAccountTarget(accounts),
		approval.NewIPOTarget(ipos),
		approval.NewLedgerOperationTarget(engine),
	)
	authSvc := auth.NewService(auth.DefaultConfig("test-secret"))

	srv := &server{
		t:      t,
		tokens: map[model.Role]string{},
		actors: map[model.Role]model.Actor{},
		handler: NewRouter(RouterConfig{
			Auth:     authSvc,
			Accounts: accounts,
			Engine:   engine,
			Gate:     gate,
			IPO:      ipos,
			Profit:   profits,
		}),
	}
	for _, role := range []model.Role{model.RoleMaker, model.RoleChecker, model.RoleAdmin} {
		actor := model.Actor{ID: uuid.New(), Role: role}
		tok, err := authSvc.Issue(actor)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		srv.tokens[role] = tok.AccessToken
		srv.actors[role] = actor
	}
	return srv
}

// do sends body as JSON with role's token and a fresh idempotency key and
// decodes the response into out
func (s *server) do(role model.Role, method, path string, body any, out any) int {
	s.t.Helper()
	return s.doWithKey(role, method, path, uuid.NewString(), body, out)
}

func (s *server) doWithKey(role model.Role, method, path, key string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[role])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			s.t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (s *server) openAccount(deposit string) model.Account {
	s.t.Helper()
	return s.openAccountBy(model.RoleMaker, deposit)
}

// openAccountAsAdmin funds the account with a direct write, for policies
// that protect ledger operations
func (s *server) openAccountAsAdmin(deposit string) model.Account {
	s.t.Helper()
	return s.openAccountBy(model.RoleAdmin, deposit)
}

func (s *server) openAccountBy(depositor model.Role, deposit string) model.Account {
	s.t.Helper()
	var acc model.Account
	if code := s.do(model.RoleAdmin, http.MethodPost, "/v1/accounts",
		map[string]string{"account_type": "savings", "currency": "NPR"}, &acc); code != http.StatusCreated {
		s.t.Fatalf("POST /v1/accounts = %d, want %d", code, http.StatusCreated)
	}
	if deposit != "" {
		path := "/v1/accounts/" + acc.ID.String() + "/deposit"
		if code := s.do(depositor, http.MethodPost, path, map[string]string{"amount": deposit}, nil); code != http.StatusCreated {
			s.t.Fatalf("POST %s = %d, want %d", path, code, http.StatusCreated)
		}
	}
	return acc
}

func (s *server) account(id uuid.UUID) model.Account {
	s.t.Helper()
	var acc model.Account
	if code := s.do(model.RoleMaker, http.MethodGet, "/v1/accounts/"+id.String(), nil, &acc); code != http.StatusOK {
		s.t.Fatalf("GET account = %d, want %d", code, http.StatusOK)
	}
	return acc
}

type pendingResult struct {
	Request model.ModificationRequest `json:"request"`
	Pending bool                      `json:"pending"`
}

func TestUnauthenticatedRequests(t *testing.T) {
	srv := newServer(t)

	if code := srv.do("", http.MethodGet, "/v1/accounts/"+uuid.NewString(), nil, nil); code != http.StatusUnauthorized {
		t.Errorf("GET without token = %d, want %d", code, http.StatusUnauthorized)
	}
	if code := srv.do("", http.MethodGet, "/health", nil, nil); code != http.StatusOK {
		t.Errorf("GET /health = %d, want %d", code, http.StatusOK)
	}
	if code := srv.do(model.RoleMaker, http.MethodGet, "/v1/accounts/not-a-uuid", nil, nil); code != http.StatusBadRequest {
		t.Errorf("GET malformed id = %d, want %d", code, http.StatusBadRequest)
	}

	var body errorResponse
	if code := srv.do(model.RoleMaker, http.MethodGet, "/v1/accounts/"+uuid.NewString(), nil, &body); code != http.StatusNotFound {
		t.Errorf("GET unknown account = %d, want %d", code, http.StatusNotFound)
	}
	if body.Code != "AccountNotFound" {
		t.Errorf("error code = %q, want AccountNotFound", body.Code)
	}
}

func TestAccountFreezeOverHTTP(t *testing.T) {
	srv := newServer(t)
	acc := srv.openAccount("1000")
	path := "/v1/accounts/" + acc.ID.String()

	var pending pendingResult
	code := srv.do(model.RoleMaker, http.MethodPatch, path, map[string]string{"status": "frozen"}, &pending)
	if code != http.StatusAccepted || !pending.Pending {
		t.Fatalf("PATCH by maker = %d %+v, want 202 pending", code, pending)
	}
	if got := srv.account(acc.ID).Status; got != model.AccountStatusActive {
		t.Errorf("status before approval = %s, want active", got)
	}

	// A second proposal on the same account is refused
	if code := srv.do(model.RoleMaker, http.MethodDelete, path, nil, nil); code != http.StatusConflict {
		t.Errorf("second proposal = %d, want %d", code, http.StatusConflict)
	}

	approve := "/v1/modification-requests/" + pending.Request.ID.String() + "/approve"
	if code := srv.do(model.RoleMaker, http.MethodPost, approve, nil, nil); code != http.StatusForbidden {
		t.Errorf("maker approving = %d, want %d", code, http.StatusForbidden)
	}
	if code := srv.do(model.RoleChecker, http.MethodPost, approve, map[string]string{"notes": "ok"}, nil); code != http.StatusOK {
		t.Fatalf("checker approving = %d, want %d", code, http.StatusOK)
	}
	if code := srv.do(model.RoleChecker, http.MethodPost, approve, nil, nil); code != http.StatusConflict {
		t.Errorf("second decision = %d, want %d", code, http.StatusConflict)
	}
	if got := srv.account(acc.ID).Status; got != model.AccountStatusFrozen {
		t.Errorf("status after approval = %s, want frozen", got)
	}

	var body errorResponse
	code = srv.do(model.RoleMaker, http.MethodPost, path+"/deposit", map[string]string{"amount": "10"}, &body)
	if code != http.StatusUnprocessableEntity || body.Code != "AccountNotActive" {
		t.Errorf("deposit to frozen = %d %s, want 422 AccountNotActive", code, body.Code)
	}

	var listed []model.ModificationRequest
	if code := srv.do(model.RoleChecker, http.MethodGet, "/v1/modification-requests?status=approved&target_id="+acc.ID.String(), nil, &listed); code != http.StatusOK {
		t.Fatalf("list = %d, want %d", code, http.StatusOK)
	}
	if len(listed) != 1 || listed[0].ReviewNotes != "ok" {
		t.Errorf("list = %+v, want one approved request with notes", listed)
	}
}

func TestLedgerRetriesWithIdempotencyKey(t *testing.T) {
	srv := newServer(t)
	acc := srv.openAccount("")
	path := "/v1/accounts/" + acc.ID.String() + "/deposit"
	deposit := map[string]string{"amount": "250"}

	var first, retry model.Transaction
	if code := srv.doWithKey(model.RoleMaker, http.MethodPost, path, "dep-1", deposit, &first); code != http.StatusCreated {
		t.Fatalf("deposit = %d, want %d", code, http.StatusCreated)
	}
	if code := srv.doWithKey(model.RoleMaker, http.MethodPost, path, "dep-1", deposit, &retry); code != http.StatusCreated {
		t.Fatalf("retried deposit = %d, want %d", code, http.StatusCreated)
	}
	if retry.ID != first.ID {
		t.Errorf("retried deposit row = %s, want %s", retry.ID, first.ID)
	}
	if got := srv.account(acc.ID).Balance; !got.Equal(decimal.RequireFromString("250")) {
		t.Errorf("balance = %s, want 250", got)
	}

	var body errorResponse
	code := srv.doWithKey(model.RoleMaker, http.MethodPost, path, "dep-1", map[string]string{"amount": "300"}, &body)
	if code != http.StatusConflict || body.Code != "IdempotencyConflict" {
		t.Errorf("reused key = %d %s, want 409 IdempotencyConflict", code, body.Code)
	}
	if code := srv.doWithKey(model.RoleMaker, http.MethodPost, path, "", deposit, nil); code != http.StatusBadRequest {
		t.Errorf("deposit without key = %d, want %d", code, http.StatusBadRequest)
	}
}

func TestProtectedWithdrawalRetries(t *testing.T) {
	srv := newServerWithPolicy(t, approval.DefaultPolicy(true))
	acc := srv.openAccountAsAdmin("1000")
	path := "/v1/accounts/" + acc.ID.String() + "/withdraw"
	withdraw := map[string]string{"amount": "300"}

	var pending pendingResult
	if code := srv.doWithKey(model.RoleMaker, http.MethodPost, path, "wd-1", withdraw, &pending); code != http.StatusAccepted {
		t.Fatalf("withdraw by maker = %d, want %d", code, http.StatusAccepted)
	}
	var body errorResponse
	code := srv.doWithKey(model.RoleMaker, http.MethodPost, path, "wd-1", withdraw, &body)
	if code != http.StatusConflict || body.Code != "DuplicatePendingRequest" {
		t.Errorf("retry while pending = %d %s, want 409 DuplicatePendingRequest", code, body.Code)
	}

	approve := "/v1/modification-requests/" + pending.Request.ID.String() + "/approve"
	if code := srv.do(model.RoleChecker, http.MethodPost, approve, nil, nil); code != http.StatusOK {
		t.Fatalf("approve = %d, want %d", code, http.StatusOK)
	}

	var row model.Transaction
	if code := srv.doWithKey(model.RoleMaker, http.MethodPost, path, "wd-1", withdraw, &row); code != http.StatusCreated {
		t.Fatalf("retry after approval = %d, want %d", code, http.StatusCreated)
	}
	if row.IdempotencyKey != "wd-1" || row.Type != model.TransactionTypeWithdrawal {
		t.Errorf("retry after approval row = %+v, want the posted withdrawal", row)
	}
	if got := srv.account(acc.ID).Balance; !got.Equal(decimal.RequireFromString("700")) {
		t.Errorf("balance = %s, want 700", got)
	}

	var listed []model.ModificationRequest
	if code := srv.do(model.RoleChecker, http.MethodGet, "/v1/modification-requests?target_model=LedgerOperation", nil, &listed); code != http.StatusOK {
		t.Fatalf("list = %d, want %d", code, http.StatusOK)
	}
	withdrawals := 0
	for _, mr := range listed {
		if mr.TargetID == approval.LedgerTargetID("wd-1") {
			withdrawals++
		}
	}
	if withdrawals != 1 {
		t.Errorf("requests for the withdrawal = %d, want 1", withdrawals)
	}
}

func TestIPOFlowOverHTTP(t *testing.T) {
	srv := newServer(t)
	acc := srv.openAccount("1000")
	accPath := "/v1/accounts/" + acc.ID.String()

	var app model.IPOApplication
	code := srv.do(model.RoleMaker, http.MethodPost, "/v1/ipo-applications", map[string]any{
		"account_id":      acc.ID,
		"company_name":    "Fjord Hydro",
		"quantity":        100,
		"price_per_share": "4",
	}, &app)
	if code != http.StatusCreated {
		t.Fatalf("submit = %d, want %d", code, http.StatusCreated)
	}

	var body errorResponse
	code = srv.do(model.RoleMaker, http.MethodPost, accPath+"/withdraw", map[string]string{"amount": "700"}, &body)
	if code != http.StatusUnprocessableEntity || body.Code != "InsufficientFunds" {
		t.Errorf("withdraw over available = %d %s, want 422 InsufficientFunds", code, body.Code)
	}

	appPath := "/v1/ipo-applications/" + app.ID.String()
	if code := srv.do(model.RoleChecker, http.MethodPost, appPath+"/verify", nil, &app); code != http.StatusOK {
		t.Fatalf("verify by checker = %d, want %d", code, http.StatusOK)
	}
	if app.Status != model.IPOStatusVerified {
		t.Errorf("status = %s, want verified", app.Status)
	}

	var pending pendingResult
	code = srv.do(model.RoleMaker, http.MethodPost, appPath+"/allot", map[string]int{"allotted_quantity": 60}, &pending)
	if code != http.StatusAccepted {
		t.Fatalf("allot by maker = %d, want %d", code, http.StatusAccepted)
	}
	approve := "/v1/modification-requests/" + pending.Request.ID.String() + "/approve"
	if code := srv.do(model.RoleChecker, http.MethodPost, approve, nil, nil); code != http.StatusOK {
		t.Fatalf("approve allotment = %d, want %d", code, http.StatusOK)
	}

	got := srv.account(acc.ID)
	if !got.Balance.Equal(decimal.RequireFromString("760")) || !got.BlockedAmount.IsZero() {
		t.Errorf("account = balance %s blocked %s, want 760 and 0", got.Balance, got.BlockedAmount)
	}

	if code := srv.do(model.RoleAdmin, http.MethodPost, appPath+"/reject", nil, &body); code != http.StatusConflict {
		t.Errorf("reject after allotment = %d, want %d", code, http.StatusConflict)
	}

	var rows []model.Transaction
	if code := srv.do(model.RoleMaker, http.MethodGet, accPath+"/transactions", nil, &rows); code != http.StatusOK {
		t.Fatalf("transactions = %d, want %d", code, http.StatusOK)
	}
	if len(rows) != 3 {
		t.Errorf("journal rows = %d, want 3 (deposit, hold, allotment)", len(rows))
	}

	var rec struct {
		Consistent bool `json:"consistent"`
	}
	if code := srv.do(model.RoleMaker, http.MethodGet, accPath+"/reconcile", nil, &rec); code != http.StatusOK || !rec.Consistent {
		t.Errorf("reconcile = %d consistent=%v, want 200 true", code, rec.Consistent)
	}
}

func TestInvestmentDistributionOverHTTP(t *testing.T) {
	srv := newServer(t)
	acc := srv.openAccount("")

	create := map[string]any{
		"account_id":   acc.ID,
		"company_name": "Fjord Hydro",
		"shares_held":  100,
		"cost_basis":   "1000",
	}
	if code := srv.do(model.RoleMaker, http.MethodPost, "/v1/investments", create, nil); code != http.StatusForbidden {
		t.Errorf("create by maker = %d, want %d", code, http.StatusForbidden)
	}

	var inv model.Investment
	if code := srv.do(model.RoleAdmin, http.MethodPost, "/v1/investments", create, &inv); code != http.StatusCreated {
		t.Fatalf("create by admin = %d, want %d", code, http.StatusCreated)
	}
	invPath := "/v1/investments/" + inv.ID.String()
	sale := map[string]any{"shares_sold": 100, "sale_price_per_share": "15"}

	var split model.Split
	if code := srv.do(model.RoleMaker, http.MethodPost, invPath+"/distributions/preview", sale, &split); code != http.StatusOK {
		t.Fatalf("preview = %d, want %d", code, http.StatusOK)
	}
	if !split.TotalProfit.Equal(decimal.RequireFromString("500")) {
		t.Errorf("preview profit = %s, want 500", split.TotalProfit)
	}

	if code := srv.do(model.RoleAdmin, http.MethodPost, invPath+"/distributions", sale, nil); code != http.StatusCreated {
		t.Fatalf("distribute = %d, want %d", code, http.StatusCreated)
	}
	if got := srv.account(acc.ID).Balance; !got.Equal(decimal.RequireFromString("1150")) {
		t.Errorf("balance = %s, want 1150", got)
	}

	var body errorResponse
	if code := srv.do(model.RoleAdmin, http.MethodPost, invPath+"/distributions", sale, &body); code != http.StatusUnprocessableEntity || body.Code != "OverSell" {
		t.Errorf("distribute from closed = %d %s, want %d OverSell", code, body.Code, http.StatusUnprocessableEntity)
	}

	var rows []model.ProfitDistribution
	if code := srv.do(model.RoleMaker, http.MethodGet, invPath+"/distributions", nil, &rows); code != http.StatusOK || len(rows) != 1 {
		t.Errorf("list distributions = %d with %d rows, want 200 with 1", code, len(rows))
	}
}

func TestHealthReportsStorageFailure(t *testing.T) {
	h := healthHandler(func(context.Context) error { return model.ErrStorageUnavailable })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
