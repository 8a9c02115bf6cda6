package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// tx stages writes until commit and tracks the lock keys it holds
type tx struct {
	s    *Store
	held map[string]bool
	// order of acquisition, released in reverse
	heldOrder []string

	accounts      map[uuid.UUID]model.Account
	journal       []model.Transaction
	requests      map[uuid.UUID]model.ModificationRequest
	applications  map[uuid.UUID]model.IPOApplication
	deletedApps   map[uuid.UUID]bool
	investments   map[uuid.UUID]model.Investment
	distributions []model.ProfitDistribution
}

var _ store.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		held:         make(map[string]bool),
		accounts:     make(map[uuid.UUID]model.Account),
		requests:     make(map[uuid.UUID]model.ModificationRequest),
		applications: make(map[uuid.UUID]model.IPOApplication),
		deletedApps:  make(map[uuid.UUID]bool),
		investments:  make(map[uuid.UUID]model.Investment),
	}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	t.heldOrder = append(t.heldOrder, key)
	return nil
}

func (t *tx) releaseLocks() {
	for i := len(t.heldOrder) - 1; i >= 0; i-- {
		t.s.locks.release(t.heldOrder[i])
	}
	t.heldOrder = nil
	t.held = map[string]bool{}
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range t.accounts {
		s.accounts[id] = a
		s.accountNumbers[a.AccountNumber] = id
	}
	s.journal = append(s.journal, t.journal...)
	for id, r := range t.requests {
		s.requests[id] = r
	}
	for id, a := range t.applications {
		s.applications[id] = a
	}
	for id := range t.deletedApps {
		delete(s.applications, id)
	}
	for id, inv := range t.investments {
		s.investments[id] = inv
	}
	s.distributions = append(s.distributions, t.distributions...)
}

// account reads the staged row first, then committed state
func (t *tx) account(id uuid.UUID) (model.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.accounts[id]
	return a, ok
}

func (t *tx) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	if err := t.lock(ctx, "account:"+id.String()); err != nil {
		return nil, err
	}
	a, ok := t.account(id)
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return &a, nil
}

func (t *tx) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := t.lock(ctx, "account-number:"+account.AccountNumber); err != nil {
		return err
	}
	if err := t.lock(ctx, "account:"+account.ID.String()); err != nil {
		return err
	}

	t.s.mu.RLock()
	_, numberTaken := t.s.accountNumbers[account.AccountNumber]
	_, idTaken := t.s.accounts[account.ID]
	t.s.mu.RUnlock()
	if numberTaken || idTaken {
		return model.ErrAccountExists
	}
	for _, staged := range t.accounts {
		if staged.AccountNumber == account.AccountNumber {
			return model.ErrAccountExists
		}
	}

	t.accounts[account.ID] = *account
	return nil
}

func (t *tx) SaveAccount(ctx context.Context, account *model.Account) error {
	if err := t.lock(ctx, "account:"+account.ID.String()); err != nil {
		return err
	}
	if _, ok := t.account(account.ID); !ok {
		return model.ErrAccountNotFound
	}
	t.accounts[account.ID] = *account
	return nil
}

func (t *tx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := t.lock(ctx, "account:"+txn.AccountID.String()); err != nil {
		return err
	}
	if txn.IdempotencyKey != "" {
		prior, err := t.FindTransactionsByIdempotencyKey(ctx, txn.IdempotencyKey)
		if err != nil {
			return err
		}
		for _, p := range prior {
			if p.EntryType == txn.EntryType {
				return model.ErrIdempotencyConflict
			}
		}
	}

	// Sequence numbers may skip on rollback, like a database sequence
	t.s.mu.Lock()
	t.s.seq++
	txn.Sequence = t.s.seq
	t.s.mu.Unlock()

	t.journal = append(t.journal, *txn)
	return nil
}

// FindTransactionsByIdempotencyKey locks the key so concurrent units using
// it queue behind each other
func (t *tx) FindTransactionsByIdempotencyKey(ctx context.Context, key string) ([]model.Transaction, error) {
	if err := t.lock(ctx, "idempotency:"+key); err != nil {
		return nil, err
	}

	var out []model.Transaction
	t.s.mu.RLock()
	for _, row := range t.s.journal {
		if row.IdempotencyKey == key {
			out = append(out, row)
		}
	}
	t.s.mu.RUnlock()
	for _, row := range t.journal {
		if row.IdempotencyKey == key {
			out = append(out, row)
		}
	}
	return out, nil
}

func (t *tx) request(id uuid.UUID) (model.ModificationRequest, bool) {
	if r, ok := t.requests[id]; ok {
		return r, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.requests[id]
	return r, ok
}

func (t *tx) GetModificationRequestForUpdate(ctx context.Context, id uuid.UUID) (*model.ModificationRequest, error) {
	if err := t.lock(ctx, "request:"+id.String()); err != nil {
		return nil, err
	}
	r, ok := t.request(id)
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

func (t *tx) LockTarget(ctx context.Context, targetModel model.TargetModel, targetID uuid.UUID) error {
	return t.lock(ctx, "target:"+pendingKey(targetModel, targetID))
}

func (t *tx) HasPendingModification(ctx context.Context, targetModel model.TargetModel, targetID uuid.UUID) (bool, error) {
	for _, r := range t.requests {
		if r.IsPending() && r.TargetModel == targetModel && r.TargetID == targetID {
			return true, nil
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, r := range t.s.requests {
		if _, overridden := t.requests[id]; overridden {
			continue
		}
		if r.IsPending() && r.TargetModel == targetModel && r.TargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CreateModificationRequest(ctx context.Context, req *model.ModificationRequest) error {
	if err := t.LockTarget(ctx, req.TargetModel, req.TargetID); err != nil {
		return err
	}
	if req.IsPending() {
		pending, err := t.HasPendingModification(ctx, req.TargetModel, req.TargetID)
		if err != nil {
			return err
		}
		if pending {
			return model.ErrDuplicatePendingRequest
		}
	}
	t.requests[req.ID] = *cloneRequest(*req)
	return nil
}

func (t *tx) SaveModificationRequest(ctx context.Context, req *model.ModificationRequest) error {
	if err := t.lock(ctx, "request:"+req.ID.String()); err != nil {
		return err
	}
	if _, ok := t.request(req.ID); !ok {
		return model.ErrRequestNotFound
	}
	t.requests[req.ID] = *cloneRequest(*req)
	return nil
}

func (t *tx) application(id uuid.UUID) (model.IPOApplication, bool) {
	if t.deletedApps[id] {
		return model.IPOApplication{}, false
	}
	if a, ok := t.applications[id]; ok {
		return a, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.applications[id]
	return a, ok
}

func (t *tx) GetIPOApplicationForUpdate(ctx context.Context, id uuid.UUID) (*model.IPOApplication, error) {
	if err := t.lock(ctx, "ipo:"+id.String()); err != nil {
		return nil, err
	}
	a, ok := t.application(id)
	if !ok {
		return nil, model.ErrApplicationNotFound
	}
	return &a, nil
}

func (t *tx) CreateIPOApplication(ctx context.Context, app *model.IPOApplication) error {
	if err := t.lock(ctx, "ipo:"+app.ID.String()); err != nil {
		return err
	}
	t.applications[app.ID] = *app
	return nil
}

func (t *tx) SaveIPOApplication(ctx context.Context, app *model.IPOApplication) error {
	if err := t.lock(ctx, "ipo:"+app.ID.String()); err != nil {
		return err
	}
	if _, ok := t.application(app.ID); !ok {
		return model.ErrApplicationNotFound
	}
	t.applications[app.ID] = *app
	return nil
}

func (t *tx) DeleteIPOApplication(ctx context.Context, id uuid.UUID) error {
	if err := t.lock(ctx, "ipo:"+id.String()); err != nil {
		return err
	}
	if _, ok := t.application(id); !ok {
		return model.ErrApplicationNotFound
	}
	delete(t.applications, id)
	t.deletedApps[id] = true
	return nil
}

func (t *tx) investment(id uuid.UUID) (model.Investment, bool) {
	if inv, ok := t.investments[id]; ok {
		return inv, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	inv, ok := t.s.investments[id]
	return inv, ok
}

func (t *tx) GetInvestmentForUpdate(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	if err := t.lock(ctx, "investment:"+id.String()); err != nil {
		return nil, err
	}
	inv, ok := t.investment(id)
	if !ok {
		return nil, model.ErrInvestmentNotFound
	}
	return &inv, nil
}

func (t *tx) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	if err := t.lock(ctx, "investment:"+inv.ID.String()); err != nil {
		return err
	}
	t.investments[inv.ID] = *inv
	return nil
}

func (t *tx) SaveInvestment(ctx context.Context, inv *model.Investment) error {
	if err := t.lock(ctx, "investment:"+inv.ID.String()); err != nil {
		return err
	}
	if _, ok := t.investment(inv.ID); !ok {
		return model.ErrInvestmentNotFound
	}
	t.investments[inv.ID] = *inv
	return nil
}

func (t *tx) CreateProfitDistribution(ctx context.Context, dist *model.ProfitDistribution) error {
	t.distributions = append(t.distributions, *dist)
	return nil
}
