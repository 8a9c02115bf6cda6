// Package memory is an in-process implementation of store.Store used by
// tests and local development. Rows are locked per key for the lifetime of
// a unit of work and writes become visible only on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Store keeps committed state in maps guarded by mu
type Store struct {
	mu    sync.RWMutex
	locks *keyedLocks

	accounts       map[uuid.UUID]model.Account
	accountNumbers map[string]uuid.UUID
	journal        []model.Transaction
	seq            int64
	requests       map[uuid.UUID]model.ModificationRequest
	applications   map[uuid.UUID]model.IPOApplication
	investments    map[uuid.UUID]model.Investment
	distributions  []model.ProfitDistribution
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store
func New() *Store {
	return &Store{
		locks:          newKeyedLocks(),
		accounts:       make(map[uuid.UUID]model.Account),
		accountNumbers: make(map[string]uuid.UUID),
		requests:       make(map[uuid.UUID]model.ModificationRequest),
		applications:   make(map[uuid.UUID]model.IPOApplication),
		investments:    make(map[uuid.UUID]model.Investment),
	}
}

// RunInTx runs fn in a unit of work, committing staged writes when fn succeeds
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx := newTx(s)
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err)
	}

	tx.commit()
	return nil
}

// GetAccount returns the committed account
func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return &a, nil
}

// GetAccountByNumber returns the committed account with the given number
func (s *Store) GetAccountByNumber(ctx context.Context, accountNumber string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountNumbers[accountNumber]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	a := s.accounts[id]
	return &a, nil
}

// ListTransactions returns an account's journal in creation order.
// A limit <= 0 returns every row.
func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Transaction
	for _, t := range s.journal {
		if t.AccountID != accountID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetModificationRequest returns a committed request
func (s *Store) GetModificationRequest(ctx context.Context, id uuid.UUID) (*model.ModificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

// ListModificationRequests returns requests matching filter, oldest first
func (s *Store) ListModificationRequests(ctx context.Context, filter model.ModificationFilter) ([]model.ModificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.ModificationRequest{}
	for _, r := range s.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.TargetModel != "" && r.TargetModel != filter.TargetModel {
			continue
		}
		if filter.TargetID != nil && r.TargetID != *filter.TargetID {
			continue
		}
		if filter.RequestedBy != nil && r.RequestedBy != *filter.RequestedBy {
			continue
		}
		out = append(out, *cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetIPOApplication returns a committed application
func (s *Store) GetIPOApplication(ctx context.Context, id uuid.UUID) (*model.IPOApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.applications[id]
	if !ok {
		return nil, model.ErrApplicationNotFound
	}
	return &a, nil
}

// GetInvestment returns a committed investment
func (s *Store) GetInvestment(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.investments[id]
	if !ok {
		return nil, model.ErrInvestmentNotFound
	}
	return &inv, nil
}

// ListProfitDistributions returns an investment's distributions in creation order
func (s *Store) ListProfitDistributions(ctx context.Context, investmentID uuid.UUID) ([]model.ProfitDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.ProfitDistribution{}
	for _, d := range s.distributions {
		if d.InvestmentID == investmentID {
			out = append(out, d)
		}
	}
	return out, nil
}

func cloneRequest(r model.ModificationRequest) *model.ModificationRequest {
	r.RequestedChanges = cloneChanges(r.RequestedChanges)
	r.OriginalValues = cloneChanges(r.OriginalValues)
	return &r
}

func cloneChanges(c model.Changes) model.Changes {
	if c == nil {
		return nil
	}
	out := make(model.Changes, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func pendingKey(m model.TargetModel, id uuid.UUID) string {
	return string(m) + ":" + id.String()
}
