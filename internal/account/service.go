// Package account opens, updates and closes brokerage accounts. Balance
// changes never happen here; they go through the ledger engine.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Service manages account records
type Service struct {
	store  store.Store
	ids    *ledger.IDGenerator
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new Service sharing the engine's store and id generator
func NewService(engine *ledger.Engine, logger *zap.Logger) *Service {
	return &Service{
		store:  engine.Store(),
		ids:    engine.IDs(),
		logger: logging.OrNop(logger).Named("account"),
		now:    time.Now,
	}
}

// Get returns an account by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Transactions returns the account's journal in creation order, up to limit rows
func (s *Service) Transactions(ctx context.Context, id uuid.UUID, limit int) ([]model.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, id, limit)
}

// Create opens an account in its own unit of work
func (s *Service) Create(ctx context.Context, req model.CreateAccountRequest) (*model.Account, error) {
	var account *model.Account
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		account, err = s.CreateTx(ctx, tx, uuid.New(), req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// CreateTx opens a customer account with the given id inside tx
func (s *Service) CreateTx(ctx context.Context, tx store.Tx, id uuid.UUID, req model.CreateAccountRequest) (*model.Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.create(ctx, tx, id, req)
}

// EnsurePlatformAccount returns the platform account with the given number,
// creating it when missing
func (s *Service) EnsurePlatformAccount(ctx context.Context, number, currency string) (*model.Account, error) {
	if err := model.ValidateCurrency(currency); err != nil {
		return nil, err
	}

	existing, err := s.store.GetAccountByNumber(ctx, number)
	if err == nil {
		if existing.AccountType != model.AccountTypePlatform {
			return nil, fmt.Errorf("account %s exists with type %s: %w", number, existing.AccountType, model.ErrInvalidAccountType)
		}
		return existing, nil
	}
	if !model.IsNotFound(err) {
		return nil, err
	}

	var account *model.Account
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		account, err = s.create(ctx, tx, uuid.New(), model.CreateAccountRequest{
			AccountNumber: number,
			AccountType:   model.AccountTypePlatform,
			Currency:      currency,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("platform account created", zap.String("account_number", number), zap.String("currency", currency))
	return account, nil
}

func (s *Service) create(ctx context.Context, tx store.Tx, id uuid.UUID, req model.CreateAccountRequest) (*model.Account, error) {
	now := s.now().UTC()
	number := req.AccountNumber
	if number == "" {
		number = s.ids.AccountNumber(now)
	}
	account := &model.Account{
		ID:            id,
		AccountNumber: number,
		CustomerID:    req.CustomerID,
		AccountType:   req.AccountType,
		Currency:      req.Currency,
		Status:        model.AccountStatusActive,
		Balance:       decimal.Zero,
		BlockedAmount: decimal.Zero,
		HeldBalance:   decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateTx applies field changes to a locked account. Recognised keys are
// status, account_type, currency and held_balance.
func (s *Service) UpdateTx(ctx context.Context, tx store.Tx, id uuid.UUID, changes model.Changes) (*model.Account, error) {
	account, err := tx.GetAccountForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Status == model.AccountStatusClosed {
		return nil, model.ErrAccountNotActive
	}

	for _, key := range changes.Keys() {
		switch key {
		case "status":
			v, err := changes.String(key)
			if err != nil {
				return nil, err
			}
			if err := setStatus(account, model.AccountStatus(v)); err != nil {
				return nil, err
			}
		case "account_type":
			v, err := changes.String(key)
			if err != nil {
				return nil, err
			}
			t := model.AccountType(v)
			if !t.Valid() || t == model.AccountTypePlatform || account.IsSystemAccount() {
				return nil, model.ErrInvalidAccountType
			}
			account.AccountType = t
		case "currency":
			v, err := changes.String(key)
			if err != nil {
				return nil, err
			}
			if err := model.ValidateCurrency(v); err != nil {
				return nil, err
			}
			// Existing funds are denominated in the old currency
			if !account.IsEmpty() {
				return nil, model.ErrCurrencyMismatch
			}
			account.Currency = v
		case "held_balance":
			v, err := changes.Decimal(key)
			if err != nil {
				return nil, err
			}
			if v.IsNegative() {
				return nil, model.ErrInvalidAmount
			}
			if err := model.CheckCurrencyScale(v, account.Currency); err != nil {
				return nil, err
			}
			account.HeldBalance = v
		default:
			return nil, fmt.Errorf("%w: %q is not an account field", model.ErrInvalidChange, key)
		}
	}

	if err := account.CheckInvariants(); err != nil {
		return nil, err
	}
	account.UpdatedAt = s.now().UTC()
	if err := tx.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// CloseTx closes an empty account inside tx
func (s *Service) CloseTx(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.Account, error) {
	account, err := tx.GetAccountForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := setStatus(account, model.AccountStatusClosed); err != nil {
		return nil, err
	}
	account.UpdatedAt = s.now().UTC()
	if err := tx.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func setStatus(account *model.Account, next model.AccountStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", model.ErrInvalidChange, next)
	}
	if !account.Status.CanTransitionTo(next) {
		return model.ErrInvalidTransition
	}
	if next == model.AccountStatusClosed && !account.IsEmpty() {
		return model.ErrInvalidTransition
	}
	account.Status = next
	return nil
}

// Snapshot returns the stored form of the named account fields
func Snapshot(account *model.Account, keys []string) model.Changes {
	all := model.Changes{
		"status":         string(account.Status),
		"account_type":   string(account.AccountType),
		"currency":       account.Currency,
		"held_balance":   account.HeldBalance.String(),
		"balance":        account.Balance.String(),
		"blocked_amount": account.BlockedAmount.String(),
	}
	if keys == nil {
		return all
	}
	out := model.Changes{}
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out
}
