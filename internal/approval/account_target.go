package approval

import (
	"context"
	"fmt"

	"github.com/simonkvalheim/hm9-backoffice/internal/account"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

var accountFields = map[string]bool{
	"status":       true,
	"account_type": true,
	"currency":     true,
	"held_balance": true,
}

// AccountTarget routes account opening, field updates and closing
type AccountTarget struct {
	accounts *account.Service
}

// NewAccountTarget creates a new AccountTarget
func NewAccountTarget(accounts *account.Service) *AccountTarget {
	return &AccountTarget{accounts: accounts}
}

func (t *AccountTarget) Model() model.TargetModel {
	return model.TargetAccount
}

func (t *AccountTarget) Validate(m Mutation) error {
	switch m.ChangeType {
	case model.ChangeTypeCreate:
		req, err := createAccountRequest(m.Changes)
		if err != nil {
			return err
		}
		return req.Validate()
	case model.ChangeTypeUpdate:
		if len(m.Changes) == 0 {
			return fmt.Errorf("%w: no fields to update", model.ErrInvalidChange)
		}
		for _, k := range m.Changes.Keys() {
			if !accountFields[k] {
				return fmt.Errorf("%w: %q is not an account field", model.ErrInvalidChange, k)
			}
		}
		if m.Changes.Has("status") {
			s, err := m.Changes.String("status")
			if err != nil {
				return err
			}
			if !model.AccountStatus(s).Valid() {
				return fmt.Errorf("%w: unknown status %q", model.ErrInvalidChange, s)
			}
		}
		if m.Changes.Has("held_balance") {
			if _, err := m.Changes.Decimal("held_balance"); err != nil {
				return err
			}
		}
		return nil
	case model.ChangeTypeDelete:
		return nil
	}
	return model.ErrInvalidChange
}

func (t *AccountTarget) Snapshot(ctx context.Context, tx store.Tx, m Mutation) (model.Changes, error) {
	if m.ChangeType == model.ChangeTypeCreate {
		return nil, nil
	}
	acc, err := tx.GetAccountForUpdate(ctx, m.TargetID)
	if err != nil {
		return nil, err
	}
	if m.ChangeType == model.ChangeTypeDelete {
		return account.Snapshot(acc, nil), nil
	}
	return account.Snapshot(acc, m.Changes.Keys()), nil
}

func (t *AccountTarget) Apply(ctx context.Context, tx store.Tx, m Mutation) (Applied, error) {
	var (
		acc *model.Account
		err error
	)
	switch m.ChangeType {
	case model.ChangeTypeCreate:
		var req model.CreateAccountRequest
		if req, err = createAccountRequest(m.Changes); err != nil {
			return Applied{}, err
		}
		acc, err = t.accounts.CreateTx(ctx, tx, m.TargetID, req)
	case model.ChangeTypeUpdate:
		acc, err = t.accounts.UpdateTx(ctx, tx, m.TargetID, m.Changes)
	case model.ChangeTypeDelete:
		acc, err = t.accounts.CloseTx(ctx, tx, m.TargetID)
	default:
		err = model.ErrInvalidChange
	}
	if err != nil {
		return Applied{}, err
	}
	return Applied{Result: acc}, nil
}

func createAccountRequest(c model.Changes) (model.CreateAccountRequest, error) {
	accountType, err := c.String("account_type")
	if err != nil {
		return model.CreateAccountRequest{}, err
	}
	currency, err := c.String("currency")
	if err != nil {
		return model.CreateAccountRequest{}, err
	}
	number, err := optionalString(c, "account_number")
	if err != nil {
		return model.CreateAccountRequest{}, err
	}
	customerID, err := optionalUUID(c, "customer_id")
	if err != nil {
		return model.CreateAccountRequest{}, err
	}
	return model.CreateAccountRequest{
		AccountNumber: number,
		CustomerID:    customerID,
		AccountType:   model.AccountType(accountType),
		Currency:      currency,
	}, nil
}
