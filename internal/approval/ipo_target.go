package approval

import (
	"context"
	"fmt"

	"github.com/simonkvalheim/hm9-backoffice/internal/ipo"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// IPOTarget routes IPO submissions, status transitions, amendments and withdrawals
type IPOTarget struct {
	svc *ipo.Service
}

// NewIPOTarget creates a new IPOTarget
func NewIPOTarget(svc *ipo.Service) *IPOTarget {
	return &IPOTarget{svc: svc}
}

func (t *IPOTarget) Model() model.TargetModel {
	return model.TargetIPOApplication
}

func (t *IPOTarget) Validate(m Mutation) error {
	switch m.ChangeType {
	case model.ChangeTypeCreate:
		req, err := submitRequest(m.Changes)
		if err != nil {
			return err
		}
		return req.Validate()
	case model.ChangeTypeUpdate:
		return validateIPOUpdate(m.Changes)
	case model.ChangeTypeDelete:
		return nil
	}
	return model.ErrInvalidChange
}

func validateIPOUpdate(c model.Changes) error {
	if c.Has("status") {
		for _, k := range c.Keys() {
			if k != "status" && k != "allotted_quantity" {
				return fmt.Errorf("%w: %q cannot change together with status", model.ErrInvalidChange, k)
			}
		}
		s, err := c.String("status")
		if err != nil {
			return err
		}
		switch model.IPOStatus(s) {
		case model.IPOStatusVerified, model.IPOStatusRejected:
			return nil
		case model.IPOStatusAllotted:
			n, err := c.Int("allotted_quantity")
			if err != nil {
				return err
			}
			if n < 0 {
				return model.ErrInvalidQuantity
			}
			return nil
		}
		return fmt.Errorf("%w: cannot move an application to %q", model.ErrInvalidChange, s)
	}

	if !c.Has("quantity") && !c.Has("price_per_share") {
		return fmt.Errorf("%w: no fields to update", model.ErrInvalidChange)
	}
	for _, k := range c.Keys() {
		switch k {
		case "quantity":
			if _, err := c.Int(k); err != nil {
				return err
			}
		case "price_per_share":
			if _, err := c.Decimal(k); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q is not an amendable field", model.ErrInvalidChange, k)
		}
	}
	return nil
}

func (t *IPOTarget) Snapshot(ctx context.Context, tx store.Tx, m Mutation) (model.Changes, error) {
	if m.ChangeType == model.ChangeTypeCreate {
		return nil, nil
	}
	app, err := tx.GetIPOApplicationForUpdate(ctx, m.TargetID)
	if err != nil {
		return nil, err
	}
	all := model.Changes{
		"status":          string(app.Status),
		"quantity":        app.Quantity,
		"price_per_share": app.PricePerShare.String(),
		"total_amount":    app.TotalAmount.String(),
	}
	if m.ChangeType == model.ChangeTypeDelete {
		return pick(all, []string{"status", "total_amount"}), nil
	}
	return pick(all, []string{"status", "quantity", "price_per_share"}), nil
}

func (t *IPOTarget) Apply(ctx context.Context, tx store.Tx, m Mutation) (Applied, error) {
	switch m.ChangeType {
	case model.ChangeTypeCreate:
		req, err := submitRequest(m.Changes)
		if err != nil {
			return Applied{}, err
		}
		app, err := t.svc.SubmitTx(ctx, tx, m.TargetID, req)
		if err != nil {
			return Applied{}, err
		}
		return Applied{Result: app, Events: []model.Event{ipo.SubmittedEvent(app, m.Actor.ID)}}, nil

	case model.ChangeTypeUpdate:
		if m.Changes.Has("status") {
			return t.transition(ctx, tx, m)
		}
		return t.amend(ctx, tx, m)

	case model.ChangeTypeDelete:
		res, err := t.svc.WithdrawTx(ctx, tx, m.TargetID)
		if err != nil {
			return Applied{}, err
		}
		return Applied{Result: res, Events: []model.Event{ipo.RejectedEvent(res, m.Actor.ID)}}, nil
	}
	return Applied{}, model.ErrInvalidChange
}

func (t *IPOTarget) transition(ctx context.Context, tx store.Tx, m Mutation) (Applied, error) {
	s, err := m.Changes.String("status")
	if err != nil {
		return Applied{}, err
	}
	switch model.IPOStatus(s) {
	case model.IPOStatusVerified:
		app, err := t.svc.VerifyTx(ctx, tx, m.TargetID)
		if err != nil {
			return Applied{}, err
		}
		return Applied{Result: app}, nil
	case model.IPOStatusAllotted:
		n, err := m.Changes.Int("allotted_quantity")
		if err != nil {
			return Applied{}, err
		}
		res, err := t.svc.AllotTx(ctx, tx, m.TargetID, n)
		if err != nil {
			return Applied{}, err
		}
		return Applied{Result: res, Events: []model.Event{ipo.AllottedEvent(res, m.Actor.ID)}}, nil
	case model.IPOStatusRejected:
		res, err := t.svc.RejectTx(ctx, tx, m.TargetID)
		if err != nil {
			return Applied{}, err
		}
		return Applied{Result: res, Events: []model.Event{ipo.RejectedEvent(res, m.Actor.ID)}}, nil
	}
	return Applied{}, model.ErrInvalidChange
}

func (t *IPOTarget) amend(ctx context.Context, tx store.Tx, m Mutation) (Applied, error) {
	app, err := tx.GetIPOApplicationForUpdate(ctx, m.TargetID)
	if err != nil {
		return Applied{}, err
	}
	quantity, price := app.Quantity, app.PricePerShare
	if m.Changes.Has("quantity") {
		if quantity, err = m.Changes.Int("quantity"); err != nil {
			return Applied{}, err
		}
	}
	if m.Changes.Has("price_per_share") {
		if price, err = m.Changes.Decimal("price_per_share"); err != nil {
			return Applied{}, err
		}
	}
	amended, err := t.svc.AmendTx(ctx, tx, m.TargetID, quantity, price)
	if err != nil {
		return Applied{}, err
	}
	return Applied{Result: amended}, nil
}

func submitRequest(c model.Changes) (model.SubmitIPORequest, error) {
	accountID, err := c.UUID("account_id")
	if err != nil {
		return model.SubmitIPORequest{}, err
	}
	company, err := c.String("company_name")
	if err != nil {
		return model.SubmitIPORequest{}, err
	}
	quantity, err := c.Int("quantity")
	if err != nil {
		return model.SubmitIPORequest{}, err
	}
	price, err := c.Decimal("price_per_share")
	if err != nil {
		return model.SubmitIPORequest{}, err
	}
	req := model.SubmitIPORequest{
		AccountID:     accountID,
		CompanyName:   company,
		Quantity:      quantity,
		PricePerShare: price,
	}
	if customerID, err := optionalUUID(c, "customer_id"); err != nil {
		return model.SubmitIPORequest{}, err
	} else if customerID != nil {
		req.CustomerID = *customerID
	}
	return req, nil
}
