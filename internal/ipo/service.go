// Package ipo implements the IPO subscription state machine:
// pending -> verified -> {allotted, rejected}, with rejection also allowed
// from pending. Funds are blocked on submit and settled or released when
// the application reaches a terminal state.
package ipo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/metrics"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/queue"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Service runs IPO application transitions through the ledger engine
type Service struct {
	engine    *ledger.Engine
	store     store.Store
	ratios    model.SplitRatios
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// Config holds IPO service dependencies beyond the engine
type Config struct {
	// DefaultRatios are copied onto investments opened by an allotment
	DefaultRatios model.SplitRatios
	Publisher     queue.Publisher
	Logger        *zap.Logger
	Metrics       metrics.Recorder
}

// NewService creates a new Service
func NewService(engine *ledger.Engine, cfg Config) *Service {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	return &Service{
		engine:    engine,
		store:     engine.Store(),
		ratios:    cfg.DefaultRatios,
		publisher: publisher,
		logger:    logging.OrNop(cfg.Logger).Named("ipo"),
		metrics:   metrics.OrNoOp(cfg.Metrics),
		now:       time.Now,
	}
}

// Get returns an application by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.IPOApplication, error) {
	return s.store.GetIPOApplication(ctx, id)
}

// Submit blocks the application total on the account and records the
// application as pending
func (s *Service) Submit(ctx context.Context, actor model.Actor, req model.SubmitIPORequest) (*model.IPOApplication, error) {
	var app *model.IPOApplication
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		app, err = s.SubmitTx(ctx, tx, uuid.New(), req)
		return err
	})
	s.observe(model.IPOStatusPending, err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, SubmittedEvent(app, actor.ID))
	return app, nil
}

// SubmitTx submits an application with the given id inside tx
func (s *Service) SubmitTx(ctx context.Context, tx store.Tx, id uuid.UUID, req model.SubmitIPORequest) (*model.IPOApplication, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	account, err := tx.GetAccountForUpdate(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if err := model.CheckCurrencyScale(req.PricePerShare, account.Currency); err != nil {
		return nil, err
	}
	customerID := req.CustomerID
	if customerID == uuid.Nil && account.CustomerID != nil {
		customerID = *account.CustomerID
	}

	total := req.TotalAmount()
	if _, err := s.engine.ApplyOneTx(ctx, tx, ledger.HoldOp(req.AccountID, total, model.ReferenceTypeIPOApplication, id)); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	app := &model.IPOApplication{
		ID:            id,
		CustomerID:    customerID,
		AccountID:     req.AccountID,
		CompanyName:   req.CompanyName,
		Quantity:      req.Quantity,
		PricePerShare: req.PricePerShare,
		TotalAmount:   total,
		Status:        model.IPOStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreateIPOApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return app, nil
}

// Verify moves a pending application to verified
func (s *Service) Verify(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.IPOApplication, error) {
	var app *model.IPOApplication
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		app, err = s.VerifyTx(ctx, tx, id)
		return err
	})
	s.observe(model.IPOStatusVerified, err)
	return app, err
}

// VerifyTx verifies an application inside tx
func (s *Service) VerifyTx(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.IPOApplication, error) {
	app, err := tx.GetIPOApplicationForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !app.Status.CanTransitionTo(model.IPOStatusVerified) {
		return nil, model.ErrInvalidTransition
	}

	app.Status = model.IPOStatusVerified
	app.UpdatedAt = s.now().UTC()
	if err := tx.SaveIPOApplication(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// Allot settles a verified application: the whole block is released and
// allotted × price is debited, refunding the difference
func (s *Service) Allot(ctx context.Context, actor model.Actor, id uuid.UUID, allotted int64) (*model.AllotmentResult, error) {
	var res *model.AllotmentResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = s.AllotTx(ctx, tx, id, allotted)
		return err
	})
	s.observe(model.IPOStatusAllotted, err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, AllottedEvent(res, actor.ID))
	return res, nil
}

// AllotTx allots shares inside tx
func (s *Service) AllotTx(ctx context.Context, tx store.Tx, id uuid.UUID, allotted int64) (*model.AllotmentResult, error) {
	app, err := tx.GetIPOApplicationForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !app.Status.CanTransitionTo(model.IPOStatusAllotted) {
		return nil, model.ErrInvalidTransition
	}
	if allotted < 0 || allotted > app.Quantity {
		return nil, model.ErrInvalidQuantity
	}

	settled := app.PricePerShare.Mul(decimal.NewFromInt(allotted))
	refund := app.TotalAmount.Sub(settled)

	row, err := s.engine.ApplyOneTx(ctx, tx, ledger.SettleOp(app.AccountID, app.TotalAmount, settled, model.ReferenceTypeIPOApplication, app.ID))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	app.Status = model.IPOStatusAllotted
	app.AllottedQuantity = allotted
	app.UpdatedAt = now
	if err := tx.SaveIPOApplication(ctx, app); err != nil {
		return nil, err
	}

	res := &model.AllotmentResult{
		Application:   app,
		SettledAmount: settled,
		RefundAmount:  refund,
		Transaction:   row,
	}

	if allotted > 0 {
		appID := app.ID
		inv := &model.Investment{
			ID:               uuid.New(),
			AccountID:        app.AccountID,
			IPOApplicationID: &appID,
			CompanyName:      app.CompanyName,
			SharesHeld:       allotted,
			CostBasis:        settled,
			Ratios:           s.ratios,
			Status:           model.InvestmentStatusOpen,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.CreateInvestment(ctx, inv); err != nil {
			return nil, fmt.Errorf("failed to create investment: %w", err)
		}
		res.Investment = inv
	}
	return res, nil
}

// Reject rejects a pending or verified application and releases its block
func (s *Service) Reject(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.RejectionResult, error) {
	var res *model.RejectionResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = s.RejectTx(ctx, tx, id)
		return err
	})
	s.observe(model.IPOStatusRejected, err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, RejectedEvent(res, actor.ID))
	return res, nil
}

// RejectTx rejects an application inside tx
func (s *Service) RejectTx(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.RejectionResult, error) {
	app, err := tx.GetIPOApplicationForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !app.Status.CanTransitionTo(model.IPOStatusRejected) {
		return nil, model.ErrInvalidTransition
	}

	row, err := s.engine.ApplyOneTx(ctx, tx, ledger.ReleaseOp(app.AccountID, app.TotalAmount, model.ReferenceTypeIPOApplication, app.ID))
	if err != nil {
		return nil, err
	}

	app.Status = model.IPOStatusRejected
	app.UpdatedAt = s.now().UTC()
	if err := tx.SaveIPOApplication(ctx, app); err != nil {
		return nil, err
	}
	return &model.RejectionResult{Application: app, RefundAmount: row.Amount, Transaction: row}, nil
}

// AmendTx changes quantity and/or price of a pending application and
// adjusts the block by the difference
func (s *Service) AmendTx(ctx context.Context, tx store.Tx, id uuid.UUID, quantity int64, price decimal.Decimal) (*model.IPOApplication, error) {
	app, err := tx.GetIPOApplicationForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status != model.IPOStatusPending {
		return nil, model.ErrInvalidTransition
	}
	if quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	if !price.IsPositive() {
		return nil, model.ErrInvalidAmount
	}
	account, err := tx.GetAccountForUpdate(ctx, app.AccountID)
	if err != nil {
		return nil, err
	}
	if err := model.CheckCurrencyScale(price, account.Currency); err != nil {
		return nil, err
	}

	total := price.Mul(decimal.NewFromInt(quantity))
	delta := total.Sub(app.TotalAmount)
	switch {
	case delta.IsPositive():
		_, err = s.engine.ApplyOneTx(ctx, tx, ledger.HoldOp(app.AccountID, delta, model.ReferenceTypeIPOApplication, app.ID))
	case delta.IsNegative():
		_, err = s.engine.ApplyOneTx(ctx, tx, ledger.ReleaseOp(app.AccountID, delta.Neg(), model.ReferenceTypeIPOApplication, app.ID))
	}
	if err != nil {
		return nil, err
	}

	app.Quantity = quantity
	app.PricePerShare = price
	app.TotalAmount = total
	app.UpdatedAt = s.now().UTC()
	if err := tx.SaveIPOApplication(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// WithdrawTx removes an application that still holds funds and releases its block
func (s *Service) WithdrawTx(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.RejectionResult, error) {
	app, err := tx.GetIPOApplicationForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !app.HoldsFunds() {
		return nil, model.ErrInvalidTransition
	}

	row, err := s.engine.ApplyOneTx(ctx, tx, ledger.ReleaseOp(app.AccountID, app.TotalAmount, model.ReferenceTypeIPOApplication, app.ID))
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteIPOApplication(ctx, app.ID); err != nil {
		return nil, err
	}
	return &model.RejectionResult{Application: app, RefundAmount: row.Amount, Transaction: row}, nil
}

func (s *Service) observe(to model.IPOStatus, err error) {
	s.metrics.RecordIPOTransition(string(to), metrics.Outcome(model.Code(err)))
	if err == nil {
		return
	}
	if model.IsDomainError(err) {
		s.logger.Debug("ipo transition rejected", zap.String("to", string(to)), zap.Error(err))
		return
	}
	s.logger.Error("ipo transition failed", zap.String("to", string(to)), zap.Error(err))
}

func (s *Service) publish(ctx context.Context, event model.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("entity_id", event.EntityID.String()),
			zap.Error(err),
		)
	}
}
