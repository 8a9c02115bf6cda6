// Package profit realises investment sales: it computes the
// investor/customer/platform split and settles it through the ledger.
package profit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/ledger"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/metrics"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/queue"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// Service records investments and distributes their sale proceeds
type Service struct {
	engine    *ledger.Engine
	store     store.Store
	ratios    model.SplitRatios
	feeAcct   string
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

// Config holds profit service settings
type Config struct {
	DefaultRatios model.SplitRatios
	// FeeAccountNumber receives the admin fee; empty keeps it off-ledger
	FeeAccountNumber string
	Publisher        queue.Publisher
	Logger           *zap.Logger
	Metrics          metrics.Recorder
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
		feeAcct:   cfg.FeeAccountNumber,
		publisher: publisher,
		logger:    logging.OrNop(cfg.Logger).Named("profit"),
		metrics:   metrics.OrNoOp(cfg.Metrics),
		now:       time.Now,
	}
}

// GetInvestment returns an investment by id
func (s *Service) GetInvestment(ctx context.Context, id uuid.UUID) (*model.Investment, error) {
	return s.store.GetInvestment(ctx, id)
}

// ListDistributions returns an investment's distributions
func (s *Service) ListDistributions(ctx context.Context, investmentID uuid.UUID) ([]model.ProfitDistribution, error) {
	return s.store.ListProfitDistributions(ctx, investmentID)
}

// CreateInvestment records an investment held by an account
func (s *Service) CreateInvestment(ctx context.Context, req model.CreateInvestmentRequest) (*model.Investment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ratios := s.ratios
	if req.Ratios != nil {
		ratios = *req.Ratios
	}

	now := s.now().UTC()
	inv := &model.Investment{
		ID:          uuid.New(),
		AccountID:   req.AccountID,
		CompanyName: req.CompanyName,
		SharesHeld:  req.SharesHeld,
		CostBasis:   req.CostBasis,
		Ratios:      ratios,
		Status:      model.InvestmentStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		account, err := tx.GetAccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account.Status == model.AccountStatusClosed {
			return model.ErrAccountNotActive
		}
		return tx.CreateInvestment(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Preview computes the split of a sale without side effects
func (s *Service) Preview(ctx context.Context, investmentID uuid.UUID, req model.DistributionRequest) (model.Split, error) {
	inv, err := s.store.GetInvestment(ctx, investmentID)
	if err != nil {
		return model.Split{}, err
	}
	account, err := s.store.GetAccount(ctx, inv.AccountID)
	if err != nil {
		return model.Split{}, err
	}
	return Calculate(inv, req, model.CurrencyFraction(account.Currency))
}

// Distribute sells shares of an investment and settles the proceeds:
// principal + customer share to the originating account and, when a fee
// account is configured, the admin fee to the platform
func (s *Service) Distribute(ctx context.Context, actor model.Actor, investmentID uuid.UUID, req model.DistributionRequest) (*model.ProfitDistribution, error) {
	// Resolve the fee account outside the unit of work; it is locked inside
	var feeAccountID uuid.UUID
	if s.feeAcct != "" {
		fee, err := s.store.GetAccountByNumber(ctx, s.feeAcct)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve fee account: %w", err)
		}
		feeAccountID = fee.ID
	}

	var dist *model.ProfitDistribution
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		dist, err = s.distributeTx(ctx, tx, investmentID, req, feeAccountID)
		return err
	})

	s.metrics.RecordDistribution(metrics.Outcome(model.Code(err)))
	if err != nil {
		if model.IsDomainError(err) {
			s.logger.Debug("distribution rejected", zap.String("investment_id", investmentID.String()), zap.Error(err))
		} else {
			s.logger.Error("distribution failed", zap.String("investment_id", investmentID.String()), zap.Error(err))
		}
		return nil, err
	}

	event := model.NewEvent(model.EventProfitDistributed, dist.ID, actor.ID, map[string]string{
		"investment_id": investmentID.String(),
		"total_profit":  dist.TotalProfit.String(),
		"settlement":    dist.Settlement().String(),
	})
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
	return dist, nil
}

func (s *Service) distributeTx(ctx context.Context, tx store.Tx, investmentID uuid.UUID, req model.DistributionRequest, feeAccountID uuid.UUID) (*model.ProfitDistribution, error) {
	inv, err := tx.GetInvestmentForUpdate(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// A closed investment holds no shares, so any sale from it oversells.
	if req.SharesSold > inv.SharesHeld {
		return nil, model.ErrOverSell
	}
	if inv.Status != model.InvestmentStatusOpen {
		return nil, model.ErrInvalidTransition
	}

	ids := []uuid.UUID{inv.AccountID}
	if feeAccountID != uuid.Nil {
		ids = append(ids, feeAccountID)
	}
	locked, err := s.engine.LockAccounts(ctx, tx, ids...)
	if err != nil {
		return nil, err
	}
	account := locked[inv.AccountID]
	if fee, ok := locked[feeAccountID]; ok && fee.Currency != account.Currency {
		return nil, model.ErrCurrencyMismatch
	}

	split, err := Calculate(inv, req, model.CurrencyFraction(account.Currency))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	dist := &model.ProfitDistribution{
		ID:                uuid.New(),
		InvestmentID:      inv.ID,
		AccountID:         inv.AccountID,
		SharesSold:        req.SharesSold,
		SalePricePerShare: req.SalePricePerShare,
		Split:             split,
		CreatedAt:         now,
	}

	if settlement := split.Settlement(); settlement.IsPositive() {
		txType := model.TransactionTypePrincipalReturn
		if split.TotalProfit.IsPositive() {
			txType = model.TransactionTypeProfitDistribution
		}
		row, err := s.engine.ApplyOneTx(ctx, tx, ledger.Operation{
			Type:          txType,
			AccountID:     inv.AccountID,
			Amount:        settlement,
			Description:   "sale of " + inv.CompanyName,
			ReferenceType: model.ReferenceTypeInvestment,
			ReferenceID:   &inv.ID,
		})
		if err != nil {
			return nil, err
		}
		dist.TransactionID = &row.ID
	}

	if feeAccountID != uuid.Nil && feeAccountID != inv.AccountID && split.AdminFee.IsPositive() {
		row, err := s.engine.ApplyOneTx(ctx, tx, ledger.Operation{
			Type:          model.TransactionTypeProfitDistribution,
			AccountID:     feeAccountID,
			Amount:        split.AdminFee,
			Description:   "admin fee on sale of " + inv.CompanyName,
			ReferenceType: model.ReferenceTypeInvestment,
			ReferenceID:   &inv.ID,
		})
		if err != nil {
			return nil, err
		}
		dist.FeeTransactionID = &row.ID
	}

	inv.SharesHeld -= req.SharesSold
	inv.CostBasis = inv.CostBasis.Sub(split.CostBasisSold)
	if inv.SharesHeld == 0 {
		inv.Status = model.InvestmentStatusClosed
	}
	inv.UpdatedAt = now
	if err := tx.SaveInvestment(ctx, inv); err != nil {
		return nil, err
	}
	if err := tx.CreateProfitDistribution(ctx, dist); err != nil {
		return nil, fmt.Errorf("failed to record distribution: %w", err)
	}
	return dist, nil
}
