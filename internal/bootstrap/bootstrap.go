// Package bootstrap prepares the ledger for serving requests.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/account"
	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// Initialize ensures all required system accounts exist.
// This should be called on server startup after the store is ready.
func Initialize(ctx context.Context, accounts *account.Service, platformNumber, currency string, logger *zap.Logger) (*model.Account, error) {
	logger = logging.OrNop(logger).Named("bootstrap")

	acct, err := accounts.EnsurePlatformAccount(ctx, platformNumber, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure platform account: %w", err)
	}
	if acct.Currency != currency {
		logger.Warn("platform account currency differs from configuration",
			zap.String("account_number", acct.AccountNumber),
			zap.String("account_currency", acct.Currency),
			zap.String("configured_currency", currency),
		)
	}

	logger.Info("platform account ready",
		zap.String("account_id", acct.ID.String()),
		zap.String("account_number", acct.AccountNumber),
	)
	return acct, nil
}
