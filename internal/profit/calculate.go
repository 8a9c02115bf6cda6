package profit

import (
	"github.com/shopspring/decimal"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// Calculate splits the proceeds of selling sharesSold at salePrice.
// fraction is the number of minor-unit digits of the account currency;
// investor and customer shares are truncated to it and the admin fee takes
// the remainder, so the three always sum to the total profit.
func Calculate(inv *model.Investment, req model.DistributionRequest, fraction int32) (model.Split, error) {
	if err := req.Validate(); err != nil {
		return model.Split{}, err
	}
	if err := model.CheckScale(req.SalePricePerShare, fraction); err != nil {
		return model.Split{}, err
	}
	if req.SharesSold > inv.SharesHeld {
		return model.Split{}, model.ErrOverSell
	}

	sold := decimal.NewFromInt(req.SharesSold)
	totalSale := req.SalePricePerShare.Mul(sold)

	basisSold := inv.CostBasis
	if req.SharesSold < inv.SharesHeld {
		basisSold = inv.CostBasis.Mul(sold).Div(decimal.NewFromInt(inv.SharesHeld)).Round(fraction)
	}

	principal := decimal.Min(totalSale, basisSold)
	totalProfit := totalSale.Sub(principal)
	if totalProfit.IsNegative() {
		totalProfit = decimal.Zero
	}

	investorShare := totalProfit.Mul(inv.Ratios.Investor).Truncate(fraction)
	customerShare := totalProfit.Mul(inv.Ratios.Customer).Truncate(fraction)
	adminFee := totalProfit.Sub(investorShare).Sub(customerShare)

	return model.Split{
		TotalSale:     totalSale,
		Principal:     principal,
		CostBasisSold: basisSold,
		TotalProfit:   totalProfit,
		InvestorShare: investorShare,
		CustomerShare: customerShare,
		AdminFee:      adminFee,
	}, nil
}
