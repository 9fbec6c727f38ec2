package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/token"
)

// CashBalance is the implied USDC balance and the terms it was derived from.
// The fund never records cash movements; cash is what remains of investor
// capital after deployment into assets, expenses and exits.
type CashBalance struct {
	TotalSubscriptions decimal.Decimal `json:"total_subscriptions"`
	TotalCostBasis     decimal.Decimal `json:"total_cost_basis"`
	TotalExpenses      decimal.Decimal `json:"total_expenses"`
	ExitsCostBasis     decimal.Decimal `json:"exits_cost_basis"`
	USDCBalance        decimal.Decimal `json:"usdc_balance"`
}

// ComputeCash derives the cash residual:
//
//	usdc = Σ flows − Σ non-USDC trade cost basis − Σ expenses − Σ exit cost basis
//
// The result may be negative, which points at missing ledger entries.
func ComputeCash(flows []model.InvestorFlow, trades []model.Trade, perf []model.MonthlyPerformance, exits []model.Exit) CashBalance {
	var cb CashBalance

	for _, f := range flows {
		cb.TotalSubscriptions = cb.TotalSubscriptions.Add(f.Amount)
	}
	for _, t := range trades {
		if token.IsCash(t.Token) {
			continue
		}
		cb.TotalCostBasis = cb.TotalCostBasis.Add(SignedCost(t))
	}
	for _, m := range perf {
		cb.TotalExpenses = cb.TotalExpenses.Add(m.Expenses())
	}
	for _, e := range exits {
		cb.ExitsCostBasis = cb.ExitsCostBasis.Add(e.CostBasis)
	}

	cb.USDCBalance = cb.TotalSubscriptions.
		Sub(cb.TotalCostBasis).
		Sub(cb.TotalExpenses).
		Sub(cb.ExitsCostBasis)
	return cb
}

// ComputeLedgerCash is ComputeCash over a full ledger snapshot.
func ComputeLedgerCash(l *model.Ledger) CashBalance {
	return ComputeCash(l.Flows, l.Trades, l.Monthly, l.Exits)
}
