// Package checker re-derives every portfolio aggregate from the raw ledger
// and explains each number back to its inputs. It deliberately does not call
// the portfolio aggregation code for its own figures: the two paths are
// compared and any divergence is reported as a flag.
//
// Every flag is advisory. The checker never rejects data.
package checker

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/portfolio"
)

// Flag codes.
const (
	FlagNegativeHolding     = "negative_holding"
	FlagMissingPrice        = "missing_price"
	FlagNegativeCash        = "negative_cash"
	FlagNoSubscriptions     = "no_subscriptions"
	FlagCalculationMismatch = "calculation_mismatch"
)

const cashToken = "USDC"

// TokenBreakdown explains one token's position and cost basis.
type TokenBreakdown struct {
	Token       string          `json:"token"`
	BuyUnits    decimal.Decimal `json:"buy_units"`
	SellUnits   decimal.Decimal `json:"sell_units"`
	IncomeUnits decimal.Decimal `json:"income_units"`
	NetUnits    decimal.Decimal `json:"net_units"`
	BuyTotal    decimal.Decimal `json:"buy_total"`
	SellTotal   decimal.Decimal `json:"sell_total"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	TradeCount  int             `json:"trade_count"`
	HasPrice    bool            `json:"has_price"`
}

// Investors totals subscriptions by investor class.
type Investors struct {
	GPTotal            decimal.Decimal `json:"gp_total"`
	LPTotal            decimal.Decimal `json:"lp_total"`
	TotalSubscriptions decimal.Decimal `json:"total_subscriptions"`
	FlowCount          int             `json:"flow_count"`
}

// Expenses totals the monthly cost lines.
type Expenses struct {
	FundExpenses decimal.Decimal `json:"fund_expenses"`
	MgmtFees     decimal.Decimal `json:"mgmt_fees"`
	SetupCosts   decimal.Decimal `json:"setup_costs"`
	Total        decimal.Decimal `json:"total"`
}

// Flag is an advisory data-integrity finding.
type Flag struct {
	Code    string `json:"code"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// Report is the full reconciliation view.
type Report struct {
	Holdings       []TokenBreakdown      `json:"holdings"`
	Investors      Investors             `json:"investors"`
	Expenses       Expenses              `json:"expenses"`
	ExitsCostBasis decimal.Decimal       `json:"exits_cost_basis"`
	Calculations   portfolio.CashBalance `json:"calculations"`
	Flags          []Flag                `json:"flags"`
}

// TokenDetail is the drill-down for a single token.
type TokenDetail struct {
	Token   string         `json:"token"`
	Summary TokenBreakdown `json:"summary"`
	Trades  []model.Trade  `json:"trades"`
}

// Reconcile builds the report from a ledger snapshot. quotes holds resolved
// quotes (live or manual); a token is priced when its quote is available.
func Reconcile(l *model.Ledger, quotes map[string]model.Quote) Report {
	r := Report{Flags: []Flag{}}

	byToken := breakdowns(l.Trades, quotes)
	r.Holdings = byToken

	for _, f := range l.Flows {
		switch f.Kind {
		case model.FlowGP:
			r.Investors.GPTotal = r.Investors.GPTotal.Add(f.Amount)
		case model.FlowLP:
			r.Investors.LPTotal = r.Investors.LPTotal.Add(f.Amount)
		}
		r.Investors.TotalSubscriptions = r.Investors.TotalSubscriptions.Add(f.Amount)
		r.Investors.FlowCount++
	}

	for _, m := range l.Monthly {
		r.Expenses.FundExpenses = r.Expenses.FundExpenses.Add(m.FundExpenses)
		r.Expenses.MgmtFees = r.Expenses.MgmtFees.Add(m.MgmtFees)
		r.Expenses.SetupCosts = r.Expenses.SetupCosts.Add(m.SetupCosts)
	}
	r.Expenses.Total = r.Expenses.FundExpenses.Add(r.Expenses.MgmtFees).Add(r.Expenses.SetupCosts)

	for _, e := range l.Exits {
		r.ExitsCostBasis = r.ExitsCostBasis.Add(e.CostBasis)
	}

	costBasis := decimal.Zero
	for _, b := range byToken {
		if b.Token != cashToken {
			costBasis = costBasis.Add(b.CostBasis)
		}
	}
	r.Calculations = portfolio.CashBalance{
		TotalSubscriptions: r.Investors.TotalSubscriptions,
		TotalCostBasis:     costBasis,
		TotalExpenses:      r.Expenses.Total,
		ExitsCostBasis:     r.ExitsCostBasis,
	}
	r.Calculations.USDCBalance = costBasisResidual(r.Calculations)

	r.Flags = append(r.Flags, holdingFlags(byToken)...)
	if r.Calculations.USDCBalance.IsNegative() {
		r.Flags = append(r.Flags, Flag{
			Code:    FlagNegativeCash,
			Token:   cashToken,
			Message: "implied USDC balance is negative " + r.Calculations.USDCBalance.String() + "; trades, expenses or exits may be missing subscriptions",
		})
	}
	if r.Investors.TotalSubscriptions.IsZero() {
		r.Flags = append(r.Flags, Flag{
			Code:    FlagNoSubscriptions,
			Message: "no investor subscriptions recorded",
		})
	}
	r.Flags = append(r.Flags, crossCheck(l, r.Calculations, byToken)...)
	return r
}

// TokenTrades returns one token's trades sorted by date (ties by id) with the
// same summary fields as the report breakdown.
func TokenTrades(l *model.Ledger, symbol string, quotes map[string]model.Quote) TokenDetail {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	var trades []model.Trade
	for _, t := range l.Trades {
		if strings.ToUpper(t.Token) == sym {
			trades = append(trades, t)
		}
	}
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Date.Equal(trades[j].Date.Time) {
			return trades[i].Date.Before(trades[j].Date.Time)
		}
		return trades[i].ID < trades[j].ID
	})
	if trades == nil {
		trades = []model.Trade{}
	}

	summary := TokenBreakdown{Token: sym}
	if b := breakdowns(trades, quotes); len(b) == 1 {
		summary = b[0]
	}
	return TokenDetail{Token: sym, Summary: summary, Trades: trades}
}

func breakdowns(trades []model.Trade, quotes map[string]model.Quote) []TokenBreakdown {
	agg := make(map[string]*TokenBreakdown)
	for _, t := range trades {
		sym := strings.ToUpper(strings.TrimSpace(t.Token))
		b, ok := agg[sym]
		if !ok {
			b = &TokenBreakdown{Token: sym}
			agg[sym] = b
		}
		total := decimal.Zero
		if t.Total.Valid {
			total = t.Total.Decimal
		} else if t.AvgPrice.Valid {
			total = t.AvgPrice.Decimal.Mul(t.Units)
		}

		switch t.Kind {
		case model.KindBuy:
			b.BuyUnits = b.BuyUnits.Add(t.Units)
			b.BuyTotal = b.BuyTotal.Add(total)
		case model.KindSell:
			b.SellUnits = b.SellUnits.Add(t.Units)
			b.SellTotal = b.SellTotal.Add(total)
		case model.KindIncome:
			b.IncomeUnits = b.IncomeUnits.Add(t.Units)
		}
		b.TradeCount++
	}

	out := make([]TokenBreakdown, 0, len(agg))
	for _, b := range agg {
		b.NetUnits = b.BuyUnits.Sub(b.SellUnits).Add(b.IncomeUnits)
		b.CostBasis = b.BuyTotal.Sub(b.SellTotal)
		if q, ok := quotes[b.Token]; ok && q.Available {
			b.HasPrice = true
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

func costBasisResidual(c portfolio.CashBalance) decimal.Decimal {
	return c.TotalSubscriptions.Sub(c.TotalCostBasis).Sub(c.TotalExpenses).Sub(c.ExitsCostBasis)
}

func holdingFlags(byToken []TokenBreakdown) []Flag {
	var flags []Flag
	for _, b := range byToken {
		if b.Token == cashToken {
			continue
		}
		if b.NetUnits.IsNegative() {
			flags = append(flags, Flag{
				Code:    FlagNegativeHolding,
				Token:   b.Token,
				Message: "sold more " + b.Token + " than bought: net units " + b.NetUnits.String(),
			})
			continue
		}
		if b.NetUnits.IsPositive() && !b.HasPrice {
			flags = append(flags, Flag{
				Code:    FlagMissingPrice,
				Token:   b.Token,
				Message: "no live or manual price for " + b.Token + "; it is valued at 0",
			})
		}
	}
	return flags
}

// crossCheck compares the independently derived figures with the numbers the
// portfolio endpoints serve.
func crossCheck(l *model.Ledger, calc portfolio.CashBalance, byToken []TokenBreakdown) []Flag {
	var flags []Flag

	served := portfolio.ComputeLedgerCash(l)
	if !served.USDCBalance.Equal(calc.USDCBalance) {
		flags = append(flags, Flag{
			Code:    FlagCalculationMismatch,
			Token:   cashToken,
			Message: "cash residual " + served.USDCBalance.String() + " differs from reconciliation " + calc.USDCBalance.String(),
		})
	}

	holdings := make(map[string]model.Holding)
	for _, h := range portfolio.AggregateAll(l.Trades) {
		holdings[h.Token] = h
	}
	for _, b := range byToken {
		h, ok := holdings[b.Token]
		if !ok || !h.TotalUnits.Equal(b.NetUnits) || !h.CostBasis.Equal(b.CostBasis) {
			flags = append(flags, Flag{
				Code:    FlagCalculationMismatch,
				Token:   b.Token,
				Message: "holdings aggregate for " + b.Token + " differs from reconciliation",
			})
		}
	}
	return flags
}
