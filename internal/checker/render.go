package checker

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// usd formats an amount as US dollars, e.g. $1,234.56.
func usd(d decimal.Decimal) string {
	cents := d.Shift(2).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

// RenderMarkdown renders the report as a markdown document for terminals and
// plain-text exports.
func RenderMarkdown(r Report) string {
	var b strings.Builder

	b.WriteString("# Reconciliation\n\n")

	b.WriteString("## Cash residual\n\n")
	b.WriteString("| Term | Amount |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Subscriptions (GP %s, LP %s) | %s |\n",
		usd(r.Investors.GPTotal), usd(r.Investors.LPTotal), usd(r.Calculations.TotalSubscriptions))
	fmt.Fprintf(&b, "| − Cost basis (excl. USDC) | %s |\n", usd(r.Calculations.TotalCostBasis))
	fmt.Fprintf(&b, "| − Expenses | %s |\n", usd(r.Calculations.TotalExpenses))
	fmt.Fprintf(&b, "| − Exits | %s |\n", usd(r.Calculations.ExitsCostBasis))
	fmt.Fprintf(&b, "| **USDC balance** | **%s** |\n\n", usd(r.Calculations.USDCBalance))

	b.WriteString("## Expenses\n\n")
	fmt.Fprintf(&b, "- Fund expenses: %s\n- Management fees: %s\n- Setup costs: %s\n- Total: %s\n\n",
		usd(r.Expenses.FundExpenses), usd(r.Expenses.MgmtFees), usd(r.Expenses.SetupCosts), usd(r.Expenses.Total))

	b.WriteString("## Holdings\n\n")
	if len(r.Holdings) == 0 {
		b.WriteString("_No trades recorded._\n\n")
	} else {
		b.WriteString("| Token | Buy | Sell | Income | Net | Cost basis | Trades | Priced |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|---:|:---:|\n")
		for _, h := range r.Holdings {
			priced := "no"
			if h.HasPrice {
				priced = "yes"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %d | %s |\n",
				h.Token, h.BuyUnits, h.SellUnits, h.IncomeUnits, h.NetUnits, usd(h.CostBasis), h.TradeCount, priced)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Flags\n\n")
	if len(r.Flags) == 0 {
		b.WriteString("No issues found.\n")
	}
	for _, f := range r.Flags {
		fmt.Fprintf(&b, "- `%s` %s\n", f.Code, f.Message)
	}
	return b.String()
}
