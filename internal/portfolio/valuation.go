package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/token"
)

var hundred = decimal.NewFromInt(100)

// EnrichedHolding is a holding marked to market.
type EnrichedHolding struct {
	Token       string          `json:"token"`
	TotalUnits  decimal.Decimal `json:"total_units"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	Price       decimal.Decimal `json:"price"`
	MarketValue decimal.Decimal `json:"market_value"`
	PnL         decimal.Decimal `json:"pnl"`
	Weight      decimal.Decimal `json:"weight"` // percent of total value

	// HasLiveQuote is false when the market feed had no quote. Trend fields
	// are then null rather than zero.
	HasLiveQuote  bool `json:"has_live_quote"`
	IsManualPrice bool `json:"is_manual_price"`
	IsCash        bool `json:"is_cash"`

	PercentChange24h decimal.NullDecimal `json:"pct_change_24h"`
	PercentChange7d  decimal.NullDecimal `json:"pct_change_7d"`
	PercentChange30d decimal.NullDecimal `json:"pct_change_30d"`
	PercentChange60d decimal.NullDecimal `json:"pct_change_60d"`
	MarketCap        decimal.NullDecimal `json:"market_cap"`
	Volume24h        decimal.NullDecimal `json:"volume_24h"`
}

// Valuation is the marked-to-market portfolio including synthetic cash.
type Valuation struct {
	TotalValue decimal.Decimal   `json:"total_value"`
	TotalCost  decimal.Decimal   `json:"total_cost"`
	TotalPnL   decimal.Decimal   `json:"total_pnl"`
	Holdings   []EnrichedHolding `json:"holdings"`
}

// Valuate marks holdings to market with the resolved quotes and appends the
// cash residual as a USDC row priced at 1. Trade-derived USDC holdings are
// ignored: cash is always the residual. A token missing from quotes is
// valued at zero.
func Valuate(holdings []model.Holding, quotes map[string]model.Quote, usdcBalance decimal.Decimal) Valuation {
	rows := make([]EnrichedHolding, 0, len(holdings)+1)

	for _, h := range holdings {
		if token.IsCash(h.Token) {
			continue
		}
		row := EnrichedHolding{
			Token:      h.Token,
			TotalUnits: h.TotalUnits,
			CostBasis:  h.CostBasis,
		}
		if q, ok := quotes[h.Token]; ok && q.Available {
			row.Price = q.Price
			row.HasLiveQuote = q.HasLiveData()
			row.IsManualPrice = q.IsManual
			if row.HasLiveQuote {
				row.PercentChange24h = q.PercentChange24h
				row.PercentChange7d = q.PercentChange7d
				row.PercentChange30d = q.PercentChange30d
				row.PercentChange60d = q.PercentChange60d
				row.MarketCap = q.MarketCap
				row.Volume24h = q.Volume24h
			}
		}
		row.MarketValue = h.TotalUnits.Mul(row.Price)
		row.PnL = row.MarketValue.Sub(h.CostBasis)
		rows = append(rows, row)
	}

	if !usdcBalance.IsZero() {
		rows = append(rows, EnrichedHolding{
			Token:       token.USDC,
			TotalUnits:  usdcBalance,
			CostBasis:   usdcBalance,
			Price:       decimal.NewFromInt(1),
			MarketValue: usdcBalance,
			PnL:         decimal.Zero,
			IsCash:      true,
		})
	}

	var v Valuation
	for _, r := range rows {
		v.TotalValue = v.TotalValue.Add(r.MarketValue)
		v.TotalCost = v.TotalCost.Add(r.CostBasis)
	}
	v.TotalPnL = v.TotalValue.Sub(v.TotalCost)

	for i := range rows {
		if v.TotalValue.IsPositive() {
			rows[i].Weight = rows[i].MarketValue.Div(v.TotalValue).Mul(hundred)
		}
	}
	v.Holdings = rows
	return v
}
