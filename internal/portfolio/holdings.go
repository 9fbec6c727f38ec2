package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/token"
)

// DustThreshold is the smallest absolute position kept in holdings. Anything
// below it is treated as fully exited.
var DustThreshold = decimal.New(1, -4)

// IsDust reports whether a net position is below the dust threshold.
func IsDust(units decimal.Decimal) bool {
	return units.Abs().LessThan(DustThreshold)
}

// Aggregate reduces trades to per-token holdings, dropping dust positions.
// The result is sorted by token and independent of input order.
func Aggregate(trades []model.Trade) []model.Holding {
	all := AggregateAll(trades)
	holdings := make([]model.Holding, 0, len(all))
	for _, h := range all {
		if IsDust(h.TotalUnits) {
			continue
		}
		holdings = append(holdings, h)
	}
	return holdings
}

// AggregateAll is Aggregate without the dust filter. Closed positions keep
// their (realized) cost basis here, which is what the cash residual sees.
func AggregateAll(trades []model.Trade) []model.Holding {
	agg := make(map[string]*model.Holding)
	for _, t := range trades {
		sym := token.Normalize(t.Token)
		h, ok := agg[sym]
		if !ok {
			h = &model.Holding{Token: sym}
			agg[sym] = h
		}
		h.TotalUnits = h.TotalUnits.Add(SignedUnits(t))
		h.CostBasis = h.CostBasis.Add(SignedCost(t))
	}

	holdings := make([]model.Holding, 0, len(agg))
	for _, h := range agg {
		holdings = append(holdings, *h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Token < holdings[j].Token
	})
	return holdings
}

// Tokens returns the sorted distinct tokens of the holdings.
func Tokens(holdings []model.Holding) []string {
	syms := make([]string, 0, len(holdings))
	for _, h := range holdings {
		syms = append(syms, h.Token)
	}
	return token.Set(syms)
}
