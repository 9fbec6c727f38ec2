package portfolio

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/fund-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(s))
}

func trade(kind model.TradeKind, tok, units, total string) model.Trade {
	return model.Trade{
		ID:    tok + "-" + string(kind) + "-" + units,
		Date:  model.NewDay(2024, 1, 15),
		Token: tok,
		Units: d(units),
		Total: nd(total),
		Kind:  kind,
	}
}

// --- NormalizeTrade ---

func TestNormalizeTrade_DerivesTotal(t *testing.T) {
	tr, err := NormalizeTrade(model.Trade{
		Date: model.NewDay(2024, 3, 1), Token: "btc", Units: d("0.5"),
		AvgPrice: nd("60000"), Kind: model.KindBuy,
	})
	require.NoError(t, err)
	assert.Equal(t, "BTC", tr.Token)
	assert.True(t, tr.Total.Decimal.Equal(d("30000")), "total=%s", tr.Total.Decimal)
}

func TestNormalizeTrade_DerivesAvgPrice(t *testing.T) {
	tr, err := NormalizeTrade(model.Trade{
		Date: model.NewDay(2024, 3, 1), Token: "eth", Units: d("3"),
		Total: nd("10000"), Kind: model.KindBuy,
	})
	require.NoError(t, err)
	require.True(t, tr.AvgPrice.Valid)

	// avg_price × units ≈ total within rounding of the division.
	back := tr.AvgPrice.Decimal.Mul(tr.Units)
	assert.True(t, back.Sub(d("10000")).Abs().LessThan(d("0.000001")), "got %s", back)
}

func TestNormalizeTrade_NegativeUnitsStoredPositive(t *testing.T) {
	tr, err := NormalizeTrade(model.Trade{
		Date: model.NewDay(2024, 3, 1), Token: "SOL", Units: d("-10"),
		AvgPrice: nd("100"), Kind: model.KindSell,
	})
	require.NoError(t, err)
	assert.True(t, tr.Units.Equal(d("10")))
	assert.True(t, tr.Total.Decimal.Equal(d("1000")))
}

func TestNormalizeTrade_Errors(t *testing.T) {
	base := model.Trade{Date: model.NewDay(2024, 3, 1), Token: "BTC", Units: d("1"), Total: nd("1"), Kind: model.KindBuy}

	zero := base
	zero.Units = decimal.Zero
	_, err := NormalizeTrade(zero)
	assert.ErrorIs(t, err, ErrZeroUnits)

	noPrice := base
	noPrice.Total = decimal.NullDecimal{}
	_, err = NormalizeTrade(noPrice)
	assert.ErrorIs(t, err, ErrMissingPrice)

	badKind := base
	badKind.Kind = "Swap"
	_, err = NormalizeTrade(badKind)
	assert.ErrorIs(t, err, ErrInvalidKind)

	noDate := base
	noDate.Date = model.Day{}
	_, err = NormalizeTrade(noDate)
	assert.ErrorIs(t, err, ErrMissingDate)

	noToken := base
	noToken.Token = " "
	_, err = NormalizeTrade(noToken)
	assert.Error(t, err)
}

// --- Holdings ---

func TestAggregate_SignsAndCostBasis(t *testing.T) {
	trades := []model.Trade{
		trade(model.KindBuy, "btc", "2", "100000"),
		trade(model.KindSell, "BTC", "0.5", "30000"),
		trade(model.KindIncome, "BTC", "0.1", "6000"),
		trade(model.KindBuy, "ETH", "10", "30000"),
	}
	h := Aggregate(trades)
	require.Len(t, h, 2)

	assert.Equal(t, "BTC", h[0].Token)
	assert.True(t, h[0].TotalUnits.Equal(d("1.6")), "units=%s", h[0].TotalUnits)
	// Income adds units but not cost.
	assert.True(t, h[0].CostBasis.Equal(d("70000")), "cost=%s", h[0].CostBasis)

	assert.Equal(t, "ETH", h[1].Token)
	assert.True(t, h[1].CostBasis.Equal(d("30000")))
}

func TestAggregate_DustFilter(t *testing.T) {
	trades := []model.Trade{
		trade(model.KindBuy, "DUST", "0.00005", "1"),
		trade(model.KindBuy, "KEEP", "0.0002", "1"),
		trade(model.KindBuy, "EDGE", "0.0001", "1"),
	}
	h := Aggregate(trades)
	tokens := Tokens(h)
	assert.Equal(t, []string{"EDGE", "KEEP"}, tokens)
}

func TestAggregate_FullyExitedPositionDropped(t *testing.T) {
	trades := []model.Trade{
		trade(model.KindBuy, "DOGE", "1000", "100"),
		trade(model.KindSell, "DOGE", "1000", "150"),
	}
	assert.Empty(t, Aggregate(trades))

	all := AggregateAll(trades)
	require.Len(t, all, 1)
	assert.True(t, all[0].CostBasis.Equal(d("-50")))
}

func TestAggregate_OrderIndependentAndIdempotent(t *testing.T) {
	trades := []model.Trade{
		trade(model.KindBuy, "BTC", "1", "50000"),
		trade(model.KindBuy, "ETH", "5", "10000"),
		trade(model.KindSell, "BTC", "0.25", "15000"),
		trade(model.KindIncome, "SOL", "3", "0"),
		trade(model.KindBuy, "SOL", "20", "2000"),
	}
	want := Aggregate(trades)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		shuffled := append([]model.Trade(nil), trades...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Aggregate(shuffled)
		require.Len(t, got, len(want))
		for j := range want {
			assert.Equal(t, want[j].Token, got[j].Token)
			assert.True(t, want[j].TotalUnits.Equal(got[j].TotalUnits))
			assert.True(t, want[j].CostBasis.Equal(got[j].CostBasis))
		}
	}
}

// --- Cash residual ---

func TestComputeCash_Scenario(t *testing.T) {
	flows := []model.InvestorFlow{
		{Month: "2024-01", Client: "gp", Kind: model.FlowGP, Amount: d("100000")},
		{Month: "2024-01", Client: "lp", Kind: model.FlowLP, Amount: d("50000")},
	}
	trades := []model.Trade{trade(model.KindBuy, "BTC", "1000", "100000")}
	perf := []model.MonthlyPerformance{{Month: "2024-01", FundExpenses: d("3000"), MgmtFees: d("1500"), SetupCosts: d("500")}}

	cb := ComputeCash(flows, trades, perf, nil)
	assert.True(t, cb.TotalSubscriptions.Equal(d("150000")))
	assert.True(t, cb.TotalCostBasis.Equal(d("100000")))
	assert.True(t, cb.TotalExpenses.Equal(d("5000")))
	assert.True(t, cb.ExitsCostBasis.IsZero())
	assert.True(t, cb.USDCBalance.Equal(d("45000")), "usdc=%s", cb.USDCBalance)
}

func TestComputeCash_IgnoresUSDCTradesAndSubtractsExits(t *testing.T) {
	flows := []model.InvestorFlow{{Kind: model.FlowLP, Amount: d("10000")}, {Kind: model.FlowLP, Amount: d("-2000")}}
	trades := []model.Trade{
		trade(model.KindBuy, "usdc", "5000", "5000"),
		trade(model.KindBuy, "ETH", "1", "3000"),
	}
	exits := []model.Exit{{Token: "LUNA", CostBasis: d("1000")}}

	cb := ComputeCash(flows, trades, nil, exits)
	assert.True(t, cb.TotalCostBasis.Equal(d("3000")))
	assert.True(t, cb.USDCBalance.Equal(d("4000")), "usdc=%s", cb.USDCBalance)
}

func TestComputeCash_CanGoNegative(t *testing.T) {
	trades := []model.Trade{trade(model.KindBuy, "BTC", "1", "50000")}
	cb := ComputeCash(nil, trades, nil, nil)
	assert.True(t, cb.USDCBalance.Equal(d("-50000")))
}

func TestCostBasisConsistentWithCash(t *testing.T) {
	trades := []model.Trade{
		trade(model.KindBuy, "BTC", "1", "50000"),
		trade(model.KindSell, "BTC", "1", "65000"),
		trade(model.KindBuy, "ETH", "4", "8000"),
		trade(model.KindIncome, "ETH", "0.2", "400"),
		trade(model.KindBuy, "USDC", "1000", "1000"),
		trade(model.KindBuy, "DUST", "0.00001", "3"),
	}
	sum := decimal.Zero
	for _, h := range AggregateAll(trades) {
		if h.Token != "USDC" {
			sum = sum.Add(h.CostBasis)
		}
	}
	cb := ComputeCash(nil, trades, nil, nil)
	assert.True(t, sum.Equal(cb.TotalCostBasis), "holdings=%s cash=%s", sum, cb.TotalCostBasis)
}

// --- Valuation ---

func TestValuate_MissingPrice(t *testing.T) {
	holdings := []model.Holding{{Token: "XYZ", TotalUnits: d("10"), CostBasis: d("500")}}
	v := Valuate(holdings, map[string]model.Quote{}, decimal.Zero)

	require.Len(t, v.Holdings, 1)
	h := v.Holdings[0]
	assert.True(t, h.MarketValue.IsZero())
	assert.True(t, h.PnL.Equal(d("-500")))
	assert.False(t, h.HasLiveQuote)
	assert.False(t, h.PercentChange24h.Valid)
	assert.True(t, h.Weight.IsZero(), "weight is 0 when total value is not positive")
}

func TestValuate_WeightsAndCash(t *testing.T) {
	holdings := []model.Holding{
		{Token: "BTC", TotalUnits: d("1"), CostBasis: d("40000")},
		{Token: "ETH", TotalUnits: d("10"), CostBasis: d("20000")},
		{Token: "USDC", TotalUnits: d("999"), CostBasis: d("999")},
	}
	quotes := map[string]model.Quote{
		"BTC": {Token: "BTC", Price: d("50000"), Available: true, PercentChange24h: nd("1.5")},
		"ETH": {Token: "ETH", Price: d("2500"), Available: true, IsManual: true},
	}
	v := Valuate(holdings, quotes, d("25000"))

	require.Len(t, v.Holdings, 3)
	assert.True(t, v.TotalValue.Equal(d("100000")), "total=%s", v.TotalValue)

	btc := v.Holdings[0]
	assert.True(t, btc.HasLiveQuote)
	assert.True(t, btc.Weight.Equal(d("50")))
	assert.True(t, btc.PnL.Equal(d("10000")))
	assert.True(t, btc.PercentChange24h.Decimal.Equal(d("1.5")))

	eth := v.Holdings[1]
	assert.False(t, eth.HasLiveQuote)
	assert.True(t, eth.IsManualPrice)
	assert.True(t, eth.MarketValue.Equal(d("25000")))

	usdc := v.Holdings[2]
	assert.Equal(t, "USDC", usdc.Token)
	assert.True(t, usdc.IsCash)
	assert.True(t, usdc.Price.Equal(d("1")))
	assert.True(t, usdc.MarketValue.Equal(d("25000")))
	assert.True(t, usdc.PnL.IsZero())
	assert.False(t, usdc.PercentChange24h.Valid)
	assert.True(t, usdc.Weight.Equal(d("25")))
}

func TestValuate_NoCashRowWhenZero(t *testing.T) {
	holdings := []model.Holding{{Token: "BTC", TotalUnits: d("1"), CostBasis: d("1")}}
	v := Valuate(holdings, nil, decimal.Zero)
	require.Len(t, v.Holdings, 1)
	assert.Equal(t, "BTC", v.Holdings[0].Token)
}

func TestValuate_NegativeCashZeroesWeights(t *testing.T) {
	holdings := []model.Holding{{Token: "BTC", TotalUnits: d("1"), CostBasis: d("100")}}
	quotes := map[string]model.Quote{"BTC": {Price: d("100"), Available: true}}
	v := Valuate(holdings, quotes, d("-500"))
	assert.True(t, v.TotalValue.Equal(d("-400")))
	for _, h := range v.Holdings {
		assert.True(t, h.Weight.IsZero())
	}
}

// --- Returns ---

var asOf = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func TestComputeReturns_NoRecordsFallsBackToSubscriptions(t *testing.T) {
	r := ComputeReturns(nil, d("120000"), d("100000"), asOf)
	assert.True(t, r.MTD.Equal(d("20")), "mtd=%s", r.MTD)
	assert.True(t, r.YTD.Equal(d("20")))
	assert.True(t, r.SinceInception.Equal(d("20")))
}

func TestComputeReturns_WithHistory(t *testing.T) {
	records := []model.MonthlyPerformance{
		{Month: "2025-02", EndingValue: d("110000")},
		{Month: "2024-06", GPSubs: d("20000"), LPSubs: d("60000"), EndingValue: d("90000")},
		{Month: "2024-12", EndingValue: d("100000")},
		{Month: "2025-03", EndingValue: d("999999")}, // current month, ignored for MTD
	}
	r := ComputeReturns(records, d("121000"), d("80000"), asOf)

	assert.True(t, r.BeginningOfMonthValue.Equal(d("110000")))
	assert.True(t, r.MTD.Equal(d("10")), "mtd=%s", r.MTD)

	assert.True(t, r.YearStartValue.Equal(d("100000")))
	assert.True(t, r.YTD.Equal(d("21")), "ytd=%s", r.YTD)

	assert.True(t, r.InitialValue.Equal(d("80000")))
	assert.True(t, r.SinceInception.Equal(d("51.25")), "si=%s", r.SinceInception)
}

func TestComputeReturns_NoPriorYearUsesBeginningOfMonth(t *testing.T) {
	records := []model.MonthlyPerformance{
		{Month: "2025-01", GPSubs: d("50000"), EndingValue: d("50000")},
		{Month: "2025-02", EndingValue: d("60000")},
	}
	r := ComputeReturns(records, d("66000"), d("50000"), asOf)
	assert.True(t, r.YearStartValue.Equal(d("60000")))
	assert.True(t, r.YTD.Equal(r.MTD))
}

func TestComputeReturns_NonPositiveBaseYieldsZero(t *testing.T) {
	records := []model.MonthlyPerformance{{Month: "2025-02", EndingValue: decimal.Zero}}
	r := ComputeReturns(records, d("1000"), decimal.Zero, asOf)
	assert.True(t, r.MTD.IsZero())
	assert.True(t, r.YTD.IsZero())
	assert.True(t, r.SinceInception.IsZero())
}
