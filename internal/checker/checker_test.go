package checker

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/fund-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tr(id string, day int, kind model.TradeKind, tok, units, total string) model.Trade {
	return model.Trade{
		ID:    id,
		Date:  model.NewDay(2024, 5, day),
		Token: tok,
		Units: d(units),
		Total: decimal.NewNullDecimal(d(total)),
		Kind:  kind,
	}
}

func sampleLedger() *model.Ledger {
	return &model.Ledger{
		Trades: []model.Trade{
			tr("t3", 20, model.KindSell, "BTC", "0.5", "35000"),
			tr("t1", 1, model.KindBuy, "btc", "1", "60000"),
			tr("t2", 10, model.KindIncome, "BTC", "0.01", "700"),
			tr("t4", 2, model.KindBuy, "PEPE", "1000000", "12"),
			tr("t5", 3, model.KindSell, "ARB", "5", "10"),
		},
		Flows: []model.InvestorFlow{
			{ID: "f1", Month: "2024-05", Kind: model.FlowGP, Amount: d("20000")},
			{ID: "f2", Month: "2024-05", Kind: model.FlowLP, Amount: d("80000")},
			{ID: "f3", Month: "2024-06", Kind: model.FlowLP, Amount: d("-5000")},
		},
		Exits: []model.Exit{{ID: "e1", Token: "LUNA", CostBasis: d("1500")}},
		Monthly: []model.MonthlyPerformance{
			{Month: "2024-05", FundExpenses: d("100"), MgmtFees: d("200"), SetupCosts: d("1000")},
			{Month: "2024-06", FundExpenses: d("50"), MgmtFees: d("200")},
		},
	}
}

func TestReconcile_Breakdown(t *testing.T) {
	quotes := map[string]model.Quote{"BTC": {Token: "BTC", Price: d("70000"), Available: true}}
	r := Reconcile(sampleLedger(), quotes)

	require.Len(t, r.Holdings, 3)
	assert.Equal(t, []string{"ARB", "BTC", "PEPE"}, []string{r.Holdings[0].Token, r.Holdings[1].Token, r.Holdings[2].Token})

	btc := r.Holdings[1]
	assert.True(t, btc.BuyUnits.Equal(d("1")))
	assert.True(t, btc.SellUnits.Equal(d("0.5")))
	assert.True(t, btc.IncomeUnits.Equal(d("0.01")))
	assert.True(t, btc.NetUnits.Equal(d("0.51")))
	assert.True(t, btc.BuyTotal.Equal(d("60000")))
	assert.True(t, btc.SellTotal.Equal(d("35000")))
	assert.True(t, btc.CostBasis.Equal(d("25000")))
	assert.Equal(t, 3, btc.TradeCount)
	assert.True(t, btc.HasPrice)

	assert.True(t, r.Investors.GPTotal.Equal(d("20000")))
	assert.True(t, r.Investors.LPTotal.Equal(d("75000")))
	assert.True(t, r.Investors.TotalSubscriptions.Equal(d("95000")))

	assert.True(t, r.Expenses.Total.Equal(d("1550")))
	assert.True(t, r.ExitsCostBasis.Equal(d("1500")))

	// 95000 − (25000 + 12 − 10) − 1550 − 1500
	assert.True(t, r.Calculations.TotalCostBasis.Equal(d("25002")))
	assert.True(t, r.Calculations.USDCBalance.Equal(d("66948")), "usdc=%s", r.Calculations.USDCBalance)
}

func TestReconcile_Flags(t *testing.T) {
	r := Reconcile(sampleLedger(), nil)

	codes := map[string]string{}
	for _, f := range r.Flags {
		codes[f.Code+":"+f.Token] = f.Message
	}
	assert.Contains(t, codes, FlagNegativeHolding+":ARB")
	assert.Contains(t, codes, FlagMissingPrice+":PEPE")
	assert.Contains(t, codes, FlagMissingPrice+":BTC")
	assert.NotContains(t, codes, FlagNegativeCash+":USDC")
	assert.NotContains(t, codes, FlagNoSubscriptions+":")
	for k := range codes {
		assert.NotContains(t, k, FlagCalculationMismatch)
	}
}

func TestReconcile_EmptyLedger(t *testing.T) {
	r := Reconcile(&model.Ledger{}, nil)
	assert.Empty(t, r.Holdings)
	require.Len(t, r.Flags, 1)
	assert.Equal(t, FlagNoSubscriptions, r.Flags[0].Code)
	assert.True(t, r.Calculations.USDCBalance.IsZero())
}

func TestReconcile_NegativeCash(t *testing.T) {
	l := &model.Ledger{
		Trades: []model.Trade{tr("t1", 1, model.KindBuy, "ETH", "1", "3000")},
		Flows:  []model.InvestorFlow{{Kind: model.FlowLP, Amount: d("1000")}},
	}
	quotes := map[string]model.Quote{"ETH": {Price: d("2900"), Available: true, IsManual: true}}
	r := Reconcile(l, quotes)
	require.Len(t, r.Flags, 1)
	assert.Equal(t, FlagNegativeCash, r.Flags[0].Code)
}

func TestReconcile_DustPositionWithoutPrice(t *testing.T) {
	l := &model.Ledger{
		Trades: []model.Trade{tr("t1", 1, model.KindBuy, "XYZ", "0.00005", "1")},
		Flows:  []model.InvestorFlow{{Kind: model.FlowGP, Amount: d("10")}},
	}
	r := Reconcile(l, nil)
	require.Len(t, r.Flags, 1)
	assert.Equal(t, FlagMissingPrice, r.Flags[0].Code)
	assert.Equal(t, "XYZ", r.Flags[0].Token)
}

func TestReconcile_Idempotent(t *testing.T) {
	l := sampleLedger()
	a := Reconcile(l, nil)
	b := Reconcile(l, nil)
	assert.Equal(t, a, b)
}

func TestTokenTrades_SortedByDate(t *testing.T) {
	detail := TokenTrades(sampleLedger(), " btc ", nil)
	assert.Equal(t, "BTC", detail.Token)
	require.Len(t, detail.Trades, 3)
	assert.Equal(t, "t1", detail.Trades[0].ID)
	assert.Equal(t, "t2", detail.Trades[1].ID)
	assert.Equal(t, "t3", detail.Trades[2].ID)
	assert.True(t, detail.Summary.NetUnits.Equal(d("0.51")))
	assert.Equal(t, 3, detail.Summary.TradeCount)
}

func TestTokenTrades_UnknownToken(t *testing.T) {
	detail := TokenTrades(sampleLedger(), "DOGE", nil)
	assert.Equal(t, "DOGE", detail.Token)
	assert.Empty(t, detail.Trades)
	assert.NotNil(t, detail.Trades)
	assert.Equal(t, 0, detail.Summary.TradeCount)
}

func TestRenderMarkdown(t *testing.T) {
	r := Reconcile(sampleLedger(), nil)
	out := RenderMarkdown(r)
	assert.Contains(t, out, "# Reconciliation")
	assert.Contains(t, out, "$66,948.00")
	assert.Contains(t, out, "| BTC |")
	assert.Contains(t, out, "`negative_holding`")
}
