package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/fund-engine/internal/checker"
	"github.com/atmx/fund-engine/internal/importer"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/portfolio"
	"github.com/atmx/fund-engine/internal/pricing"
	"github.com/atmx/fund-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeLive struct {
	quotes map[string]model.Quote
	err    error
}

func (f *fakeLive) Quotes(_ context.Context, tokens []string) (map[string]model.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]model.Quote{}
	for _, t := range tokens {
		if q, ok := f.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

func liveQuote(sym, price string) model.Quote {
	return model.Quote{
		Token:            sym,
		Price:            d(price),
		PercentChange24h: decimal.NewNullDecimal(d("1.5")),
		Available:        true,
	}
}

// newTestEnv creates a Service over an in-memory store mounted on a chi router.
func newTestEnv(t *testing.T, live pricing.LiveQuotes) (*Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := NewService(ms, live, nil, 1<<20)
	svc.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return svc, ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func seed(t *testing.T, router chi.Router) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/investor-flows", map[string]any{
		"month": "2024-05", "client": "Founders", "kind": "gp", "amount": "50000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	for _, tr := range []map[string]any{
		{"date": "2024-05-01", "token": "btc", "units": "1", "total": "5000", "kind": "Buy"},
		{"date": "2024-05-02", "token": "XYZ", "units": "10", "avg_price": "50"},
	} {
		w := do(t, router, "POST", "/api/v1/trades", tr)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

// --- Trades ---

func TestCreateTrade_FillsMissingTotal(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/trades", map[string]any{
		"date": "2024-05-01", "token": " eth ", "units": "-2", "avg_price": "3000.5", "kind": "sell",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	tr := decode[model.Trade](t, w)
	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, "ETH", tr.Token)
	assert.Equal(t, model.KindSell, tr.Kind)
	assert.True(t, tr.Units.Equal(d("2")))
	assert.True(t, tr.Total.Decimal.Equal(d("6001")))
}

func TestCreateTrade_Validation(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	cases := map[string]map[string]any{
		"missing price": {"date": "2024-05-01", "token": "BTC", "units": "1"},
		"zero units":    {"date": "2024-05-01", "token": "BTC", "units": "0", "total": "1"},
		"bad kind":      {"date": "2024-05-01", "token": "BTC", "units": "1", "total": "1", "kind": "short"},
		"bad token":     {"date": "2024-05-01", "token": "", "units": "1", "total": "1"},
		"no date":       {"token": "BTC", "units": "1", "total": "1"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/trades", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/trades", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTradeLifecycle(t *testing.T) {
	_, ms, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/trades", map[string]any{
		"date": "2024-05-01", "token": "SOL", "units": "10", "total": "1500",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[model.Trade](t, w).ID

	w = do(t, router, "PUT", "/api/v1/trades/"+id, map[string]any{
		"date": "2024-05-03", "token": "SOL", "units": "12", "total": "1800", "kind": "Buy",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "GET", "/api/v1/trades/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Trade](t, w)
	assert.True(t, got.Units.Equal(d("12")))
	assert.True(t, got.AvgPrice.Decimal.Equal(d("150")))

	w = do(t, router, "GET", "/api/v1/trades?token=sol", nil)
	assert.Len(t, decode[[]model.Trade](t, w), 1)

	w = do(t, router, "DELETE", "/api/v1/trades/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	trades, err := ms.ListTrades(context.Background())
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestTrade_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/trades/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "DELETE", "/api/v1/trades/nope", nil).Code)
	w := do(t, router, "PUT", "/api/v1/trades/nope", map[string]any{
		"date": "2024-05-01", "token": "BTC", "units": "1", "total": "1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "trade not found")
}

func TestClearTrades(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	seed(t, router)

	w := do(t, router, "DELETE", "/api/v1/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]int64{"deleted": 2}, decode[map[string]int64](t, w))
}

// --- Import ---

func uploadCSV(t *testing.T, router chi.Router, path, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestImportTrades_Replace(t *testing.T) {
	_, ms, router := newTestEnv(t, nil)
	seed(t, router)

	csv := "Date,Symbol,Qty,Price,Type\n" +
		"2024-05-01,ETH,2,3000,buy\n" +
		"2024-05-02,,1,1,buy\n" +
		"2024-05-03,SOL,0,10,buy\n"
	w := uploadCSV(t, router, "/api/v1/trades/import?replace=true", "trades.csv", csv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		importer.Result
		Replaced int64 `json:"replaced"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Imported)
	assert.Equal(t, 2, resp.Skipped)
	assert.Equal(t, int64(2), resp.Replaced)
	assert.Equal(t, 1, resp.SkipReasons[importer.SkipNoToken])
	assert.Equal(t, 1, resp.SkipReasons[importer.SkipZeroUnits])

	trades, err := ms.ListTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "ETH", trades[0].Token)
	assert.True(t, trades[0].Total.Decimal.Equal(d("6000")))
}

func TestImportTrades_Appends(t *testing.T) {
	_, ms, router := newTestEnv(t, nil)
	seed(t, router)

	w := uploadCSV(t, router, "/api/v1/trades/import", "more.csv", "token,units,total,date\nPEPE,3,10,2024-01-01\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	trades, err := ms.ListTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestImportTrades_BadFiles(t *testing.T) {
	_, ms, router := newTestEnv(t, nil)
	seed(t, router)

	w := uploadCSV(t, router, "/api/v1/trades/import?replace=true", "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = uploadCSV(t, router, "/api/v1/trades/import?replace=true", "trades.csv", "a,b\n1,2\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A rejected file never clears the ledger.
	trades, err := ms.ListTrades(context.Background())
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	req := httptest.NewRequest("POST", "/api/v1/trades/import", bytes.NewBufferString("plain"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Flows, exits, monthly, manual prices ---

func TestFlows(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/investor-flows", map[string]any{"month": "2024-13", "kind": "GP", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, router, "POST", "/api/v1/investor-flows", map[string]any{"month": "2024-05", "kind": "XX", "amount": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/investor-flows", map[string]any{"month": "2024-05", "kind": "lp", "amount": "100"})
	require.Equal(t, http.StatusCreated, w.Code)
	f := decode[model.InvestorFlow](t, w)
	assert.Equal(t, model.FlowLP, f.Kind)

	w = do(t, router, "PUT", "/api/v1/investor-flows/"+f.ID, map[string]any{"month": "2024-06", "kind": "LP", "amount": "-40"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	flows := decode[[]model.InvestorFlow](t, do(t, router, "GET", "/api/v1/investor-flows", nil))
	require.Len(t, flows, 1)
	assert.Equal(t, "2024-06", flows[0].Month)
	assert.True(t, flows[0].Amount.Equal(d("-40")))

	assert.Equal(t, http.StatusNoContent, do(t, router, "DELETE", "/api/v1/investor-flows/"+f.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "DELETE", "/api/v1/investor-flows/"+f.ID, nil).Code)
}

func TestExits(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/exits", map[string]any{"token": "luna", "cost_basis": "1500", "exit_date": "2024-05-12"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	e := decode[model.Exit](t, w)
	assert.Equal(t, "LUNA", e.Token)
	require.NotNil(t, e.ExitDate)
	assert.Equal(t, "2024-05-12", e.ExitDate.String())

	w = do(t, router, "PUT", "/api/v1/exits/"+e.ID, map[string]any{"token": "LUNA", "cost_basis": "1200"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[model.Exit](t, w).ExitDate)

	assert.Len(t, decode[[]model.Exit](t, do(t, router, "GET", "/api/v1/exits", nil)), 1)
	assert.Equal(t, http.StatusNoContent, do(t, router, "DELETE", "/api/v1/exits/"+e.ID, nil).Code)
}

func TestUpsertMonthly_OverwritesMonth(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	w := do(t, router, "PUT", "/api/v1/monthly-performance", map[string]any{
		"month": "2024-05", "ending_value": "100000", "mgmt_fees": "200",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, router, "PUT", "/api/v1/monthly-performance", map[string]any{
		"month": "2024-05", "ending_value": "110000", "fund_return": "10",
	})
	require.Equal(t, http.StatusOK, w.Code)

	records := decode[[]model.MonthlyPerformance](t, do(t, router, "GET", "/api/v1/monthly-performance", nil))
	require.Len(t, records, 1)
	assert.True(t, records[0].EndingValue.Equal(d("110000")))
	assert.True(t, records[0].MgmtFees.IsZero())
	assert.True(t, records[0].FundReturn.Valid)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/api/v1/monthly-performance", map[string]any{"month": "May"}).Code)
	assert.Equal(t, http.StatusNoContent, do(t, router, "DELETE", "/api/v1/monthly-performance/2024-05", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "DELETE", "/api/v1/monthly-performance/2024-05", nil).Code)
}

func TestManualPrice(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/api/v1/manual-price", map[string]any{"token": "XYZ", "price": "0"}).Code)

	w := do(t, router, "PUT", "/api/v1/manual-price", map[string]any{"token": "xyz", "price": "2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, router, "PUT", "/api/v1/manual-price", map[string]any{"token": "XYZ", "price": "3"})
	require.Equal(t, http.StatusOK, w.Code)

	prices := decode[[]model.ManualPrice](t, do(t, router, "GET", "/api/v1/manual-prices", nil))
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Price.Equal(d("3")))

	assert.Equal(t, http.StatusNoContent, do(t, router, "DELETE", "/api/v1/manual-price/xyz", nil).Code)
}

// --- Derived views ---

func TestHoldingsAndCash(t *testing.T) {
	_, _, router := newTestEnv(t, nil)
	seed(t, router)

	holdings := decode[[]model.Holding](t, do(t, router, "GET", "/api/v1/holdings", nil))
	require.Len(t, holdings, 2)
	assert.Equal(t, "BTC", holdings[0].Token)
	assert.Equal(t, "XYZ", holdings[1].Token)

	cash := decode[portfolio.CashBalance](t, do(t, router, "GET", "/api/v1/cash-balance", nil))
	assert.True(t, cash.TotalSubscriptions.Equal(d("50000")))
	assert.True(t, cash.TotalCostBasis.Equal(d("5500")))
	assert.True(t, cash.USDCBalance.Equal(d("44500")))
}

func TestGetPortfolio_MissingAndManualPrices(t *testing.T) {
	live := &fakeLive{quotes: map[string]model.Quote{"BTC": liveQuote("BTC", "6000")}}
	_, _, router := newTestEnv(t, live)
	seed(t, router)

	p := decode[PortfolioResponse](t, do(t, router, "GET", "/api/v1/portfolio", nil))
	require.Len(t, p.Holdings, 3)

	btc, xyz, usdc := p.Holdings[0], p.Holdings[1], p.Holdings[2]
	assert.True(t, btc.HasLiveQuote)
	assert.True(t, btc.PnL.Equal(d("1000")))
	assert.True(t, btc.PercentChange24h.Valid)

	assert.Equal(t, "XYZ", xyz.Token)
	assert.False(t, xyz.HasLiveQuote)
	assert.True(t, xyz.MarketValue.IsZero())
	assert.True(t, xyz.PnL.Equal(d("-500")))

	assert.True(t, usdc.IsCash)
	assert.True(t, usdc.MarketValue.Equal(d("44500")))
	assert.True(t, p.TotalValue.Equal(d("50500")))
	assert.True(t, p.Cash.USDCBalance.Equal(d("44500")))

	// A manual price fills the gap for XYZ only.
	do(t, router, "PUT", "/api/v1/manual-price", map[string]any{"token": "XYZ", "price": "40"})
	do(t, router, "PUT", "/api/v1/manual-price", map[string]any{"token": "BTC", "price": "1"})

	p = decode[PortfolioResponse](t, do(t, router, "GET", "/api/v1/portfolio", nil))
	btc, xyz = p.Holdings[0], p.Holdings[1]
	assert.True(t, btc.Price.Equal(d("6000")))
	assert.False(t, btc.IsManualPrice)
	assert.True(t, xyz.IsManualPrice)
	assert.False(t, xyz.PercentChange24h.Valid)
	assert.True(t, xyz.MarketValue.Equal(d("400")))
}

func TestGetPortfolio_NoSnapshotStillValues(t *testing.T) {
	live := &fakeLive{err: pricing.ErrNoSnapshot}
	_, _, router := newTestEnv(t, live)
	seed(t, router)

	w := do(t, router, "GET", "/api/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[PortfolioResponse](t, w)
	assert.True(t, p.TotalValue.Equal(d("44500")))
}

func TestGetQuotes(t *testing.T) {
	live := &fakeLive{quotes: map[string]model.Quote{
		"BTC":  liveQuote("BTC", "6000"),
		"DOGE": liveQuote("DOGE", "0.1"),
	}}
	_, _, router := newTestEnv(t, live)
	seed(t, router)

	quotes := decode[map[string]model.Quote](t, do(t, router, "GET", "/api/v1/quotes", nil))
	assert.Len(t, quotes, 1)
	assert.Contains(t, quotes, "BTC")

	live.err = pricing.ErrNoSnapshot
	assert.Equal(t, http.StatusBadGateway, do(t, router, "GET", "/api/v1/quotes", nil).Code)

	_, _, router = newTestEnv(t, nil)
	w := do(t, router, "GET", "/api/v1/quotes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())
}

func TestGetReturns(t *testing.T) {
	live := &fakeLive{quotes: map[string]model.Quote{
		"BTC": liveQuote("BTC", "15500"),
		"XYZ": liveQuote("XYZ", "0"),
	}}
	_, _, router := newTestEnv(t, live)
	seed(t, router)

	// 10×0 + 1×15500 + 44500 = 60000 against 50000 subscribed.
	r := decode[portfolio.Returns](t, do(t, router, "GET", "/api/v1/returns", nil))
	assert.Equal(t, "2024-06", r.AsOf)
	assert.True(t, r.CurrentValue.Equal(d("60000")), r.CurrentValue.String())
	assert.True(t, r.MTD.Equal(d("20")), r.MTD.String())
	assert.True(t, r.SinceInception.Equal(d("20")))
}

func TestReconciliation(t *testing.T) {
	_, _, router := newTestEnv(t, nil)

	report := decode[checker.Report](t, do(t, router, "GET", "/api/v1/reconciliation", nil))
	require.Len(t, report.Flags, 1)
	assert.Equal(t, checker.FlagNoSubscriptions, report.Flags[0].Code)

	seed(t, router)
	do(t, router, "PUT", "/api/v1/manual-price", map[string]any{"token": "BTC", "price": "6000"})

	report = decode[checker.Report](t, do(t, router, "GET", "/api/v1/reconciliation", nil))
	require.Len(t, report.Holdings, 2)
	assert.True(t, report.Holdings[0].HasPrice)
	assert.False(t, report.Holdings[1].HasPrice)
	assert.True(t, report.Calculations.USDCBalance.Equal(d("44500")))
	require.Len(t, report.Flags, 1)
	assert.Equal(t, checker.FlagMissingPrice, report.Flags[0].Code)
	assert.Equal(t, "XYZ", report.Flags[0].Token)

	detail := decode[checker.TokenDetail](t, do(t, router, "GET", "/api/v1/reconciliation/token/btc", nil))
	assert.Equal(t, "BTC", detail.Token)
	require.Len(t, detail.Trades, 1)
	assert.Equal(t, 1, detail.Summary.TradeCount)
	assert.True(t, detail.Summary.HasPrice)
}
