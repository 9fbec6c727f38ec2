package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/fund-engine/internal/checker"
	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/portfolio"
	"github.com/atmx/fund-engine/internal/pricing"
	"github.com/atmx/fund-engine/internal/token"
)

// PortfolioResponse is the marked-to-market portfolio plus the cash
// residual it was built from.
type PortfolioResponse struct {
	portfolio.Valuation
	Cash portfolio.CashBalance `json:"cash"`
	AsOf time.Time             `json:"as_of"`
}

// GetHoldings handles GET /api/v1/holdings
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(r.Context())
	if err != nil {
		writeStoreError(w, "trades", err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio.Aggregate(trades))
}

// GetCashBalance handles GET /api/v1/cash-balance
func (s *Service) GetCashBalance(w http.ResponseWriter, r *http.Request) {
	l, err := s.loadLedger(r.Context())
	if err != nil {
		writeStoreError(w, "ledger", err)
		return
	}
	cash := portfolio.ComputeLedgerCash(l)
	metrics.CashBalance.Set(cash.USDCBalance.InexactFloat64())
	writeJSON(w, http.StatusOK, cash)
}

// GetQuotes handles GET /api/v1/quotes. Only live quotes for held tokens
// are returned; manual overrides are not merged in.
func (s *Service) GetQuotes(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeJSON(w, http.StatusOK, map[string]model.Quote{})
		return
	}
	trades, err := s.store.ListTrades(r.Context())
	if err != nil {
		writeStoreError(w, "trades", err)
		return
	}
	quotes, err := s.live.Quotes(r.Context(), portfolio.Tokens(portfolio.Aggregate(trades)))
	if err != nil {
		if errors.Is(err, pricing.ErrNoSnapshot) {
			writeError(w, "market data unavailable", http.StatusBadGateway)
			return
		}
		slog.Error("quotes read failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if quotes == nil {
		quotes = map[string]model.Quote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

// GetPortfolio handles GET /api/v1/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l, err := s.loadLedger(ctx)
	if err != nil {
		writeStoreError(w, "ledger", err)
		return
	}

	v, cash := s.valuate(r, l)
	metrics.PortfolioValue.Set(v.TotalValue.InexactFloat64())
	metrics.CashBalance.Set(cash.USDCBalance.InexactFloat64())

	writeJSON(w, http.StatusOK, PortfolioResponse{
		Valuation: v,
		Cash:      cash,
		AsOf:      s.now().UTC(),
	})
}

// GetReturns handles GET /api/v1/returns
func (s *Service) GetReturns(w http.ResponseWriter, r *http.Request) {
	l, err := s.loadLedger(r.Context())
	if err != nil {
		writeStoreError(w, "ledger", err)
		return
	}
	v, cash := s.valuate(r, l)
	writeJSON(w, http.StatusOK, portfolio.ComputeReturns(l.Monthly, v.TotalValue, cash.TotalSubscriptions, s.now()))
}

// GetReconciliation handles GET /api/v1/reconciliation
func (s *Service) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	l, err := s.loadLedger(r.Context())
	if err != nil {
		writeStoreError(w, "ledger", err)
		return
	}
	quotes := s.resolver.Resolve(r.Context(), tradeTokens(l.Trades), l.ManualPrices)
	report := checker.Reconcile(l, quotes)
	if len(report.Flags) > 0 {
		slog.Debug("reconciliation flags raised", "count", len(report.Flags))
	}
	writeJSON(w, http.StatusOK, report)
}

// GetTokenReconciliation handles GET /api/v1/reconciliation/token/{token}
func (s *Service) GetTokenReconciliation(w http.ResponseWriter, r *http.Request) {
	sym, err := token.Parse(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	l, err := s.loadLedger(r.Context())
	if err != nil {
		writeStoreError(w, "ledger", err)
		return
	}
	quotes := s.resolver.Resolve(r.Context(), []string{sym}, l.ManualPrices)
	writeJSON(w, http.StatusOK, checker.TokenTrades(l, sym, quotes))
}

// valuate marks the ledger's dust-filtered holdings to market.
func (s *Service) valuate(r *http.Request, l *model.Ledger) (portfolio.Valuation, portfolio.CashBalance) {
	holdings := portfolio.Aggregate(l.Trades)
	quotes := s.resolver.Resolve(r.Context(), portfolio.Tokens(holdings), l.ManualPrices)
	cash := portfolio.ComputeLedgerCash(l)
	return portfolio.Valuate(holdings, quotes, cash.USDCBalance), cash
}

func tradeTokens(trades []model.Trade) []string {
	syms := make([]string, 0, len(trades))
	for _, t := range trades {
		syms = append(syms, t.Token)
	}
	return token.Set(syms)
}
