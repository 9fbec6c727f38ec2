// Package api provides the HTTP handlers for recording fund ledger data and
// serving the derived views: holdings, cash, valuation, returns and
// reconciliation.
//
// Every derived view is recomputed from a fresh ledger snapshot on each
// request. All monetary values use shopspring/decimal, never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/pricing"
	"github.com/atmx/fund-engine/internal/store"
)

// Service serves the fund API.
type Service struct {
	store     store.Store
	live      pricing.LiveQuotes
	resolver  *pricing.Resolver
	wsHub     *WSHub // optional WebSocket hub for change notifications
	maxUpload int64
	now       func() time.Time
}

// NewService creates the API service. live may be nil (manual prices only)
// and so may hub (no notifications).
func NewService(st store.Store, live pricing.LiveQuotes, hub *WSHub, maxUpload int64) *Service {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Service{
		store:     st,
		live:      live,
		resolver:  pricing.NewResolver(live),
		wsHub:     hub,
		maxUpload: maxUpload,
		now:       time.Now,
	}
}

// Routes mounts every /api/v1 endpoint on r.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	// Trade ledger.
	r.Get("/trades", s.ListTrades)
	r.Post("/trades", s.CreateTrade)
	r.Delete("/trades", s.ClearTrades)
	r.Post("/trades/import", s.ImportTrades)
	r.Get("/trades/{id}", s.GetTrade)
	r.Put("/trades/{id}", s.UpdateTrade)
	r.Delete("/trades/{id}", s.DeleteTrade)

	// Investor flows.
	r.Get("/investor-flows", s.ListFlows)
	r.Post("/investor-flows", s.CreateFlow)
	r.Put("/investor-flows/{id}", s.UpdateFlow)
	r.Delete("/investor-flows/{id}", s.DeleteFlow)

	// Exits.
	r.Get("/exits", s.ListExits)
	r.Post("/exits", s.CreateExit)
	r.Put("/exits/{id}", s.UpdateExit)
	r.Delete("/exits/{id}", s.DeleteExit)

	// Monthly performance.
	r.Get("/monthly-performance", s.ListMonthly)
	r.Put("/monthly-performance", s.UpsertMonthly)
	r.Delete("/monthly-performance/{month}", s.DeleteMonthly)

	// Manual prices.
	r.Get("/manual-prices", s.ListManualPrices)
	r.Put("/manual-price", s.UpsertManualPrice)
	r.Delete("/manual-price/{token}", s.DeleteManualPrice)

	// Derived views.
	r.Get("/holdings", s.GetHoldings)
	r.Get("/cash-balance", s.GetCashBalance)
	r.Get("/quotes", s.GetQuotes)
	r.Get("/portfolio", s.GetPortfolio)
	r.Get("/returns", s.GetReturns)
	r.Get("/reconciliation", s.GetReconciliation)
	r.Get("/reconciliation/token/{token}", s.GetTokenReconciliation)
}

// NotifyQuotes tells clients a new quote snapshot is available. It is
// registered as the quote cache's refresh hook.
func (s *Service) NotifyQuotes(snap *pricing.Snapshot) {
	if s.wsHub == nil || snap == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{Type: EventQuotesRefreshed, Tokens: snap.Tokens, At: snap.FetchedAt})
}

func (s *Service) notifyLedger(entity, action, id string) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{Type: EventLedgerChanged, Entity: entity, Action: action, ID: id})
}

func (s *Service) loadLedger(ctx context.Context) (*model.Ledger, error) {
	return store.LoadLedger(ctx, s.store)
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeStoreError maps a store failure to 404 or a generic 500. Internal
// error text is logged, not returned.
func writeStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, what+" not found", http.StatusNotFound)
		return
	}
	slog.Error("store operation failed", "entity", what, "err", err)
	writeError(w, "internal error", http.StatusInternalServerError)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
