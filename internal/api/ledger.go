package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/importer"
	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/portfolio"
	"github.com/atmx/fund-engine/internal/token"
)

// --- Request types ---

// TradeRequest is the JSON body for creating or replacing a trade. Give
// avg_price, total or both.
type TradeRequest struct {
	Date     model.Day           `json:"date"`
	Token    string              `json:"token"`
	Units    decimal.Decimal     `json:"units"`
	AvgPrice decimal.NullDecimal `json:"avg_price"`
	Total    decimal.NullDecimal `json:"total"`
	Kind     string              `json:"kind"` // Buy (default), Sell or Income
	Notes    string              `json:"notes"`
}

// FlowRequest is the JSON body for an investor subscription or redemption.
type FlowRequest struct {
	Month  string          `json:"month"`
	Client string          `json:"client"`
	Kind   string          `json:"kind"` // GP or LP
	Amount decimal.Decimal `json:"amount"`
}

// ExitRequest is the JSON body for an exit record.
type ExitRequest struct {
	Token     string          `json:"token"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	ExitDate  *model.Day      `json:"exit_date"`
}

// ManualPriceRequest is the JSON body for PUT /manual-price.
type ManualPriceRequest struct {
	Token string          `json:"token"`
	Price decimal.Decimal `json:"price"`
}

// ImportResponse is returned from POST /trades/import.
type ImportResponse struct {
	*importer.Result
	Replaced int64 `json:"replaced"`
}

func (req TradeRequest) toTrade(id string) (model.Trade, error) {
	kind := model.KindBuy
	if req.Kind != "" {
		var ok bool
		if kind, ok = model.ParseTradeKind(req.Kind); !ok {
			return model.Trade{}, portfolio.ErrInvalidKind
		}
	}
	return portfolio.NormalizeTrade(model.Trade{
		ID:       id,
		Date:     req.Date,
		Token:    req.Token,
		Units:    req.Units,
		AvgPrice: req.AvgPrice,
		Total:    req.Total,
		Kind:     kind,
		Notes:    req.Notes,
	})
}

// --- Trades ---

// ListTrades handles GET /api/v1/trades (optionally ?token=BTC).
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	var (
		trades []model.Trade
		err    error
	)
	if sym := r.URL.Query().Get("token"); sym != "" {
		trades, err = s.store.ListTradesByToken(r.Context(), token.Normalize(sym))
	} else {
		trades, err = s.store.ListTrades(r.Context())
	}
	if err != nil {
		writeStoreError(w, "trades", err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// CreateTrade handles POST /api/v1/trades
func (s *Service) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := req.toTrade(uuid.NewString())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.CreateTrade(r.Context(), &t); err != nil {
		writeStoreError(w, "trade", err)
		return
	}

	slog.Info("trade recorded",
		"id", t.ID,
		"token", t.Token,
		"kind", t.Kind,
		"units", t.Units.String(),
		"total", t.Total.Decimal.String(),
	)
	s.notifyLedger("trades", "created", t.ID)
	writeJSON(w, http.StatusCreated, t)
}

// GetTrade handles GET /api/v1/trades/{id}
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "trade", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTrade handles PUT /api/v1/trades/{id}. Every field is replaced.
func (s *Service) UpdateTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := req.toTrade(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateTrade(r.Context(), &t); err != nil {
		writeStoreError(w, "trade", err)
		return
	}
	s.notifyLedger("trades", "updated", t.ID)
	writeJSON(w, http.StatusOK, t)
}

// DeleteTrade handles DELETE /api/v1/trades/{id}
func (s *Service) DeleteTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteTrade(r.Context(), id); err != nil {
		writeStoreError(w, "trade", err)
		return
	}
	s.notifyLedger("trades", "deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// ClearTrades handles DELETE /api/v1/trades and removes the whole ledger.
func (s *Service) ClearTrades(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteAllTrades(r.Context())
	if err != nil {
		writeStoreError(w, "trades", err)
		return
	}
	slog.Warn("trade ledger cleared", "deleted", n)
	s.notifyLedger("trades", "cleared", "")
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// ImportTrades handles POST /api/v1/trades/import (multipart field "file").
// With ?replace=true the parsed trades atomically replace the existing
// ledger.
func (s *Service) ImportTrades(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, "upload exceeds size limit", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "expected multipart form with a file field", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	format := importer.Format(r.URL.Query().Get("format"))
	if format == "" {
		if format, err = importer.FormatFromFilename(header.Filename); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	res, err := importer.Import(file, format)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	replace, _ := strconv.ParseBool(r.URL.Query().Get("replace"))
	resp := ImportResponse{Result: res}
	ctx := r.Context()
	if replace {
		resp.Replaced, err = s.store.ReplaceTrades(ctx, res.Trades)
	} else {
		err = s.store.CreateTrades(ctx, res.Trades)
	}
	if err != nil {
		writeStoreError(w, "trades", err)
		return
	}

	metrics.ImportRows.WithLabelValues("imported").Add(float64(res.Imported))
	for code, n := range res.SkipReasons {
		metrics.ImportRows.WithLabelValues(code).Add(float64(n))
	}
	slog.Info("trades imported",
		"file", header.Filename,
		"format", format,
		"imported", res.Imported,
		"skipped", res.Skipped,
		"replaced", resp.Replaced,
	)
	s.notifyLedger("trades", "imported", "")
	writeJSON(w, http.StatusOK, resp)
}

// --- Investor flows ---

func (req FlowRequest) toFlow(id string) (model.InvestorFlow, error) {
	month, err := model.ParseMonth(req.Month)
	if err != nil {
		return model.InvestorFlow{}, err
	}
	kind, ok := model.ParseFlowKind(req.Kind)
	if !ok {
		return model.InvestorFlow{}, errors.New("kind must be GP or LP")
	}
	return model.InvestorFlow{ID: id, Month: month, Client: req.Client, Kind: kind, Amount: req.Amount}, nil
}

// ListFlows handles GET /api/v1/investor-flows
func (s *Service) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.ListFlows(r.Context())
	if err != nil {
		writeStoreError(w, "investor flows", err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

// CreateFlow handles POST /api/v1/investor-flows
func (s *Service) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req FlowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	f, err := req.toFlow(uuid.NewString())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.CreateFlow(r.Context(), &f); err != nil {
		writeStoreError(w, "investor flow", err)
		return
	}
	slog.Info("investor flow recorded", "id", f.ID, "month", f.Month, "kind", f.Kind, "amount", f.Amount.String())
	s.notifyLedger("investor_flows", "created", f.ID)
	writeJSON(w, http.StatusCreated, f)
}

// UpdateFlow handles PUT /api/v1/investor-flows/{id}
func (s *Service) UpdateFlow(w http.ResponseWriter, r *http.Request) {
	var req FlowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	f, err := req.toFlow(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateFlow(r.Context(), &f); err != nil {
		writeStoreError(w, "investor flow", err)
		return
	}
	s.notifyLedger("investor_flows", "updated", f.ID)
	writeJSON(w, http.StatusOK, f)
}

// DeleteFlow handles DELETE /api/v1/investor-flows/{id}
func (s *Service) DeleteFlow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteFlow(r.Context(), id); err != nil {
		writeStoreError(w, "investor flow", err)
		return
	}
	s.notifyLedger("investor_flows", "deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Exits ---

func (req ExitRequest) toExit(id string) (model.Exit, error) {
	sym, err := token.Parse(req.Token)
	if err != nil {
		return model.Exit{}, err
	}
	e := model.Exit{ID: id, Token: sym, CostBasis: req.CostBasis}
	if req.ExitDate != nil && !req.ExitDate.IsZero() {
		e.ExitDate = req.ExitDate
	}
	return e, nil
}

// ListExits handles GET /api/v1/exits
func (s *Service) ListExits(w http.ResponseWriter, r *http.Request) {
	exits, err := s.store.ListExits(r.Context())
	if err != nil {
		writeStoreError(w, "exits", err)
		return
	}
	writeJSON(w, http.StatusOK, exits)
}

// CreateExit handles POST /api/v1/exits
func (s *Service) CreateExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	e, err := req.toExit(uuid.NewString())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.CreateExit(r.Context(), &e); err != nil {
		writeStoreError(w, "exit", err)
		return
	}
	s.notifyLedger("exits", "created", e.ID)
	writeJSON(w, http.StatusCreated, e)
}

// UpdateExit handles PUT /api/v1/exits/{id}
func (s *Service) UpdateExit(w http.ResponseWriter, r *http.Request) {
	var req ExitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	e, err := req.toExit(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateExit(r.Context(), &e); err != nil {
		writeStoreError(w, "exit", err)
		return
	}
	s.notifyLedger("exits", "updated", e.ID)
	writeJSON(w, http.StatusOK, e)
}

// DeleteExit handles DELETE /api/v1/exits/{id}
func (s *Service) DeleteExit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteExit(r.Context(), id); err != nil {
		writeStoreError(w, "exit", err)
		return
	}
	s.notifyLedger("exits", "deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Monthly performance ---

// ListMonthly handles GET /api/v1/monthly-performance
func (s *Service) ListMonthly(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListMonthly(r.Context())
	if err != nil {
		writeStoreError(w, "monthly performance", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// UpsertMonthly handles PUT /api/v1/monthly-performance. A record for the
// same month is overwritten field by field.
func (s *Service) UpsertMonthly(w http.ResponseWriter, r *http.Request) {
	var m model.MonthlyPerformance
	if err := decodeBody(r, &m); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	month, err := model.ParseMonth(m.Month)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.Month = month
	m.ID = uuid.NewString()

	if err := s.store.UpsertMonthly(r.Context(), &m); err != nil {
		writeStoreError(w, "monthly performance", err)
		return
	}
	slog.Info("monthly performance saved", "month", m.Month, "ending_value", m.EndingValue.String())
	s.notifyLedger("monthly_performance", "updated", m.ID)
	writeJSON(w, http.StatusOK, m)
}

// DeleteMonthly handles DELETE /api/v1/monthly-performance/{month}
func (s *Service) DeleteMonthly(w http.ResponseWriter, r *http.Request) {
	month, err := model.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteMonthly(r.Context(), month); err != nil {
		writeStoreError(w, "monthly performance", err)
		return
	}
	s.notifyLedger("monthly_performance", "deleted", month)
	w.WriteHeader(http.StatusNoContent)
}

// --- Manual prices ---

// ListManualPrices handles GET /api/v1/manual-prices
func (s *Service) ListManualPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.store.ListManualPrices(r.Context())
	if err != nil {
		writeStoreError(w, "manual prices", err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// UpsertManualPrice handles PUT /api/v1/manual-price
func (s *Service) UpsertManualPrice(w http.ResponseWriter, r *http.Request) {
	var req ManualPriceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sym, err := token.Parse(req.Token)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "price must be positive", http.StatusBadRequest)
		return
	}

	p := model.ManualPrice{Token: sym, Price: req.Price, UpdatedAt: s.now().UTC()}
	if err := s.store.UpsertManualPrice(r.Context(), &p); err != nil {
		writeStoreError(w, "manual price", err)
		return
	}
	slog.Info("manual price set", "token", sym, "price", p.Price.String())
	s.notifyLedger("manual_prices", "updated", sym)
	writeJSON(w, http.StatusOK, p)
}

// DeleteManualPrice handles DELETE /api/v1/manual-price/{token}
func (s *Service) DeleteManualPrice(w http.ResponseWriter, r *http.Request) {
	sym := token.Normalize(chi.URLParam(r, "token"))
	if err := s.store.DeleteManualPrice(r.Context(), sym); err != nil {
		writeStoreError(w, "manual price", err)
		return
	}
	s.notifyLedger("manual_prices", "deleted", sym)
	w.WriteHeader(http.StatusNoContent)
}
