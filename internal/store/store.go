// Package store defines the persistence interface for the fund ledger.
// Implementations include PostgreSQL (source of truth), SQLite (single-file
// deployments) and in-memory (for testing).
//
// The store holds raw ledger records only. Holdings, cash and returns are
// never persisted; they are recomputed from a fresh snapshot on every read.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/fund-engine/internal/model"
)

// ErrNotFound is returned when a record addressed by key does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Writes are last-write-wins per primary
// key; only ReplaceTrades spans more than one row.
type Store interface {
	// --- Trades ---

	// CreateTrade persists a normalized trade.
	CreateTrade(ctx context.Context, t *model.Trade) error

	// CreateTrades persists a batch of normalized trades (bulk import).
	CreateTrades(ctx context.Context, trades []model.Trade) error

	// UpdateTrade replaces every field of an existing trade.
	UpdateTrade(ctx context.Context, t *model.Trade) error

	// GetTrade retrieves a trade by ID.
	GetTrade(ctx context.Context, id string) (*model.Trade, error)

	// ListTrades returns all trades ordered by date, then ID.
	ListTrades(ctx context.Context) ([]model.Trade, error)

	// ListTradesByToken returns one token's trades ordered by date, then ID.
	ListTradesByToken(ctx context.Context, token string) ([]model.Trade, error)

	// DeleteTrade removes a trade.
	DeleteTrade(ctx context.Context, id string) error

	// DeleteAllTrades clears the trade ledger and reports how many rows went.
	DeleteAllTrades(ctx context.Context) (int64, error)

	// ReplaceTrades swaps the whole trade ledger for trades atomically and
	// reports how many rows were removed. On error the old ledger is intact.
	ReplaceTrades(ctx context.Context, trades []model.Trade) (int64, error)

	// --- Investor flows ---

	CreateFlow(ctx context.Context, f *model.InvestorFlow) error
	UpdateFlow(ctx context.Context, f *model.InvestorFlow) error
	DeleteFlow(ctx context.Context, id string) error
	ListFlows(ctx context.Context) ([]model.InvestorFlow, error)

	// --- Exits ---

	CreateExit(ctx context.Context, e *model.Exit) error
	UpdateExit(ctx context.Context, e *model.Exit) error
	DeleteExit(ctx context.Context, id string) error
	ListExits(ctx context.Context) ([]model.Exit, error)

	// --- Monthly performance ---

	// UpsertMonthly inserts or fully replaces the record for m.Month. The ID
	// of an existing record is kept and written back into m.
	UpsertMonthly(ctx context.Context, m *model.MonthlyPerformance) error

	// GetMonthly retrieves the record for a YYYY-MM month.
	GetMonthly(ctx context.Context, month string) (*model.MonthlyPerformance, error)

	DeleteMonthly(ctx context.Context, month string) error

	// ListMonthly returns records ordered by month ascending.
	ListMonthly(ctx context.Context) ([]model.MonthlyPerformance, error)

	// --- Manual prices ---

	// UpsertManualPrice inserts or replaces the override for p.Token.
	UpsertManualPrice(ctx context.Context, p *model.ManualPrice) error
	DeleteManualPrice(ctx context.Context, token string) error
	ListManualPrices(ctx context.Context) ([]model.ManualPrice, error)
}

// LoadLedger reads a full snapshot of every ledger table.
func LoadLedger(ctx context.Context, st Store) (*model.Ledger, error) {
	var (
		l   model.Ledger
		err error
	)
	if l.Trades, err = st.ListTrades(ctx); err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	if l.Flows, err = st.ListFlows(ctx); err != nil {
		return nil, fmt.Errorf("load investor flows: %w", err)
	}
	if l.Exits, err = st.ListExits(ctx); err != nil {
		return nil, fmt.Errorf("load exits: %w", err)
	}
	if l.Monthly, err = st.ListMonthly(ctx); err != nil {
		return nil, fmt.Errorf("load monthly performance: %w", err)
	}
	if l.ManualPrices, err = st.ListManualPrices(ctx); err != nil {
		return nil, fmt.Errorf("load manual prices: %w", err)
	}
	return &l, nil
}
