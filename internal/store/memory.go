package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/atmx/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	trades  map[string]model.Trade
	flows   map[string]model.InvestorFlow
	exits   map[string]model.Exit
	monthly map[string]model.MonthlyPerformance // keyed by month
	prices  map[string]model.ManualPrice        // keyed by token
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trades:  make(map[string]model.Trade),
		flows:   make(map[string]model.InvestorFlow),
		exits:   make(map[string]model.Exit),
		monthly: make(map[string]model.MonthlyPerformance),
		prices:  make(map[string]model.ManualPrice),
	}
}

// --- Trades ---

func (s *MemoryStore) CreateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[t.ID] = *t
	return nil
}

func (s *MemoryStore) CreateTrades(_ context.Context, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		s.trades[t.ID] = t
	}
	return nil
}

func (s *MemoryStore) UpdateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[t.ID]; !ok {
		return ErrNotFound
	}
	s.trades[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id string) (*model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) ListTrades(_ context.Context) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := make([]model.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		trades = append(trades, t)
	}
	sortTrades(trades)
	return trades, nil
}

func (s *MemoryStore) ListTradesByToken(_ context.Context, token string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sym := strings.ToUpper(token)
	trades := []model.Trade{}
	for _, t := range s.trades {
		if t.Token == sym {
			trades = append(trades, t)
		}
	}
	sortTrades(trades)
	return trades, nil
}

func (s *MemoryStore) DeleteTrade(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trades[id]; !ok {
		return ErrNotFound
	}
	delete(s.trades, id)
	return nil
}

func (s *MemoryStore) DeleteAllTrades(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.trades))
	s.trades = make(map[string]model.Trade)
	return n, nil
}

func (s *MemoryStore) ReplaceTrades(_ context.Context, trades []model.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.trades))
	s.trades = make(map[string]model.Trade, len(trades))
	for _, t := range trades {
		s.trades[t.ID] = t
	}
	return n, nil
}

// --- Investor flows ---

func (s *MemoryStore) CreateFlow(_ context.Context, f *model.InvestorFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[f.ID] = *f
	return nil
}

func (s *MemoryStore) UpdateFlow(_ context.Context, f *model.InvestorFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[f.ID]; !ok {
		return ErrNotFound
	}
	s.flows[f.ID] = *f
	return nil
}

func (s *MemoryStore) DeleteFlow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return ErrNotFound
	}
	delete(s.flows, id)
	return nil
}

func (s *MemoryStore) ListFlows(_ context.Context) ([]model.InvestorFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flows := make([]model.InvestorFlow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Month != flows[j].Month {
			return flows[i].Month < flows[j].Month
		}
		return flows[i].ID < flows[j].ID
	})
	return flows, nil
}

// --- Exits ---

func (s *MemoryStore) CreateExit(_ context.Context, e *model.Exit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.exits[e.ID] = *e
	return nil
}

func (s *MemoryStore) UpdateExit(_ context.Context, e *model.Exit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exits[e.ID]; !ok {
		return ErrNotFound
	}
	s.exits[e.ID] = *e
	return nil
}

func (s *MemoryStore) DeleteExit(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exits[id]; !ok {
		return ErrNotFound
	}
	delete(s.exits, id)
	return nil
}

func (s *MemoryStore) ListExits(_ context.Context) ([]model.Exit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exits := make([]model.Exit, 0, len(s.exits))
	for _, e := range s.exits {
		exits = append(exits, e)
	}
	sort.Slice(exits, func(i, j int) bool {
		if exits[i].Token != exits[j].Token {
			return exits[i].Token < exits[j].Token
		}
		return exits[i].ID < exits[j].ID
	})
	return exits, nil
}

// --- Monthly performance ---

func (s *MemoryStore) UpsertMonthly(_ context.Context, m *model.MonthlyPerformance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.monthly[m.Month]; ok {
		m.ID = existing.ID
	}
	s.monthly[m.Month] = *m
	return nil
}

func (s *MemoryStore) GetMonthly(_ context.Context, month string) (*model.MonthlyPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monthly[month]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemoryStore) DeleteMonthly(_ context.Context, month string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.monthly[month]; !ok {
		return ErrNotFound
	}
	delete(s.monthly, month)
	return nil
}

func (s *MemoryStore) ListMonthly(_ context.Context) ([]model.MonthlyPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.MonthlyPerformance, 0, len(s.monthly))
	for _, m := range s.monthly {
		records = append(records, m)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Month < records[j].Month })
	return records, nil
}

// --- Manual prices ---

func (s *MemoryStore) UpsertManualPrice(_ context.Context, p *model.ManualPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[p.Token] = *p
	return nil
}

func (s *MemoryStore) DeleteManualPrice(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[token]; !ok {
		return ErrNotFound
	}
	delete(s.prices, token)
	return nil
}

func (s *MemoryStore) ListManualPrices(_ context.Context) ([]model.ManualPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make([]model.ManualPrice, 0, len(s.prices))
	for _, p := range s.prices {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Token < prices[j].Token })
	return prices, nil
}

func sortTrades(trades []model.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].Date.Equal(trades[j].Date.Time) {
			return trades[i].Date.Before(trades[j].Date.Time)
		}
		return trades[i].ID < trades[j].ID
	})
}
