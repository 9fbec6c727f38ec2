// Package model defines the ledger record types shared across the fund engine.
// All monetary values and unit quantities use shopspring/decimal, never float64.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind classifies a trade's effect on position and cost basis.
type TradeKind string

const (
	KindBuy    TradeKind = "Buy"
	KindSell   TradeKind = "Sell"
	KindIncome TradeKind = "Income" // staking rewards, airdrops: units at zero cost
)

// Valid reports whether k is one of the known trade kinds.
func (k TradeKind) Valid() bool {
	return k == KindBuy || k == KindSell || k == KindIncome
}

// ParseTradeKind accepts a kind in any letter case.
func ParseTradeKind(s string) (TradeKind, bool) {
	for _, k := range []TradeKind{KindBuy, KindSell, KindIncome} {
		if strings.EqualFold(strings.TrimSpace(s), string(k)) {
			return k, true
		}
	}
	return "", false
}

// FlowKind is the investor class of a subscription or redemption.
type FlowKind string

const (
	FlowGP FlowKind = "GP"
	FlowLP FlowKind = "LP"
)

// Valid reports whether k is GP or LP.
func (k FlowKind) Valid() bool {
	return k == FlowGP || k == FlowLP
}

// ParseFlowKind accepts gp or lp in any letter case.
func ParseFlowKind(s string) (FlowKind, bool) {
	k := FlowKind(strings.ToUpper(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Trade is one row of the trade ledger. Units are always stored as a positive
// magnitude; the direction comes from Kind. AvgPrice and Total are optional on
// input but both are populated once a trade has been normalized.
type Trade struct {
	ID       string              `json:"id" db:"id"`
	Date     Day                 `json:"date" db:"date"`
	Token    string              `json:"token" db:"token"`
	Units    decimal.Decimal     `json:"units" db:"units"`
	AvgPrice decimal.NullDecimal `json:"avg_price" db:"avg_price"`
	Total    decimal.NullDecimal `json:"total" db:"total"`
	Kind     TradeKind           `json:"kind" db:"kind"`
	Notes    string              `json:"notes,omitempty" db:"notes"`
}

// InvestorFlow is a GP or LP subscription (positive amount) or redemption
// (negative amount) booked against a calendar month.
type InvestorFlow struct {
	ID     string          `json:"id" db:"id"`
	Month  string          `json:"month" db:"month"` // YYYY-MM
	Client string          `json:"client" db:"client"`
	Kind   FlowKind        `json:"kind" db:"kind"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

// Exit records the realized cost of a position liquidated outside the trade
// ledger. A positive cost basis is removed from cash.
type Exit struct {
	ID        string          `json:"id" db:"id"`
	Token     string          `json:"token" db:"token"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	ExitDate  *Day            `json:"exit_date,omitempty" db:"exit_date"`
}

// MonthlyPerformance is the month-end performance record. Month is unique;
// writes are upserts that replace every field.
type MonthlyPerformance struct {
	ID           string          `json:"id" db:"id"`
	Month        string          `json:"month" db:"month"` // YYYY-MM
	GPSubs       decimal.Decimal `json:"gp_subs" db:"gp_subs"`
	LPSubs       decimal.Decimal `json:"lp_subs" db:"lp_subs"`
	InitialValue decimal.Decimal `json:"initial_value" db:"initial_value"`
	EndingValue  decimal.Decimal `json:"ending_value" db:"ending_value"`

	// Benchmark returns, in percent.
	FundReturn   decimal.NullDecimal `json:"fund_return" db:"fund_return"`
	BTCReturn    decimal.NullDecimal `json:"btc_return" db:"btc_return"`
	ETHReturn    decimal.NullDecimal `json:"eth_return" db:"eth_return"`
	SOLReturn    decimal.NullDecimal `json:"sol_return" db:"sol_return"`
	Total3Return decimal.NullDecimal `json:"total3_return" db:"total3_return"`

	FundExpenses decimal.Decimal `json:"fund_expenses" db:"fund_expenses"`
	MgmtFees     decimal.Decimal `json:"mgmt_fees" db:"mgmt_fees"`
	SetupCosts   decimal.Decimal `json:"setup_costs" db:"setup_costs"`
}

// Expenses returns the sum of every cost line booked in the month.
func (m MonthlyPerformance) Expenses() decimal.Decimal {
	return m.FundExpenses.Add(m.MgmtFees).Add(m.SetupCosts)
}

// ManualPrice is an operator-entered price used only when the live feed has
// no quote for the token.
type ManualPrice struct {
	Token     string          `json:"token" db:"token"`
	Price     decimal.Decimal `json:"price" db:"price"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Quote is a market quote for one token. Percent-change and market fields are
// null when unknown (always null for manual prices).
type Quote struct {
	Token            string              `json:"token"`
	Price            decimal.Decimal     `json:"price"`
	PercentChange24h decimal.NullDecimal `json:"pct_change_24h"`
	PercentChange7d  decimal.NullDecimal `json:"pct_change_7d"`
	PercentChange30d decimal.NullDecimal `json:"pct_change_30d"`
	PercentChange60d decimal.NullDecimal `json:"pct_change_60d"`
	MarketCap        decimal.NullDecimal `json:"market_cap"`
	Volume24h        decimal.NullDecimal `json:"volume_24h"`
	IsManual         bool                `json:"is_manual"`
	Available        bool                `json:"available"` // false means "no price": Price is 0
	LastUpdated      time.Time           `json:"last_updated,omitempty"`
}

// HasLiveData reports whether the quote came from the market feed.
func (q Quote) HasLiveData() bool {
	return q.Available && !q.IsManual
}

// Holding is a token's net position and cost basis derived from the trade ledger.
type Holding struct {
	Token      string          `json:"token"`
	TotalUnits decimal.Decimal `json:"total_units"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
}

// Ledger is a point-in-time snapshot of every record needed to derive the
// portfolio. It is read once per request and never mutated afterwards.
type Ledger struct {
	Trades       []Trade
	Flows        []InvestorFlow
	Exits        []Exit
	Monthly      []MonthlyPerformance
	ManualPrices []ManualPrice
}
