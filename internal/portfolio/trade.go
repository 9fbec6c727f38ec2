// Package portfolio derives holdings, the cash residual, valuation and
// returns from a ledger snapshot. Every function here is pure: the same
// ledger always yields the same numbers, and nothing is cached between calls.
//
// All monetary values use shopspring/decimal, never float64 for money.
package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/token"
)

var (
	ErrZeroUnits    = errors.New("portfolio: trade units must be non-zero")
	ErrMissingPrice = errors.New("portfolio: trade needs avg_price or total")
	ErrInvalidKind  = errors.New("portfolio: trade kind must be Buy, Sell or Income")
	ErrMissingDate  = errors.New("portfolio: trade date is required")
)

// NormalizeTrade validates a trade and fills in whichever of avg_price and
// total is missing. Units are stored as a positive magnitude.
func NormalizeTrade(t model.Trade) (model.Trade, error) {
	sym, err := token.Parse(t.Token)
	if err != nil {
		return t, err
	}
	t.Token = sym

	if !t.Kind.Valid() {
		return t, fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if t.Date.IsZero() {
		return t, ErrMissingDate
	}
	if t.Units.IsZero() {
		return t, ErrZeroUnits
	}
	t.Units = t.Units.Abs()

	switch {
	case t.Total.Valid && t.AvgPrice.Valid:
	case t.Total.Valid:
		t.AvgPrice = decimal.NewNullDecimal(t.Total.Decimal.Div(t.Units))
	case t.AvgPrice.Valid:
		t.Total = decimal.NewNullDecimal(t.AvgPrice.Decimal.Mul(t.Units))
	default:
		return t, ErrMissingPrice
	}
	return t, nil
}

// SignedUnits is the trade's effect on the token's net position.
func SignedUnits(t model.Trade) decimal.Decimal {
	if t.Kind == model.KindSell {
		return t.Units.Neg()
	}
	return t.Units
}

// SignedCost is the trade's effect on the token's cost basis. Income carries
// no cost.
func SignedCost(t model.Trade) decimal.Decimal {
	switch t.Kind {
	case model.KindBuy:
		return tradeTotal(t)
	case model.KindSell:
		return tradeTotal(t).Neg()
	default:
		return decimal.Zero
	}
}

// tradeTotal returns the stored total, deriving it for rows written before
// normalization existed.
func tradeTotal(t model.Trade) decimal.Decimal {
	if t.Total.Valid {
		return t.Total.Decimal
	}
	if t.AvgPrice.Valid {
		return t.AvgPrice.Decimal.Mul(t.Units)
	}
	return decimal.Zero
}
