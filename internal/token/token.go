// Package token handles token symbol normalization and validation. Every
// symbol is upper-cased before it is stored or used as a lookup key.
package token

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// USDC is the stablecoin that stands in for the fund's cash. It is never
// priced from the market feed; its value is the derived cash residual.
const USDC = "USDC"

// symbolRegex matches upper-case tickers such as BTC, 1INCH, USDC.E or BTC-PERP.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9._-]{0,19}$`)

var (
	ErrEmptySymbol   = errors.New("token: empty symbol")
	ErrInvalidSymbol = errors.New("token: invalid symbol")
)

// Normalize trims whitespace and upper-cases a symbol. It does not validate.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Parse normalizes and validates a symbol.
func Parse(symbol string) (string, error) {
	s := Normalize(symbol)
	if s == "" {
		return "", ErrEmptySymbol
	}
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// IsCash reports whether the symbol is the cash stand-in.
func IsCash(symbol string) bool {
	return Normalize(symbol) == USDC
}

// Set returns the distinct normalized symbols, sorted, skipping empty ones.
func Set(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		n := Normalize(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
