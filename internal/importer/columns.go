package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/atmx/fund-engine/internal/model"
)

type field int

const (
	fieldDate field = iota
	fieldToken
	fieldUnits
	fieldAvgPrice
	fieldTotal
	fieldKind
	fieldNotes
)

// headerAliases lists accepted header spellings per field, compared after
// lower-casing and dropping everything but letters and digits.
var headerAliases = map[field][]string{
	fieldDate:     {"date", "tradedate", "transactiondate", "datetime", "timestamp", "time", "dateutc"},
	fieldToken:    {"token", "symbol", "asset", "coin", "ticker", "currency"},
	fieldUnits:    {"units", "quantity", "qty", "amount", "size", "volume", "tokens"},
	fieldAvgPrice: {"avgprice", "averageprice", "price", "priceusd", "unitprice", "rate", "avgpriceusd"},
	fieldTotal:    {"total", "totalcost", "totalusd", "cost", "value", "usdvalue", "notional", "totalvalue"},
	fieldKind:     {"kind", "type", "side", "action", "transactiontype", "direction"},
	fieldNotes:    {"notes", "note", "memo", "comment", "comments", "description"},
}

var aliasIndex = func() map[string]field {
	idx := map[string]field{}
	for f, aliases := range headerAliases {
		for _, a := range aliases {
			idx[a] = f
		}
	}
	return idx
}()

var kindAliases = map[string]model.TradeKind{
	"buy":      model.KindBuy,
	"b":        model.KindBuy,
	"purchase": model.KindBuy,
	"bought":   model.KindBuy,
	"sell":     model.KindSell,
	"s":        model.KindSell,
	"sale":     model.KindSell,
	"sold":     model.KindSell,
	"income":   model.KindIncome,
	"staking":  model.KindIncome,
	"reward":   model.KindIncome,
	"rewards":  model.KindIncome,
	"airdrop":  model.KindIncome,
	"interest": model.KindIncome,
}

func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// findHeader returns the index of the first row naming at least a token and
// a units column, with the column index of each recognized field.
func findHeader(rows [][]string) (int, map[field]int) {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		cols := map[field]int{}
		for j, cell := range rows[i] {
			f, ok := aliasIndex[squash(cell)]
			if !ok {
				continue
			}
			if _, taken := cols[f]; !taken {
				cols[f] = j
			}
		}
		_, hasToken := cols[fieldToken]
		_, hasUnits := cols[fieldUnits]
		if hasToken && hasUnits {
			return i, cols
		}
	}
	return -1, nil
}

type record struct {
	cells []string
	cols  map[field]int
}

func (r record) get(f field) string {
	j, ok := r.cols[f]
	if !ok || j >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[j])
}

func (r record) blank() bool {
	for _, c := range r.cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var errNotANumber = errors.New("not a number")

// parseNumber accepts plain decimals plus the decorations spreadsheets add:
// currency symbols, thousands separators and accounting parentheses.
func parseNumber(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, errNotANumber
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "", "USD", "", "usd", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errNotANumber
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func parseKind(raw string, units decimal.Decimal) (model.TradeKind, error) {
	key := squash(raw)
	if key == "" {
		// No side given: a negative quantity reads as a disposal.
		if units.IsNegative() {
			return model.KindSell, nil
		}
		return model.KindBuy, nil
	}
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q", raw)
}

// dateLayouts are tried in order. Slash dates are read month-first; dotted
// dates day-first.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/06",
	"02.01.2006",
	"2.1.2006",
	"2-Jan-2006",
	"02-Jan-06",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

func parseDate(s string) (model.Day, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.DayOf(t), nil
		}
	}
	// Spreadsheet serial day numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return model.DayOf(t), nil
		}
	}
	return model.Day{}, fmt.Errorf("unrecognized date %q", s)
}
