// Package importer turns trade spreadsheets (CSV or XLSX exports from
// exchanges, custodians and hand-kept sheets) into normalized trades. Bad
// rows are skipped and counted; only an unreadable file or a missing header
// row fails the whole batch.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/portfolio"
	"github.com/atmx/fund-engine/internal/token"
)

// Format is a supported upload format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

var (
	ErrNoHeader          = errors.New("importer: no header row with token and units columns")
	ErrUnsupportedFormat = errors.New("importer: unsupported file format")
)

// Skip reason codes.
const (
	SkipNoToken      = "no_token"
	SkipZeroUnits    = "zero_units"
	SkipInvalidUnits = "invalid_units"
	SkipOther        = "other"
)

// headerScanRows bounds how far down a sheet the header row may sit
// (exports often carry a title block first).
const headerScanRows = 10

// RowError describes one skipped row. Row is 1-based as shown in a
// spreadsheet.
type RowError struct {
	Row     int    `json:"row"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result summarizes an import.
type Result struct {
	Imported    int            `json:"imported"`
	Skipped     int            `json:"skipped"`
	SkipReasons map[string]int `json:"skip_reasons"`
	Errors      []RowError     `json:"errors"`
	Trades      []model.Trade  `json:"-"`
}

func (r *Result) skip(row int, code, msg string) {
	r.Skipped++
	r.SkipReasons[code]++
	r.Errors = append(r.Errors, RowError{Row: row, Code: code, Message: msg})
}

// FormatFromFilename picks the format from a file extension.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// Import reads every row of r and returns the trades that passed validation.
// Nothing is persisted here.
func Import(r io.Reader, format Format) (*Result, error) {
	var (
		rows [][]string
		err  error
	)
	switch format {
	case FormatCSV:
		rows, err = readCSV(r)
	case FormatXLSX:
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return importRows(rows)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("importer: read csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("importer: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("importer: read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func importRows(rows [][]string) (*Result, error) {
	headerIdx, cols := findHeader(rows)
	if headerIdx < 0 {
		return nil, ErrNoHeader
	}

	res := &Result{
		SkipReasons: map[string]int{},
		Errors:      []RowError{},
		Trades:      []model.Trade{},
	}
	for i := headerIdx + 1; i < len(rows); i++ {
		rec := record{cells: rows[i], cols: cols}
		if rec.blank() {
			continue
		}
		t, code, err := parseRow(rec)
		if err != nil {
			res.skip(i+1, code, err.Error())
			continue
		}
		t.ID = uuid.NewString()
		res.Trades = append(res.Trades, t)
		res.Imported++
	}
	return res, nil
}

// parseRow converts one record to a normalized trade, or returns the skip
// code and reason.
func parseRow(rec record) (model.Trade, string, error) {
	sym := token.Normalize(rec.get(fieldToken))
	if sym == "" {
		return model.Trade{}, SkipNoToken, errors.New("token is empty")
	}
	if _, err := token.Parse(sym); err != nil {
		return model.Trade{}, SkipOther, err
	}

	rawUnits := rec.get(fieldUnits)
	units, err := parseNumber(rawUnits)
	if err != nil {
		return model.Trade{}, SkipInvalidUnits, fmt.Errorf("units %q: %w", rawUnits, err)
	}
	if units.IsZero() {
		return model.Trade{}, SkipZeroUnits, errors.New("units are zero")
	}

	kind, err := parseKind(rec.get(fieldKind), units)
	if err != nil {
		return model.Trade{}, SkipOther, err
	}

	rawDate := rec.get(fieldDate)
	if rawDate == "" {
		return model.Trade{}, SkipOther, errors.New("date is empty")
	}
	day, err := parseDate(rawDate)
	if err != nil {
		return model.Trade{}, SkipOther, err
	}

	t := model.Trade{
		Date:  day,
		Token: sym,
		Units: units.Abs(),
		Kind:  kind,
		Notes: rec.get(fieldNotes),
	}
	if t.AvgPrice, err = parseOptional(rec.get(fieldAvgPrice)); err != nil {
		return model.Trade{}, SkipOther, fmt.Errorf("avg_price: %w", err)
	}
	if t.Total, err = parseOptional(rec.get(fieldTotal)); err != nil {
		return model.Trade{}, SkipOther, fmt.Errorf("total: %w", err)
	}
	// Exchange exports show sells as negative proceeds.
	if t.Total.Valid {
		t.Total.Decimal = t.Total.Decimal.Abs()
	}
	if t.AvgPrice.Valid {
		t.AvgPrice.Decimal = t.AvgPrice.Decimal.Abs()
	}
	// Rewards and airdrops often arrive without a price.
	if kind == model.KindIncome && !t.Total.Valid && !t.AvgPrice.Valid {
		t.Total = decimal.NewNullDecimal(decimal.Zero)
	}

	norm, err := portfolio.NormalizeTrade(t)
	if err != nil {
		return model.Trade{}, SkipOther, err
	}
	return norm, "", nil
}

func parseOptional(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseNumber(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
