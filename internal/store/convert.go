package store

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Numeric columns travel as text in both SQL stores so no precision is lost
// to float conversions.

func nullText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

// numbers decodes text-encoded numeric columns of one row, keeping the
// first column that fails to parse.
type numbers struct {
	err error
}

func (n *numbers) text(col, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil && n.err == nil {
		n.err = fmt.Errorf("decode %s %q: %w", col, s, err)
	}
	return d
}

func (n *numbers) nullText(col string, s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(n.text(col, *s))
}

// rows is the cursor surface shared by pgx.Rows and *sql.Rows.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}
