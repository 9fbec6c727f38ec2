package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

var ErrInvalidMonth = errors.New("model: month must be YYYY-MM")

// Day is a calendar day in UTC, serialized as YYYY-MM-DD.
type Day struct {
	time.Time
}

// NewDay returns the day y-m-d.
func NewDay(y int, m time.Month, d int) Day {
	return Day{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) Day {
	t = t.UTC()
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("model: invalid day %q: %w", s, err)
	}
	return Day{t}, nil
}

func (d Day) String() string {
	return d.Format(DayLayout)
}

// MonthKey returns the YYYY-MM month the day falls in.
func (d Day) MonthKey() string {
	return d.Format(MonthLayout)
}

func (d Day) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Day{}
		return nil
	}
	// Accept full timestamps from clients that send them.
	if len(s) > len(DayLayout) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("model: invalid day %q: %w", s, err)
		}
		*d = DayOf(t)
		return nil
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseMonth validates and canonicalizes a YYYY-MM month key.
func ParseMonth(s string) (string, error) {
	t, err := time.Parse(MonthLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return t.Format(MonthLayout), nil
}

// MonthOf returns the YYYY-MM key of t in UTC.
func MonthOf(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}
