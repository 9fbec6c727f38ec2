package portfolio

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-engine/internal/model"
)

// Returns holds month-to-date, year-to-date and since-inception returns in
// percent, with the base values they were measured against. A return whose
// base is not positive is reported as 0 ("not enough history").
type Returns struct {
	AsOf                  string          `json:"as_of"` // YYYY-MM
	CurrentValue          decimal.Decimal `json:"current_value"`
	BeginningOfMonthValue decimal.Decimal `json:"beginning_of_month_value"`
	YearStartValue        decimal.Decimal `json:"year_start_value"`
	InitialValue          decimal.Decimal `json:"initial_value"`
	MTD                   decimal.Decimal `json:"mtd"`
	YTD                   decimal.Decimal `json:"ytd"`
	SinceInception        decimal.Decimal `json:"since_inception"`
}

// ComputeReturns measures currentValue against the monthly performance
// series. totalSubscriptions is the fallback base when no record exists.
func ComputeReturns(records []model.MonthlyPerformance, currentValue, totalSubscriptions decimal.Decimal, asOf time.Time) Returns {
	sorted := make([]model.MonthlyPerformance, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Month < sorted[j].Month })

	currentMonth := model.MonthOf(asOf)
	priorYear := strconv.Itoa(asOf.UTC().Year() - 1)

	r := Returns{
		AsOf:                  currentMonth,
		CurrentValue:          currentValue,
		BeginningOfMonthValue: totalSubscriptions,
		InitialValue:          totalSubscriptions,
	}

	// Records are ascending, so the last match wins.
	yearFound := false
	for _, rec := range sorted {
		if rec.Month < currentMonth {
			r.BeginningOfMonthValue = rec.EndingValue
		}
		if strings.HasPrefix(rec.Month, priorYear+"-") {
			r.YearStartValue = rec.EndingValue
			yearFound = true
		}
	}
	if !yearFound {
		r.YearStartValue = r.BeginningOfMonthValue
	}
	if len(sorted) > 0 {
		r.InitialValue = sorted[0].GPSubs.Add(sorted[0].LPSubs)
	}

	r.MTD = percentChange(currentValue, r.BeginningOfMonthValue)
	r.YTD = percentChange(currentValue, r.YearStartValue)
	r.SinceInception = percentChange(currentValue, r.InitialValue)
	return r
}

// percentChange is (current / base − 1) × 100, or 0 when base is not positive.
func percentChange(current, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return current.Div(base).Sub(decimal.NewFromInt(1)).Mul(hundred)
}
