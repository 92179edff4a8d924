package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TENURE - Service duration arithmetic
// =============================================================================

// DaysPerYear is the day-count divisor for converting whole days of service
// into fractional years. 365.25 accounts for leap years on average without
// per-day leap bookkeeping. This is a policy choice: changing it changes
// every gratuity amount, so it is fixed here rather than configurable.
var DaysPerYear = MustDecimal("365.25")

// ServiceDays returns the total whole days of service, inclusive of the
// start day (so start == end counts as one day).
func ServiceDays(start, end Date) (int, error) {
	if end.Before(start) {
		return 0, ErrInvalidDateRange
	}
	return DaysBetween(start, end) + 1, nil
}

// CompletedYears returns floor(serviceDays / 365.25).
func CompletedYears(start, end Date) (int, error) {
	frac, err := FractionalYears(start, end)
	if err != nil {
		return 0, err
	}
	return int(frac.IntPart()), nil
}

// FractionalYears returns serviceDays / 365.25 as an exact decimal.
func FractionalYears(start, end Date) (decimal.Decimal, error) {
	days, err := ServiceDays(start, end)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(int64(days)).Div(DaysPerYear), nil
}
