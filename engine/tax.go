package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX COMPUTATION - Flat-on-excess and marginal-slab modes
// =============================================================================

// ComputeTax computes tax on a monetary amount under the given bracket set.
// The result is never negative. Fails with ErrNegativeAmount for a negative
// amount - taxing a negative number is always a caller bug.
func ComputeTax(amount decimal.Decimal, set TaxBracketSet) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}

	switch set.Mode {
	case TaxFlatOnExcess:
		return flatOnExcess(amount, set.Brackets[0]), nil
	case TaxMarginalSlabs:
		return marginalSlabs(amount, set.Brackets), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown tax mode %q", ErrInvalidPolicy, set.Mode)
	}
}

// flatOnExcess: tax = max(0, amount - threshold) * rate. The single
// bracket's lower bound is the threshold.
func flatOnExcess(amount decimal.Decimal, b TaxBracket) decimal.Decimal {
	excess := amount.Sub(b.LowerBound)
	if excess.IsNegative() {
		return decimal.Zero
	}
	return excess.Mul(b.Rate)
}

// marginalSlabs: each bracket taxes only the portion of the amount that
// falls within its bounds; the open-ended top bracket absorbs the rest.
func marginalSlabs(amount decimal.Decimal, brackets []TaxBracket) decimal.Decimal {
	total := decimal.Zero
	for _, b := range brackets {
		if amount.LessThanOrEqual(b.LowerBound) {
			break
		}
		upper := amount
		if b.UpperBound != nil {
			upper = decimal.Min(amount, *b.UpperBound)
		}
		total = total.Add(upper.Sub(b.LowerBound).Mul(b.Rate))
	}
	return total
}
