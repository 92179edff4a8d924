package gratuity

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/engine"
)

// monthDays is the fixed 30-day month convention for deriving the daily
// rate from monthly basic pay. A policy constant, not calendar days.
var monthDays = decimal.NewFromInt(30)

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator resolves the policies in force and delegates to Settle.
type Calculator struct {
	Policies     *engine.Registry
	Jurisdiction engine.Jurisdiction
}

func NewCalculator(policies *engine.Registry) *Calculator {
	return &Calculator{Policies: policies}
}

// Compute produces a settlement for the service record. asOf determines
// which tier set and bracket set apply - normally the last working day.
func (c *Calculator) Compute(ctx context.Context, rec engine.ServiceRecord, asOf engine.Date) (Settlement, error) {
	tierVersion, err := c.Policies.Resolve(ctx, engine.KindGratuityTierSet, c.Jurisdiction, asOf)
	if err != nil {
		return Settlement{}, err
	}
	taxVersion, err := c.Policies.Resolve(ctx, engine.KindTaxBracketSet, c.Jurisdiction, asOf)
	if err != nil {
		return Settlement{}, err
	}
	return Settle(rec, asOf, tierVersion, taxVersion)
}

// =============================================================================
// SETTLEMENT - Pure function of record + resolved policies
// =============================================================================

// Settle computes the settlement under explicit policy versions. Safe to
// invoke concurrently; no state is held between calls.
func Settle(rec engine.ServiceRecord, asOf engine.Date, tierVersion, taxVersion engine.PolicyVersion) (Settlement, error) {
	if tierVersion.Gratuity == nil {
		return Settlement{}, fmt.Errorf("%w: version %s carries no gratuity tier set", engine.ErrInvalidPolicy, tierVersion.ID)
	}
	if taxVersion.Tax == nil {
		return Settlement{}, fmt.Errorf("%w: version %s carries no tax bracket set", engine.ErrInvalidPolicy, taxVersion.ID)
	}
	if rec.LastDrawnBasic.IsNegative() {
		return Settlement{}, fmt.Errorf("%w: last drawn basic %s", engine.ErrNegativeAmount, rec.LastDrawnBasic)
	}

	lwd := asOf
	if rec.LastWorkingDay != nil {
		lwd = *rec.LastWorkingDay
	}

	years, err := engine.CompletedYears(rec.DateOfJoining, lwd)
	if err != nil {
		return Settlement{}, err
	}
	frac, err := engine.FractionalYears(rec.DateOfJoining, lwd)
	if err != nil {
		return Settlement{}, err
	}

	tiers := *tierVersion.Gratuity
	s := Settlement{
		EmployeeID:      rec.EmployeeID,
		AsOf:            asOf,
		CompletedYears:  years,
		FractionalYears: frac,
		TierPolicyID:    tierVersion.ID,
		TaxPolicyID:     taxVersion.ID,
	}

	// Below the tenure gate there is no entitlement. A valid zero outcome,
	// not an error.
	if years < tiers.MinYearsEligible {
		s.Eligible = false
		s.GrossGratuity = decimal.Zero
		s.NetGratuity = decimal.Zero
		return s, nil
	}

	tier, err := tiers.TierFor(years)
	if err != nil {
		return Settlement{}, err
	}

	// Gross multiplies by FRACTIONAL years: once past the eligibility gate,
	// partial final-year service accrues proportional gratuity.
	dailyRate := rec.LastDrawnBasic.Div(monthDays)
	gross := engine.RoundMoney(dailyRate.Mul(tier.DaysPerYear).Mul(frac))

	taxable := gross.Sub(tiers.TaxExemptionThreshold)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	tax, err := engine.ComputeTax(taxable, *taxVersion.Tax)
	if err != nil {
		return Settlement{}, err
	}
	tax = engine.RoundMoney(tax)

	s.Eligible = true
	s.DailyRate = engine.RoundMoney(dailyRate)
	s.AppliedTierRate = tier.DaysPerYear
	s.GrossGratuity = gross
	s.Exemption = tiers.TaxExemptionThreshold
	s.TaxableAmount = taxable
	s.Tax = tax
	s.NetGratuity = gross.Sub(tax)
	return s, nil
}
