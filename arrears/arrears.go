/*
Package arrears redistributes a compensation change across historical pay
periods and recomputes tax per period.

PURPOSE:
  When pay is revised retroactively, the difference cannot be taxed as a
  lump at today's rates. Each affected period is re-taxed under the bracket
  set that was in force FOR THAT PERIOD, and the tax impact is the
  difference between full-gross-in and full-gross-out.

THE CENTRAL CORRECTNESS REQUIREMENT:
  Never recompute tax on the delta directly. Marginal brackets make tax
  non-linear: tax(revised) - tax(prior) is not tax(revised - prior). Each
  period's impact is derived by taxing both full gross amounts and
  differencing.

ORDERING:
  Facts must arrive in chronological order with contiguous periods. A gap
  or overlap signals a caller bug and fails with ErrUnorderedPeriods
  rather than silently producing a wrong total.

PURITY:
  Recalculate holds no state between calls: the same fact list always
  yields bit-identical output.
*/
package arrears

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/engine"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// PeriodAdjustment is the recomputation of one historical period.
type PeriodAdjustment struct {
	PeriodStart engine.Date
	PeriodEnd   engine.Date

	GrossDiff    decimal.Decimal
	TaxOnPrior   decimal.Decimal
	TaxOnRevised decimal.Decimal
	TaxImpact    decimal.Decimal
	NetDiff      decimal.Decimal

	// Which bracket set version taxed this period.
	TaxPolicyID engine.PolicyVersionID
}

// Result aggregates per-period adjustments. Totals are exact sums of the
// lines: Σ NetDiff always reconciles to TotalNetDiff.
type Result struct {
	EmployeeID engine.EmployeeID
	Periods    []PeriodAdjustment

	TotalGrossDiff decimal.Decimal
	TotalTaxImpact decimal.Decimal
	TotalNetDiff   decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine recomputes arrears using per-period historical tax resolution.
type Engine struct {
	Policies     *engine.Registry
	Jurisdiction engine.Jurisdiction
}

func NewEngine(policies *engine.Registry) *Engine {
	return &Engine{Policies: policies}
}

// Recalculate processes an ordered list of pay period facts. The bracket
// set for each period is resolved at the period's own start date, not the
// date of the correction.
func (e *Engine) Recalculate(ctx context.Context, employeeID engine.EmployeeID, facts []engine.PayPeriodFact) (Result, error) {
	if err := validateOrdering(facts); err != nil {
		return Result{}, err
	}

	res := Result{
		EmployeeID:     employeeID,
		TotalGrossDiff: decimal.Zero,
		TotalTaxImpact: decimal.Zero,
		TotalNetDiff:   decimal.Zero,
	}

	for _, fact := range facts {
		bracketVersion, err := e.Policies.Resolve(ctx, engine.KindTaxBracketSet, e.Jurisdiction, fact.PeriodStart)
		if err != nil {
			return Result{}, err
		}
		adj, err := recomputePeriod(fact, bracketVersion)
		if err != nil {
			return Result{}, err
		}

		res.Periods = append(res.Periods, adj)
		res.TotalGrossDiff = res.TotalGrossDiff.Add(adj.GrossDiff)
		res.TotalTaxImpact = res.TotalTaxImpact.Add(adj.TaxImpact)
		res.TotalNetDiff = res.TotalNetDiff.Add(adj.NetDiff)
	}

	return res, nil
}

func recomputePeriod(fact engine.PayPeriodFact, bracketVersion engine.PolicyVersion) (PeriodAdjustment, error) {
	if bracketVersion.Tax == nil {
		return PeriodAdjustment{}, fmt.Errorf("%w: version %s carries no tax bracket set", engine.ErrInvalidPolicy, bracketVersion.ID)
	}
	set := *bracketVersion.Tax

	taxOnRevised, err := engine.ComputeTax(fact.RevisedGross, set)
	if err != nil {
		return PeriodAdjustment{}, err
	}
	taxOnPrior, err := engine.ComputeTax(fact.PriorGross, set)
	if err != nil {
		return PeriodAdjustment{}, err
	}

	diff := fact.RevisedGross.Sub(fact.PriorGross)
	taxImpact := taxOnRevised.Sub(taxOnPrior)

	return PeriodAdjustment{
		PeriodStart:  fact.PeriodStart,
		PeriodEnd:    fact.PeriodEnd,
		GrossDiff:    diff,
		TaxOnPrior:   taxOnPrior,
		TaxOnRevised: taxOnRevised,
		TaxImpact:    taxImpact,
		NetDiff:      diff.Sub(taxImpact),
		TaxPolicyID:  bracketVersion.ID,
	}, nil
}

// validateOrdering enforces chronological, contiguous periods.
func validateOrdering(facts []engine.PayPeriodFact) error {
	for i, f := range facts {
		if f.PeriodEnd.Before(f.PeriodStart) {
			return fmt.Errorf("%w: period %d ends %s before it starts %s", engine.ErrInvalidDateRange, i, f.PeriodEnd, f.PeriodStart)
		}
		if i == 0 {
			continue
		}
		prev := facts[i-1]
		if !f.PeriodStart.Equal(prev.PeriodEnd.AddDays(1)) {
			return &engine.UnorderedPeriodsError{
				Index:     i,
				PrevEnd:   prev.PeriodEnd,
				NextStart: f.PeriodStart,
			}
		}
	}
	return nil
}
