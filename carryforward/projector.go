/*
Package carryforward projects year-end leave balances into carry and lapse.

PURPOSE:
  Applies the per-leave-type carry-forward policy to balances: how many
  days roll into next year, how many are forfeited, and when the carried
  days expire.

THE EASY-TO-INVERT RULE:
  A DISABLED carry-forward rule means the ENTIRE balance lapses. It does
  not mean "leave the balance untouched". carry=0, lapse=balanceDays.

CONSERVATION:
  carry + lapse == balanceDays for every projection, always. Aggregates
  are pure sums of individual projections, so any department or company
  total is reconcilable to the per-employee detail.
*/
package carryforward

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/engine"
)

// =============================================================================
// PROJECTION TYPES
// =============================================================================

// Projection is the carry/lapse outcome for one employee and leave type.
type Projection struct {
	EmployeeID    engine.EmployeeID
	LeaveTypeCode engine.LeaveTypeCode

	BalanceDays decimal.Decimal
	CarryDays   decimal.Decimal
	LapseDays   decimal.Decimal

	// ExpiresOn is nil when carried days never expire.
	ExpiresOn *engine.Date
}

// Aggregate is a pure reduction over projections. No additional business
// rule: totals are sums and nothing else.
type Aggregate struct {
	Employees  int
	TotalCarry decimal.Decimal
	TotalLapse decimal.Decimal
}

// =============================================================================
// PROJECTOR
// =============================================================================

// Project applies one rule to one balance. yearEnd anchors expiry
// resolution (carried days expire in the year FOLLOWING yearEnd).
func Project(bal engine.LeaveTypeBalance, rule engine.CarryForwardRule, yearEnd engine.Date) Projection {
	p := Projection{
		EmployeeID:    bal.EmployeeID,
		LeaveTypeCode: bal.LeaveTypeCode,
		BalanceDays:   bal.BalanceDays,
	}

	if !rule.Enabled {
		p.CarryDays = decimal.Zero
		p.LapseDays = bal.BalanceDays
		return p
	}

	p.CarryDays = decimal.Min(bal.BalanceDays, rule.MaxCarryDays)
	p.LapseDays = decimal.Max(decimal.Zero, bal.BalanceDays.Sub(rule.MaxCarryDays))
	p.ExpiresOn = ResolveExpiry(rule.Expiry, yearEnd)
	return p
}

// ProjectAll applies the rule set to a batch of balances. Balances with no
// matching rule fail loudly: a missing rule is a policy-data problem, not
// an implicit "lapse everything".
func ProjectAll(balances []engine.LeaveTypeBalance, rules engine.CarryForwardRuleSet, yearEnd engine.Date) ([]Projection, error) {
	out := make([]Projection, 0, len(balances))
	for _, bal := range balances {
		rule, ok := rules.RuleFor(bal.LeaveTypeCode)
		if !ok {
			return nil, fmt.Errorf("%w: no carry-forward rule for leave type %s", engine.ErrPolicyNotFound, bal.LeaveTypeCode)
		}
		out = append(out, Project(bal, rule, yearEnd))
	}
	return out, nil
}

// Sum reduces projections to an aggregate.
func Sum(projections []Projection) Aggregate {
	agg := Aggregate{
		TotalCarry: decimal.Zero,
		TotalLapse: decimal.Zero,
	}
	seen := make(map[engine.EmployeeID]bool)
	for _, p := range projections {
		agg.TotalCarry = agg.TotalCarry.Add(p.CarryDays)
		agg.TotalLapse = agg.TotalLapse.Add(p.LapseDays)
		if !seen[p.EmployeeID] {
			seen[p.EmployeeID] = true
			agg.Employees++
		}
	}
	return agg
}

// =============================================================================
// EXPIRY RESOLUTION
// =============================================================================

// ResolveExpiry turns an expiry policy into a concrete date relative to the
// year-end being closed. EndOfQuarter(n) and EndOfYear both resolve into
// the FOLLOWING year; Never returns nil; CustomDate returns the literal.
func ResolveExpiry(policy engine.ExpiryPolicy, yearEnd engine.Date) *engine.Date {
	switch policy.Kind {
	case engine.ExpiryEndOfQuarter:
		d := engine.EndOfQuarter(yearEnd.Year()+1, policy.Quarter)
		return &d
	case engine.ExpiryEndOfYear:
		d := engine.EndOfYear(yearEnd.Year() + 1)
		return &d
	case engine.ExpiryCustomDate:
		if policy.Date == nil {
			return nil
		}
		d := *policy.Date
		return &d
	default: // ExpiryNever
		return nil
	}
}
