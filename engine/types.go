/*
Package engine provides the core entitlement computation engine.

PURPOSE:
  This package contains the shared types and algorithms for policy-driven
  computation of time-bounded monetary and leave entitlements. Gratuity
  settlements, arrears recalculations, and carry-forward projections all
  compose the same primitives: effective-dated policy versions, calendar
  arithmetic, and decimal tax computation.

KEY CONCEPTS IN THIS FILE (types.go):
  - ServiceRecord: Employment tenure facts (joining date, last working day)
  - PayPeriodFact: One historical pay period in an arrears run
  - LeaveTypeBalance: A leave balance as of a date
  - Employee/Policy IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Policy versions and computed results are never mutated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Purity: Calculators are pure functions of explicit inputs
  4. Auditability: Results carry every intermediate, not just the final number

SEE ALSO:
  - policy.go: Versioned rule sets (tiers, brackets, carry-forward rules)
  - registry.go: Append-only effective-dated policy registry
  - tenure.go: Service duration arithmetic
  - tax.go: Flat and marginal tax computation
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PolicyVersionID string
type LeaveTypeCode string

// Jurisdiction scopes policy versions. Single-jurisdiction deployments use
// the empty string throughout.
type Jurisdiction string

// PolicyKind identifies which rule set a PolicyVersion carries.
type PolicyKind string

const (
	KindGratuityTierSet PolicyKind = "gratuity_tier_set"
	KindTaxBracketSet   PolicyKind = "tax_bracket_set"
	KindCarryForward    PolicyKind = "carry_forward_rule"
)

// =============================================================================
// EMPLOYMENT FACTS - Supplied by the payroll system, consumed read-only
// =============================================================================

// ServiceRecord holds the tenure facts needed for an end-of-service
// settlement. Mutable (correction) only until the settlement is finalized.
type ServiceRecord struct {
	EmployeeID     EmployeeID
	DateOfJoining  Date
	LastWorkingDay *Date // nil while still employed
	LastDrawnBasic decimal.Decimal
}

// PayPeriodFact is one affected historical month in an arrears run.
// The caller produces one fact per period; the engine never mutates them.
type PayPeriodFact struct {
	EmployeeID   EmployeeID
	PeriodStart  Date
	PeriodEnd    Date
	PriorGross   decimal.Decimal
	RevisedGross decimal.Decimal
}

// LeaveTypeBalance is a leave balance snapshot supplied by the leave ledger.
type LeaveTypeBalance struct {
	EmployeeID    EmployeeID
	LeaveTypeCode LeaveTypeCode
	BalanceDays   decimal.Decimal
	AsOfDate      Date
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustDecimal parses a decimal literal; zero on failure. Intended for
// constants and test fixtures where the literal is known-good.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds to 2 decimal places, half away from zero. Applied only
// at settlement/projection boundaries; intermediates keep full precision.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
