/*
Package gratuity computes end-of-service settlements.

PURPOSE:
  Composes tenure arithmetic and tax computation into a settlement: given
  an employee's service record and the policies in force on the last
  working day, produce the gross and net gratuity with every intermediate
  value preserved.

WHY EVERY INTERMEDIATE:
  Settlements are subject to statutory audit. A bare net figure is not an
  auditable answer; the daily rate, applied tier, exemption, and tax that
  produced it must travel with the result.

ELIGIBILITY:
  Tenure below the tier set's minimum is NOT an error. It is a valid
  zero-entitlement outcome, reported with Eligible=false.

SEE ALSO:
  - settlement.go: The calculator
  - ../engine/tenure.go: Day-count convention
*/
package gratuity

import (
	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/engine"
)

// Settlement is the immutable result of a gratuity computation. It carries
// every intermediate for auditability, not just the final number.
type Settlement struct {
	EmployeeID engine.EmployeeID
	AsOf       engine.Date

	Eligible        bool
	CompletedYears  int
	FractionalYears decimal.Decimal

	// Monetary intermediates, rounded to 2 decimal places.
	DailyRate       decimal.Decimal
	AppliedTierRate decimal.Decimal // days per year from the matched tier
	GrossGratuity   decimal.Decimal
	Exemption       decimal.Decimal
	TaxableAmount   decimal.Decimal
	Tax             decimal.Decimal
	NetGratuity     decimal.Decimal

	// Which policy versions produced this result.
	TierPolicyID engine.PolicyVersionID
	TaxPolicyID  engine.PolicyVersionID
}
