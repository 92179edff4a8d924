/*
policy.go - Versioned, effective-dated rule sets

PURPOSE:
  Defines the rules that govern entitlement computation: gratuity day-rate
  tiers, tax brackets, and carry-forward caps/expiry. A PolicyVersion is
  immutable once inserted; settings never change in place - a new version
  supersedes the old one and the registry closes the prior effective range.

WHY VERSIONED INSTEAD OF "CURRENT SETTINGS":
  A settlement computed last year must be reproducible byte-for-byte today
  by resolving the policy that was in force on that historical date. Global
  mutable configuration cannot guarantee that; closed effective ranges can.

TAGGED VARIANT:
  A version carries exactly one payload matching its Kind. Validate()
  enforces the pairing plus the internal shape of each rule set
  (contiguous tiers, gap-free brackets).

SEE ALSO:
  - registry.go: Append-only storage and resolution of versions
  - tax.go: Consumes TaxBracketSet
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY VERSION - Immutable, identified by (kind, effectiveFrom, effectiveTo)
// =============================================================================

type PolicyVersion struct {
	ID            PolicyVersionID
	Kind          PolicyKind
	Jurisdiction  Jurisdiction
	EffectiveFrom Date
	EffectiveTo   *Date // nil = current (open-ended)

	// Exactly one payload, matching Kind.
	Gratuity     *GratuityTierSet
	Tax          *TaxBracketSet
	CarryForward *CarryForwardRuleSet
}

// InForceOn reports whether the version's effective range contains the date.
func (v PolicyVersion) InForceOn(asOf Date) bool {
	if asOf.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveTo == nil || asOf.BeforeOrEqual(*v.EffectiveTo)
}

// Overlaps reports whether two effective ranges intersect.
func (v PolicyVersion) Overlaps(other PolicyVersion) bool {
	// v starts after other ends
	if other.EffectiveTo != nil && v.EffectiveFrom.After(*other.EffectiveTo) {
		return false
	}
	// other starts after v ends
	if v.EffectiveTo != nil && other.EffectiveFrom.After(*v.EffectiveTo) {
		return false
	}
	return true
}

// Validate checks the version shape: range ordering and kind/payload pairing.
func (v PolicyVersion) Validate() error {
	if v.EffectiveTo != nil && v.EffectiveTo.Before(v.EffectiveFrom) {
		return fmt.Errorf("%w: effective_to %s before effective_from %s", ErrInvalidPolicy, v.EffectiveTo, v.EffectiveFrom)
	}
	switch v.Kind {
	case KindGratuityTierSet:
		if v.Gratuity == nil || v.Tax != nil || v.CarryForward != nil {
			return fmt.Errorf("%w: kind %s requires exactly a gratuity payload", ErrInvalidPolicy, v.Kind)
		}
		return v.Gratuity.Validate()
	case KindTaxBracketSet:
		if v.Tax == nil || v.Gratuity != nil || v.CarryForward != nil {
			return fmt.Errorf("%w: kind %s requires exactly a tax payload", ErrInvalidPolicy, v.Kind)
		}
		return v.Tax.Validate()
	case KindCarryForward:
		if v.CarryForward == nil || v.Gratuity != nil || v.Tax != nil {
			return fmt.Errorf("%w: kind %s requires exactly a carry-forward payload", ErrInvalidPolicy, v.Kind)
		}
		return v.CarryForward.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPolicy, v.Kind)
	}
}

// =============================================================================
// GRATUITY TIER SET - Tiered days-per-year rates by completed service years
// =============================================================================

// GratuityTier grants DaysPerYear for completed years in [MinYears, MaxYears).
// MaxYears nil means the tier is open-ended.
type GratuityTier struct {
	MinYears    int
	MaxYears    *int
	DaysPerYear decimal.Decimal
}

// Contains reports whether the tier covers the given completed years.
func (t GratuityTier) Contains(years int) bool {
	if years < t.MinYears {
		return false
	}
	return t.MaxYears == nil || years < *t.MaxYears
}

type GratuityTierSet struct {
	// Ordered, non-overlapping, monotonically increasing MinYears.
	Tiers []GratuityTier

	// Tenure gate: below this many completed years, no entitlement at all.
	MinYearsEligible int

	// Amount of gross gratuity exempt from tax.
	TaxExemptionThreshold decimal.Decimal
}

// TierFor locates the tier whose range contains the completed years.
func (s GratuityTierSet) TierFor(years int) (GratuityTier, error) {
	for _, t := range s.Tiers {
		if t.Contains(years) {
			return t, nil
		}
	}
	return GratuityTier{}, &TierNotFoundError{CompletedYears: years}
}

func (s GratuityTierSet) Validate() error {
	if len(s.Tiers) == 0 {
		return fmt.Errorf("%w: gratuity tier set has no tiers", ErrInvalidPolicy)
	}
	if s.TaxExemptionThreshold.IsNegative() {
		return fmt.Errorf("%w: negative tax exemption threshold", ErrInvalidPolicy)
	}
	prev := -1
	for i, t := range s.Tiers {
		if t.MinYears <= prev {
			return fmt.Errorf("%w: tier %d min_years %d not increasing", ErrInvalidPolicy, i, t.MinYears)
		}
		if t.MaxYears != nil {
			if *t.MaxYears <= t.MinYears {
				return fmt.Errorf("%w: tier %d empty range [%d, %d)", ErrInvalidPolicy, i, t.MinYears, *t.MaxYears)
			}
			prev = *t.MaxYears - 1
		} else {
			if i != len(s.Tiers)-1 {
				return fmt.Errorf("%w: open-ended tier %d must be last", ErrInvalidPolicy, i)
			}
			prev = t.MinYears
		}
		if t.DaysPerYear.IsNegative() {
			return fmt.Errorf("%w: tier %d negative days per year", ErrInvalidPolicy, i)
		}
	}
	return nil
}

// =============================================================================
// TAX BRACKET SET - Flat-on-excess or marginal-slab tax rules
// =============================================================================

// TaxMode selects the computation mode. The mode is explicitly tagged on
// the set to avoid ambiguity: the same bracket list means different tax
// under the two interpretations.
type TaxMode string

const (
	// TaxFlatOnExcess taxes the amount above the first bracket's lower bound
	// at that bracket's rate. Used for one-time settlements (gratuity).
	TaxFlatOnExcess TaxMode = "flat_on_excess"

	// TaxMarginalSlabs taxes each slice of the amount at its own bracket's
	// rate. Used for periodic pay (arrears re-tax).
	TaxMarginalSlabs TaxMode = "marginal_slabs"
)

// TaxBracket taxes amounts in [LowerBound, UpperBound) at Rate.
// UpperBound nil marks the open-ended top bracket.
type TaxBracket struct {
	LowerBound decimal.Decimal
	UpperBound *decimal.Decimal
	Rate       decimal.Decimal // fraction, e.g. 0.15
}

type TaxBracketSet struct {
	Mode     TaxMode
	Brackets []TaxBracket
}

func (s TaxBracketSet) Validate() error {
	if len(s.Brackets) == 0 {
		return fmt.Errorf("%w: tax bracket set has no brackets", ErrInvalidPolicy)
	}
	switch s.Mode {
	case TaxFlatOnExcess:
		if len(s.Brackets) != 1 {
			return fmt.Errorf("%w: flat-on-excess requires exactly one bracket", ErrInvalidPolicy)
		}
	case TaxMarginalSlabs:
		// Brackets must cover the domain with no gaps or overlaps and an
		// open-ended top bracket.
		if !s.Brackets[0].LowerBound.IsZero() {
			return fmt.Errorf("%w: first bracket must start at 0", ErrInvalidPolicy)
		}
		for i, b := range s.Brackets {
			last := i == len(s.Brackets)-1
			if b.UpperBound == nil {
				if !last {
					return fmt.Errorf("%w: open-ended bracket %d must be last", ErrInvalidPolicy, i)
				}
				continue
			}
			if b.UpperBound.LessThanOrEqual(b.LowerBound) {
				return fmt.Errorf("%w: bracket %d empty range", ErrInvalidPolicy, i)
			}
			if last {
				return fmt.Errorf("%w: top bracket must be open-ended", ErrInvalidPolicy)
			}
			if !s.Brackets[i+1].LowerBound.Equal(*b.UpperBound) {
				return fmt.Errorf("%w: gap or overlap between brackets %d and %d", ErrInvalidPolicy, i, i+1)
			}
		}
	default:
		return fmt.Errorf("%w: unknown tax mode %q", ErrInvalidPolicy, s.Mode)
	}
	for i, b := range s.Brackets {
		if b.Rate.IsNegative() || b.LowerBound.IsNegative() {
			return fmt.Errorf("%w: bracket %d negative rate or bound", ErrInvalidPolicy, i)
		}
	}
	return nil
}

// =============================================================================
// CARRY-FORWARD RULES - Per-leave-type caps and expiry
// =============================================================================

type ExpiryKind string

const (
	ExpiryEndOfQuarter ExpiryKind = "end_of_quarter" // quarter N of the following year
	ExpiryEndOfYear    ExpiryKind = "end_of_year"    // Dec 31 of the following year
	ExpiryNever        ExpiryKind = "never"
	ExpiryCustomDate   ExpiryKind = "custom_date"
)

// ExpiryPolicy is a tagged variant: Quarter set for EndOfQuarter, Date set
// for CustomDate.
type ExpiryPolicy struct {
	Kind    ExpiryKind
	Quarter int   // 1-4, EndOfQuarter only
	Date    *Date // CustomDate only
}

func (p ExpiryPolicy) Validate() error {
	switch p.Kind {
	case ExpiryEndOfQuarter:
		if p.Quarter < 1 || p.Quarter > 4 {
			return fmt.Errorf("%w: expiry quarter %d out of range", ErrInvalidPolicy, p.Quarter)
		}
	case ExpiryCustomDate:
		if p.Date == nil {
			return fmt.Errorf("%w: custom expiry requires a date", ErrInvalidPolicy)
		}
	case ExpiryEndOfYear, ExpiryNever:
	default:
		return fmt.Errorf("%w: unknown expiry kind %q", ErrInvalidPolicy, p.Kind)
	}
	return nil
}

// CarryForwardRule governs one leave type. Disabled means the ENTIRE
// balance lapses at year end - not "balance untouched".
type CarryForwardRule struct {
	LeaveTypeCode LeaveTypeCode
	Enabled       bool
	MaxCarryDays  decimal.Decimal
	Expiry        ExpiryPolicy
}

type CarryForwardRuleSet struct {
	Rules []CarryForwardRule
}

// RuleFor returns the rule for a leave type, if any.
func (s CarryForwardRuleSet) RuleFor(code LeaveTypeCode) (CarryForwardRule, bool) {
	for _, r := range s.Rules {
		if r.LeaveTypeCode == code {
			return r, true
		}
	}
	return CarryForwardRule{}, false
}

func (s CarryForwardRuleSet) Validate() error {
	if len(s.Rules) == 0 {
		return fmt.Errorf("%w: carry-forward rule set has no rules", ErrInvalidPolicy)
	}
	seen := make(map[LeaveTypeCode]bool, len(s.Rules))
	for i, r := range s.Rules {
		if r.LeaveTypeCode == "" {
			return fmt.Errorf("%w: rule %d missing leave type code", ErrInvalidPolicy, i)
		}
		if seen[r.LeaveTypeCode] {
			return fmt.Errorf("%w: duplicate rule for leave type %s", ErrInvalidPolicy, r.LeaveTypeCode)
		}
		seen[r.LeaveTypeCode] = true
		if r.MaxCarryDays.IsNegative() {
			return fmt.Errorf("%w: rule %d negative carry cap", ErrInvalidPolicy, i)
		}
		if err := r.Expiry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
