/*
errors.go - Centralized error types for the entitlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error here indicates either a data-integrity problem (overlapping
  or missing policy) or a caller contract violation (bad date range,
  unordered periods). Computations must fail loudly on these rather than
  produce a plausible-looking wrong number.

NOT ERRORS:
  A zero-entitlement outcome (tenure below the eligibility minimum) is a
  valid result value, not a failure. See gratuity.Settlement.Eligible.

USAGE:
  Callers match with errors.Is/errors.As:

    if errors.Is(err, engine.ErrOverlappingPolicy) { ... }

SEE ALSO:
  - registry.go: Raises ErrPolicyNotFound / ErrOverlappingPolicy
  - tenure.go: Raises ErrInvalidDateRange
  - tax.go: Raises ErrNegativeAmount
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPolicyNotFound is returned when no policy version's effective range
	// contains the requested date.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrOverlappingPolicy is returned when an inserted version's effective
	// range intersects an existing version of the same kind and jurisdiction.
	ErrOverlappingPolicy = errors.New("overlapping policy version")

	// ErrInvalidDateRange is returned when a date range ends before it starts.
	ErrInvalidDateRange = errors.New("invalid date range: end before start")

	// ErrTierNotFound is returned when no gratuity tier matches the completed
	// years of service. Contiguous tier sets make this unreachable; it exists
	// as a guard against malformed policy data.
	ErrTierNotFound = errors.New("no gratuity tier matches service years")

	// ErrNegativeAmount is returned when tax is requested on a negative amount.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrUnorderedPeriods is returned when arrears pay periods are out of
	// chronological order, overlap, or leave a gap.
	ErrUnorderedPeriods = errors.New("pay periods out of order or non-contiguous")

	// ErrInvalidPolicy is returned when a policy version fails validation.
	ErrInvalidPolicy = errors.New("invalid policy version")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PolicyNotFoundError reports which lookup failed.
type PolicyNotFoundError struct {
	Kind         PolicyKind
	Jurisdiction Jurisdiction
	AsOf         Date
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("no %s policy in force on %s (jurisdiction %q)", e.Kind, e.AsOf, e.Jurisdiction)
}

func (e *PolicyNotFoundError) Unwrap() error { return ErrPolicyNotFound }

// OverlappingPolicyError reports the conflicting version.
type OverlappingPolicyError struct {
	Kind       PolicyKind
	ExistingID PolicyVersionID
	From       Date
	To         *Date // nil = open-ended
}

func (e *OverlappingPolicyError) Error() string {
	to := "open"
	if e.To != nil {
		to = e.To.String()
	}
	return fmt.Sprintf("%s version overlaps existing %s (effective %s to %s)", e.Kind, e.ExistingID, e.From, to)
}

func (e *OverlappingPolicyError) Unwrap() error { return ErrOverlappingPolicy }

// UnorderedPeriodsError pinpoints the first offending fact.
type UnorderedPeriodsError struct {
	Index     int
	PrevEnd   Date
	NextStart Date
}

func (e *UnorderedPeriodsError) Error() string {
	return fmt.Sprintf("period %d starts %s, expected %s (previous ended %s)",
		e.Index, e.NextStart, e.PrevEnd.AddDays(1), e.PrevEnd)
}

func (e *UnorderedPeriodsError) Unwrap() error { return ErrUnorderedPeriods }

// TierNotFoundError reports the unmatched service years.
type TierNotFoundError struct {
	CompletedYears int
}

func (e *TierNotFoundError) Error() string {
	return fmt.Sprintf("no tier covers %d completed years", e.CompletedYears)
}

func (e *TierNotFoundError) Unwrap() error { return ErrTierNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrUnorderedPeriods) ||
		errors.Is(err, ErrOverlappingPolicy) ||
		errors.Is(err, ErrInvalidPolicy)
}

// IsNotFound returns true if the error indicates a missing policy.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound)
}
