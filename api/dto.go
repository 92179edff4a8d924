/*
dto.go - Request/response shapes for the HTTP API

PURPOSE:
  Wire types are kept separate from engine types so the JSON contract can
  evolve without touching computation code. All monetary values and day
  counts cross the wire as strings (exact decimals), all dates as
  YYYY-MM-DD.

SEE ALSO:
  - handlers.go: Converts between these and engine types
  - ../factory/policy.go: PolicyJSON, the policy wire form
*/
package api

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeRequest creates or corrects a service record.
type EmployeeRequest struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	DateOfJoining  string  `json:"date_of_joining"`
	LastWorkingDay *string `json:"last_working_day,omitempty"`
	LastDrawnBasic string  `json:"last_drawn_basic"`
}

type EmployeeResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email,omitempty"`
	DateOfJoining  string  `json:"date_of_joining"`
	LastWorkingDay *string `json:"last_working_day,omitempty"`
	LastDrawnBasic string  `json:"last_drawn_basic"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// SettlementRequest triggers a gratuity computation for one employee.
type SettlementRequest struct {
	AsOf     string `json:"as_of"`
	Finalize bool   `json:"finalize,omitempty"`
}

// SettlementResponse exposes every intermediate so payroll can audit the
// figure without re-deriving it.
type SettlementResponse struct {
	ID              string `json:"id"`
	EmployeeID      string `json:"employee_id"`
	AsOf            string `json:"as_of"`
	Eligible        bool   `json:"eligible"`
	CompletedYears  int    `json:"completed_years"`
	FractionalYears string `json:"fractional_years"`
	DailyRate       string `json:"daily_rate"`
	AppliedTierRate string `json:"applied_tier_rate"`
	GrossGratuity   string `json:"gross_gratuity"`
	Exemption       string `json:"exemption"`
	TaxableAmount   string `json:"taxable_amount"`
	Tax             string `json:"tax"`
	NetGratuity     string `json:"net_gratuity"`
	TierPolicyID    string `json:"tier_policy_id"`
	TaxPolicyID     string `json:"tax_policy_id"`
	Finalized       bool   `json:"finalized"`
}

// =============================================================================
// ARREARS
// =============================================================================

// PayPeriodRequest is one historical period in an arrears recalculation.
// Periods must be chronological and contiguous.
type PayPeriodRequest struct {
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	PriorGross   string `json:"prior_gross"`
	RevisedGross string `json:"revised_gross"`
}

type ArrearsRequest struct {
	Periods []PayPeriodRequest `json:"periods"`
}

type PeriodAdjustmentResponse struct {
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	GrossDiff    string `json:"gross_diff"`
	TaxOnPrior   string `json:"tax_on_prior"`
	TaxOnRevised string `json:"tax_on_revised"`
	TaxImpact    string `json:"tax_impact"`
	NetDiff      string `json:"net_diff"`
	TaxPolicyID  string `json:"tax_policy_id"`
}

type ArrearsResponse struct {
	ID             string                     `json:"id"`
	EmployeeID     string                     `json:"employee_id"`
	Periods        []PeriodAdjustmentResponse `json:"periods"`
	TotalGrossDiff string                     `json:"total_gross_diff"`
	TotalTaxImpact string                     `json:"total_tax_impact"`
	TotalNetDiff   string                     `json:"total_net_diff"`
}

// =============================================================================
// LEAVE BALANCES AND CARRY-FORWARD
// =============================================================================

// LeaveBalanceRequest snapshots a balance for an employee/type/date.
type LeaveBalanceRequest struct {
	EmployeeID    string `json:"employee_id"`
	LeaveTypeCode string `json:"leave_type_code"`
	BalanceDays   string `json:"balance_days"`
	AsOfDate      string `json:"as_of_date"`
}

// ProjectionRequest runs a carry-forward projection over inline balances,
// without touching stored data. Useful for what-if analysis.
type ProjectionRequest struct {
	YearEnd  string                `json:"year_end"`
	Balances []LeaveBalanceRequest `json:"balances"`
}

type ProjectionResponse struct {
	EmployeeID    string  `json:"employee_id"`
	LeaveTypeCode string  `json:"leave_type_code"`
	BalanceDays   string  `json:"balance_days"`
	CarryDays     string  `json:"carry_days"`
	LapseDays     string  `json:"lapse_days"`
	ExpiresOn     *string `json:"expires_on,omitempty"`
}

type ProjectionsResponse struct {
	YearEnd     string               `json:"year_end"`
	Projections []ProjectionResponse `json:"projections"`
	Employees   int                  `json:"employees"`
	TotalCarry  string               `json:"total_carry"`
	TotalLapse  string               `json:"total_lapse"`
}

// YearEndRequest triggers a stored-balance batch run.
type YearEndRequest struct {
	YearEnd string `json:"year_end"`
}

type RunResponse struct {
	ID          string `json:"id"`
	YearEnd     string `json:"year_end"`
	Status      string `json:"status"`
	Employees   int    `json:"employees"`
	TotalCarry  string `json:"total_carry"`
	TotalLapse  string `json:"total_lapse"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// =============================================================================
// SHARED
// =============================================================================

type ErrorResponse struct {
	Error string `json:"error"`
}
