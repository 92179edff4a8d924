/*
scenarios.go - Demo scenarios for exploring the engine

PURPOSE:
  Seeds a recognizable data set in one call so the API can be exercised
  without hand-crafting policies and employees. Each scenario is a
  self-contained story: the policies it needs, the employees it affects,
  and a suggested follow-up request.

  Scenarios expect a fresh database: loading one whose policies overlap an
  already-inserted version fails with 409 rather than silently reusing
  whatever happens to be in force.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/factory"
	"github.com/warp/entitlement-engine/store/sqlite"
)

// Scenario seeds one demo story.
type Scenario struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TryIt       string `json:"try_it"`

	load func(ctx context.Context, h *Handler) error
}

var scenarios = []Scenario{
	{
		Name:        "veteran-settlement",
		Description: "Long-tenured employee leaves: tiered gratuity with partial tax exemption.",
		TryIt:       `POST /api/employees/priya-n/settlement {"as_of": "2025-01-31"}`,
		load:        loadVeteranSettlement,
	},
	{
		Name:        "salary-revision",
		Description: "Retroactive pay raise: arrears re-taxed period by period.",
		TryIt:       `POST /api/employees/marco-b/arrears with three contiguous monthly periods`,
		load:        loadSalaryRevision,
	},
	{
		Name:        "year-end-close",
		Description: "Year-end leave carry-forward: caps, lapses, and expiry dates across a small team.",
		TryIt:       `POST /api/admin/yearend {"year_end": "2025-12-31"}`,
		load:        loadYearEndClose,
	},
}

// ListScenarios returns the catalogue. GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds one scenario by name. POST /api/scenarios/{name}
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, sc := range scenarios {
		if sc.Name != name {
			continue
		}
		if err := sc.load(r.Context(), h); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sc)
		return
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("unknown scenario %q", name))
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadVeteranSettlement(ctx context.Context, h *Handler) error {
	policies := []factory.PolicyJSON{
		{
			Kind:          string(engine.KindGratuityTierSet),
			EffectiveFrom: "2020-01-01",
			Gratuity: &factory.GratuityJSON{
				MinYearsEligible:      1,
				TaxExemptionThreshold: "300000",
				Tiers: []factory.TierJSON{
					{MinYears: 1, MaxYears: intPtr(5), DaysPerYear: "21"},
					{MinYears: 5, DaysPerYear: "30"},
				},
			},
		},
		{
			Kind:          string(engine.KindTaxBracketSet),
			EffectiveFrom: "2020-01-01",
			Tax: &factory.TaxJSON{
				Mode: string(engine.TaxFlatOnExcess),
				Brackets: []factory.BracketJSON{
					{LowerBound: "0", Rate: "0.10"},
				},
			},
		},
	}
	if err := insertPolicies(ctx, h, policies); err != nil {
		return err
	}

	lwd := date(2025, time.January, 31)
	return h.Store.SaveEmployee(ctx, sqlite.Employee{
		ID:             "priya-n",
		Name:           "Priya Natarajan",
		Email:          "priya@example.com",
		DateOfJoining:  date(2018, time.June, 15),
		LastWorkingDay: &lwd,
		LastDrawnBasic: engine.MustDecimal("125000"),
	})
}

func loadSalaryRevision(ctx context.Context, h *Handler) error {
	policies := []factory.PolicyJSON{
		{
			Kind:          string(engine.KindTaxBracketSet),
			EffectiveFrom: "2024-01-01",
			Tax: &factory.TaxJSON{
				Mode: string(engine.TaxMarginalSlabs),
				Brackets: []factory.BracketJSON{
					{LowerBound: "0", Rate: "0.15"},
				},
			},
		},
	}
	if err := insertPolicies(ctx, h, policies); err != nil {
		return err
	}

	return h.Store.SaveEmployee(ctx, sqlite.Employee{
		ID:             "marco-b",
		Name:           "Marco Bellini",
		Email:          "marco@example.com",
		DateOfJoining:  date(2021, time.March, 1),
		LastDrawnBasic: engine.MustDecimal("215000"),
	})
}

func loadYearEndClose(ctx context.Context, h *Handler) error {
	policies := []factory.PolicyJSON{
		{
			Kind:          string(engine.KindCarryForward),
			EffectiveFrom: "2025-01-01",
			CarryForward: &factory.CarryForwardJSON{
				Rules: []factory.CarryRuleJSON{
					{LeaveTypeCode: "annual_leave", Enabled: true, MaxCarryDays: "10", Expiry: string(engine.ExpiryEndOfQuarter), ExpiryQuarter: 1},
					{LeaveTypeCode: "sick_leave", Enabled: false, MaxCarryDays: "0", Expiry: string(engine.ExpiryNever)},
				},
			},
		},
	}
	if err := insertPolicies(ctx, h, policies); err != nil {
		return err
	}

	team := []sqlite.Employee{
		{ID: "dana-k", Name: "Dana Kowalski", DateOfJoining: date(2022, time.February, 14), LastDrawnBasic: engine.MustDecimal("98000")},
		{ID: "yusuf-a", Name: "Yusuf Adeyemi", DateOfJoining: date(2019, time.September, 2), LastDrawnBasic: engine.MustDecimal("143000")},
		{ID: "lena-h", Name: "Lena Hoffmann", DateOfJoining: date(2023, time.July, 10), LastDrawnBasic: engine.MustDecimal("81000")},
	}
	for _, e := range team {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}

	yearEnd := engine.NewDate(2025, time.December, 31)
	balances := []engine.LeaveTypeBalance{
		{EmployeeID: "dana-k", LeaveTypeCode: "annual_leave", BalanceDays: engine.MustDecimal("18"), AsOfDate: yearEnd},
		{EmployeeID: "dana-k", LeaveTypeCode: "sick_leave", BalanceDays: engine.MustDecimal("6"), AsOfDate: yearEnd},
		{EmployeeID: "yusuf-a", LeaveTypeCode: "annual_leave", BalanceDays: engine.MustDecimal("7.5"), AsOfDate: yearEnd},
		{EmployeeID: "lena-h", LeaveTypeCode: "annual_leave", BalanceDays: engine.MustDecimal("10"), AsOfDate: yearEnd},
	}
	for _, bal := range balances {
		if err := h.Store.SaveLeaveBalance(ctx, uuid.NewString(), bal); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func insertPolicies(ctx context.Context, h *Handler, policies []factory.PolicyJSON) error {
	for i, pj := range policies {
		v, err := h.Factory.FromJSON(pj)
		if err != nil {
			return fmt.Errorf("scenario policy %d: %w", i, err)
		}
		if err := h.Registry.Insert(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }
