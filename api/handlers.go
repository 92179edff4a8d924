/*
handlers.go - HTTP handlers for the entitlement engine

PURPOSE:
  Thin translation layer: parse the request, call the engine, map the
  result (or error) onto the wire. No business rules live here.

ERROR MAPPING:
  engine.IsNotFound        -> 404
  engine.ErrOverlappingPolicy -> 409
  engine.IsClientError     -> 400
  anything else            -> 500

SEE ALSO:
  - dto.go: Wire types
  - server.go: Routing
  - batch.go: Year-end batch runner behind the admin endpoint
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/arrears"
	"github.com/warp/entitlement-engine/carryforward"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/factory"
	"github.com/warp/entitlement-engine/gratuity"
	"github.com/warp/entitlement-engine/store/sqlite"
)

// Handler carries the wired engine components.
type Handler struct {
	Store    *sqlite.Store
	Registry *engine.Registry
	Factory  *factory.PolicyFactory
	Gratuity *gratuity.Calculator
	Arrears  *arrears.Engine
	Batch    *BatchRunner
}

func NewHandler(store *sqlite.Store, registry *engine.Registry, batch *BatchRunner) *Handler {
	return &Handler{
		Store:    store,
		Registry: registry,
		Factory:  factory.NewPolicyFactory(),
		Gratuity: gratuity.NewCalculator(registry),
		Arrears:  arrears.NewEngine(registry),
		Batch:    batch,
	}
}

// =============================================================================
// POLICIES
// =============================================================================

// CreatePolicy appends a new policy version. POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var pj factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}

	v, err := h.Factory.FromJSON(pj)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Registry.Insert(r.Context(), v); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.ToJSON(v))
}

// ListPolicies returns every version, optionally filtered by kind.
// GET /api/policies?kind=&jurisdiction=
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	jurisdiction := engine.Jurisdiction(r.URL.Query().Get("jurisdiction"))

	var versions []engine.PolicyVersion
	if kind != "" {
		versions = h.Registry.Versions(engine.PolicyKind(kind), jurisdiction)
	} else {
		versions = h.Registry.AllVersions()
	}

	out := make([]factory.PolicyJSON, 0, len(versions))
	for _, v := range versions {
		out = append(out, factory.ToJSON(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// ResolvePolicy answers "which version was in force on this date?".
// GET /api/policies/resolve?kind=&jurisdiction=&as_of=
func (h *Handler) ResolvePolicy(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeError(w, http.StatusBadRequest, errors.New("kind is required"))
		return
	}
	asOf, err := parseDateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	jurisdiction := engine.Jurisdiction(r.URL.Query().Get("jurisdiction"))

	v, err := h.Registry.Resolve(r.Context(), engine.PolicyKind(kind), jurisdiction, asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, factory.ToJSON(v))
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// SaveEmployee creates or corrects a service record. PUT /api/employees/{id}
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		req.ID = id
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("id and name are required"))
		return
	}

	emp, err := employeeFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		// A finalized settlement freezes the record.
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, employeeToResponse(emp))
}

// GetEmployee returns one service record. GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, errors.New("employee not found"))
		return
	}
	writeJSON(w, http.StatusOK, employeeToResponse(*emp))
}

// ListEmployees returns all service records. GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]EmployeeResponse, 0, len(employees))
	for _, e := range employees {
		out = append(out, employeeToResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// ComputeSettlement runs a gratuity settlement and records the audit row.
// POST /api/employees/{id}/settlement
func (h *Handler) ComputeSettlement(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, errors.New("employee not found"))
		return
	}

	var req SettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	asOf, err := engine.ParseDate(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid as_of %q: %w", req.AsOf, err))
		return
	}

	st, err := h.Gratuity.Compute(r.Context(), emp.ServiceRecord(), asOf)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	id := uuid.NewString()
	if err := h.Store.SaveSettlement(r.Context(), id, st, req.Finalize); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementToResponse(id, st, req.Finalize))
}

// =============================================================================
// ARREARS
// =============================================================================

// RecalculateArrears reprices historical periods after a pay revision.
// POST /api/employees/{id}/arrears
func (h *Handler) RecalculateArrears(w http.ResponseWriter, r *http.Request) {
	employeeID := engine.EmployeeID(chi.URLParam(r, "id"))

	var req ArrearsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	if len(req.Periods) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("periods are required"))
		return
	}

	facts := make([]engine.PayPeriodFact, 0, len(req.Periods))
	for i, p := range req.Periods {
		fact, err := factFromRequest(employeeID, p)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("periods[%d]: %w", i, err))
			return
		}
		facts = append(facts, fact)
	}

	res, err := h.Arrears.Recalculate(r.Context(), employeeID, facts)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	id := uuid.NewString()
	if err := h.Store.SaveArrearsRun(r.Context(), id, res); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, arrearsToResponse(id, res))
}

// =============================================================================
// LEAVE BALANCES AND CARRY-FORWARD
// =============================================================================

// SaveLeaveBalance snapshots a balance. POST /api/leave-balances
func (h *Handler) SaveLeaveBalance(w http.ResponseWriter, r *http.Request) {
	var req LeaveBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	bal, err := balanceFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Store.SaveLeaveBalance(r.Context(), uuid.NewString(), bal); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ProjectCarryForward projects inline balances without touching stored
// data. POST /api/carryforward/project
func (h *Handler) ProjectCarryForward(w http.ResponseWriter, r *http.Request) {
	var req ProjectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	yearEnd, err := engine.ParseDate(req.YearEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid year_end %q: %w", req.YearEnd, err))
		return
	}

	balances := make([]engine.LeaveTypeBalance, 0, len(req.Balances))
	for i, b := range req.Balances {
		bal, err := balanceFromRequest(b)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("balances[%d]: %w", i, err))
			return
		}
		balances = append(balances, bal)
	}

	ruleVersion, err := h.Registry.Resolve(r.Context(), engine.KindCarryForward, "", yearEnd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if ruleVersion.CarryForward == nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("version %s carries no carry-forward rules", ruleVersion.ID))
		return
	}

	projections, err := carryforward.ProjectAll(balances, *ruleVersion.CarryForward, yearEnd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectionsToResponse(yearEnd, projections))
}

// RunYearEnd triggers a batch carry-forward run over stored balances.
// POST /api/admin/yearend
func (h *Handler) RunYearEnd(w http.ResponseWriter, r *http.Request) {
	var req YearEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}
	yearEnd, err := engine.ParseDate(req.YearEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid year_end %q: %w", req.YearEnd, err))
		return
	}

	runID, err := h.Batch.Run(r.Context(), yearEnd)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// ListRuns returns year-end batch runs, most recent first.
// GET /api/carryforward/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListCarryForwardRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunResponse{
			ID:          run.ID,
			YearEnd:     run.YearEnd,
			Status:      run.Status,
			Employees:   run.Employees,
			TotalCarry:  run.TotalCarry.String(),
			TotalLapse:  run.TotalLapse.String(),
			Error:       run.Error,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func employeeFromRequest(req EmployeeRequest) (sqlite.Employee, error) {
	doj, err := time.Parse("2006-01-02", req.DateOfJoining)
	if err != nil {
		return sqlite.Employee{}, fmt.Errorf("invalid date_of_joining %q", req.DateOfJoining)
	}
	basic, err := decimal.NewFromString(req.LastDrawnBasic)
	if err != nil {
		return sqlite.Employee{}, fmt.Errorf("invalid last_drawn_basic %q", req.LastDrawnBasic)
	}

	emp := sqlite.Employee{
		ID:             req.ID,
		Name:           req.Name,
		Email:          req.Email,
		DateOfJoining:  doj,
		LastDrawnBasic: basic,
	}
	if req.LastWorkingDay != nil {
		lwd, err := time.Parse("2006-01-02", *req.LastWorkingDay)
		if err != nil {
			return sqlite.Employee{}, fmt.Errorf("invalid last_working_day %q", *req.LastWorkingDay)
		}
		emp.LastWorkingDay = &lwd
	}
	return emp, nil
}

func employeeToResponse(e sqlite.Employee) EmployeeResponse {
	resp := EmployeeResponse{
		ID:             e.ID,
		Name:           e.Name,
		Email:          e.Email,
		DateOfJoining:  e.DateOfJoining.Format("2006-01-02"),
		LastDrawnBasic: e.LastDrawnBasic.String(),
	}
	if e.LastWorkingDay != nil {
		s := e.LastWorkingDay.Format("2006-01-02")
		resp.LastWorkingDay = &s
	}
	return resp
}

func settlementToResponse(id string, st gratuity.Settlement, finalized bool) SettlementResponse {
	return SettlementResponse{
		ID:              id,
		EmployeeID:      string(st.EmployeeID),
		AsOf:            st.AsOf.String(),
		Eligible:        st.Eligible,
		CompletedYears:  st.CompletedYears,
		FractionalYears: st.FractionalYears.String(),
		DailyRate:       st.DailyRate.String(),
		AppliedTierRate: st.AppliedTierRate.String(),
		GrossGratuity:   st.GrossGratuity.String(),
		Exemption:       st.Exemption.String(),
		TaxableAmount:   st.TaxableAmount.String(),
		Tax:             st.Tax.String(),
		NetGratuity:     st.NetGratuity.String(),
		TierPolicyID:    string(st.TierPolicyID),
		TaxPolicyID:     string(st.TaxPolicyID),
		Finalized:       finalized,
	}
}

func factFromRequest(employeeID engine.EmployeeID, p PayPeriodRequest) (engine.PayPeriodFact, error) {
	start, err := engine.ParseDate(p.PeriodStart)
	if err != nil {
		return engine.PayPeriodFact{}, fmt.Errorf("invalid period_start %q", p.PeriodStart)
	}
	end, err := engine.ParseDate(p.PeriodEnd)
	if err != nil {
		return engine.PayPeriodFact{}, fmt.Errorf("invalid period_end %q", p.PeriodEnd)
	}
	prior, err := decimal.NewFromString(p.PriorGross)
	if err != nil {
		return engine.PayPeriodFact{}, fmt.Errorf("invalid prior_gross %q", p.PriorGross)
	}
	revised, err := decimal.NewFromString(p.RevisedGross)
	if err != nil {
		return engine.PayPeriodFact{}, fmt.Errorf("invalid revised_gross %q", p.RevisedGross)
	}
	return engine.PayPeriodFact{
		EmployeeID:   employeeID,
		PeriodStart:  start,
		PeriodEnd:    end,
		PriorGross:   prior,
		RevisedGross: revised,
	}, nil
}

func arrearsToResponse(id string, res arrears.Result) ArrearsResponse {
	resp := ArrearsResponse{
		ID:             id,
		EmployeeID:     string(res.EmployeeID),
		Periods:        make([]PeriodAdjustmentResponse, 0, len(res.Periods)),
		TotalGrossDiff: res.TotalGrossDiff.String(),
		TotalTaxImpact: res.TotalTaxImpact.String(),
		TotalNetDiff:   res.TotalNetDiff.String(),
	}
	for _, p := range res.Periods {
		resp.Periods = append(resp.Periods, PeriodAdjustmentResponse{
			PeriodStart:  p.PeriodStart.String(),
			PeriodEnd:    p.PeriodEnd.String(),
			GrossDiff:    p.GrossDiff.String(),
			TaxOnPrior:   p.TaxOnPrior.String(),
			TaxOnRevised: p.TaxOnRevised.String(),
			TaxImpact:    p.TaxImpact.String(),
			NetDiff:      p.NetDiff.String(),
			TaxPolicyID:  string(p.TaxPolicyID),
		})
	}
	return resp
}

func balanceFromRequest(req LeaveBalanceRequest) (engine.LeaveTypeBalance, error) {
	days, err := decimal.NewFromString(req.BalanceDays)
	if err != nil {
		return engine.LeaveTypeBalance{}, fmt.Errorf("invalid balance_days %q", req.BalanceDays)
	}
	asOf, err := engine.ParseDate(req.AsOfDate)
	if err != nil {
		return engine.LeaveTypeBalance{}, fmt.Errorf("invalid as_of_date %q", req.AsOfDate)
	}
	return engine.LeaveTypeBalance{
		EmployeeID:    engine.EmployeeID(req.EmployeeID),
		LeaveTypeCode: engine.LeaveTypeCode(req.LeaveTypeCode),
		BalanceDays:   days,
		AsOfDate:      asOf,
	}, nil
}

func projectionsToResponse(yearEnd engine.Date, projections []carryforward.Projection) ProjectionsResponse {
	agg := carryforward.Sum(projections)
	resp := ProjectionsResponse{
		YearEnd:     yearEnd.String(),
		Projections: make([]ProjectionResponse, 0, len(projections)),
		Employees:   agg.Employees,
		TotalCarry:  agg.TotalCarry.String(),
		TotalLapse:  agg.TotalLapse.String(),
	}
	for _, p := range projections {
		pr := ProjectionResponse{
			EmployeeID:    string(p.EmployeeID),
			LeaveTypeCode: string(p.LeaveTypeCode),
			BalanceDays:   p.BalanceDays.String(),
			CarryDays:     p.CarryDays.String(),
			LapseDays:     p.LapseDays.String(),
		}
		if p.ExpiresOn != nil {
			s := p.ExpiresOn.String()
			pr.ExpiresOn = &s
		}
		resp.Projections = append(resp.Projections, pr)
	}
	return resp
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func parseDateParam(r *http.Request, name string) (engine.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return engine.Date{}, fmt.Errorf("%s is required", name)
	}
	d, err := engine.ParseDate(raw)
	if err != nil {
		return engine.Date{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	return d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// writeEngineError maps engine errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrOverlappingPolicy):
		writeError(w, http.StatusConflict, err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
