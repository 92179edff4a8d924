package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := engine.NewRegistry(context.Background(), store)
	require.NoError(t, err)

	handler := NewHandler(store, registry, NewBatchRunner(store, registry))
	srv := httptest.NewServer(NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func loadScenario(t *testing.T, srv *httptest.Server, name string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/"+name, map[string]string{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSettlementEndpoint(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "veteran-settlement")

	var out SettlementResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/employees/priya-n/settlement",
		SettlementRequest{AsOf: "2025-01-31"}, &out)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Eligible)
	assert.Equal(t, 6, out.CompletedYears)
	assert.Equal(t, "829226.56", out.GrossGratuity)
	assert.Equal(t, "52922.66", out.Tax)
	assert.Equal(t, "776303.9", out.NetGratuity)
	assert.NotEmpty(t, out.TierPolicyID)
}

func TestFinalizedSettlementFreezesRecord(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "veteran-settlement")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/employees/priya-n/settlement",
		SettlementRequest{AsOf: "2025-01-31", Finalize: true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Correcting the service record now conflicts.
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/employees/priya-n", EmployeeRequest{
		Name:           "Priya Natarajan",
		DateOfJoining:  "2018-06-15",
		LastDrawnBasic: "130000",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSettlementForUnknownEmployee(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "veteran-settlement")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/employees/nobody/settlement",
		SettlementRequest{AsOf: "2025-01-31"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArrearsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "salary-revision")

	var out ArrearsResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/employees/marco-b/arrears", ArrearsRequest{
		Periods: []PayPeriodRequest{
			{PeriodStart: "2024-10-01", PeriodEnd: "2024-10-31", PriorGross: "180000", RevisedGross: "215000"},
			{PeriodStart: "2024-11-01", PeriodEnd: "2024-11-30", PriorGross: "180000", RevisedGross: "215000"},
			{PeriodStart: "2024-12-01", PeriodEnd: "2024-12-31", PriorGross: "180000", RevisedGross: "215000"},
		},
	}, &out)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Periods, 3)
	assert.Equal(t, "35000", out.Periods[0].GrossDiff)
	assert.Equal(t, "5250", out.Periods[0].TaxImpact)
	assert.Equal(t, "105000", out.TotalGrossDiff)
	assert.Equal(t, "15750", out.TotalTaxImpact)
	assert.Equal(t, "89250", out.TotalNetDiff)
}

func TestArrearsRejectsGappedPeriods(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "salary-revision")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/employees/marco-b/arrears", ArrearsRequest{
		Periods: []PayPeriodRequest{
			{PeriodStart: "2024-10-01", PeriodEnd: "2024-10-31", PriorGross: "180000", RevisedGross: "215000"},
			{PeriodStart: "2024-12-01", PeriodEnd: "2024-12-31", PriorGross: "180000", RevisedGross: "215000"},
		},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCarryForwardProjection(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "year-end-close")

	var out ProjectionsResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/carryforward/project", ProjectionRequest{
		YearEnd: "2025-12-31",
		Balances: []LeaveBalanceRequest{
			{EmployeeID: "emp-x", LeaveTypeCode: "annual_leave", BalanceDays: "18", AsOfDate: "2025-12-31"},
			{EmployeeID: "emp-x", LeaveTypeCode: "sick_leave", BalanceDays: "6", AsOfDate: "2025-12-31"},
		},
	}, &out)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Projections, 2)

	annual := out.Projections[0]
	assert.Equal(t, "10", annual.CarryDays)
	assert.Equal(t, "8", annual.LapseDays)
	require.NotNil(t, annual.ExpiresOn)
	assert.Equal(t, "2026-03-31", *annual.ExpiresOn)

	sick := out.Projections[1]
	assert.Equal(t, "0", sick.CarryDays)
	assert.Equal(t, "6", sick.LapseDays)

	assert.Equal(t, 1, out.Employees)
	assert.Equal(t, "10", out.TotalCarry)
	assert.Equal(t, "14", out.TotalLapse)
}

func TestYearEndBatchRun(t *testing.T) {
	srv := newTestServer(t)
	loadScenario(t, srv, "year-end-close")

	var out map[string]string
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/yearend",
		YearEndRequest{YearEnd: "2025-12-31"}, &out)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, out["run_id"])

	var runs []RunResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/carryforward/runs", nil, &runs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, runs, 1)

	// dana-k: 18 AL -> carry 10 lapse 8, 6 SL -> all lapses;
	// yusuf-a: 7.5 AL carries; lena-h: 10 AL carries.
	run := runs[0]
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 3, run.Employees)
	assert.Equal(t, "27.5", run.TotalCarry)
	assert.Equal(t, "14", run.TotalLapse)
}

func TestPolicyEndpoints(t *testing.T) {
	srv := newTestServer(t)

	// Insert an open tax policy, then supersede it.
	body := map[string]any{
		"id":             "tax-2020",
		"kind":           "tax_bracket_set",
		"effective_from": "2020-01-01",
		"tax": map[string]any{
			"mode":     "flat_on_excess",
			"brackets": []map[string]any{{"lower_bound": "0", "rate": "0.10"}},
		},
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/policies", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body["id"] = "tax-2024"
	body["effective_from"] = "2024-01-01"
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/policies", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// An overlapping range conflicts.
	body["id"] = "tax-overlap"
	body["effective_from"] = "2024-01-01"
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/policies", body, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Historical resolution picks the superseded version.
	var resolved map[string]any
	resp = doJSON(t, http.MethodGet,
		srv.URL+"/api/policies/resolve?kind=tax_bracket_set&as_of=2022-06-01", nil, &resolved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tax-2020", resolved["id"])

	// Resolution before any version is a 404.
	resp = doJSON(t, http.MethodGet,
		srv.URL+"/api/policies/resolve?kind=tax_bracket_set&as_of=2019-01-01", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
