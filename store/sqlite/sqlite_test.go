package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/arrears"
	"github.com/warp/entitlement-engine/carryforward"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/gratuity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func flatTaxVersion(id string, from engine.Date) engine.PolicyVersion {
	return engine.PolicyVersion{
		ID:            engine.PolicyVersionID(id),
		Kind:          engine.KindTaxBracketSet,
		EffectiveFrom: from,
		Tax: &engine.TaxBracketSet{
			Mode: engine.TaxFlatOnExcess,
			Brackets: []engine.TaxBracket{
				{LowerBound: engine.MustDecimal("300000"), Rate: engine.MustDecimal("0.10")},
			},
		},
	}
}

// =============================================================================
// POLICY VERSIONS
// =============================================================================

func TestPolicyVersionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := flatTaxVersion("tax-2024", engine.NewDate(2024, time.January, 1))
	require.NoError(t, s.AppendVersion(ctx, v))

	loaded, err := s.LoadVersions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, v.Kind, got.Kind)
	assert.True(t, got.EffectiveFrom.Equal(v.EffectiveFrom))
	assert.Nil(t, got.EffectiveTo)
	require.NotNil(t, got.Tax)
	assert.True(t, got.Tax.Brackets[0].LowerBound.Equal(engine.MustDecimal("300000")))
}

func TestCloseOpenPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendVersion(ctx, flatTaxVersion("tax-2020", engine.NewDate(2020, time.January, 1))))
	require.NoError(t, s.CloseOpen(ctx, "tax-2020", engine.NewDate(2023, time.December, 31)))

	loaded, err := s.LoadVersions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.NotNil(t, loaded[0].EffectiveTo)
	assert.Equal(t, "2023-12-31", loaded[0].EffectiveTo.String())

	// Closing again fails: a closed range never moves.
	err = s.CloseOpen(ctx, "tax-2020", engine.NewDate(2024, time.June, 30))
	require.Error(t, err)
}

func TestRegistryOverSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	registry, err := engine.NewRegistry(ctx, s)
	require.NoError(t, err)

	require.NoError(t, registry.Insert(ctx, flatTaxVersion("tax-2020", engine.NewDate(2020, time.January, 1))))
	require.NoError(t, registry.Insert(ctx, flatTaxVersion("tax-2024", engine.NewDate(2024, time.January, 1))))

	// A fresh registry over the same database sees the closed range.
	reloaded, err := engine.NewRegistry(ctx, s)
	require.NoError(t, err)

	old, err := reloaded.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2023, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyVersionID("tax-2020"), old.ID)

	current, err := reloaded.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2024, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, engine.PolicyVersionID("tax-2024"), current.ID)
}

// =============================================================================
// EMPLOYEES AND SETTLEMENTS
// =============================================================================

func TestEmployeeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lwd := time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC)
	emp := Employee{
		ID:             "emp-1",
		Name:           "Priya Natarajan",
		Email:          "priya@example.com",
		DateOfJoining:  time.Date(2018, time.June, 15, 0, 0, 0, 0, time.UTC),
		LastWorkingDay: &lwd,
		LastDrawnBasic: engine.MustDecimal("125000"),
	}
	require.NoError(t, s.SaveEmployee(ctx, emp))

	got, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Priya Natarajan", got.Name)
	assert.True(t, got.LastDrawnBasic.Equal(engine.MustDecimal("125000")))
	require.NotNil(t, got.LastWorkingDay)
	assert.Equal(t, "2025-01-31", got.LastWorkingDay.Format("2006-01-02"))

	rec := got.ServiceRecord()
	assert.Equal(t, engine.EmployeeID("emp-1"), rec.EmployeeID)
	assert.Equal(t, "2018-06-15", rec.DateOfJoining.String())
}

func TestGetMissingEmployee(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetEmployee(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorrectionAllowedUntilFinalized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emp := Employee{
		ID:             "emp-1",
		Name:           "Priya Natarajan",
		DateOfJoining:  time.Date(2018, time.June, 15, 0, 0, 0, 0, time.UTC),
		LastDrawnBasic: engine.MustDecimal("120000"),
	}
	require.NoError(t, s.SaveEmployee(ctx, emp))

	// Corrections are fine while nothing is finalized.
	emp.LastDrawnBasic = engine.MustDecimal("125000")
	require.NoError(t, s.SaveEmployee(ctx, emp))

	// A draft settlement does not freeze the record...
	st := gratuity.Settlement{EmployeeID: "emp-1", AsOf: engine.NewDate(2025, time.January, 31)}
	require.NoError(t, s.SaveSettlement(ctx, "settle-1", st, false))
	require.NoError(t, s.SaveEmployee(ctx, emp))

	// ...a finalized one does.
	require.NoError(t, s.SaveSettlement(ctx, "settle-2", st, true))
	err := s.SaveEmployee(ctx, emp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finalized")
}

// =============================================================================
// LEAVE BALANCES
// =============================================================================

func TestLeaveBalanceSnapshotReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asOf := engine.NewDate(2025, time.December, 31)

	bal := engine.LeaveTypeBalance{
		EmployeeID:    "emp-1",
		LeaveTypeCode: "annual_leave",
		BalanceDays:   engine.MustDecimal("15"),
		AsOfDate:      asOf,
	}
	require.NoError(t, s.SaveLeaveBalance(ctx, "bal-1", bal))

	// Re-posting the same employee/type/date replaces the snapshot.
	bal.BalanceDays = engine.MustDecimal("18")
	require.NoError(t, s.SaveLeaveBalance(ctx, "bal-2", bal))

	balances, err := s.ListLeaveBalances(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].BalanceDays.Equal(engine.MustDecimal("18")))

	// A different date is a different snapshot.
	other, err := s.ListLeaveBalances(ctx, engine.NewDate(2024, time.December, 31))
	require.NoError(t, err)
	assert.Empty(t, other)
}

// =============================================================================
// AUDIT ROWS
// =============================================================================

func TestSaveArrearsRun(t *testing.T) {
	s := newTestStore(t)

	res := arrears.Result{
		EmployeeID: "emp-1",
		Periods: []arrears.PeriodAdjustment{
			{
				PeriodStart: engine.NewDate(2024, time.October, 1),
				PeriodEnd:   engine.NewDate(2024, time.October, 31),
				GrossDiff:   engine.MustDecimal("35000"),
				TaxImpact:   engine.MustDecimal("5250"),
				NetDiff:     engine.MustDecimal("29750"),
				TaxPolicyID: "tax-15",
			},
		},
		TotalGrossDiff: engine.MustDecimal("35000"),
		TotalTaxImpact: engine.MustDecimal("5250"),
		TotalNetDiff:   engine.MustDecimal("29750"),
	}
	require.NoError(t, s.SaveArrearsRun(context.Background(), "run-1", res))
}

func TestCarryForwardRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	yearEnd := engine.NewDate(2025, time.December, 31)

	require.NoError(t, s.CreateCarryForwardRun(ctx, "run-1", yearEnd))

	projections := []carryforward.Projection{
		{
			EmployeeID:    "emp-1",
			LeaveTypeCode: "annual_leave",
			BalanceDays:   engine.MustDecimal("18"),
			CarryDays:     engine.MustDecimal("10"),
			LapseDays:     engine.MustDecimal("8"),
		},
	}
	agg := carryforward.Sum(projections)
	require.NoError(t, s.CompleteCarryForwardRun(ctx, "run-1", projections, agg))

	runs, err := s.ListCarryForwardRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 1, runs[0].Employees)
	assert.True(t, runs[0].TotalCarry.Equal(engine.MustDecimal("10")))
	assert.True(t, runs[0].TotalLapse.Equal(engine.MustDecimal("8")))
	assert.Equal(t, "2025-12-31", runs[0].YearEnd)
}

func TestCarryForwardRunFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCarryForwardRun(ctx, "run-1", engine.NewDate(2025, time.December, 31)))
	require.NoError(t, s.FailCarryForwardRun(ctx, "run-1", assert.AnError))

	runs, err := s.ListCarryForwardRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}
