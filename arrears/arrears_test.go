package arrears

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/engine/store"
)

func slabVersion(id string, from engine.Date, rate string) engine.PolicyVersion {
	return engine.PolicyVersion{
		ID:            engine.PolicyVersionID(id),
		Kind:          engine.KindTaxBracketSet,
		EffectiveFrom: from,
		Tax: &engine.TaxBracketSet{
			Mode: engine.TaxMarginalSlabs,
			Brackets: []engine.TaxBracket{
				{LowerBound: engine.MustDecimal("0"), Rate: engine.MustDecimal(rate)},
			},
		},
	}
}

func newArrearsEngine(t *testing.T, versions ...engine.PolicyVersion) *Engine {
	t.Helper()
	ctx := context.Background()
	registry, err := engine.NewRegistry(ctx, store.NewMemory())
	require.NoError(t, err)
	for _, v := range versions {
		require.NoError(t, registry.Insert(ctx, v))
	}
	return NewEngine(registry)
}

// month returns a fact covering one whole calendar month.
func month(year int, m time.Month, prior, revised string) engine.PayPeriodFact {
	start := engine.NewDate(year, m, 1)
	return engine.PayPeriodFact{
		EmployeeID:   "emp-1",
		PeriodStart:  start,
		PeriodEnd:    start.AddMonths(1).AddDays(-1),
		PriorGross:   engine.MustDecimal(prior),
		RevisedGross: engine.MustDecimal(revised),
	}
}

func TestRetroactiveRaiseAcrossThreeMonths(t *testing.T) {
	// GIVEN a 15% slab and a raise from 180000 to 215000 backdated 3 months
	e := newArrearsEngine(t, slabVersion("tax-15", engine.NewDate(2024, time.January, 1), "0.15"))
	facts := []engine.PayPeriodFact{
		month(2024, time.October, "180000", "215000"),
		month(2024, time.November, "180000", "215000"),
		month(2024, time.December, "180000", "215000"),
	}

	// WHEN recalculating
	res, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.NoError(t, err)

	// THEN each period reprices the full gross under both figures
	require.Len(t, res.Periods, 3)
	for _, p := range res.Periods {
		assert.True(t, p.GrossDiff.Equal(engine.MustDecimal("35000")), "gross diff %s", p.GrossDiff)
		assert.True(t, p.TaxOnPrior.Equal(engine.MustDecimal("27000")), "tax on prior %s", p.TaxOnPrior)
		assert.True(t, p.TaxOnRevised.Equal(engine.MustDecimal("32250")), "tax on revised %s", p.TaxOnRevised)
		assert.True(t, p.TaxImpact.Equal(engine.MustDecimal("5250")), "tax impact %s", p.TaxImpact)
		assert.True(t, p.NetDiff.Equal(engine.MustDecimal("29750")), "net diff %s", p.NetDiff)
		assert.Equal(t, engine.PolicyVersionID("tax-15"), p.TaxPolicyID)
	}

	assert.True(t, res.TotalGrossDiff.Equal(engine.MustDecimal("105000")))
	assert.True(t, res.TotalTaxImpact.Equal(engine.MustDecimal("15750")))
	assert.True(t, res.TotalNetDiff.Equal(engine.MustDecimal("89250")))
}

func TestTotalsReconcileToLines(t *testing.T) {
	e := newArrearsEngine(t, slabVersion("tax-15", engine.NewDate(2024, time.January, 1), "0.15"))
	facts := []engine.PayPeriodFact{
		month(2024, time.October, "180000", "215000"),
		month(2024, time.November, "190000", "212500.50"),
		month(2024, time.December, "190000", "215000"),
	}

	res, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.NoError(t, err)

	// Totals are exact sums of the lines.
	sumNet := engine.MustDecimal("0")
	sumGross := engine.MustDecimal("0")
	sumTax := engine.MustDecimal("0")
	for _, p := range res.Periods {
		sumNet = sumNet.Add(p.NetDiff)
		sumGross = sumGross.Add(p.GrossDiff)
		sumTax = sumTax.Add(p.TaxImpact)
	}
	assert.True(t, res.TotalNetDiff.Equal(sumNet))
	assert.True(t, res.TotalGrossDiff.Equal(sumGross))
	assert.True(t, res.TotalTaxImpact.Equal(sumTax))
}

func TestHistoricalBracketPerPeriod(t *testing.T) {
	// GIVEN a rate change mid-window: 15% through November, 20% from December
	e := newArrearsEngine(t,
		slabVersion("tax-15", engine.NewDate(2024, time.January, 1), "0.15"),
		slabVersion("tax-20", engine.NewDate(2024, time.December, 1), "0.20"),
	)
	facts := []engine.PayPeriodFact{
		month(2024, time.October, "180000", "215000"),
		month(2024, time.November, "180000", "215000"),
		month(2024, time.December, "180000", "215000"),
	}

	res, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.NoError(t, err)
	require.Len(t, res.Periods, 3)

	// THEN October and November use the old rate, December the new one
	assert.Equal(t, engine.PolicyVersionID("tax-15"), res.Periods[0].TaxPolicyID)
	assert.Equal(t, engine.PolicyVersionID("tax-15"), res.Periods[1].TaxPolicyID)
	assert.Equal(t, engine.PolicyVersionID("tax-20"), res.Periods[2].TaxPolicyID)
	assert.True(t, res.Periods[1].TaxImpact.Equal(engine.MustDecimal("5250")))
	assert.True(t, res.Periods[2].TaxImpact.Equal(engine.MustDecimal("7000")))
}

func TestGapBetweenPeriodsRejected(t *testing.T) {
	e := newArrearsEngine(t, slabVersion("tax-15", engine.NewDate(2024, time.January, 1), "0.15"))
	facts := []engine.PayPeriodFact{
		month(2024, time.October, "180000", "215000"),
		month(2024, time.December, "180000", "215000"), // November missing
	}

	_, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.ErrorIs(t, err, engine.ErrUnorderedPeriods)

	var unordered *engine.UnorderedPeriodsError
	require.ErrorAs(t, err, &unordered)
	assert.Equal(t, 1, unordered.Index)
}

func TestOverlappingPeriodsRejected(t *testing.T) {
	e := newArrearsEngine(t, slabVersion("tax-15", engine.NewDate(2024, time.January, 1), "0.15"))
	facts := []engine.PayPeriodFact{
		month(2024, time.October, "180000", "215000"),
		{
			EmployeeID:   "emp-1",
			PeriodStart:  engine.NewDate(2024, time.October, 31), // overlaps October
			PeriodEnd:    engine.NewDate(2024, time.November, 30),
			PriorGross:   engine.MustDecimal("180000"),
			RevisedGross: engine.MustDecimal("215000"),
		},
	}

	_, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.ErrorIs(t, err, engine.ErrUnorderedPeriods)
}

func TestPeriodEndBeforeStartRejected(t *testing.T) {
	e := newArrearsEngine(t, slabVersion("tax-15", engine.NewDate(2024, time.January, 1), "0.15"))
	facts := []engine.PayPeriodFact{
		{
			EmployeeID:   "emp-1",
			PeriodStart:  engine.NewDate(2024, time.October, 31),
			PeriodEnd:    engine.NewDate(2024, time.October, 1),
			PriorGross:   engine.MustDecimal("180000"),
			RevisedGross: engine.MustDecimal("215000"),
		},
	}

	_, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.ErrorIs(t, err, engine.ErrInvalidDateRange)
}

func TestNoPolicyForPeriodFailsWholeRun(t *testing.T) {
	// GIVEN a bracket set effective only from November
	e := newArrearsEngine(t, slabVersion("tax-15", engine.NewDate(2024, time.November, 1), "0.15"))
	facts := []engine.PayPeriodFact{
		month(2024, time.October, "180000", "215000"),
		month(2024, time.November, "180000", "215000"),
	}

	// THEN the run fails rather than skipping the uncovered period
	_, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.ErrorIs(t, err, engine.ErrPolicyNotFound)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	e := newArrearsEngine(t, slabVersion("tax-15", engine.NewDate(2024, time.January, 1), "0.15"))
	facts := []engine.PayPeriodFact{
		month(2024, time.October, "180000", "215000"),
		month(2024, time.November, "180000", "215000"),
	}

	first, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.NoError(t, err)
	second, err := e.Recalculate(context.Background(), "emp-1", facts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
