package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/engine/store"
)

func taxVersion(id string, from engine.Date, to *engine.Date) engine.PolicyVersion {
	return engine.PolicyVersion{
		ID:            engine.PolicyVersionID(id),
		Kind:          engine.KindTaxBracketSet,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Tax: &engine.TaxBracketSet{
			Mode: engine.TaxFlatOnExcess,
			Brackets: []engine.TaxBracket{
				{LowerBound: engine.MustDecimal("0"), Rate: engine.MustDecimal("0.10")},
			},
		},
	}
}

func newRegistry(t *testing.T) *engine.Registry {
	t.Helper()
	r, err := engine.NewRegistry(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return r
}

func TestResolveInForceVersion(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	// GIVEN an open-ended version effective 2020-01-01
	v := taxVersion("tax-2020", engine.NewDate(2020, time.January, 1), nil)
	if err := r.Insert(ctx, v); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// WHEN resolving a later date
	got, err := r.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2023, time.June, 1))

	// THEN the open version answers
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got.ID != "tax-2020" {
		t.Errorf("expected tax-2020, got %s", got.ID)
	}
}

func TestResolveBeforeFirstVersion(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	if err := r.Insert(ctx, taxVersion("tax-2020", engine.NewDate(2020, time.January, 1), nil)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err := r.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2019, time.December, 31))
	if !errors.Is(err, engine.ErrPolicyNotFound) {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
	var notFound *engine.PolicyNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected *PolicyNotFoundError, got %T", err)
	}
}

func TestSupersedeClosesOpenVersion(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	// GIVEN an open version from 2020
	if err := r.Insert(ctx, taxVersion("tax-2020", engine.NewDate(2020, time.January, 1), nil)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// WHEN a new open version starts 2024-01-01
	if err := r.Insert(ctx, taxVersion("tax-2024", engine.NewDate(2024, time.January, 1), nil)); err != nil {
		t.Fatalf("superseding insert failed: %v", err)
	}

	// THEN the old version is closed at 2023-12-31 and historical dates
	// still resolve to it
	old, err := r.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2023, time.December, 31))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if old.ID != "tax-2020" {
		t.Errorf("expected tax-2020 for historical date, got %s", old.ID)
	}
	if old.EffectiveTo == nil || !old.EffectiveTo.Equal(engine.NewDate(2023, time.December, 31)) {
		t.Errorf("expected tax-2020 closed at 2023-12-31, got %v", old.EffectiveTo)
	}

	current, err := r.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2024, time.January, 1))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if current.ID != "tax-2024" {
		t.Errorf("expected tax-2024 for current date, got %s", current.ID)
	}
}

func TestOverlappingInsertRejected(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	to := engine.NewDate(2023, time.December, 31)
	if err := r.Insert(ctx, taxVersion("tax-2020", engine.NewDate(2020, time.January, 1), &to)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// WHEN inserting a range that intersects the closed one
	err := r.Insert(ctx, taxVersion("tax-overlap", engine.NewDate(2023, time.June, 1), nil))

	// THEN the insert fails and the registry is unchanged
	if !errors.Is(err, engine.ErrOverlappingPolicy) {
		t.Fatalf("expected ErrOverlappingPolicy, got %v", err)
	}
	if n := len(r.Versions(engine.KindTaxBracketSet, "")); n != 1 {
		t.Errorf("expected 1 version after rejected insert, got %d", n)
	}
}

func TestBackfillClosedRangeBeforeOpenVersion(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	// GIVEN an open version from 2024
	if err := r.Insert(ctx, taxVersion("tax-2024", engine.NewDate(2024, time.January, 1), nil)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// WHEN backfilling a closed historical range ending before it
	to := engine.NewDate(2023, time.December, 31)
	if err := r.Insert(ctx, taxVersion("tax-2020", engine.NewDate(2020, time.January, 1), &to)); err != nil {
		t.Fatalf("backfill insert failed: %v", err)
	}

	// THEN the open version stays open
	current, err := r.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2025, time.January, 1))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if current.ID != "tax-2024" || current.EffectiveTo != nil {
		t.Errorf("expected tax-2024 still open, got %s (to=%v)", current.ID, current.EffectiveTo)
	}
}

func TestJurisdictionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	vA := taxVersion("tax-a", engine.NewDate(2020, time.January, 1), nil)
	vA.Jurisdiction = "AE"
	vB := taxVersion("tax-b", engine.NewDate(2020, time.January, 1), nil)
	vB.Jurisdiction = "IN"

	// Same kind and identical range: no overlap across jurisdictions.
	if err := r.Insert(ctx, vA); err != nil {
		t.Fatalf("insert AE failed: %v", err)
	}
	if err := r.Insert(ctx, vB); err != nil {
		t.Fatalf("insert IN failed: %v", err)
	}

	got, err := r.Resolve(ctx, engine.KindTaxBracketSet, "IN", engine.NewDate(2021, time.January, 1))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got.ID != "tax-b" {
		t.Errorf("expected tax-b, got %s", got.ID)
	}
}

func TestRegistryReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	r1, err := engine.NewRegistry(ctx, mem)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	if err := r1.Insert(ctx, taxVersion("tax-2020", engine.NewDate(2020, time.January, 1), nil)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// A second registry over the same store sees the version.
	r2, err := engine.NewRegistry(ctx, mem)
	if err != nil {
		t.Fatalf("failed to rebuild registry: %v", err)
	}
	got, err := r2.Resolve(ctx, engine.KindTaxBracketSet, "", engine.NewDate(2022, time.January, 1))
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got.ID != "tax-2020" {
		t.Errorf("expected tax-2020, got %s", got.ID)
	}
}
