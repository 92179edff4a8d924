/*
registry.go - Append-only, effective-dated policy registry

PURPOSE:
  The registry is the single stateful component of the engine. It holds
  PolicyVersions and answers "which rule set was in force on this date?".
  Versions are append-only: no update or delete of historical versions is
  permitted, which guarantees that any historical computation can be
  reproduced exactly.

SUPERSEDING:
  Inserting a version whose range would abut the current open-ended
  version closes that version at newFrom - 1 day. Closing an open range is
  the only mutation the store performs, and it never changes a range that
  already ended.

CONCURRENCY:
  Insert is serialized under a write lock to preserve the non-overlap
  invariant under concurrent administrative edits. Resolve takes a read
  lock on the version index only; versions themselves are immutable once
  visible.

SEE ALSO:
  - store/memory.go: In-memory PolicyStore for tests/dev
  - ../store/sqlite: Durable PolicyStore
*/
package engine

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// POLICY STORE - Persistence interface (append + close-open only)
// =============================================================================

// PolicyStore persists policy versions. There is no update or delete;
// CloseOpen is the single permitted mutation and only ever sets an
// EffectiveTo that was previously nil.
type PolicyStore interface {
	// AppendVersion persists a new version.
	AppendVersion(ctx context.Context, v PolicyVersion) error

	// CloseOpen sets EffectiveTo on the identified open-ended version.
	CloseOpen(ctx context.Context, id PolicyVersionID, effectiveTo Date) error

	// LoadVersions returns all versions, in insertion order.
	LoadVersions(ctx context.Context) ([]PolicyVersion, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

type registryKey struct {
	Kind         PolicyKind
	Jurisdiction Jurisdiction
}

// Registry resolves the policy version in force on a given date.
type Registry struct {
	store PolicyStore

	mu       sync.RWMutex
	versions map[registryKey][]PolicyVersion
}

// NewRegistry loads all versions from the store into the index.
func NewRegistry(ctx context.Context, store PolicyStore) (*Registry, error) {
	r := &Registry{
		store:    store,
		versions: make(map[registryKey][]PolicyVersion),
	}
	loaded, err := store.LoadVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy versions: %w", err)
	}
	for _, v := range loaded {
		k := registryKey{Kind: v.Kind, Jurisdiction: v.Jurisdiction}
		r.versions[k] = append(r.versions[k], v)
	}
	return r, nil
}

// Resolve returns the version of the given kind in force on asOf.
func (r *Registry) Resolve(ctx context.Context, kind PolicyKind, jurisdiction Jurisdiction, asOf Date) (PolicyVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions[registryKey{Kind: kind, Jurisdiction: jurisdiction}] {
		if v.InForceOn(asOf) {
			return v, nil
		}
	}
	return PolicyVersion{}, &PolicyNotFoundError{Kind: kind, Jurisdiction: jurisdiction, AsOf: asOf}
}

// Insert adds a new version. Fails with ErrOverlappingPolicy if the range
// intersects an existing version of the same kind and jurisdiction. On
// success, if the previous current version was open-ended and ends before
// the new one begins, it is closed at newVersion.EffectiveFrom - 1 day.
func (r *Registry) Insert(ctx context.Context, v PolicyVersion) error {
	if err := v.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := registryKey{Kind: v.Kind, Jurisdiction: v.Jurisdiction}
	existing := r.versions[k]

	// An open-ended predecessor that started before the new version is not
	// an overlap: it is superseded and closed at newFrom - 1 day.
	var supersededIdx = -1
	for i, old := range existing {
		if old.EffectiveTo == nil && old.EffectiveFrom.Before(v.EffectiveFrom) {
			if supersededIdx >= 0 {
				// Two open versions for one key would already violate the
				// invariant; report the conflict rather than guess.
				return &OverlappingPolicyError{Kind: v.Kind, ExistingID: old.ID, From: old.EffectiveFrom, To: old.EffectiveTo}
			}
			supersededIdx = i
			continue
		}
		if old.Overlaps(v) {
			return &OverlappingPolicyError{Kind: v.Kind, ExistingID: old.ID, From: old.EffectiveFrom, To: old.EffectiveTo}
		}
	}

	if supersededIdx >= 0 {
		closeAt := v.EffectiveFrom.AddDays(-1)
		old := existing[supersededIdx]
		if err := r.store.CloseOpen(ctx, old.ID, closeAt); err != nil {
			return fmt.Errorf("failed to close superseded version %s: %w", old.ID, err)
		}
		closed := old
		closed.EffectiveTo = &closeAt
		existing[supersededIdx] = closed
	}

	if err := r.store.AppendVersion(ctx, v); err != nil {
		return fmt.Errorf("failed to append policy version: %w", err)
	}
	r.versions[k] = append(existing, v)
	return nil
}

// Versions returns a copy of all versions of a kind/jurisdiction, for
// listing and audit display.
func (r *Registry) Versions(kind PolicyKind, jurisdiction Jurisdiction) []PolicyVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.versions[registryKey{Kind: kind, Jurisdiction: jurisdiction}]
	out := make([]PolicyVersion, len(src))
	copy(out, src)
	return out
}

// AllVersions returns a copy of every version in the registry.
func (r *Registry) AllVersions() []PolicyVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []PolicyVersion
	for _, vs := range r.versions {
		out = append(out, vs...)
	}
	return out
}
