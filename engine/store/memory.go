// Package store provides PolicyStore implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/entitlement-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	versions []engine.PolicyVersion
}

func NewMemory() *Memory {
	return &Memory{}
}

// AppendVersion adds a version. Append-only.
func (m *Memory) AppendVersion(_ context.Context, v engine.PolicyVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, v)
	return nil
}

// CloseOpen sets EffectiveTo on an open-ended version.
func (m *Memory) CloseOpen(_ context.Context, id engine.PolicyVersionID, effectiveTo engine.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, v := range m.versions {
		if v.ID != id {
			continue
		}
		if v.EffectiveTo != nil {
			return fmt.Errorf("version %s is already closed", id)
		}
		to := effectiveTo
		v.EffectiveTo = &to
		m.versions[i] = v
		return nil
	}
	return fmt.Errorf("version %s not found", id)
}

func (m *Memory) LoadVersions(_ context.Context) ([]engine.PolicyVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.PolicyVersion, len(m.versions))
	copy(out, m.versions)
	return out, nil
}
