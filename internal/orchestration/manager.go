package orchestration

import (
	"sync"
)

// Manager hands out at most one orchestrator per owner, so the
// pending-operation guarantees hold per owner across concurrent requests.
type Manager struct {
	deps Deps

	mu            sync.Mutex
	orchestrators map[string]*Orchestrator
}

// NewManager creates a manager that builds orchestrators from deps.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:          deps,
		orchestrators: make(map[string]*Orchestrator),
	}
}

// For returns the owner's orchestrator, creating it on first use.
func (m *Manager) For(ownerID string) *Orchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orchestrators[ownerID]; ok {
		return o
	}
	o := New(ownerID, m.deps)
	m.orchestrators[ownerID] = o
	return o
}

// Drop removes the owner's orchestrator so the next request starts from
// the empty state. Intended for logout and tests.
func (m *Manager) Drop(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orchestrators, ownerID)
}
