package pmode

import (
	"fmt"
	"sync"
)

// Manager is the shared, read-mostly P-Mode registry. Lookups happen on
// the hot path of every send and receive; registration is administrative
// and rare, so a plain RWMutex is sufficient.
type Manager struct {
	mu     sync.RWMutex
	pmodes map[string]*ProcessingMode
}

// NewManager creates an empty P-Mode registry.
func NewManager() *Manager {
	return &Manager{pmodes: make(map[string]*ProcessingMode)}
}

// Register validates and adds a P-Mode. Registering an ID twice is an
// error: registered P-Modes are immutable.
func (m *Manager) Register(pm *ProcessingMode) error {
	if err := pm.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pmodes[pm.ID]; exists {
		return fmt.Errorf("pmode %s: already registered", pm.ID)
	}
	m.pmodes[pm.ID] = pm
	return nil
}

// Get retrieves a P-Mode by ID, or nil when not registered.
func (m *Manager) Get(id string) *ProcessingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pmodes[id]
}

// GetByAgreement retrieves the P-Mode referencing the given business
// agreement, or nil.
func (m *Manager) GetByAgreement(agreement string) *ProcessingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, pm := range m.pmodes {
		if pm.Agreement != nil && pm.Agreement.Value == agreement {
			return pm
		}
	}
	return nil
}

// Find matches a P-Mode by the service and action of its first leg.
// Used when an inbound message carries no agreement reference.
func (m *Manager) Find(service, action string) *ProcessingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, pm := range m.pmodes {
		leg := pm.Leg1()
		if leg == nil || leg.BusinessInfo == nil {
			continue
		}
		if leg.BusinessInfo.Service == service && leg.BusinessInfo.Action == action {
			return pm
		}
	}
	return nil
}

// Remove deletes a P-Mode from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pmodes, id)
}

// IDs returns the IDs of all registered P-Modes.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.pmodes))
	for id := range m.pmodes {
		ids = append(ids, id)
	}
	return ids
}
