package health

import (
	"sync"

	"github.com/c360/sftpstreams/component"
)

// Monitor reports on a fixed set of components plus named dependency checks
// such as the NATS connection.
type Monitor struct {
	name string

	mu         sync.RWMutex
	components map[string]component.Discoverable
	checks     map[string]func() Status
}

// NewMonitor creates a monitor labelled with the process name.
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:       name,
		components: make(map[string]component.Discoverable),
		checks:     make(map[string]func() Status),
	}
}

// Watch adds components to the report.
func (m *Monitor) Watch(components map[string]component.Discoverable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range components {
		m.components[name] = c
	}
}

// AddCheck registers a dependency check evaluated on every report.
func (m *Monitor) AddCheck(name string, check func() Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Snapshot evaluates every component and check.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.components)+len(m.checks))
	for name, c := range m.components {
		subs = append(subs, FromComponentHealth(name, c.Health()))
	}
	for name, check := range m.checks {
		st := check()
		st.Component = name
		subs = append(subs, st)
	}
	m.mu.RUnlock()
	return Aggregate(m.name, subs)
}

// Report implements metric.HealthReporter
func (m *Monitor) Report() any {
	return m.Snapshot()
}

// Healthy implements metric.HealthReporter
func (m *Monitor) Healthy() bool {
	return m.Snapshot().Healthy
}
