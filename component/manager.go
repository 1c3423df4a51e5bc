package component

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/sftpstreams/errors"
)

// Manager drives Initialize, Start and Stop over a set of components. Inputs
// are started last and stopped first so nothing is published into a sink that
// is not listening yet.
type Manager struct {
	logger     *slog.Logger
	mu         sync.Mutex
	components []*ManagedComponent
}

// NewManager creates a manager for the given named components.
func NewManager(components map[string]Discoverable, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger}
	for name, c := range components {
		m.components = append(m.components, &ManagedComponent{Name: name, Component: c, State: StateCreated})
	}
	sort.SliceStable(m.components, func(i, j int) bool {
		ri, rj := startRank(m.components[i]), startRank(m.components[j])
		if ri != rj {
			return ri < rj
		}
		return m.components[i].Name < m.components[j].Name
	})
	return m
}

func startRank(mc *ManagedComponent) int {
	if mc.Component.Meta().Type == "input" {
		return 1
	}
	return 0
}

// Start initializes and starts every lifecycle component. On failure the
// already started ones are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.components {
		lc, ok := mc.Component.(LifecycleComponent)
		if !ok {
			continue
		}
		if err := lc.Initialize(); err != nil {
			mc.State = StateFailed
			m.stopLocked(5 * time.Second)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("initialize %s", mc.Name))
		}
		mc.State = StateInitialized

		cctx, cancel := context.WithCancel(ctx)
		if err := lc.Start(cctx); err != nil {
			cancel()
			mc.State = StateFailed
			m.stopLocked(5 * time.Second)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start %s", mc.Name))
		}
		mc.Cancel = cancel
		mc.State = StateStarted
		m.logger.Info("Component started", "name", mc.Name, "type", mc.Component.Meta().Type)
	}
	return nil
}

// Stop stops started components in reverse start order.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(timeout)
}

func (m *Manager) stopLocked(timeout time.Duration) {
	for i := len(m.components) - 1; i >= 0; i-- {
		mc := m.components[i]
		if mc.State != StateStarted {
			continue
		}
		if err := mc.Component.(LifecycleComponent).Stop(timeout); err != nil {
			m.logger.Warn("Component stop failed", "name", mc.Name, "error", err)
		}
		if mc.Cancel != nil {
			mc.Cancel()
		}
		mc.State = StateStopped
		m.logger.Info("Component stopped", "name", mc.Name)
	}
}

// States returns the lifecycle state by component name.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.components))
	for _, mc := range m.components {
		out[mc.Name] = mc.State
	}
	return out
}

// Components returns the managed components by name.
func (m *Manager) Components() map[string]Discoverable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Discoverable, len(m.components))
	for _, mc := range m.components {
		out[mc.Name] = mc.Component
	}
	return out
}
