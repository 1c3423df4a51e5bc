package component

import (
	"context"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is a component with managed startup and shutdown.
//   - Initialize() validates and allocates, no I/O
//   - Start(ctx) connects and launches goroutines
//   - Stop(timeout) drains and releases resources
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent tracks a component and its lifecycle state. The manager
// owns the per-component context; the component only receives it in Start.
type ManagedComponent struct {
	Name      string
	Component Discoverable
	State     State
	Cancel    context.CancelFunc
}
