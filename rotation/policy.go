package rotation

import (
	"fmt"

	"github.com/c360/sftpstreams/errors"
)

// uninitialized marks a policy that has not selected a target yet.
const uninitialized = -1

// Policy walks a Registry. In fair mode it advances on every cycle; in
// exhaustive mode it stays on a target until a poll there comes back empty.
type Policy struct {
	registry *Registry
	fair     bool
	index    int
}

// NewPolicy creates a policy positioned before the first target.
func NewPolicy(registry *Registry, fair bool) (*Policy, error) {
	if registry.Len() == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("rotation registry is empty: %w", errors.ErrEmptyRotation),
			"Policy", "New", "validate registry")
	}
	return &Policy{registry: registry, fair: fair, index: uninitialized}, nil
}

// Fair reports the rotation mode.
func (p *Policy) Fair() bool { return p.fair }

// CurrentTarget returns the target for this cycle. The first call, and every
// call in fair mode, advances first.
func (p *Policy) CurrentTarget() KeyDirectory {
	if p.index == uninitialized || p.fair {
		p.Advance()
	}
	return p.registry.At(p.index)
}

// OnPollResult reports the outcome of the cycle. Exhaustive mode moves on
// when the cycle produced nothing; fair mode ignores it.
func (p *Policy) OnPollResult(hadResults bool) {
	if !p.fair && !hadResults {
		p.Advance()
	}
}

// Advance moves to the next target, wrapping after the last.
func (p *Policy) Advance() {
	if p.index == uninitialized {
		p.index = 0
		return
	}
	p.index = (p.index + 1) % p.registry.Len()
}

// Current returns the selected target without moving. ok is false before
// the first selection.
func (p *Policy) Current() (KeyDirectory, bool) {
	if p.index == uninitialized {
		return KeyDirectory{}, false
	}
	return p.registry.At(p.index), true
}

// Index returns the position of the current target, or -1 before the first selection.
func (p *Policy) Index() int {
	return p.index
}
