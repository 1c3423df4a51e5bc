// Package rotation selects which remote server and directory a multi-source
// poller reads on each cycle.
//
// A Registry holds the configured key/directory pairs, a Policy decides which
// one is current (fair or exhaustive), a Binding records the key of the
// in-flight cycle and an Orchestrator sequences the three for a poll loop:
//
//	target, _ := orch.BeforeTick()
//	files, err := list(target)          // transport call routed by target.Key
//	if err != nil { orch.AbortTick(err); return }
//	orch.AfterTick(msgs)                // attach server headers
//	publish(msgs)
//	orch.FinalizeTick(len(msgs) > 0)
//
// None of the types except Registry are safe for concurrent use; each poller
// owns its own Policy, Binding and Orchestrator.
package rotation

import (
	"fmt"
	"strings"

	"github.com/c360/sftpstreams/errors"
)

// KeyDirectory is one rotation target: a server key and a remote directory on it.
type KeyDirectory struct {
	Key       string
	Directory string
}

func (kd KeyDirectory) String() string {
	return kd.Key + "." + kd.Directory
}

// Registry is the ordered, immutable list of rotation targets.
type Registry struct {
	entries []KeyDirectory
}

// NewRegistry parses "key.directory" entries. Each entry must split on '.'
// into exactly two non-empty parts.
func NewRegistry(directories []string) (*Registry, error) {
	if len(directories) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("directories must contain at least one entry: %w", errors.ErrEmptyRotation),
			"Registry", "New", "validate directories")
	}
	entries := make([]KeyDirectory, 0, len(directories))
	for i, raw := range directories {
		parts := strings.Split(raw, ".")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("directories[%d] %q must be in the form key.directory: %w", i, raw, errors.ErrInvalidConfig),
				"Registry", "New", "parse entry")
		}
		entries = append(entries, KeyDirectory{Key: parts[0], Directory: parts[1]})
	}
	return &Registry{entries: entries}, nil
}

// Len returns the number of targets.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// At returns the i-th target. It panics when i is out of range.
func (r *Registry) At(i int) KeyDirectory {
	return r.entries[i]
}

// Entries returns a copy of the targets in configuration order.
func (r *Registry) Entries() []KeyDirectory {
	out := make([]KeyDirectory, len(r.entries))
	copy(out, r.entries)
	return out
}

// Keys returns the distinct server keys in first-seen order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]bool, len(r.entries))
	var keys []string
	for _, e := range r.entries {
		if !seen[e.Key] {
			seen[e.Key] = true
			keys = append(keys, e.Key)
		}
	}
	return keys
}
