package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/errors"
)

func newRegistry(t *testing.T, entries ...string) *Registry {
	t.Helper()
	r, err := NewRegistry(entries)
	require.NoError(t, err)
	return r
}

func TestNewPolicy_EmptyRegistry(t *testing.T) {
	_, err := NewPolicy(nil, true)
	assert.ErrorIs(t, err, errors.ErrEmptyRotation)
	_, err = NewPolicy(&Registry{}, false)
	assert.True(t, errors.IsInvalid(err))
}

func TestPolicy_AdvanceCycles(t *testing.T) {
	for n := 1; n <= 5; n++ {
		entries := make([]string, n)
		for i := range entries {
			entries[i] = string(rune('a'+i)) + ".dir"
		}
		p, err := NewPolicy(newRegistry(t, entries...), false)
		require.NoError(t, err)

		p.CurrentTarget()
		start := p.Index()
		for i := 0; i < n; i++ {
			p.Advance()
		}
		assert.Equal(t, start, p.Index(), "size %d", n)
	}
}

func TestPolicy_FairAlternates(t *testing.T) {
	p, err := NewPolicy(newRegistry(t, "one./dirA", "two./dirB"), true)
	require.NoError(t, err)

	results := []bool{true, false, true, true}
	var got []string
	for _, had := range results {
		got = append(got, p.CurrentTarget().Key)
		p.OnPollResult(had)
	}
	assert.Equal(t, []string{"one", "two", "one", "two"}, got)
}

func TestPolicy_FairWindowCoversAll(t *testing.T) {
	r := newRegistry(t, "a.1", "b.2", "c.3")
	p, err := NewPolicy(r, true)
	require.NoError(t, err)

	// skip into the middle so windows do not start at index 0
	p.CurrentTarget()
	p.OnPollResult(true)

	for window := 0; window < 4; window++ {
		seen := map[string]int{}
		for i := 0; i < r.Len(); i++ {
			seen[p.CurrentTarget().Key]++
			p.OnPollResult(i%2 == 0)
		}
		assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
	}
}

func TestPolicy_ExhaustiveSticks(t *testing.T) {
	p, err := NewPolicy(newRegistry(t, "one./dirA", "two./dirB"), false)
	require.NoError(t, err)

	assert.Equal(t, "one", p.CurrentTarget().Key)
	p.OnPollResult(true)
	assert.Equal(t, "one", p.CurrentTarget().Key)
	p.OnPollResult(false)
	assert.Equal(t, "two", p.CurrentTarget().Key)
	p.OnPollResult(false)
	assert.Equal(t, "one", p.CurrentTarget().Key, "wraps after the last entry")
}

func TestPolicy_ExhaustiveStaysForKProductivePolls(t *testing.T) {
	p, err := NewPolicy(newRegistry(t, "a.1", "b.2", "c.3"), false)
	require.NoError(t, err)

	const k = 7
	first := p.CurrentTarget()
	for i := 0; i < k; i++ {
		p.OnPollResult(true)
		assert.Equal(t, first, p.CurrentTarget())
	}
	p.OnPollResult(false)
	assert.Equal(t, "b", p.CurrentTarget().Key)
}

func TestPolicy_Current(t *testing.T) {
	p, err := NewPolicy(newRegistry(t, "a.1", "b.2"), true)
	require.NoError(t, err)

	_, ok := p.Current()
	assert.False(t, ok)
	assert.Equal(t, -1, p.Index())

	p.CurrentTarget()
	cur, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, "a", cur.Key)
	cur, _ = p.Current()
	assert.Equal(t, "a", cur.Key, "Current does not move")
}
