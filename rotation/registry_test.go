package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/errors"
)

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry([]string{"one.sftpSource", "two.sftpSecondSource", "one.other"})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, KeyDirectory{Key: "two", Directory: "sftpSecondSource"}, r.At(1))
	assert.Equal(t, []string{"one", "two"}, r.Keys())
	assert.Equal(t, "one.other", r.At(2).String())

	entries := r.Entries()
	entries[0].Key = "changed"
	assert.Equal(t, "one", r.At(0).Key, "Entries returns a copy")
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		target  error
		mention string
	}{
		{"empty", nil, errors.ErrEmptyRotation, ""},
		{"no separator", []string{"one.sftpSource", "two.sftpSecondSource", "junk"}, errors.ErrInvalidConfig, `"junk"`},
		{"too many parts", []string{"a.b.c"}, errors.ErrInvalidConfig, `"a.b.c"`},
		{"empty key", []string{".dir"}, errors.ErrInvalidConfig, `".dir"`},
		{"empty directory", []string{"key."}, errors.ErrInvalidConfig, `"key."`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.entries)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.mention)
		})
	}
}
