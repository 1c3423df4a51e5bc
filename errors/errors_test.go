package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(ErrRemoteFileNotFound, "sftp-source", "fetch", "open remote file")
	require.Error(t, err)
	assert.Equal(t, "sftp-source.fetch: open remote file failed: remote file not found", err.Error())
	assert.True(t, errors.Is(err, ErrRemoteFileNotFound))

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"empty rotation", fmt.Errorf("startup: %w", ErrEmptyRotation), ErrorInvalid},
		{"invalid config", ErrInvalidConfig, ErrorInvalid},
		{"missing header", ErrMissingHeader, ErrorInvalid},
		{"unparsable payload", fmt.Errorf("task properties: %w", ErrParsingFailed), ErrorInvalid},
		{"store down", ErrStorageUnavailable, ErrorTransient},
		{"connection timeout", ErrConnectionTimeout, ErrorTransient},
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"ssh eof", fmt.Errorf("ssh: unexpected EOF"), ErrorTransient},
		{"disk full", ErrStorageFull, ErrorFatal},
		{"wrapped fatal", WrapFatal(fmt.Errorf("boom"), "c", "m", "a"), ErrorFatal},
		{"wrapped invalid", WrapInvalid(ErrConnectionLost, "c", "m", "a"), ErrorInvalid},
		{"unknown", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestClassifiedError_Unwrap(t *testing.T) {
	err := WrapTransient(ErrConnectionTimeout, "natsclient", "Publish", "publish message")

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "natsclient", ce.Component)
	assert.Equal(t, "Publish", ce.Operation)
	assert.True(t, errors.Is(err, ErrConnectionTimeout))
	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalid(err))
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig().ToRetryConfig()
	assert.Equal(t, 4, rc.MaxAttempts)
	assert.True(t, rc.AddJitter)
	require.NotNil(t, rc.RetryIf)
	assert.True(t, rc.RetryIf(ErrConnectionLost))
	assert.False(t, rc.RetryIf(ErrInvalidConfig))
}
