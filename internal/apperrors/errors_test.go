package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsupportedCipherError(t *testing.T) {
	err := NewUnsupportedCipherError("rc4-md5")
	assert.Equal(t, "rc4-md5", err.Cipher)
	assert.ErrorIs(t, err, ErrUnsupportedCipher)

	assert.Equal(t, "unknown", NewUnsupportedCipherError("").Cipher)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind error
		plugin   bool
	}{
		{
			name:     "Server unreachable",
			err:      &NativeError{Code: ServerUnreachable},
			wantKind: ErrServerUnreachable,
			plugin:   true,
		},
		{
			name:     "Wrapped credentials error",
			err:      fmt.Errorf("start: %w", &NativeError{Code: InvalidServerCredentials, Message: "bad password"}),
			wantKind: ErrInvalidServerCredentials,
			plugin:   true,
		},
		{
			name:     "Illegal configuration shares the repository sentinel",
			err:      &NativeError{Code: IllegalServerConfiguration},
			wantKind: ErrIllegalServerConfiguration,
			plugin:   true,
		},
		{
			name:     "Unknown code falls back to unexpected",
			err:      &NativeError{Code: ErrorCode(99)},
			wantKind: ErrUnexpected,
			plugin:   true,
		},
		{
			name: "Plain error passes through",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(tt.err)
			var pe *PluginError
			if !tt.plugin {
				assert.False(t, errors.As(got, &pe))
				assert.Same(t, tt.err, got)
				return
			}
			require.ErrorAs(t, got, &pe)
			assert.ErrorIs(t, got, tt.wantKind)
		})
	}

	assert.NoError(t, Translate(nil))
}

func TestRegularNativeError(t *testing.T) {
	cause := errors.New("stop failed")
	err := &RegularNativeError{Err: cause}
	assert.ErrorIs(t, err, ErrRegularNative)
	assert.ErrorIs(t, err, cause)
}

func TestErrorCodeString(t *testing.T) {
	assert.Equal(t, "server unreachable", ServerUnreachable.String())
	assert.Equal(t, "no error", NoError.String())
	assert.Equal(t, "error code 42", ErrorCode(42).String())
}
