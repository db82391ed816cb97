package diag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(ExpansionFailed, "cargo expand exited with status %d", 101)
	assert.Equal(t, "EXPANSION_FAILED: cargo expand exited with status 101", err.Error())

	wrapped := Wrap(CleanupFailed, "removing artifact", errors.New("permission denied"))
	assert.Equal(t, "CLEANUP_FAILED: removing artifact: permission denied", wrapped.Error())
}

func TestCodeOf_WrappedChain(t *testing.T) {
	base := &Error{Code: CompileFailed, Message: "rustc failed", Diagnostics: "error[E0425]"}
	err := fmt.Errorf("compiling: %w", base)

	assert.Equal(t, CompileFailed, CodeOf(err))
	assert.True(t, Is(err, CompileFailed))
	assert.False(t, Is(err, ExpansionFailed))
	assert.Equal(t, "error[E0425]", DiagnosticsOf(err))
}

func TestCodeOf_Unclassified(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.False(t, Is(nil, CompileFailed))
	assert.Empty(t, DiagnosticsOf(errors.New("plain")))
}

func TestCode_Fatal(t *testing.T) {
	tests := []struct {
		code  Code
		fatal bool
	}{
		{ExpansionFailed, false},
		{EncodingLoss, true},
		{ConfigurationError, true},
		{CompileFailed, false},
		{CleanupFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.fatal, tt.code.Fatal())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ExpansionFailed, "running cargo", cause)
	assert.ErrorIs(t, err, cause)
}
