package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: IOFailure}, "i/o failure"},
		{"with op", &Error{Kind: CommandFailed, Op: "add_sus_path"}, "add_sus_path: command failed"},
		{"with detail", Newf(PreconditionUnmet, "autostart", "nothing to autostart"), "autostart: precondition unmet: nothing to autostart"},
		{"with wrapped", New(BinaryUnavailable, "provision", errors.New("no asset")), "provision: binary unavailable: no asset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := New(ValidationFailed, "backup", nil)
	wrapped := fmt.Errorf("import: %w", inner)

	assert.Equal(t, ValidationFailed, KindOf(wrapped))
	assert.True(t, Is(wrapped, ValidationFailed))
	assert.False(t, Is(wrapped, IOFailure))
	assert.False(t, Is(nil, Unknown))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))

	var fe *Error
	require.ErrorAs(t, wrapped, &fe)
	assert.Equal(t, "backup", fe.Op)
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("disk full")
	err := New(IOFailure, "store", sentinel)
	assert.ErrorIs(t, err, sentinel)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "binary unavailable", BinaryUnavailable.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
