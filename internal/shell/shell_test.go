package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/foo", "'/foo'"},
		{"", "''"},
		{"/with space", "'/with space'"},
		{"it's", `'it'"'"'s'`},
		{"$(reboot)", "'$(reboot)'"},
		{"1", "'1'"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Quote(tt.in))
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "add_sus_path '/foo'", Cmd("add_sus_path", "/foo").String())
	assert.Equal(t, "show enabled_features", Cmd("show enabled_features").String())
	assert.Equal(t, "add_try_umount '/a b' '1'", Cmd("add_try_umount", "/a b", "1").String())
}

func TestAnd(t *testing.T) {
	got := And(Cmd("mkdir", "-p", "/x"), Cmd("chmod", "0755", "/x"))
	assert.Equal(t, "mkdir '-p' '/x' && chmod '0755' '/x'", got)
}

func TestOutputCombined(t *testing.T) {
	assert.Equal(t, "a\nb", Output{Stdout: "a\n", Stderr: "b\n"}.Combined())
	assert.Equal(t, "b", Output{Stderr: "b"}.Combined())
	assert.Equal(t, "a", Output{Stdout: "a"}.Combined())
	assert.True(t, Output{}.OK())
	assert.False(t, Output{ExitCode: 2}.OK())
}

func TestRunner(t *testing.T) {
	r := NewRunner()
	ctx := context.Background()

	out, err := r.Run(ctx, "echo hello; echo oops >&2")
	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "oops\n", out.Stderr)

	out, err = r.Run(ctx, "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)

	_, err = NewRunner("/nonexistent/shell", "-c").Run(ctx, "true")
	assert.Error(t, err)
}

func TestRunnerQuotedArgsSurviveShell(t *testing.T) {
	out, err := NewRunner().Run(context.Background(), Cmd("printf", "%s", "it's $(not run)").String())
	require.NoError(t, err)
	assert.Equal(t, "it's $(not run)", out.Stdout)
}
