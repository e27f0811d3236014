// Package shell runs command lines through a privileged shell and builds
// those lines from typed commands so argument quoting happens in one place.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// Output is the captured result of one shell invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the command exited with status 0.
func (o Output) OK() bool {
	return o.ExitCode == 0
}

// Combined returns stdout followed by stderr, trimmed.
func (o Output) Combined() string {
	out := strings.TrimSpace(o.Stdout)
	errOut := strings.TrimSpace(o.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	}
	return out + "\n" + errOut
}

// Executor runs a complete command line.
//
// A non-zero exit is reported through Output.ExitCode, not as an error;
// the error is reserved for failures to start or wait for the shell.
type Executor interface {
	Run(ctx context.Context, line string) (Output, error)
}

// Runner executes lines as "<prefix...> <line>", e.g. "su -c <line>".
type Runner struct {
	prefix []string
}

// NewRunner returns a Runner using prefix to reach the shell.
// An empty prefix defaults to "sh -c".
func NewRunner(prefix ...string) *Runner {
	if len(prefix) == 0 {
		prefix = []string{"sh", "-c"}
	}
	return &Runner{prefix: prefix}
}

// Prefix returns the argv the line is appended to.
func (r *Runner) Prefix() []string {
	return append([]string(nil), r.prefix...)
}

// Run executes line and captures its output.
func (r *Runner) Run(ctx context.Context, line string) (Output, error) {
	args := append(append([]string(nil), r.prefix[1:]...), line)

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.prefix[0], args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("running %s: %w", r.prefix[0], err)
	}
	return out, nil
}

// Command is a program or subcommand with unquoted arguments.
type Command struct {
	Name string
	Args []string
}

// Cmd builds a Command.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command with every argument single-quoted.
func (c Command) String() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, a := range c.Args {
		b.WriteByte(' ')
		b.WriteString(Quote(a))
	}
	return b.String()
}

// Quote single-quotes s for a POSIX shell. Unlike shellescape.Quote it
// quotes every value, so rendered lines have one stable shape.
func Quote(s string) string {
	q := shellescape.Quote(s)
	if strings.HasPrefix(q, "'") {
		return q
	}
	return "'" + q + "'"
}

// And joins commands with "&&".
func And(cmds ...Command) string {
	parts := make([]string, 0, len(cmds))
	for _, c := range cmds {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " && ")
}
