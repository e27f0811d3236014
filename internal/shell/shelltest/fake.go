// Package shelltest provides a scripted [shell.Executor] for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/leodido/kspoof/internal/shell"
)

// Fake records every line and answers with Handler, or success when
// Handler is nil.
type Fake struct {
	Handler func(line string) (shell.Output, error)

	mu    sync.Mutex
	lines []string
}

// Run implements shell.Executor.
func (f *Fake) Run(_ context.Context, line string) (shell.Output, error) {
	f.mu.Lock()
	f.lines = append(f.lines, line)
	h := f.Handler
	f.mu.Unlock()

	if h == nil {
		return shell.Output{}, nil
	}
	return h(line)
}

// Lines returns a copy of the recorded lines.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// Count returns how many recorded lines contain substr.
func (f *Fake) Count(substr string) int {
	n := 0
	for _, l := range f.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// Reset forgets recorded lines.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = nil
}

// Exit returns an Output with the given code and stdout.
func Exit(code int, stdout string) shell.Output {
	return shell.Output{ExitCode: code, Stdout: stdout}
}
