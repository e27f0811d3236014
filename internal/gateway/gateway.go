// Package gateway runs capability-binary subcommands through the privileged
// shell, provisioning the binary on demand.
package gateway

import (
	"context"
	"io"
	"log/slog"

	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/shell"
)

// Resolver returns the installed path of the capability binary.
type Resolver interface {
	Resolve(ctx context.Context, version string) (string, error)
}

// VersionFunc names the capability-layer version the binary must match.
type VersionFunc func(ctx context.Context) string

// Gateway composes the binary path with typed subcommands.
type Gateway struct {
	resolver Resolver
	exec     shell.Executor
	version  VersionFunc
	logger   *slog.Logger
}

// New returns a Gateway. A nil version func resolves the fallback version.
func New(resolver Resolver, exec shell.Executor, version VersionFunc, logger *slog.Logger) *Gateway {
	if version == nil {
		version = func(context.Context) string { return "" }
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{resolver: resolver, exec: exec, version: version, logger: logger}
}

// BinaryPath resolves (and if needed installs) the capability binary.
func (g *Gateway) BinaryPath(ctx context.Context) (string, error) {
	path, err := g.resolver.Resolve(ctx, g.version(ctx))
	if err != nil {
		if fault.KindOf(err) == fault.Unknown {
			err = fault.New(fault.BinaryUnavailable, "resolve", err)
		}
		return "", err
	}
	return path, nil
}

// Run executes "<binary> <cmd>" and returns the combined output.
//
// A binary that cannot be provisioned yields a BinaryUnavailable error and
// nothing is executed. A non-zero exit yields a CommandFailed error whose
// Detail holds the combined output.
func (g *Gateway) Run(ctx context.Context, cmd shell.Command) (string, error) {
	path, err := g.BinaryPath(ctx)
	if err != nil {
		return "", err
	}

	line := shell.Quote(path) + " " + cmd.String()
	out, err := g.exec.Run(ctx, line)
	if err != nil {
		return "", fault.New(fault.CommandFailed, cmd.Name, err)
	}

	combined := out.Combined()
	if !out.OK() {
		g.logger.Warn("capability command failed", "command", cmd.Name, "exit", out.ExitCode)
		return combined, &fault.Error{Kind: fault.CommandFailed, Op: cmd.Name, Detail: combined}
	}
	g.logger.Debug("capability command applied", "command", cmd.Name)
	return combined, nil
}
