// Package module writes and removes the autostart module package: a
// metadata file plus one script per boot stage under the host's module root.
//
// Files are staged in an unprivileged temporary directory and moved into
// place with a single privileged shell line, then verified.
package module

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/script"
	"github.com/leodido/kspoof/internal/settings"
	"github.com/leodido/kspoof/internal/shell"
)

// PropFile is the metadata file name the host module loader reads.
const PropFile = "module.prop"

// Defaults for [Config] fields left empty.
const (
	DefaultRoot        = "/data/adb/modules"
	DefaultID          = "kspoof_autostart"
	DefaultName        = "KSpoof Autostart"
	DefaultVersion     = "v1.0.0"
	DefaultVersionCode = 1
	DefaultAuthor      = "kspoof"
	DefaultDescription = "Reapplies the kspoof capability-layer configuration at boot."
)

// Config locates the package and fills its metadata.
type Config struct {
	Root        string
	ID          string
	Name        string
	Version     string
	VersionCode int
	Author      string
	Description string
	// LogDir is where the rendered scripts log.
	LogDir string
	// TmpDir stages files before the privileged copy. Empty means os.TempDir.
	TmpDir string
}

func (c *Config) setDefaults() {
	if c.Root == "" {
		c.Root = DefaultRoot
	}
	if c.ID == "" {
		c.ID = DefaultID
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.VersionCode == 0 {
		c.VersionCode = DefaultVersionCode
	}
	if c.Author == "" {
		c.Author = DefaultAuthor
	}
	if c.Description == "" {
		c.Description = DefaultDescription
	}
	if c.LogDir == "" {
		c.LogDir = script.DefaultLogDir
	}
}

// Binary resolves (and installs if needed) the capability binary the
// scripts invoke.
type Binary interface {
	BinaryPath(ctx context.Context) (string, error)
}

// Manager creates and removes the package.
type Manager struct {
	exec   shell.Executor
	binary Binary
	cfg    Config
	logger *slog.Logger
}

// New returns a Manager.
func New(exec shell.Executor, binary Binary, cfg Config, logger *slog.Logger) *Manager {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{exec: exec, binary: binary, cfg: cfg, logger: logger}
}

// Dir returns the package directory.
func (m *Manager) Dir() string {
	return filepath.Join(m.cfg.Root, m.cfg.ID)
}

// HasConfigurationForAutoStart reports whether there is anything for the
// boot scripts to apply: a customized record or any enabled feature.
func HasConfigurationForAutoStart(s settings.Settings, featureEnabled bool) bool {
	return featureEnabled || s.IsCustomized()
}

// Enable writes the full package for s, replacing any previous one.
//
// It fails with PreconditionUnmet, touching nothing, when
// [HasConfigurationForAutoStart] is false.
func (m *Manager) Enable(ctx context.Context, s settings.Settings, featureEnabled bool) error {
	if !HasConfigurationForAutoStart(s, featureEnabled) {
		return fault.Newf(fault.PreconditionUnmet, "enable autostart", "nothing to autostart")
	}

	bin, err := m.binary.BinaryPath(ctx)
	if err != nil {
		return err
	}
	scripts, err := script.New(script.Config{Binary: bin, LogDir: m.cfg.LogDir}).RenderAll(s)
	if err != nil {
		return fault.New(fault.IOFailure, "enable autostart", err)
	}

	staging, err := os.MkdirTemp(m.cfg.TmpDir, m.cfg.ID+"-*")
	if err != nil {
		return fault.New(fault.IOFailure, "enable autostart", err)
	}
	defer os.RemoveAll(staging)

	files := []string{filepath.Join(staging, PropFile)}
	if err := os.WriteFile(files[0], []byte(m.prop()), 0o644); err != nil {
		return fault.New(fault.IOFailure, "enable autostart", err)
	}
	var targets []string
	for _, stage := range script.Stages() {
		f := filepath.Join(staging, stage.FileName())
		if err := os.WriteFile(f, []byte(scripts[stage]), 0o755); err != nil {
			return fault.New(fault.IOFailure, "enable autostart", err)
		}
		files = append(files, f)
		targets = append(targets, filepath.Join(m.Dir(), stage.FileName()))
	}

	dir := m.Dir()
	install := shell.And(
		shell.Cmd("rm", "-rf", dir),
		shell.Cmd("mkdir", "-p", dir),
		shell.Cmd("cp", append(append([]string{"-f"}, files...), dir+"/")...),
		shell.Cmd("chmod", append([]string{"0755"}, targets...)...),
	)
	out, err := m.exec.Run(ctx, install)
	if err != nil {
		return fault.New(fault.IOFailure, "enable autostart", err)
	}
	if !out.OK() {
		return &fault.Error{Kind: fault.IOFailure, Op: "enable autostart", Detail: out.Combined()}
	}

	verify := []shell.Command{shell.Cmd("test", "-f", filepath.Join(dir, PropFile))}
	for _, t := range targets {
		verify = append(verify, shell.Cmd("test", "-x", t))
	}
	out, err = m.exec.Run(ctx, shell.And(verify...))
	if err != nil {
		return fault.New(fault.IOFailure, "enable autostart", err)
	}
	if !out.OK() {
		return fault.Newf(fault.IOFailure, "enable autostart", "package incomplete in %s", dir)
	}

	m.logger.Info("autostart package written", "dir", dir)
	return nil
}

// Disable removes the package directory recursively.
func (m *Manager) Disable(ctx context.Context) error {
	dir := m.Dir()
	out, err := m.exec.Run(ctx, shell.Cmd("rm", "-rf", dir).String())
	if err != nil {
		return fault.New(fault.IOFailure, "disable autostart", err)
	}
	if !out.OK() {
		return &fault.Error{Kind: fault.IOFailure, Op: "disable autostart", Detail: out.Combined()}
	}
	if m.Exists(ctx) {
		return fault.Newf(fault.IOFailure, "disable autostart", "%s still present", dir)
	}
	m.logger.Info("autostart package removed", "dir", dir)
	return nil
}

// Exists reports whether the package directory is present.
func (m *Manager) Exists(ctx context.Context) bool {
	out, err := m.exec.Run(ctx, shell.Cmd("test", "-d", m.Dir()).String())
	return err == nil && out.OK()
}

func (m *Manager) prop() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id=%s\n", m.cfg.ID)
	fmt.Fprintf(&b, "name=%s\n", m.cfg.Name)
	fmt.Fprintf(&b, "version=%s\n", m.cfg.Version)
	fmt.Fprintf(&b, "versionCode=%d\n", m.cfg.VersionCode)
	fmt.Fprintf(&b, "author=%s\n", m.cfg.Author)
	fmt.Fprintf(&b, "description=%s\n", m.cfg.Description)
	return b.String()
}
