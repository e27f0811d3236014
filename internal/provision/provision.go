// Package provision installs the version-qualified capability binary from the
// bundled asset set into its privileged location, exactly once per version.
package provision

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/shell"
)

// Defaults for [Config] fields left empty.
const (
	DefaultBaseName        = "ksu_susfs"
	DefaultBinDir          = "/data/adb/ksu/bin"
	DefaultFallbackVersion = "v1.5.5"
	DefaultVersionProbe    = "ksu_susfs show version"
)

var versionPattern = regexp.MustCompile(`v\d+\.\d+\.\d+`)

// Config locates the assets and the privileged install directory.
type Config struct {
	// BaseName is the asset name prefix; assets are "<BaseName>_<version>".
	BaseName string
	// BinDir is the privileged install directory.
	BinDir string
	// TmpDir stages assets before the privileged copy. Empty means os.TempDir.
	TmpDir string
	// FallbackVersion is used when detection fails.
	FallbackVersion string
	// VersionProbe is the shell line whose output names the running
	// capability-layer version.
	VersionProbe string
}

func (c *Config) setDefaults() {
	if c.BaseName == "" {
		c.BaseName = DefaultBaseName
	}
	if c.BinDir == "" {
		c.BinDir = DefaultBinDir
	}
	if c.FallbackVersion == "" {
		c.FallbackVersion = DefaultFallbackVersion
	}
	if c.VersionProbe == "" {
		c.VersionProbe = DefaultVersionProbe
	}
}

// Provisioner resolves and installs capability binaries.
type Provisioner struct {
	exec   shell.Executor
	assets fs.FS
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
}

// New returns a Provisioner reading assets from the given filesystem.
func New(exec shell.Executor, assets fs.FS, cfg Config, logger *slog.Logger) *Provisioner {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provisioner{exec: exec, assets: assets, cfg: cfg, logger: logger}
}

// Name returns the version-qualified executable name.
func (p *Provisioner) Name(version string) string {
	return p.cfg.BaseName + "_" + p.version(version)
}

// Path returns the privileged install path for version.
func (p *Provisioner) Path(version string) string {
	return filepath.Join(p.cfg.BinDir, p.Name(version))
}

// FallbackVersion returns the known-good version used when detection fails.
func (p *Provisioner) FallbackVersion() string {
	return p.cfg.FallbackVersion
}

func (p *Provisioner) version(v string) string {
	if v == "" {
		return p.cfg.FallbackVersion
	}
	return v
}

// Resolve returns the installed path of the binary for version, installing
// it first if it is not present. The staged temporary copy is removed on
// every path.
func (p *Provisioner) Resolve(ctx context.Context, version string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := p.Name(version)
	target := p.Path(version)

	present, err := p.test(ctx, "-f", target)
	if err != nil {
		return "", fault.New(fault.BinaryUnavailable, "provision", err)
	}
	if present {
		return target, nil
	}

	src, err := p.assets.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fault.Newf(fault.BinaryUnavailable, "provision", "no bundled asset %s", name)
		}
		return "", fault.New(fault.BinaryUnavailable, "provision", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(p.cfg.TmpDir, name+"-*")
	if err != nil {
		return "", fault.New(fault.IOFailure, "provision", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", fault.New(fault.IOFailure, "provision", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fault.New(fault.IOFailure, "provision", err)
	}

	install := shell.And(
		shell.Cmd("mkdir", "-p", p.cfg.BinDir),
		shell.Cmd("cp", "-f", tmp.Name(), target),
		shell.Cmd("chmod", "0755", target),
	)
	out, err := p.exec.Run(ctx, install)
	if err != nil {
		return "", fault.New(fault.BinaryUnavailable, "provision", err)
	}
	if !out.OK() {
		return "", &fault.Error{Kind: fault.BinaryUnavailable, Op: "provision", Detail: out.Combined()}
	}

	ok, err := p.test(ctx, "-x", target)
	if err != nil {
		return "", fault.New(fault.BinaryUnavailable, "provision", err)
	}
	if !ok {
		return "", fault.Newf(fault.BinaryUnavailable, "provision", "%s missing after install", target)
	}

	p.logger.Info("installed capability binary", "path", target)
	return target, nil
}

// Installed reports whether the binary for version is already in place.
func (p *Provisioner) Installed(ctx context.Context, version string) bool {
	ok, err := p.test(ctx, "-x", p.Path(version))
	return err == nil && ok
}

// DetectVersion asks the running capability layer for its version. It
// returns the fallback version when the probe fails or names a version
// with no bundled asset.
func (p *Provisioner) DetectVersion(ctx context.Context) string {
	v, _ := p.Detect(ctx)
	return v
}

// Detect is DetectVersion that also reports whether the probe ran and
// produced a version. A false result may change on the next call.
func (p *Provisioner) Detect(ctx context.Context) (string, bool) {
	out, err := p.exec.Run(ctx, p.cfg.VersionProbe)
	if err != nil || !out.OK() {
		p.logger.Debug("version probe failed, using fallback", "fallback", p.cfg.FallbackVersion, "error", err)
		return p.cfg.FallbackVersion, false
	}
	v := versionPattern.FindString(out.Stdout)
	if v == "" {
		p.logger.Debug("version probe output unrecognized, using fallback", "output", out.Combined())
		return p.cfg.FallbackVersion, false
	}
	if _, err := fs.Stat(p.assets, p.cfg.BaseName+"_"+v); err != nil {
		p.logger.Warn("no bundled binary for detected version, using fallback", "detected", v, "fallback", p.cfg.FallbackVersion)
		return p.cfg.FallbackVersion, true
	}
	return v, true
}

func (p *Provisioner) test(ctx context.Context, flag, path string) (bool, error) {
	out, err := p.exec.Run(ctx, shell.Cmd("test", flag, path).String())
	if err != nil {
		return false, err
	}
	return out.OK(), nil
}
