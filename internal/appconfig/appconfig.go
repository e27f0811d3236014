// Package appconfig loads the kspoof configuration file.
//
// Configuration comes from a single YAML file named by the --config flag or
// the KSPOOF_CONFIG environment variable. Keys absent from the file keep
// their defaults, unknown keys are rejected, and ${VAR} references in paths
// are expanded.
package appconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/leodido/kspoof/internal/module"
	"github.com/leodido/kspoof/internal/provision"
	"github.com/leodido/kspoof/internal/script"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "KSPOOF_CONFIG"

// Config is the full application configuration.
type Config struct {
	Paths  PathsConfig  `yaml:"paths"`
	Binary BinaryConfig `yaml:"binary"`
	Shell  ShellConfig  `yaml:"shell"`
	Module ModuleConfig `yaml:"module"`
}

// PathsConfig locates everything kspoof reads or writes on the device.
type PathsConfig struct {
	// BinDir is where the capability binary is installed.
	BinDir string `yaml:"bin_dir"`
	// Assets holds the bundled "<base_name>_<version>" binaries.
	Assets string `yaml:"assets"`
	// ModuleRoot is the host's module directory.
	ModuleRoot string `yaml:"module_root"`
	// LogDir receives the boot script logs.
	LogDir string `yaml:"log_dir"`
	// KernelConfig is the gzip kernel configuration dump.
	KernelConfig string `yaml:"kernel_config"`
	// Database is the settings store.
	Database string `yaml:"database"`
	// Tmp stages files before privileged copies.
	Tmp string `yaml:"tmp"`
}

// BinaryConfig names and versions the capability binary.
type BinaryConfig struct {
	BaseName        string `yaml:"base_name"`
	FallbackVersion string `yaml:"fallback_version"`
	// VersionProbe is run through the shell to detect the running version.
	VersionProbe string `yaml:"version_probe"`
}

// ShellConfig selects how privileged lines are run.
type ShellConfig struct {
	// Prefix is the argv the command line is appended to, e.g. [su, -c].
	Prefix []string `yaml:"prefix"`
}

// ModuleConfig fills the autostart package metadata.
type ModuleConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	VersionCode int    `yaml:"version_code"`
	Author      string `yaml:"author"`
	Description string `yaml:"description"`
}

// Default returns the configuration of a stock rooted device.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			BinDir:       provision.DefaultBinDir,
			Assets:       "/data/adb/kspoof/assets",
			ModuleRoot:   module.DefaultRoot,
			LogDir:       script.DefaultLogDir,
			KernelConfig: "/proc/config.gz",
			Database:     "/data/adb/kspoof/settings.db",
			Tmp:          "/data/local/tmp",
		},
		Binary: BinaryConfig{
			BaseName:        provision.DefaultBaseName,
			FallbackVersion: provision.DefaultFallbackVersion,
			VersionProbe:    provision.DefaultVersionProbe,
		},
		Shell: ShellConfig{
			Prefix: []string{"su", "-c"},
		},
		Module: ModuleConfig{
			ID:          module.DefaultID,
			Name:        module.DefaultName,
			Version:     module.DefaultVersion,
			VersionCode: module.DefaultVersionCode,
			Author:      module.DefaultAuthor,
			Description: module.DefaultDescription,
		},
	}
}

// Load reads the file named by [EnvVar], or returns the defaults when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, expands variables, and validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) expandVariables() {
	for _, p := range c.paths() {
		*p.value = expandVars(*p.value)
	}
}

type pathField struct {
	key   string
	value *string
}

func (c *Config) paths() []pathField {
	return []pathField{
		{"paths.bin_dir", &c.Paths.BinDir},
		{"paths.assets", &c.Paths.Assets},
		{"paths.module_root", &c.Paths.ModuleRoot},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.kernel_config", &c.Paths.KernelConfig},
		{"paths.database", &c.Paths.Database},
		{"paths.tmp", &c.Paths.Tmp},
	}
}

var versionPattern = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	for _, p := range c.paths() {
		if *p.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", p.key))
		} else if !filepath.IsAbs(*p.value) {
			errs = append(errs, fmt.Errorf("%s must be absolute: %s", p.key, *p.value))
		}
	}
	if c.Binary.BaseName == "" {
		errs = append(errs, errors.New("binary.base_name is required"))
	}
	if !versionPattern.MatchString(c.Binary.FallbackVersion) {
		errs = append(errs, fmt.Errorf("binary.fallback_version must look like v1.2.3: %q", c.Binary.FallbackVersion))
	}
	if len(c.Shell.Prefix) == 0 || c.Shell.Prefix[0] == "" {
		errs = append(errs, errors.New("shell.prefix is required"))
	}
	if c.Module.ID == "" {
		errs = append(errs, errors.New("module.id is required"))
	}
	if c.Module.VersionCode < 1 {
		errs = append(errs, errors.New("module.version_code must be positive"))
	}
	return errors.Join(errs...)
}

// Provision returns the provisioner config.
func (c *Config) Provision() provision.Config {
	return provision.Config{
		BaseName:        c.Binary.BaseName,
		BinDir:          c.Paths.BinDir,
		TmpDir:          c.Paths.Tmp,
		FallbackVersion: c.Binary.FallbackVersion,
		VersionProbe:    c.Binary.VersionProbe,
	}
}

// ModulePackage returns the module manager config.
func (c *Config) ModulePackage() module.Config {
	return module.Config{
		Root:        c.Paths.ModuleRoot,
		ID:          c.Module.ID,
		Name:        c.Module.Name,
		Version:     c.Module.Version,
		VersionCode: c.Module.VersionCode,
		Author:      c.Module.Author,
		Description: c.Module.Description,
		LogDir:      c.Paths.LogDir,
		TmpDir:      c.Paths.Tmp,
	}
}
