package kspoof

import (
	"github.com/leodido/kspoof/internal/appconfig"
	"github.com/leodido/kspoof/internal/shell"
)

// ConfigEnvVar names the environment variable [Open] and [LoadConfig] read
// the config file path from.
const ConfigEnvVar = appconfig.EnvVar

// Config is the application configuration accepted by [WithConfig].
type Config = appconfig.Config

// Sections of [Config].
type (
	PathsConfig  = appconfig.PathsConfig
	BinaryConfig = appconfig.BinaryConfig
	ShellConfig  = appconfig.ShellConfig
	ModuleConfig = appconfig.ModuleConfig
)

// DefaultConfig returns the configuration of a stock rooted device.
func DefaultConfig() *Config {
	return appconfig.Default()
}

// LoadConfig reads the file named by [ConfigEnvVar], or returns the
// defaults when the variable is unset.
func LoadConfig() (*Config, error) {
	return appconfig.Load()
}

// LoadConfigFile reads a YAML config file over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	return appconfig.LoadFile(path)
}

// Executor runs one privileged command line. Implementations report a
// non-zero exit through ShellOutput.ExitCode and reserve the error for
// failures to reach the shell.
type Executor = shell.Executor

// ShellOutput is the captured result of one [Executor] call.
type ShellOutput = shell.Output

// NewShellRunner returns the default [Executor], running lines as
// "<prefix...> <line>". An empty prefix means "sh -c".
func NewShellRunner(prefix ...string) Executor {
	return shell.NewRunner(prefix...)
}
