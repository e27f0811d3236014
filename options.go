package kspoof

import (
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/leodido/kspoof/internal/appconfig"
	"github.com/leodido/kspoof/internal/shell"
)

// engineConfig holds the configuration for an Engine.
type engineConfig struct {
	app    *appconfig.Config
	exec   shell.Executor
	assets fs.FS
	logger *slog.Logger
	now    func() time.Time
	device func() string
}

// Option configures an [Engine].
type Option func(*engineConfig)

// WithConfig sets the application configuration. Without it, [Open] loads
// the file named by [ConfigEnvVar], or uses [DefaultConfig].
func WithConfig(cfg *Config) Option {
	return func(c *engineConfig) {
		c.app = cfg
	}
}

// WithExecutor sets the privileged shell. The default runs lines through
// the configured shell prefix.
func WithExecutor(exec Executor) Option {
	return func(c *engineConfig) {
		c.exec = exec
	}
}

// WithAssets sets the bundled capability binaries. The default reads the
// configured assets directory.
func WithAssets(assets fs.FS) Option {
	return func(c *engineConfig) {
		c.assets = assets
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithClock sets the time source used to stamp backups.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		c.now = now
	}
}

// WithDevice sets the device descriptor written into backups.
func WithDevice(device func() string) Option {
	return func(c *engineConfig) {
		c.device = device
	}
}

func newEngineConfig(opts []Option) (*engineConfig, error) {
	c := &engineConfig{}
	for _, o := range opts {
		o(c)
	}
	if c.app == nil {
		cfg, err := appconfig.Load()
		if err != nil {
			return nil, err
		}
		c.app = cfg
	}
	if c.exec == nil {
		c.exec = shell.NewRunner(c.app.Shell.Prefix...)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}
