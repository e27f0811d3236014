package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/leodido/kspoof"
	"github.com/leodido/kspoof/internal/appconfig"
	"github.com/spf13/cobra"
)

// Build metadata injected via ldflags.
// When built without ldflags these remain at their zero values and the
// version command omits them.
var (
	version = ""
	commit  = ""
	date    = ""
)

func main() {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

// app carries the global flags and the lazily opened engine.
type app struct {
	configPath string
	verbose    bool

	stdout io.Writer
	stderr io.Writer

	cfg    *appconfig.Config
	logger *slog.Logger
	engine *kspoof.Engine
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "kspoof",
		Short: "Configure and autostart the kernel spoofing capability layer",
		Long: `kspoof applies hiding and spoofing rules to the kernel capability layer,
remembers them, and can install a boot module that re-applies them on every boot.

Additions are applied live and saved only when they succeed. Removals are saved
and take effect after the next reboot.`,
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default $"+appconfig.EnvVar+" or built-in defaults)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log debug details to stderr")

	root.AddCommand(statusCmd(a))
	root.AddCommand(featuresCmd(a))
	root.AddCommand(pathCmd(a))
	root.AddCommand(umountCmd(a))
	root.AddCommand(statCmd(a))
	root.AddCommand(unameCmd(a))
	root.AddCommand(logCmd(a))
	root.AddCommand(rootPathCmd(a))
	root.AddCommand(postFsDataCmd(a))
	root.AddCommand(autostartCmd(a))
	root.AddCommand(backupCmd(a))
	root.AddCommand(resetCmd(a))
	root.AddCommand(renderCmd(a))
	root.AddCommand(versionCmd(a))
	return root
}

func (a *app) setup() error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	var err error
	if a.configPath != "" {
		a.cfg, err = appconfig.LoadFile(a.configPath)
	} else {
		a.cfg, err = appconfig.Load()
	}
	if err != nil {
		return err
	}
	if !kspoof.CanElevate(a.cfg.Shell.Prefix) {
		a.logger.Warn("not root and privileged shell not found", "prefix", strings.Join(a.cfg.Shell.Prefix, " "))
	}
	return nil
}

// open returns the engine, opening it on first use.
func (a *app) open() (*kspoof.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	e, err := kspoof.Open(kspoof.WithConfig(a.cfg), kspoof.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.engine = e
	return e, nil
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
}

// run opens the engine and reports the Results of fn.
func (a *app) run(c *cobra.Command, fn func(ctx context.Context, e *kspoof.Engine) []kspoof.Result) error {
	e, err := a.open()
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range fn(c.Context(), e) {
		if err := a.report(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) report(r kspoof.Result) error {
	if out := strings.TrimRight(r.Output, "\n"); out != "" && (a.verbose || !r.OK) {
		fmt.Fprintln(a.stderr, out)
	}
	if !r.OK {
		return errors.New(r.Message)
	}
	fmt.Fprintln(a.stdout, r.Message)
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show tool and capability layer version",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if version != "" {
				fmt.Fprintf(a.stdout, "kspoof %s", version)
				if commit != "" {
					fmt.Fprintf(a.stdout, " (%s)", commit)
				}
				if date != "" {
					fmt.Fprintf(a.stdout, " built %s", date)
				}
				fmt.Fprintln(a.stdout)
			} else {
				fmt.Fprintln(a.stdout, "kspoof (dev)")
			}

			e, err := a.open()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Capability layer: %s\n", e.Version(c.Context()))
			return nil
		},
	}
}

// parseSwitch accepts on/off next to the strconv.ParseBool spellings.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes", "enable":
		return true, nil
	case "off", "false", "0", "no", "disable":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
