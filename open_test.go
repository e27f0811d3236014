package kspoof_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/leodido/kspoof"
)

// recorder is an Executor defined outside the module that records every
// line before running it through a real shell.
type recorder struct {
	next  kspoof.Executor
	lines []string
}

func (r *recorder) Run(ctx context.Context, line string) (kspoof.ShellOutput, error) {
	r.lines = append(r.lines, line)
	return r.next.Run(ctx, line)
}

var binaryAssets = fstest.MapFS{
	"ksu_susfs_v1.5.5": &fstest.MapFile{Data: []byte("#!/bin/sh\nexit 0\n"), Mode: 0o755},
}

func writeConfig(t *testing.T) (path, root string) {
	t.Helper()
	root = t.TempDir()
	cfg := fmt.Sprintf(`paths:
  bin_dir: %[1]s/bin
  assets: %[1]s/assets
  module_root: %[1]s/modules
  log_dir: %[1]s/logs
  kernel_config: %[1]s/config.gz
  database: %[1]s/db/settings.db
  tmp: %[1]s
binary:
  version_probe: "false"
shell:
  prefix: [sh, -c]
`, root)
	path = filepath.Join(root, "kspoof.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, root
}

func TestOpen_WithExportedConfigAndExecutor(t *testing.T) {
	path, _ := writeConfig(t)
	cfg, err := kspoof.LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile() error = %v", err)
	}

	rec := &recorder{next: kspoof.NewShellRunner(cfg.Shell.Prefix...)}
	e, err := kspoof.Open(kspoof.WithConfig(cfg), kspoof.WithExecutor(rec), kspoof.WithAssets(binaryAssets))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	if r := e.AddSusPath(ctx, "/foo"); !r.OK {
		t.Fatalf("AddSusPath() = %q, want OK", r.Message)
	}
	s, err := e.Settings(ctx)
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if len(s.SusPaths) != 1 || s.SusPaths[0] != "/foo" {
		t.Errorf("SusPaths = %v, want [/foo]", s.SusPaths)
	}

	var applied bool
	for _, l := range rec.lines {
		if strings.Contains(l, "add_sus_path") {
			applied = true
		}
	}
	if !applied {
		t.Errorf("executor never saw add_sus_path, lines = %q", rec.lines)
	}
}

func TestOpen_ReadsConfigFromEnvironment(t *testing.T) {
	path, root := writeConfig(t)
	t.Setenv(kspoof.ConfigEnvVar, path)

	e, err := kspoof.Open(kspoof.WithAssets(binaryAssets))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer e.Close()

	if _, err := os.Stat(filepath.Join(root, "db", "settings.db")); err != nil {
		t.Errorf("settings store not created under the configured root: %v", err)
	}
}

func TestOpen_BadConfigFromEnvironment(t *testing.T) {
	t.Setenv(kspoof.ConfigEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := kspoof.Open()
	if err == nil {
		t.Fatal("Open() with a missing config file expected error")
	}
	if got := kspoof.KindOf(err); got != kspoof.ValidationFailed {
		t.Errorf("KindOf(err) = %v, want %v", got, kspoof.ValidationFailed)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := kspoof.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if cfg.Shell.Prefix[0] != "su" {
		t.Errorf("default shell prefix = %v, want su -c", cfg.Shell.Prefix)
	}
}
