package appconfig

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kspoof.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.Paths.KernelConfig != "/proc/config.gz" {
		t.Errorf("expected kernel_config=/proc/config.gz, got %s", cfg.Paths.KernelConfig)
	}
	if !slices.Equal(cfg.Shell.Prefix, []string{"su", "-c"}) {
		t.Errorf("expected prefix=[su -c], got %v", cfg.Shell.Prefix)
	}
	if cfg.Module.ID != "kspoof_autostart" {
		t.Errorf("expected module id=kspoof_autostart, got %s", cfg.Module.ID)
	}
}

func TestLoad_WithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.Database != Default().Paths.Database {
		t.Errorf("expected default database, got %s", cfg.Paths.Database)
	}
}

func TestLoad_WithEnv(t *testing.T) {
	path := writeConfig(t, `
paths:
  module_root: /data/adb/ksu/modules
shell:
  prefix: [sh, -c]
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.ModuleRoot != "/data/adb/ksu/modules" {
		t.Errorf("expected module_root override, got %s", cfg.Paths.ModuleRoot)
	}
	if !slices.Equal(cfg.Shell.Prefix, []string{"sh", "-c"}) {
		t.Errorf("expected prefix=[sh -c], got %v", cfg.Shell.Prefix)
	}
	if cfg.Paths.BinDir != "/data/adb/ksu/bin" {
		t.Errorf("absent keys must keep defaults, got bin_dir=%s", cfg.Paths.BinDir)
	}
}

func TestLoadFile_Empty(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Binary.FallbackVersion != "v1.5.5" {
		t.Errorf("expected fallback v1.5.5, got %s", cfg.Binary.FallbackVersion)
	}
}

func TestLoadFile_ExpandsVariables(t *testing.T) {
	t.Setenv("KSPOOF_TEST_ROOT", "/mnt/test")
	cfg, err := LoadFile(writeConfig(t, `
paths:
  database: ${KSPOOF_TEST_ROOT}/settings.db
  tmp: ${KSPOOF_TEST_UNSET:-/tmp}/kspoof
`))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Paths.Database != "/mnt/test/settings.db" {
		t.Errorf("expected expanded database path, got %s", cfg.Paths.Database)
	}
	if cfg.Paths.Tmp != "/tmp/kspoof" {
		t.Errorf("expected fallback expansion, got %s", cfg.Paths.Tmp)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "paths:\n  bogus: /x\n", "field bogus not found"},
		{"relative path", "paths:\n  log_dir: logs\n", "paths.log_dir must be absolute"},
		{"bad version", "binary:\n  fallback_version: 1.5\n", "binary.fallback_version"},
		{"empty prefix", "shell:\n  prefix: []\n", "shell.prefix is required"},
		{"bad version code", "module:\n  version_code: -1\n", "module.version_code"},
		{"not yaml", "paths: [", "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	p := cfg.Provision()
	if p.BinDir != cfg.Paths.BinDir || p.BaseName != cfg.Binary.BaseName {
		t.Errorf("Provision() = %+v does not mirror config", p)
	}
	m := cfg.ModulePackage()
	if m.Root != cfg.Paths.ModuleRoot || m.LogDir != cfg.Paths.LogDir {
		t.Errorf("ModulePackage() = %+v does not mirror config", m)
	}
}
