package kspoof

import (
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `#
# Automatically generated file; DO NOT EDIT.
# Linux/arm64 4.19.157 Kernel Configuration
#
CONFIG_CC_IS_CLANG=y
CONFIG_LOCALVERSION="-perf"
CONFIG_KSU=y
CONFIG_KSU_SUSFS=y
CONFIG_KSU_SUSFS_SUS_PATH=y
CONFIG_KSU_SUSFS_SUS_MOUNT=y
# CONFIG_KSU_SUSFS_SUS_SU is not set
CONFIG_KSU_SUSFS_SUS_MAP=m
CONFIG_NR_CPUS=8
`

func TestParseConfig(t *testing.T) {
	kc, err := parseConfig(strings.NewReader(sampleConfig))
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}

	tests := []struct {
		key  string
		want ConfigValue
	}{
		{"KSU_SUSFS_SUS_PATH", ConfigBuiltin},
		{"CONFIG_KSU_SUSFS_SUS_PATH", ConfigBuiltin},
		{"KSU_SUSFS_SUS_MOUNT", ConfigBuiltin},
		{"KSU_SUSFS_SUS_SU", ConfigNotSet},
		{"KSU_SUSFS_SUS_MAP", "m"},
		{"LOCALVERSION", `"-perf"`},
		{"NR_CPUS", "8"},
		{"NONEXISTENT", ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := kc.Get(tt.key); got != tt.want {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
	if kc.Len() != 9 {
		t.Errorf("Len() = %d, want 9", kc.Len())
	}
}

func TestParseConfig_Empty(t *testing.T) {
	kc, err := parseConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if _, ok := kc.Lookup("anything"); ok {
		t.Error("expected no symbols for empty config")
	}
}

func TestParseConfig_CommentsOnly(t *testing.T) {
	input := `# This is a comment
# CONFIG_ is not set
# CONFIG_KSU_SUSFS is disabled
`
	kc, err := parseConfig(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}
	if kc.Len() != 0 {
		t.Errorf("Len() = %d, want 0 for free-form comments", kc.Len())
	}
}

func TestConfigValue(t *testing.T) {
	tests := []struct {
		value       ConfigValue
		wantBuiltin bool
		wantNotSet  bool
		wantString  string
	}{
		{ConfigBuiltin, true, false, "y"},
		{ConfigNotSet, false, true, "not_set"},
		{"m", false, false, "m"},
		{"", false, false, "absent"},
	}
	for _, tt := range tests {
		if got := tt.value.IsBuiltin(); got != tt.wantBuiltin {
			t.Errorf("ConfigValue(%q).IsBuiltin() = %v, want %v", tt.value, got, tt.wantBuiltin)
		}
		if got := tt.value.IsNotSet(); got != tt.wantNotSet {
			t.Errorf("ConfigValue(%q).IsNotSet() = %v, want %v", tt.value, got, tt.wantNotSet)
		}
		if got := tt.value.String(); got != tt.wantString {
			t.Errorf("ConfigValue(%q).String() = %q, want %q", tt.value, got, tt.wantString)
		}
	}
}

func TestNewKernelConfig_Copies(t *testing.T) {
	raw := map[string]ConfigValue{"KSU_SUSFS_SUS_PATH": ConfigBuiltin}
	kc := NewKernelConfig(raw)
	raw["KSU_SUSFS_SUS_PATH"] = ConfigNotSet
	if got := kc.Get("KSU_SUSFS_SUS_PATH"); got != ConfigBuiltin {
		t.Errorf("Get() = %v after mutating the source map, want y", got)
	}
	var nilConfig *KernelConfig
	if got := nilConfig.Get("X"); got != "" {
		t.Errorf("nil Get() = %v, want empty", got)
	}
}

// writeGzipConfig writes content as a gzip dump and returns its path.
func writeGzipConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadKernelConfig_Gzip(t *testing.T) {
	kc, err := ReadKernelConfig(writeGzipConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("ReadKernelConfig() error = %v", err)
	}
	if got := kc.Get("KSU_SUSFS_SUS_SU"); got != ConfigNotSet {
		t.Errorf("Get(KSU_SUSFS_SUS_SU) = %v, want not_set", got)
	}
}

func TestReadKernelConfig_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config-4.19.157")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	kc, err := ReadKernelConfig(path)
	if err != nil {
		t.Fatalf("ReadKernelConfig() error = %v", err)
	}
	if !kc.Get("KSU_SUSFS_SUS_PATH").IsBuiltin() {
		t.Error("KSU_SUSFS_SUS_PATH should be built in")
	}
}

func TestReadKernelConfig_Errors(t *testing.T) {
	notGzip := filepath.Join(t.TempDir(), "config.gz")
	if err := os.WriteFile(notGzip, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"/nonexistent/path/config.gz", notGzip} {
		_, err := ReadKernelConfig(path)
		if err == nil {
			t.Fatalf("ReadKernelConfig(%q) expected error", path)
		}
		if !errors.Is(err, ErrNoKernelConfig) {
			t.Errorf("ReadKernelConfig(%q) error = %v, want ErrNoKernelConfig", path, err)
		}
	}
}
