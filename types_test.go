package kspoof

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/settings"
)

func TestResult_Kind(t *testing.T) {
	tests := []struct {
		name string
		r    Result
		want ErrorKind
	}{
		{"success", succeeded("done", ""), fault.Unknown},
		{"classified", failed("x failed", "", fault.Newf(CommandFailed, "x", "exit 1")), CommandFailed},
		{"wrapped", failed("x failed", "", fmt.Errorf("outer: %w", fault.Newf(IOFailure, "x", "disk"))), IOFailure},
		{"bare error", failed("x failed", "", errors.New("boom")), fault.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailed_AppendsCause(t *testing.T) {
	r := failed("add sus path failed", "stderr text", fault.Newf(CommandFailed, "add_sus_path", "exit status 2"))
	if r.OK {
		t.Fatal("failed() must not be OK")
	}
	if !strings.HasPrefix(r.Message, "add sus path failed: ") {
		t.Errorf("Message = %q", r.Message)
	}
	if r.Output != "stderr text" {
		t.Errorf("Output = %q, want captured output", r.Output)
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("context: %w", &Error{Kind: PreconditionUnmet, Op: "enable"})
	if got := KindOf(err); got != PreconditionUnmet {
		t.Errorf("KindOf() = %v, want %v", got, PreconditionUnmet)
	}
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("errors.As should find *Error")
	}
}

func TestReport_String(t *testing.T) {
	s := settings.Defaults()
	s.Add(settings.SusPaths, "/system/addon.d")
	s.Add(settings.TryUmounts, "/debug_ramdisk|1")
	s.AutoStart = true

	kc := NewKernelConfig(map[string]ConfigValue{
		FeatureSusMount.Symbol(): ConfigNotSet,
	})
	r := &Report{
		Version:            "v1.5.5",
		Features:           Reconcile([]string{FeatureSusPath.Symbol()}, kc),
		Settings:           s,
		AutoStartInstalled: true,
	}
	out := r.String()

	for _, want := range []string{
		"Capability layer: v1.5.5",
		"  SUS path: yes (live)",
		"  SUS mount: no (config: not_set)",
		"  Enable log: no [configurable]",
		"  Spoofed release: default",
		"  Autostart: yes",
		"sus_paths (1):\n  /system/addon.d\n",
		"try_umounts (1):\n  /debug_ramdisk|1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "sus_maps") {
		t.Errorf("empty sets must be omitted:\n%s", out)
	}
}
