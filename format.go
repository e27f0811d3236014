package kspoof

import (
	"fmt"
	"strings"

	"github.com/leodido/kspoof/internal/settings"
)

// Report is a point-in-time view of the capability layer and the
// persisted configuration.
type Report struct {
	Version            string          `json:"version"`
	Features           []FeatureStatus `json:"features"`
	Settings           Settings        `json:"settings"`
	AutoStartInstalled bool            `json:"autostart_installed"`
}

// String returns a human-readable summary of the report.
func (r *Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Capability layer: %s\n", r.Version)
	b.WriteString("\n")

	b.WriteString("Features:\n")
	writeFeatures(&b, r.Features, "  ")
	b.WriteString("\n")

	s := r.Settings
	b.WriteString("Settings:\n")
	writeValue(&b, "  Spoofed release", s.SpoofRelease)
	writeValue(&b, "  Spoofed build time", s.SpoofBuildTime)
	writeValue(&b, "  Android data path", s.AndroidDataPath)
	writeValue(&b, "  Sdcard path", s.SdcardPath)
	writeFlag(&b, "  Uname in post-fs-data", s.ExecuteInPostFsData)
	writeFlag(&b, "  Kernel log", s.LogEnabled)
	writeFlag(&b, "  Autostart", s.AutoStart)
	writeFlag(&b, "  Autostart package installed", r.AutoStartInstalled)
	b.WriteString("\n")

	for _, name := range settings.SetNames() {
		members := *s.Set(name)
		if len(members) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d):\n", name, len(members))
		for _, m := range members {
			fmt.Fprintf(&b, "  %s\n", m)
		}
	}

	return b.String()
}

// FormatFeatures renders one line per feature status.
func FormatFeatures(statuses []FeatureStatus) string {
	var b strings.Builder
	writeFeatures(&b, statuses, "")
	return b.String()
}

func writeFeatures(b *strings.Builder, statuses []FeatureStatus, indent string) {
	for _, st := range statuses {
		status := "no"
		if st.Enabled {
			status = "yes"
		}
		fmt.Fprintf(b, "%s%s: %s", indent, st.Name, status)
		switch st.Source {
		case SourceLive:
			b.WriteString(" (live)")
		case SourceDump:
			fmt.Fprintf(b, " (config: %s)", st.Value)
		}
		if st.Configurable {
			b.WriteString(" [configurable]")
		}
		b.WriteString("\n")
	}
}

func writeFlag(b *strings.Builder, name string, on bool) {
	status := "no"
	if on {
		status = "yes"
	}
	fmt.Fprintf(b, "%s: %s\n", name, status)
}

func writeValue(b *strings.Builder, name, v string) {
	fmt.Fprintf(b, "%s: %s\n", name, v)
}
