// Package script renders the boot-stage shell scripts that reapply the
// persisted configuration at every boot.
//
// Rendering is a pure function of the settings record and the generator
// config: sets are already sorted, the template carries no clock or random
// values, so identical input always yields identical text.
package script

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/leodido/kspoof/internal/gateway"
	"github.com/leodido/kspoof/internal/settings"
	"github.com/leodido/kspoof/internal/shell"
)

// Stage is a boot lifecycle stage with its own script.
type Stage string

const (
	Service       Stage = "service"
	PostFsData    Stage = "post-fs-data"
	PostMount     Stage = "post-mount"
	BootCompleted Stage = "boot-completed"
)

// Stages returns every stage in boot order.
func Stages() []Stage {
	return []Stage{PostFsData, PostMount, Service, BootCompleted}
}

// ParseStage maps a stage name to its Stage.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", name)
}

// FileName returns the script file name the host boot process expects.
func (s Stage) FileName() string {
	return string(s) + ".sh"
}

// bootStateProps are masked at the service stage regardless of settings.
var bootStateProps = []string{
	"ro.boot.vbmeta.device_state locked",
	"ro.boot.verifiedbootstate green",
	"ro.boot.flash.locked 1",
	"ro.boot.veritymode enforcing",
	"ro.boot.warranty_bit 0",
	"ro.warranty_bit 0",
	"ro.debuggable 0",
	"ro.secure 1",
	"ro.build.type user",
	"ro.build.tags release-keys",
	"ro.vendor.boot.warranty_bit 0",
	"ro.vendor.warranty_bit 0",
	"vendor.boot.vbmeta.device_state locked",
	"vendor.boot.verifiedbootstate green",
}

const stageTemplate = `#!/system/bin/sh
# kspoof {{.Stage}} script. Generated, edits are overwritten.
MODDIR=${0%/*}
BIN={{quote .Binary}}
LOG_DIR={{quote .LogDir}}
LOG_FILE="$LOG_DIR/{{.Stage}}.log"

mkdir -p "$LOG_DIR"
echo "{{.Stage}}: start" >>"$LOG_FILE"
{{if .NeedsBinary}}
if [ ! -x "$BIN" ]; then
    echo "{{.Stage}}: $BIN missing" >>"$LOG_FILE"
    exit 0
fi
{{end}}
{{- range .Lines}}
"$BIN" {{.Text}} >>"$LOG_FILE" 2>&1
echo "{{.Name}}: $?" >>"$LOG_FILE"
{{- end}}
{{- range .Props}}
resetprop -n {{.}}
{{- end}}
echo "{{.Stage}}: done" >>"$LOG_FILE"
`

var tmpl = template.Must(template.New("stage").
	Funcs(template.FuncMap{"quote": shell.Quote}).
	Parse(stageTemplate))

// Config holds the device paths baked into every script.
type Config struct {
	// Binary is the installed capability binary path.
	Binary string
	// LogDir receives one log file per stage.
	LogDir string
}

// DefaultLogDir is where scripts log when Config.LogDir is empty.
const DefaultLogDir = "/data/adb/kspoof/logs"

// Generator renders stage scripts.
type Generator struct {
	cfg Config
}

// New returns a Generator.
func New(cfg Config) *Generator {
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir
	}
	return &Generator{cfg: cfg}
}

type line struct {
	Name string
	Text string
}

type data struct {
	Stage       Stage
	Binary      string
	LogDir      string
	NeedsBinary bool
	Lines       []line
	Props       []string
}

// Render returns the script text for stage.
func (g *Generator) Render(stage Stage, s settings.Settings) (string, error) {
	d := data{
		Stage:  stage,
		Binary: g.cfg.Binary,
		LogDir: g.cfg.LogDir,
	}

	var err error
	switch stage {
	case Service:
		d.NeedsBinary = true
		d.Lines, err = serviceLines(s)
		d.Props = bootStateProps
	case PostFsData:
		if s.ExecuteInPostFsData {
			d.Lines = unameLines(s)
			d.NeedsBinary = len(d.Lines) > 0
		}
	case PostMount:
		d.NeedsBinary = true
		d.Lines, err = postMountLines(s)
	case BootCompleted:
		d.NeedsBinary = true
	default:
		return "", fmt.Errorf("unknown stage %q", stage)
	}
	if err != nil {
		return "", fmt.Errorf("render %s: %w", stage, err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render %s: %w", stage, err)
	}
	return b.String(), nil
}

// RenderAll renders every stage.
func (g *Generator) RenderAll(s settings.Settings) (map[Stage]string, error) {
	out := make(map[Stage]string, len(Stages()))
	for _, stage := range Stages() {
		text, err := g.Render(stage, s)
		if err != nil {
			return nil, err
		}
		out[stage] = text
	}
	return out, nil
}

func newLine(name string, args ...string) line {
	return line{Name: name, Text: shell.Cmd(name, args...).String()}
}

func serviceLines(s settings.Settings) ([]line, error) {
	lines := []line{newLine(gateway.EnableLog, boolArg(s.LogEnabled))}
	if s.AndroidDataPath != settings.Default {
		lines = append(lines, newLine(gateway.SetDataRoot, s.AndroidDataPath))
	}
	if s.SdcardPath != settings.Default {
		lines = append(lines, newLine(gateway.SetSdcardRoot, s.SdcardPath))
	}
	for _, p := range s.SusPaths {
		lines = append(lines, newLine(gateway.AddSusPath, p))
	}
	for _, p := range s.SusLoopPaths {
		lines = append(lines, newLine(gateway.AddSusPathLoop, p))
	}
	for _, p := range s.SusMaps {
		lines = append(lines, newLine(gateway.AddSusMap, p))
	}
	for _, rec := range s.KstatStatic {
		o, err := settings.ParseStatOverride(rec)
		if err != nil {
			return nil, err
		}
		lines = append(lines, newLine(gateway.AddKstatStatically, o.Args()...))
	}
	for _, p := range s.KstatPaths {
		lines = append(lines, newLine(gateway.AddKstat, p))
	}
	for _, p := range s.KstatPaths {
		lines = append(lines, newLine(gateway.UpdateKstat, p))
	}
	if !s.ExecuteInPostFsData {
		lines = append(lines, unameLines(s)...)
	}
	return lines, nil
}

func unameLines(s settings.Settings) []line {
	if s.SpoofRelease == settings.Default && s.SpoofBuildTime == settings.Default {
		return nil
	}
	return []line{newLine(gateway.SetUname, s.SpoofRelease, s.SpoofBuildTime)}
}

func postMountLines(s settings.Settings) ([]line, error) {
	var lines []line
	for _, p := range s.SusMounts {
		lines = append(lines, newLine(gateway.AddSusMount, p))
	}
	for _, raw := range s.TryUmounts {
		e, err := settings.ParseUmountEntry(raw)
		if err != nil {
			return nil, err
		}
		lines = append(lines, newLine(gateway.AddTryUmount, e.Path, strconv.Itoa(int(e.Mode))))
	}
	return lines, nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
