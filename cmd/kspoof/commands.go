package main

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/leodido/kspoof"
	"github.com/leodido/structcli"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"
)

// pathKind selects which path set a path command works on.
type pathKind int

const (
	kindSus pathKind = iota
	kindLoop
	kindMap
	kindMount
	kindKstat
)

var pathKindIds = map[pathKind][]string{
	kindSus:   {"sus"},
	kindLoop:  {"loop"},
	kindMap:   {"map"},
	kindMount: {"mount"},
	kindKstat: {"kstat"},
}

func (k pathKind) String() string {
	if ids, ok := pathKindIds[k]; ok {
		return ids[0]
	}
	return fmt.Sprintf("pathKind(%d)", int(k))
}

func (k pathKind) add(ctx context.Context, e *kspoof.Engine, path string) kspoof.Result {
	switch k {
	case kindLoop:
		return e.AddLoopPath(ctx, path)
	case kindMap:
		return e.AddSusMap(ctx, path)
	case kindMount:
		return e.AddSusMount(ctx, path)
	case kindKstat:
		return e.AddKstatPath(ctx, path)
	default:
		return e.AddSusPath(ctx, path)
	}
}

func (k pathKind) remove(ctx context.Context, e *kspoof.Engine, path string) kspoof.Result {
	switch k {
	case kindLoop:
		return e.RemoveLoopPath(ctx, path)
	case kindMap:
		return e.RemoveSusMap(ctx, path)
	case kindMount:
		return e.RemoveSusMount(ctx, path)
	case kindKstat:
		return e.RemoveKstatPath(ctx, path)
	default:
		return e.RemoveSusPath(ctx, path)
	}
}

func parsePathKind(input string) (pathKind, error) {
	var k pathKind
	v := enumflag.New(&k, "kind", pathKindIds, enumflag.EnumCaseInsensitive)
	if err := v.Set(strings.TrimSpace(input)); err != nil {
		return 0, fmt.Errorf("unknown kind: %q (available: sus, loop, map, mount, kstat)", input)
	}
	return k, nil
}

func parseUmountMode(input string) (kspoof.UmountMode, error) {
	var m kspoof.UmountMode
	v := enumflag.New(&m, "mode", kspoof.UmountModeIds, enumflag.EnumCaseInsensitive)
	if err := v.Set(strings.TrimSpace(input)); err != nil {
		return 0, fmt.Errorf("unknown mode: %q (available: normal, detach)", input)
	}
	return m, nil
}

// StatusOptions defines flags for the status and features subcommands.
type StatusOptions struct {
	JSON bool `flag:"json" flagshort:"j" flagdescr:"Output in JSON format"`
}

func (o *StatusOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func statusCmd(a *app) *cobra.Command {
	opts := &StatusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show capability version, features, and saved settings",
		Args:  cobra.NoArgs,
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			rep, err := e.Status(c.Context())
			if err != nil {
				return err
			}
			if opts.JSON {
				return a.printJSON(rep)
			}
			fmt.Fprint(a.stdout, rep)
			return nil
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func featuresCmd(a *app) *cobra.Command {
	opts := &StatusOptions{}

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Show which capability features the kernel provides",
		Args:  cobra.NoArgs,
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			statuses, err := e.EnabledFeatures(c.Context())
			if err != nil {
				return err
			}
			if opts.JSON {
				return a.printJSON(statuses)
			}
			fmt.Fprint(a.stdout, kspoof.FormatFeatures(statuses))
			return nil
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// PathOptions defines flags for the path subcommands.
type PathOptions struct {
	Kind pathKind `flag:"kind" flagshort:"k" flagdescr:"Path set: sus, loop, map, mount, kstat" flagcustom:"true"`
}

func (o *PathOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *PathOptions) DefineKind(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	fieldPtr := fieldValue.Addr().Interface().(*pathKind)
	return enumflag.New(fieldPtr, "kind", pathKindIds, enumflag.EnumCaseInsensitive), descr
}

func (o *PathOptions) DecodeKind(input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return input, nil
	}
	return parsePathKind(s)
}

func pathCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Hide paths, maps, mounts, and tracked stat paths",
	}
	cmd.AddCommand(pathOpCmd(a, "add", "Apply and save paths", pathKind.add))
	cmd.AddCommand(pathOpCmd(a, "remove", "Forget paths (effective after reboot)", pathKind.remove))
	return cmd
}

func pathOpCmd(a *app, use, short string, op func(pathKind, context.Context, *kspoof.Engine, string) kspoof.Result) *cobra.Command {
	opts := &PathOptions{}

	cmd := &cobra.Command{
		Use:   use + " <path>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				results := make([]kspoof.Result, 0, len(args))
				for _, p := range args {
					results = append(results, op(opts.Kind, ctx, e, p))
				}
				return results
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// UmountOptions defines flags for the umount subcommands.
type UmountOptions struct {
	Mode kspoof.UmountMode `flag:"mode" flagshort:"m" flagdescr:"Unmount mode: normal, detach" flagcustom:"true"`
}

func (o *UmountOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func (o *UmountOptions) DefineMode(name, short, descr string, structField reflect.StructField, fieldValue reflect.Value) (pflag.Value, string) {
	fieldPtr := fieldValue.Addr().Interface().(*kspoof.UmountMode)
	return enumflag.New(fieldPtr, "mode", kspoof.UmountModeIds, enumflag.EnumCaseInsensitive), descr
}

func (o *UmountOptions) DecodeMode(input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return input, nil
	}
	return parseUmountMode(s)
}

func umountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "umount",
		Short: "Force-unmount paths for untrusted processes",
	}

	for _, sub := range []struct {
		use, short string
		op         func(*kspoof.Engine, context.Context, string, kspoof.UmountMode) kspoof.Result
	}{
		{"add", "Register and apply an unmount rule (kept for next boot even if applying fails)", (*kspoof.Engine).AddTryUmount},
		{"remove", "Forget an unmount rule (effective after reboot)", (*kspoof.Engine).RemoveTryUmount},
	} {
		opts := &UmountOptions{}
		op := sub.op
		c := &cobra.Command{
			Use:   sub.use + " <path>",
			Short: sub.short,
			Args:  cobra.ExactArgs(1),
			PreRunE: func(c *cobra.Command, args []string) error {
				return structcli.Unmarshal(c, opts)
			},
			RunE: func(c *cobra.Command, args []string) error {
				return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
					return []kspoof.Result{op(e, ctx, args[0], opts.Mode)}
				})
			},
		}
		if err := opts.Attach(c); err != nil {
			panic(err)
		}
		cmd.AddCommand(c)
	}
	return cmd
}

// StatOptions defines the attribute flags of a static stat override. Unset
// attributes keep the real value.
type StatOptions struct {
	Ino       string `flag:"ino" flagdescr:"Inode number"`
	Dev       string `flag:"dev" flagdescr:"Device number"`
	Nlink     string `flag:"nlink" flagdescr:"Hard link count"`
	Size      string `flag:"size" flagdescr:"Size in bytes"`
	Atime     string `flag:"atime" flagdescr:"Access time, seconds"`
	AtimeNsec string `flag:"atime-nsec" flagdescr:"Access time, nanoseconds"`
	Mtime     string `flag:"mtime" flagdescr:"Modification time, seconds"`
	MtimeNsec string `flag:"mtime-nsec" flagdescr:"Modification time, nanoseconds"`
	Ctime     string `flag:"ctime" flagdescr:"Change time, seconds"`
	CtimeNsec string `flag:"ctime-nsec" flagdescr:"Change time, nanoseconds"`
	Blocks    string `flag:"blocks" flagdescr:"Allocated blocks"`
	Blksize   string `flag:"blksize" flagdescr:"Block size"`
}

func (o *StatOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

// override builds the record for path, in attribute order.
func (o *StatOptions) override(path string) kspoof.StatOverride {
	s := kspoof.NewStatOverride(path)
	for i, v := range []string{
		o.Ino, o.Dev, o.Nlink, o.Size,
		o.Atime, o.AtimeNsec, o.Mtime, o.MtimeNsec,
		o.Ctime, o.CtimeNsec, o.Blocks, o.Blksize,
	} {
		if v != "" {
			s.Attrs[i] = v
		}
	}
	return s
}

func statCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Spoof stat attributes of a path",
	}

	opts := &StatOptions{}
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Apply and save a static stat override",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.AddStatOverride(ctx, opts.override(args[0]))}
			})
		},
	}
	if err := opts.Attach(add); err != nil {
		panic(err)
	}

	remove := &cobra.Command{
		Use:   "remove <path>",
		Short: "Forget every stat override for a path (effective after reboot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.RemoveStatOverride(ctx, args[0])}
			})
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

// UnameOptions defines flags for the uname subcommand.
type UnameOptions struct {
	Release   string `flag:"release" flagshort:"r" flagdescr:"Kernel release to report (empty keeps the real one)"`
	BuildTime string `flag:"build-time" flagshort:"b" flagdescr:"Kernel build time to report (empty keeps the real one)"`
}

func (o *UnameOptions) Attach(c *cobra.Command) error {
	return structcli.Define(c, o)
}

func unameCmd(a *app) *cobra.Command {
	opts := &UnameOptions{}

	cmd := &cobra.Command{
		Use:   "uname",
		Short: "Spoof the kernel release and build time",
		Args:  cobra.NoArgs,
		PreRunE: func(c *cobra.Command, args []string) error {
			return structcli.Unmarshal(c, opts)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.SetUname(ctx, opts.Release, opts.BuildTime)}
			})
		},
	}

	if err := opts.Attach(cmd); err != nil {
		panic(err)
	}
	return cmd
}

func logCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "log <on|off>",
		Short:     "Toggle the capability layer's kernel log",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(c *cobra.Command, args []string) error {
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.ConfigureFeature(ctx, kspoof.FeatureEnableLog, on)}
			})
		},
	}
}

func rootPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "root <data|sdcard> <path|default>",
		Short:     "Set the app-data or user-storage root",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"data", "sdcard"},
		RunE: func(c *cobra.Command, args []string) error {
			var set func(*kspoof.Engine, context.Context, string) kspoof.Result
			switch args[0] {
			case "data":
				set = (*kspoof.Engine).SetAndroidDataPath
			case "sdcard":
				set = (*kspoof.Engine).SetSdcardPath
			default:
				return fmt.Errorf("unknown root %q (available: data, sdcard)", args[0])
			}
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{set(e, ctx, args[1])}
			})
		},
	}
}

func postFsDataCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "postfsdata <on|off>",
		Short:     "Apply the uname spoof in the post-fs-data stage",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(c *cobra.Command, args []string) error {
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.SetExecuteInPostFsData(ctx, on)}
			})
		},
	}
}

func autostartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "autostart <on|off>",
		Short:     "Install or remove the boot module that re-applies the settings",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(c *cobra.Command, args []string) error {
			on, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.ConfigureAutoStart(ctx, on)}
			})
		},
	}
}

func backupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export, validate, and import settings backups",
	}

	export := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the saved settings to a backup file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			path := kspoof.BackupFilename(time.Now())
			if len(args) == 1 {
				path = args[0]
			}
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.ExportBackup(ctx, path)}
			})
		},
	}

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a backup file without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				_, r := e.ValidateBackup(args[0])
				return []kspoof.Result{r}
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the saved settings with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				b, r := e.ValidateBackup(args[0])
				if !r.OK {
					return []kspoof.Result{r}
				}
				return []kspoof.Result{e.ImportBackup(ctx, b)}
			})
		},
	}

	cmd.AddCommand(export, validate, imp)
	return cmd
}

func resetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore every setting to its default and disable autostart",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return a.run(c, func(ctx context.Context, e *kspoof.Engine) []kspoof.Result {
				return []kspoof.Result{e.ResetToDefault(ctx)}
			})
		},
	}
}

func renderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "render <stage>",
		Short:     "Print a boot script without installing it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"post-fs-data", "post-mount", "service", "boot-completed"},
		RunE: func(c *cobra.Command, args []string) error {
			stage, err := kspoof.ParseStage(args[0])
			if err != nil {
				return err
			}
			e, err := a.open()
			if err != nil {
				return err
			}
			out, err := e.RenderScript(c.Context(), stage)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, out)
			return nil
		},
	}
}
