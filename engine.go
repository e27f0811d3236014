package kspoof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/leodido/kspoof/internal/appconfig"
	"github.com/leodido/kspoof/internal/backup"
	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/gateway"
	"github.com/leodido/kspoof/internal/module"
	"github.com/leodido/kspoof/internal/provision"
	"github.com/leodido/kspoof/internal/script"
	"github.com/leodido/kspoof/internal/settings"
	"github.com/leodido/kspoof/internal/shell"
	"github.com/leodido/kspoof/internal/store"
)

const afterReboot = "takes effect after reboot"

// Engine applies, persists, and reconciles the capability-layer
// configuration. Every mutating operation is serialized by one mutex, and
// the settings store is only ever written through the engine.
type Engine struct {
	mu sync.Mutex

	cfg    *appconfig.Config
	logger *slog.Logger
	store  *store.Store
	prov   *provision.Provisioner
	gw     *gateway.Gateway
	module *module.Manager
	codec  *backup.Codec

	versionMu sync.Mutex
	version   string
}

// Open opens the settings store and wires the engine's components.
func Open(opts ...Option) (*Engine, error) {
	c, err := newEngineConfig(opts)
	if err != nil {
		return nil, fault.New(fault.ValidationFailed, "open", err)
	}
	if err := c.app.Validate(); err != nil {
		return nil, fault.New(fault.ValidationFailed, "open", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.app.Paths.Database), 0o700); err != nil {
		return nil, fault.New(fault.IOFailure, "open", err)
	}
	st, err := store.Open(c.app.Paths.Database)
	if err != nil {
		return nil, err
	}

	assets := c.assets
	if assets == nil {
		assets = os.DirFS(c.app.Paths.Assets)
	}

	var codecOpts []backup.Option
	if c.now != nil {
		codecOpts = append(codecOpts, backup.WithClock(c.now))
	}
	if c.device != nil {
		codecOpts = append(codecOpts, backup.WithDevice(c.device))
	}

	e := &Engine{
		cfg:    c.app,
		logger: c.logger,
		store:  st,
		codec:  backup.New(codecOpts...),
	}
	e.prov = provision.New(c.exec, assets, c.app.Provision(), c.logger.With("component", "provision"))
	e.gw = gateway.New(e.prov, c.exec, e.detectVersion, c.logger.With("component", "gateway"))
	e.module = module.New(c.exec, e.gw, c.app.ModulePackage(), c.logger.With("component", "module"))
	return e, nil
}

// Close releases the settings store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// detectVersion probes the capability-layer version and keeps the first
// successful answer; the running kernel cannot change it without a reboot.
// A failed probe yields the fallback and is retried on the next call.
func (e *Engine) detectVersion(ctx context.Context) string {
	e.versionMu.Lock()
	defer e.versionMu.Unlock()
	if e.version != "" {
		return e.version
	}
	v, ok := e.prov.Detect(ctx)
	if ok {
		e.version = v
	}
	return v
}

// Version returns the capability-layer version the binary is chosen for.
func (e *Engine) Version(ctx context.Context) string {
	return e.detectVersion(ctx)
}

// Settings returns the persisted record.
func (e *Engine) Settings(ctx context.Context) (Settings, error) {
	return e.store.Load(ctx)
}

// AutoStartInstalled reports whether the module package is on disk.
func (e *Engine) AutoStartInstalled(ctx context.Context) bool {
	return e.module.Exists(ctx)
}

func addMember(name settings.SetName, member string) func(*settings.Settings) error {
	return func(s *settings.Settings) error {
		s.Add(name, member)
		return nil
	}
}

func removeMember(what string, name settings.SetName, member string) func(*settings.Settings) error {
	return func(s *settings.Settings) error {
		if !s.Remove(name, member) {
			return fault.Newf(fault.PreconditionUnmet, what, "%s is not registered", member)
		}
		return nil
	}
}

func invalid(what string, err error) Result {
	return failed(what+" rejected", "", fault.New(fault.ValidationFailed, what, err))
}

// apply runs cmd and persists mutate only after the command succeeds.
func (e *Engine) apply(ctx context.Context, what string, cmd shell.Command, mutate func(*settings.Settings) error) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := e.gw.Run(ctx, cmd)
	if err != nil {
		e.logger.Warn("operation not applied", "op", what, "error", err)
		return failed(what+" failed", out, err)
	}
	s, err := e.store.Update(ctx, mutate)
	if err != nil {
		return failed(what+" applied but not saved", out, err)
	}
	e.logger.Info("operation applied", "op", what)
	return e.afterChange(ctx, s, succeeded(what+" applied", out))
}

// save persists mutate without touching the live capability layer.
func (e *Engine) save(ctx context.Context, what string, mutate func(*settings.Settings) error) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Update(ctx, mutate)
	if err != nil {
		return failed(what+" failed", "", err)
	}
	e.logger.Info("operation saved", "op", what)
	return e.afterChange(ctx, s, succeeded(what+" saved, "+afterReboot, ""))
}

// afterChange regenerates the autostart package when it is enabled, so the
// boot scripts always mirror the store. Called with e.mu held.
func (e *Engine) afterChange(ctx context.Context, s settings.Settings, r Result) Result {
	if !s.AutoStart {
		return r
	}
	err := e.writePackage(ctx, s)
	switch {
	case err == nil:
		r.Message += "; autostart package regenerated"
	case fault.Is(err, fault.PreconditionUnmet):
		if d := e.disableLocked(ctx); d.OK {
			r.Message += "; nothing left to autostart, autostart disabled"
		} else {
			r.Message += "; nothing left to autostart, but disabling autostart failed: " + d.Err.Error()
		}
	default:
		e.logger.Warn("autostart package not regenerated", "error", err)
		r.Message += "; autostart package not regenerated: " + err.Error()
	}
	return r
}

// writePackage writes the module package for s. Feature status is only
// consulted when the record itself has nothing to apply.
func (e *Engine) writePackage(ctx context.Context, s settings.Settings) error {
	featureEnabled := false
	if !s.IsCustomized() {
		statuses, err := e.EnabledFeatures(ctx)
		featureEnabled = err == nil && AnyEnabled(statuses)
	}
	return e.module.Enable(ctx, s, featureEnabled)
}

// AddSusPath hides path from detection.
func (e *Engine) AddSusPath(ctx context.Context, path string) Result {
	const what = "add sus path"
	if err := settings.ValidatePath(path); err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what, shell.Cmd(gateway.AddSusPath, path), addMember(settings.SusPaths, path))
}

// RemoveSusPath forgets path. The capability layer has no live undo.
func (e *Engine) RemoveSusPath(ctx context.Context, path string) Result {
	const what = "remove sus path"
	return e.save(ctx, what, removeMember(what, settings.SusPaths, path))
}

// AddLoopPath hides path and re-hides it whenever it is recreated.
func (e *Engine) AddLoopPath(ctx context.Context, path string) Result {
	const what = "add loop path"
	if err := settings.ValidatePath(path); err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what, shell.Cmd(gateway.AddSusPathLoop, path), addMember(settings.SusLoopPaths, path))
}

// RemoveLoopPath forgets a loop path.
func (e *Engine) RemoveLoopPath(ctx context.Context, path string) Result {
	const what = "remove loop path"
	return e.save(ctx, what, removeMember(what, settings.SusLoopPaths, path))
}

// AddSusMap hides a mapping from /proc/self/maps.
func (e *Engine) AddSusMap(ctx context.Context, path string) Result {
	const what = "add sus map"
	if err := settings.ValidatePath(path); err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what, shell.Cmd(gateway.AddSusMap, path), addMember(settings.SusMaps, path))
}

// RemoveSusMap forgets a map entry.
func (e *Engine) RemoveSusMap(ctx context.Context, path string) Result {
	const what = "remove sus map"
	return e.save(ctx, what, removeMember(what, settings.SusMaps, path))
}

// AddSusMount hides a bind mount.
func (e *Engine) AddSusMount(ctx context.Context, path string) Result {
	const what = "add sus mount"
	if err := settings.ValidatePath(path); err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what, shell.Cmd(gateway.AddSusMount, path), addMember(settings.SusMounts, path))
}

// RemoveSusMount forgets a bind mount entry.
func (e *Engine) RemoveSusMount(ctx context.Context, path string) Result {
	const what = "remove sus mount"
	return e.save(ctx, what, removeMember(what, settings.SusMounts, path))
}

// AddTryUmount registers a forced-unmount rule.
//
// Unlike every other mutation the rule is saved even when the live apply
// fails, so it is still applied at the next boot. The Result is not OK in
// that case, and its message says the rule was kept.
func (e *Engine) AddTryUmount(ctx context.Context, path string, mode UmountMode) Result {
	const what = "add try umount"
	entry, err := settings.ParseUmountEntry(settings.UmountEntry{Path: path, Mode: mode}.String())
	if err != nil {
		return invalid(what, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out, runErr := e.gw.Run(ctx, shell.Cmd(gateway.AddTryUmount, path, strconv.Itoa(int(mode))))
	s, err := e.store.Update(ctx, addMember(settings.TryUmounts, entry.String()))
	if err != nil {
		return failed(what+" failed", out, errors.Join(runErr, err))
	}

	r := succeeded(what+" applied", out)
	if runErr != nil {
		e.logger.Warn("try umount saved without live apply", "path", path, "error", runErr)
		r = failed(what+" saved for next boot, live apply failed", out, runErr)
	}
	return e.afterChange(ctx, s, r)
}

// RemoveTryUmount forgets a forced-unmount rule.
func (e *Engine) RemoveTryUmount(ctx context.Context, path string, mode UmountMode) Result {
	const what = "remove try umount"
	entry := settings.UmountEntry{Path: path, Mode: mode}
	return e.save(ctx, what, removeMember(what, settings.TryUmounts, entry.String()))
}

// AddStatOverride spoofs the stat attributes of o.Path statically.
func (e *Engine) AddStatOverride(ctx context.Context, o StatOverride) Result {
	const what = "add stat override"
	parsed, err := settings.ParseStatOverride(o.String())
	if err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what,
		shell.Cmd(gateway.AddKstatStatically, parsed.Args()...),
		addMember(settings.KstatStatic, parsed.String()))
}

// RemoveStatOverride forgets every static stat override for path.
func (e *Engine) RemoveStatOverride(ctx context.Context, path string) Result {
	const what = "remove stat override"
	return e.save(ctx, what, func(s *settings.Settings) error {
		var keep []string
		for _, rec := range s.KstatStatic {
			if o, err := settings.ParseStatOverride(rec); err == nil && o.Path == path {
				continue
			}
			keep = append(keep, rec)
		}
		if len(keep) == len(s.KstatStatic) {
			return fault.Newf(fault.PreconditionUnmet, what, "%s is not registered", path)
		}
		s.KstatStatic = keep
		return nil
	})
}

// AddKstatPath tracks the stat of path so it is refreshed after boot.
func (e *Engine) AddKstatPath(ctx context.Context, path string) Result {
	const what = "add kstat path"
	if err := settings.ValidatePath(path); err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what, shell.Cmd(gateway.AddKstat, path), addMember(settings.KstatPaths, path))
}

// RemoveKstatPath stops tracking path.
func (e *Engine) RemoveKstatPath(ctx context.Context, path string) Result {
	const what = "remove kstat path"
	return e.save(ctx, what, removeMember(what, settings.KstatPaths, path))
}

// SetUname spoofs the kernel release and build time. Blank values mean
// "keep the real value".
func (e *Engine) SetUname(ctx context.Context, release, buildTime string) Result {
	const what = "set uname"
	if release == "" {
		release = settings.Default
	}
	if buildTime == "" {
		buildTime = settings.Default
	}
	if err := settings.ValidateUname("release", release); err != nil {
		return invalid(what, err)
	}
	if err := settings.ValidateUname("build time", buildTime); err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what, shell.Cmd(gateway.SetUname, release, buildTime), func(s *settings.Settings) error {
		s.SpoofRelease = release
		s.SpoofBuildTime = buildTime
		return nil
	})
}

// SetLogEnabled toggles the capability layer's kernel log.
func (e *Engine) SetLogEnabled(ctx context.Context, enabled bool) Result {
	arg := "0"
	if enabled {
		arg = "1"
	}
	return e.apply(ctx, "set log", shell.Cmd(gateway.EnableLog, arg), func(s *settings.Settings) error {
		s.LogEnabled = enabled
		return nil
	})
}

// ConfigureFeature toggles a configurable feature.
func (e *Engine) ConfigureFeature(ctx context.Context, f Feature, enabled bool) Result {
	switch f {
	case FeatureEnableLog:
		return e.SetLogEnabled(ctx, enabled)
	}
	err := fault.Newf(fault.PreconditionUnmet, "configure feature", "%s is not configurable", f)
	return failed("configure feature failed", "", err)
}

// SetAndroidDataPath overrides the app-data root the capability layer
// watches. [settings.Default] restores the built-in root at next boot.
func (e *Engine) SetAndroidDataPath(ctx context.Context, path string) Result {
	return e.setRoot(ctx, "set android data path", gateway.SetDataRoot, path, func(s *settings.Settings) {
		s.AndroidDataPath = path
	})
}

// SetSdcardPath overrides the user-storage root the capability layer
// watches. [settings.Default] restores the built-in root at next boot.
func (e *Engine) SetSdcardPath(ctx context.Context, path string) Result {
	return e.setRoot(ctx, "set sdcard path", gateway.SetSdcardRoot, path, func(s *settings.Settings) {
		s.SdcardPath = path
	})
}

func (e *Engine) setRoot(ctx context.Context, what, sub, path string, set func(*settings.Settings)) Result {
	mutate := func(s *settings.Settings) error {
		set(s)
		return nil
	}
	if path == settings.Default {
		return e.save(ctx, what, mutate)
	}
	if err := settings.ValidatePath(path); err != nil {
		return invalid(what, err)
	}
	return e.apply(ctx, what, shell.Cmd(sub, path), mutate)
}

// SetExecuteInPostFsData moves the uname spoof to the post-fs-data stage.
func (e *Engine) SetExecuteInPostFsData(ctx context.Context, enabled bool) Result {
	return e.save(ctx, "set post-fs-data execution", func(s *settings.Settings) error {
		s.ExecuteInPostFsData = enabled
		return nil
	})
}

// EnableAutoStart writes the module package and then marks autostart
// enabled. It fails with PreconditionUnmet, touching nothing, when there is
// nothing to apply at boot.
func (e *Engine) EnableAutoStart(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enableLocked(ctx)
}

func (e *Engine) enableLocked(ctx context.Context) Result {
	const what = "enable autostart"
	s, err := e.store.Load(ctx)
	if err != nil {
		return failed(what+" failed", "", err)
	}
	if err := e.writePackage(ctx, s); err != nil {
		return failed(what+" failed", "", err)
	}
	if _, err := e.store.Update(ctx, func(s *settings.Settings) error {
		s.AutoStart = true
		return nil
	}); err != nil {
		return failed(what+" failed", "", err)
	}
	e.logger.Info("autostart enabled", "dir", e.module.Dir())
	return succeeded("autostart enabled", e.module.Dir())
}

// DisableAutoStart removes the module package and then clears the flag.
// A removal failure leaves the flag set so the caller can retry.
func (e *Engine) DisableAutoStart(ctx context.Context) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disableLocked(ctx)
}

func (e *Engine) disableLocked(ctx context.Context) Result {
	const what = "disable autostart"
	if err := e.module.Disable(ctx); err != nil {
		return failed(what+" failed", "", err)
	}
	if _, err := e.store.Update(ctx, func(s *settings.Settings) error {
		s.AutoStart = false
		return nil
	}); err != nil {
		return failed(what+" failed", "", err)
	}
	e.logger.Info("autostart disabled")
	return succeeded("autostart disabled", "")
}

// ConfigureAutoStart enables or disables autostart. When enabling fails
// because there is nothing to apply, any previous package is removed so the
// flag and the disk never disagree.
func (e *Engine) ConfigureAutoStart(ctx context.Context, enabled bool) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !enabled {
		return e.disableLocked(ctx)
	}
	r := e.enableLocked(ctx)
	if r.OK || r.Kind() != fault.PreconditionUnmet {
		return r
	}
	s, err := e.store.Load(ctx)
	if err == nil && (s.AutoStart || e.module.Exists(ctx)) {
		if d := e.disableLocked(ctx); d.OK {
			r.Message += "; autostart disabled"
		}
	}
	return r
}

// ExportBackup writes a backup bundle of the current record to path.
// The Result's Output holds the bundle id.
func (e *Engine) ExportBackup(ctx context.Context, path string) Result {
	const what = "export backup"
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Load(ctx)
	if err != nil {
		return failed(what+" failed", "", err)
	}
	b, err := e.codec.Export(path, s)
	if err != nil {
		return failed(what+" failed", "", err)
	}
	e.logger.Info("backup exported", "path", path, "id", b.ID)
	return succeeded("backup written to "+path, b.ID)
}

// ValidateBackup reads and validates the bundle at path without importing
// it. The bundle is nil whenever the Result is not OK.
func (e *Engine) ValidateBackup(path string) (*Bundle, Result) {
	b, err := e.codec.Validate(path)
	if err != nil {
		return nil, failed("backup invalid", "", err)
	}
	return b, succeeded(fmt.Sprintf("backup %s from %s (%s) is valid", b.ID, b.Device, b.CreatedAt.Format("2006-01-02 15:04:05")), "")
}

// ImportBackup replaces the whole record with a validated bundle. When
// autostart was enabled before the import or is enabled in the bundle, the
// module package is regenerated once at the end.
func (e *Engine) ImportBackup(ctx context.Context, b *Bundle) Result {
	const what = "import backup"
	if b == nil {
		return failed(what+" failed", "", fault.Newf(fault.ValidationFailed, what, "no bundle"))
	}
	next := b.Settings.Clone()
	next.Normalize()
	if err := next.Validate(); err != nil {
		return invalid(what, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before, err := e.store.Load(ctx)
	if err != nil {
		return failed(what+" failed", "", err)
	}
	wantAutoStart := before.AutoStart || next.AutoStart
	next.AutoStart = before.AutoStart
	if err := e.store.Replace(ctx, next); err != nil {
		return failed(what+" failed", "", err)
	}
	e.logger.Info("backup imported", "id", b.ID)

	r := succeeded("backup imported, "+afterReboot, "")
	if !wantAutoStart {
		return r
	}
	if en := e.enableLocked(ctx); en.OK {
		r.Message += "; autostart package regenerated"
	} else if en.Kind() == fault.PreconditionUnmet {
		if d := e.disableLocked(ctx); d.OK {
			r.Message += "; nothing to autostart, autostart disabled"
		}
	} else {
		r.Message += "; autostart package not regenerated: " + en.Err.Error()
	}
	return r
}

// ResetToDefault restores every setting to its default and, when autostart
// was on, disables it.
func (e *Engine) ResetToDefault(ctx context.Context) Result {
	const what = "reset"
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.Update(ctx, func(s *settings.Settings) error {
		s.Reset()
		return nil
	})
	if err != nil {
		return failed(what+" failed", "", err)
	}
	r := succeeded("settings reset to defaults, "+afterReboot, "")
	if s.AutoStart {
		d := e.disableLocked(ctx)
		if !d.OK {
			return failed("settings reset but disabling autostart failed", "", d.Err)
		}
		r.Message += "; autostart disabled"
	}
	return r
}

// EnabledFeatures reconciles the live feature list with the kernel config
// dump. Both sources are read on every call. It fails only when both do.
func (e *Engine) EnabledFeatures(ctx context.Context) ([]FeatureStatus, error) {
	out, liveErr := e.gw.Run(ctx, shell.Cmd(gateway.Show, gateway.ShowEnabledFeatures))
	kc, dumpErr := ReadKernelConfig(e.cfg.Paths.KernelConfig)

	if liveErr != nil && dumpErr != nil {
		return nil, &fault.Error{
			Kind: fault.KindOf(liveErr),
			Op:   "enabled features",
			Err:  errors.Join(liveErr, dumpErr),
		}
	}

	var live []string
	if liveErr != nil {
		e.logger.Warn("live feature query failed, using kernel config only", "error", liveErr)
	} else {
		live = parseLive(out)
	}
	if dumpErr != nil {
		e.logger.Debug("kernel config unavailable, using live query only", "error", dumpErr)
		kc = nil
	}
	return Reconcile(live, kc), nil
}

// Status collects a report of the version, features, and settings.
func (e *Engine) Status(ctx context.Context) (*Report, error) {
	s, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	features, err := e.EnabledFeatures(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{
		Version:            e.detectVersion(ctx),
		Features:           features,
		Settings:           s,
		AutoStartInstalled: e.module.Exists(ctx),
	}, nil
}

// RenderScript renders the boot script for stage from the current record
// without writing anything.
func (e *Engine) RenderScript(ctx context.Context, stage Stage) (string, error) {
	s, err := e.store.Load(ctx)
	if err != nil {
		return "", err
	}
	gen := script.New(script.Config{
		Binary: e.prov.Path(e.detectVersion(ctx)),
		LogDir: e.cfg.Paths.LogDir,
	})
	return gen.Render(stage, s)
}
