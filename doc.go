// Package kspoof configures a kernel spoofing capability layer, remembers the
// configuration, and reproduces it at every boot.
//
// The capability layer is driven only through its privileged userspace
// binary. kspoof provisions the right binary for the running capability
// version, applies changes live, persists them in a SQLite settings store,
// and can install a boot module whose stage scripts re-apply everything
// after a reboot.
//
// # Apply, then persist
//
// Every addition runs the binary first and saves the change only when the
// binary succeeds, so the store never claims something the kernel refused:
//
//	cfg, err := kspoof.LoadConfigFile("/data/adb/kspoof/kspoof.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e, err := kspoof.Open(kspoof.WithConfig(cfg), kspoof.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	if r := e.AddSusPath(ctx, "/data/adb/ksu"); !r.OK {
//	    log.Printf("%s (kind: %s)", r.Message, r.Kind())
//	}
//
// Forced-unmount rules are the exception: they are saved even when the live
// apply fails so they still run at the next boot. Removals have no live undo
// in the capability layer; they are saved and take effect after a reboot.
//
// Without [WithConfig], [Open] reads the file named by $KSPOOF_CONFIG, or
// falls back to [DefaultConfig]. [WithExecutor] replaces the privileged
// shell with any [Executor].
//
// # Autostart
//
// [Engine.EnableAutoStart] writes a module package with one script per
// [Stage]. While autostart is on, every later change regenerates the
// package. Enabling fails with [PreconditionUnmet], touching nothing, when
// there is nothing to apply at boot.
//
// # Feature status
//
// [Engine.EnabledFeatures] reconciles the live feature list reported by the
// binary with the kernel config dump at /proc/config.gz. See [Reconcile] for
// the precedence rules. Status is derived on every call and never cached.
//
// # Backups
//
// [Engine.ExportBackup] writes a versioned, digest-protected bundle.
// [Engine.ValidateBackup] checks one without side effects, and
// [Engine.ImportBackup] replaces the whole record with it.
//
// # Errors
//
// Engine operations return a [Result]. Its Err is an [*Error] whose Kind is
// one of [BinaryUnavailable], [CommandFailed], [PreconditionUnmet],
// [ValidationFailed], or [IOFailure].
package kspoof
