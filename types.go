package kspoof

import (
	"time"

	"github.com/leodido/kspoof/internal/backup"
	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/script"
	"github.com/leodido/kspoof/internal/settings"
)

// Settings is the persisted desired-state record.
type Settings = settings.Settings

// StatOverride is a parsed 13-field static stat record.
type StatOverride = settings.StatOverride

// UmountMode selects how a forced-unmount entry detaches its mount.
type UmountMode = settings.UmountMode

// Unmount modes.
const (
	UmountNormal = settings.UmountNormal
	UmountDetach = settings.UmountDetach
)

// UmountModeIds maps each unmount mode to its accepted spellings.
var UmountModeIds = settings.UmountModeIds

// StatAttrNames names the twelve stat attributes following the path.
var StatAttrNames = settings.StatAttrNames

// NewStatOverride returns an override for path with every attribute
// defaulted.
func NewStatOverride(path string) StatOverride {
	return settings.NewStatOverride(path)
}

// Bundle is a validated backup snapshot.
type Bundle = backup.Bundle

// BackupFilename returns the conventional bundle file name for t.
func BackupFilename(t time.Time) string {
	return backup.Filename(t)
}

// Stage is a boot lifecycle stage.
type Stage = script.Stage

// Error is a classified failure. Use [errors.As] to inspect its Kind.
type Error = fault.Error

// ErrorKind classifies an [Error].
type ErrorKind = fault.Kind

// Error kinds.
const (
	BinaryUnavailable = fault.BinaryUnavailable
	CommandFailed     = fault.CommandFailed
	PreconditionUnmet = fault.PreconditionUnmet
	ValidationFailed  = fault.ValidationFailed
	IOFailure         = fault.IOFailure
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	return fault.KindOf(err)
}

// Result is the outcome of an engine operation. Operations never panic or
// return bare errors: OK says whether the operation took effect, Message is
// meant for the user, Output carries capability binary diagnostics, and Err
// holds the classified cause on failure.
type Result struct {
	OK      bool
	Message string
	Output  string
	Err     error
}

// Kind returns the kind of r.Err, or fault.Unknown on success.
func (r Result) Kind() ErrorKind {
	return fault.KindOf(r.Err)
}

func succeeded(msg, output string) Result {
	return Result{OK: true, Message: msg, Output: output}
}

func failed(msg, output string, err error) Result {
	if err != nil {
		msg += ": " + err.Error()
	}
	return Result{Message: msg, Output: output, Err: err}
}

// Boot stages, in execution order.
const (
	StagePostFsData    = script.PostFsData
	StagePostMount     = script.PostMount
	StageService       = script.Service
	StageBootCompleted = script.BootCompleted
)

// ParseStage maps a stage name such as "service" to its Stage.
func ParseStage(name string) (Stage, error) {
	return script.ParseStage(name)
}
