// Package fault defines the error taxonomy shared by every kspoof component.
//
// Components convert raw platform errors (exec, gzip, SQLite, CBOR) into a
// *[Error] at their public boundary so callers can branch on [Kind] with
// [errors.As] or [Is] instead of matching strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Unknown is the zero Kind; it never describes a real failure.
	Unknown Kind = iota
	// BinaryUnavailable means the capability binary asset is missing or the
	// privileged install/verify step failed.
	BinaryUnavailable
	// CommandFailed means the capability binary ran but exited non-zero.
	CommandFailed
	// PreconditionUnmet means an operation's precondition does not hold,
	// e.g. enabling autostart with nothing to apply.
	PreconditionUnmet
	// ValidationFailed means input (usually a backup bundle) is malformed
	// or incompatible.
	ValidationFailed
	// IOFailure covers filesystem and persistence failures.
	IOFailure
)

var kindNames = map[Kind]string{
	Unknown:           "unknown",
	BinaryUnavailable: "binary unavailable",
	CommandFailed:     "command failed",
	PreconditionUnmet: "precondition unmet",
	ValidationFailed:  "validation failed",
	IOFailure:         "i/o failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "provision" or "add_sus_path".
	Op string
	// Detail carries diagnostics such as captured command output.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns an *Error of the given kind with a formatted detail.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
