//go:build linux

package backup

import (
	"strings"

	"golang.org/x/sys/unix"
)

// Device describes the host as "<nodename> <sysname> <release> <machine>"
// from uname(2). It returns "unknown" when uname fails.
func Device() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "unknown"
	}
	fields := []string{
		unix.ByteSliceToString(u.Nodename[:]),
		unix.ByteSliceToString(u.Sysname[:]),
		unix.ByteSliceToString(u.Release[:]),
		unix.ByteSliceToString(u.Machine[:]),
	}
	return strings.Join(fields, " ")
}
