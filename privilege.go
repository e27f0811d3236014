//go:build linux

package kspoof

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// capSysAdmin matches CAP_SYS_ADMIN in <linux/capability.h>.
const capSysAdmin = 21

// hasEffectiveCapability checks the effective set of the current process
// using capget(2).
func hasEffectiveCapability(cap uint) (bool, error) {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false, err
	}
	return data[cap/32].Effective&(1<<(cap%32)) != 0, nil
}

// CanElevate reports whether privileged lines can run: the process is
// root, holds CAP_SYS_ADMIN, or prefix names a command found in PATH.
func CanElevate(prefix []string) bool {
	if unix.Geteuid() == 0 {
		return true
	}
	if ok, err := hasEffectiveCapability(capSysAdmin); err == nil && ok {
		return true
	}
	if len(prefix) == 0 {
		return false
	}
	_, err := exec.LookPath(prefix[0])
	return err == nil
}
