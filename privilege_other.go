//go:build !linux

package kspoof

import "os/exec"

// CanElevate reports whether prefix names a command found in PATH.
func CanElevate(prefix []string) bool {
	if len(prefix) == 0 {
		return false
	}
	_, err := exec.LookPath(prefix[0])
	return err == nil
}
