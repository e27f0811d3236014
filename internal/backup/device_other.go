//go:build !linux

package backup

import "runtime"

// Device describes the host by its platform on non-Linux builds.
func Device() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
