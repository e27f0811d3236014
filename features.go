package kspoof

import "fmt"

// symbolPrefix is shared by every capability-layer kernel config symbol.
const symbolPrefix = "KSU_SUSFS_"

// Feature is a capability-layer feature reported by the kernel.
type Feature int

const (
	// FeatureSusPath hides paths from detection.
	FeatureSusPath Feature = iota
	// FeatureSusMount hides mounts from mount listings.
	FeatureSusMount
	// FeatureAutoDefaultMount registers the root manager's default mounts.
	FeatureAutoDefaultMount
	// FeatureAutoBindMount registers bind mounts automatically.
	FeatureAutoBindMount
	// FeatureSusKstat spoofs stat results.
	FeatureSusKstat
	// FeatureSusOverlayfs hides overlay filesystems.
	FeatureSusOverlayfs
	// FeatureTryUmount force-unmounts registered paths for untrusted apps.
	FeatureTryUmount
	// FeatureAutoTryUmountBind registers bind mounts for forced unmount.
	FeatureAutoTryUmountBind
	// FeatureSpoofUname spoofs the kernel release and build time.
	FeatureSpoofUname
	// FeatureEnableLog toggles the capability layer's kernel log.
	FeatureEnableLog
	// FeatureHideSymbols hides the capability layer's kernel symbols.
	FeatureHideSymbols
	// FeatureSpoofCmdline spoofs /proc/cmdline or bootconfig.
	FeatureSpoofCmdline
	// FeatureOpenRedirect redirects opens of selected paths.
	FeatureOpenRedirect
	// FeatureSusSu hides the su binary.
	FeatureSusSu
	// FeatureSusMap hides entries from /proc/self/maps.
	FeatureSusMap

	featureCount
)

type featureInfo struct {
	name         string
	symbol       string
	configurable bool
}

var catalog = [featureCount]featureInfo{
	FeatureSusPath:           {"SUS path", "SUS_PATH", false},
	FeatureSusMount:          {"SUS mount", "SUS_MOUNT", false},
	FeatureAutoDefaultMount:  {"Auto default mount", "AUTO_ADD_SUS_KSU_DEFAULT_MOUNT", false},
	FeatureAutoBindMount:     {"Auto bind mount", "AUTO_ADD_SUS_BIND_MOUNT", false},
	FeatureSusKstat:          {"SUS kstat", "SUS_KSTAT", false},
	FeatureSusOverlayfs:      {"SUS overlayfs", "SUS_OVERLAYFS", false},
	FeatureTryUmount:         {"Try umount", "TRY_UMOUNT", false},
	FeatureAutoTryUmountBind: {"Auto try umount bind", "AUTO_ADD_TRY_UMOUNT_FOR_BIND_MOUNT", false},
	FeatureSpoofUname:        {"Spoof uname", "SPOOF_UNAME", false},
	FeatureEnableLog:         {"Enable log", "ENABLE_LOG", true},
	FeatureHideSymbols:       {"Hide symbols", "HIDE_KSU_SUSFS_SYMBOLS", false},
	FeatureSpoofCmdline:      {"Spoof cmdline", "SPOOF_CMDLINE_OR_BOOTCONFIG", false},
	FeatureOpenRedirect:      {"Open redirect", "OPEN_REDIRECT", false},
	FeatureSusSu:             {"SUS su", "SUS_SU", false},
	FeatureSusMap:            {"SUS map", "SUS_MAP", false},
}

// Features returns every cataloged feature in declaration order.
func Features() []Feature {
	fs := make([]Feature, 0, featureCount)
	for f := Feature(0); f < featureCount; f++ {
		fs = append(fs, f)
	}
	return fs
}

func (f Feature) valid() bool {
	return f >= 0 && f < featureCount
}

// String returns the display name.
func (f Feature) String() string {
	if !f.valid() {
		return fmt.Sprintf("Feature(%d)", int(f))
	}
	return catalog[f].name
}

// Symbol returns the kernel config symbol without the CONFIG_ prefix.
func (f Feature) Symbol() string {
	if !f.valid() {
		return ""
	}
	return symbolPrefix + catalog[f].symbol
}

// Configurable reports whether the feature can be toggled at runtime.
func (f Feature) Configurable() bool {
	return f.valid() && catalog[f].configurable
}
