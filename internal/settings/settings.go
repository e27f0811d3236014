// Package settings defines the persisted desired-state record of the
// capability layer: spoof scalars, overrides, and the named entry sets.
package settings

import (
	"fmt"
	"slices"
	"strings"
)

// Default is the sentinel stored for scalar values that were never customized.
// The capability binary understands it as "keep the real value".
const Default = "default"

// SetName identifies one of the named entry sets.
type SetName int

const (
	// SusPaths are paths hidden from detection.
	SusPaths SetName = iota
	// SusLoopPaths are paths re-hidden whenever they are recreated.
	SusLoopPaths
	// SusMaps are entries hidden from /proc/self/maps.
	SusMaps
	// SusMounts are bind mounts hidden from mount listings.
	SusMounts
	// TryUmounts are forced-unmount entries encoded as "path|mode".
	TryUmounts
	// KstatStatic are 13-field stat override records.
	KstatStatic
	// KstatPaths are paths whose stat is tracked and refreshed after boot.
	KstatPaths

	setCount
)

var setKeys = [setCount]string{
	SusPaths:     "sus_paths",
	SusLoopPaths: "sus_loop_paths",
	SusMaps:      "sus_maps",
	SusMounts:    "sus_mounts",
	TryUmounts:   "try_umounts",
	KstatStatic:  "kstat_static",
	KstatPaths:   "kstat_paths",
}

// String returns the persistence key of the set.
func (n SetName) String() string {
	if n < 0 || n >= setCount {
		return fmt.Sprintf("SetName(%d)", int(n))
	}
	return setKeys[n]
}

// SetNames returns every set name in declaration order.
func SetNames() []SetName {
	names := make([]SetName, 0, setCount)
	for n := SetName(0); n < setCount; n++ {
		names = append(names, n)
	}
	return names
}

// ParseSetName maps a persistence key back to its SetName.
func ParseSetName(key string) (SetName, error) {
	for n, k := range setKeys {
		if k == key {
			return SetName(n), nil
		}
	}
	return 0, fmt.Errorf("unknown set %q", key)
}

// Settings is the full desired-state record.
//
// Sets are kept sorted lexicographically and deduplicated so every consumer
// (scripts, backups, listings) iterates them in the same order.
type Settings struct {
	SpoofRelease        string `cbor:"spoof_release" json:"spoof_release"`
	SpoofBuildTime      string `cbor:"spoof_build_time" json:"spoof_build_time"`
	ExecuteInPostFsData bool   `cbor:"execute_in_post_fs_data" json:"execute_in_post_fs_data"`
	LogEnabled          bool   `cbor:"log_enabled" json:"log_enabled"`
	AndroidDataPath     string `cbor:"android_data_path" json:"android_data_path"`
	SdcardPath          string `cbor:"sdcard_path" json:"sdcard_path"`
	AutoStart           bool   `cbor:"auto_start" json:"auto_start"`

	SusPaths     []string `cbor:"sus_paths" json:"sus_paths"`
	SusLoopPaths []string `cbor:"sus_loop_paths" json:"sus_loop_paths"`
	SusMaps      []string `cbor:"sus_maps" json:"sus_maps"`
	SusMounts    []string `cbor:"sus_mounts" json:"sus_mounts"`
	TryUmounts   []string `cbor:"try_umounts" json:"try_umounts"`
	KstatStatic  []string `cbor:"kstat_static" json:"kstat_static"`
	KstatPaths   []string `cbor:"kstat_paths" json:"kstat_paths"`
}

// Defaults returns the record a fresh install starts from.
func Defaults() Settings {
	return Settings{
		SpoofRelease:    Default,
		SpoofBuildTime:  Default,
		AndroidDataPath: Default,
		SdcardPath:      Default,
	}
}

// Set returns a pointer to the named set's members.
func (s *Settings) Set(name SetName) *[]string {
	switch name {
	case SusPaths:
		return &s.SusPaths
	case SusLoopPaths:
		return &s.SusLoopPaths
	case SusMaps:
		return &s.SusMaps
	case SusMounts:
		return &s.SusMounts
	case TryUmounts:
		return &s.TryUmounts
	case KstatStatic:
		return &s.KstatStatic
	case KstatPaths:
		return &s.KstatPaths
	}
	panic(fmt.Sprintf("settings: unknown set %d", int(name)))
}

// Add inserts member into the named set. It reports false if the member was
// already present.
func (s *Settings) Add(name SetName, member string) bool {
	set := s.Set(name)
	if slices.Contains(*set, member) {
		return false
	}
	*set = append(*set, member)
	slices.Sort(*set)
	return true
}

// Remove deletes member from the named set. It reports false if the member
// was absent.
func (s *Settings) Remove(name SetName, member string) bool {
	set := s.Set(name)
	i := slices.Index(*set, member)
	if i < 0 {
		return false
	}
	*set = slices.Delete(*set, i, i+1)
	if len(*set) == 0 {
		*set = nil
	}
	return true
}

// Normalize sorts and deduplicates every set, drops blank members, and
// collapses empty sets to nil. Empty scalar strings become [Default].
func (s *Settings) Normalize() {
	for _, name := range SetNames() {
		set := s.Set(name)
		out := make([]string, 0, len(*set))
		for _, m := range *set {
			if strings.TrimSpace(m) != "" {
				out = append(out, m)
			}
		}
		slices.Sort(out)
		out = slices.Compact(out)
		if len(out) == 0 {
			out = nil
		}
		*set = out
	}
	for _, p := range []*string{&s.SpoofRelease, &s.SpoofBuildTime, &s.AndroidDataPath, &s.SdcardPath} {
		if strings.TrimSpace(*p) == "" {
			*p = Default
		}
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	for _, name := range SetNames() {
		*c.Set(name) = slices.Clone(*s.Set(name))
	}
	return c
}

// Equal reports whether two records hold the same values.
func (s Settings) Equal(o Settings) bool {
	if s.SpoofRelease != o.SpoofRelease ||
		s.SpoofBuildTime != o.SpoofBuildTime ||
		s.ExecuteInPostFsData != o.ExecuteInPostFsData ||
		s.LogEnabled != o.LogEnabled ||
		s.AndroidDataPath != o.AndroidDataPath ||
		s.SdcardPath != o.SdcardPath ||
		s.AutoStart != o.AutoStart {
		return false
	}
	for _, name := range SetNames() {
		if !slices.Equal(*s.Set(name), *o.Set(name)) {
			return false
		}
	}
	return true
}

// Reset restores every scalar to its sentinel and clears every set.
// AutoStart is left untouched; disabling it requires removing the module.
func (s *Settings) Reset() {
	autostart := s.AutoStart
	*s = Defaults()
	s.AutoStart = autostart
}

// IsCustomized reports whether anything besides the autostart flag and the
// log toggle differs from the defaults: a spoofed uname or build time, or a
// non-empty entry set.
func (s Settings) IsCustomized() bool {
	if s.SpoofRelease != Default || s.SpoofBuildTime != Default {
		return true
	}
	for _, name := range SetNames() {
		if len(*s.Set(name)) > 0 {
			return true
		}
	}
	return false
}

// Validate checks every invariant of the record.
func (s Settings) Validate() error {
	for _, v := range []struct {
		field, value string
	}{
		{"spoof_release", s.SpoofRelease},
		{"spoof_build_time", s.SpoofBuildTime},
	} {
		if err := ValidateUname(v.field, v.value); err != nil {
			return err
		}
	}
	for _, v := range []struct {
		field, value string
	}{
		{"android_data_path", s.AndroidDataPath},
		{"sdcard_path", s.SdcardPath},
	} {
		if v.value == Default {
			continue
		}
		if err := ValidatePath(v.value); err != nil {
			return fmt.Errorf("%s: %w", v.field, err)
		}
	}
	for _, name := range SetNames() {
		for _, m := range *s.Set(name) {
			if err := ValidateMember(name, m); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

// ValidateMember checks a single entry against the invariants of its set.
func ValidateMember(name SetName, member string) error {
	switch name {
	case TryUmounts:
		_, err := ParseUmountEntry(member)
		return err
	case KstatStatic:
		_, err := ParseStatOverride(member)
		return err
	default:
		return ValidatePath(member)
	}
}

// ValidateUname checks one spoofed uname value. field names it in the error.
func ValidateUname(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is blank", field)
	}
	if strings.ContainsAny(value, "\n\r\x00") {
		return fmt.Errorf("%s contains a control character", field)
	}
	return nil
}

// ValidatePath rejects blank, relative, and control-character paths.
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("path is blank")
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q is not absolute", p)
	}
	if strings.ContainsAny(p, "\n\r\x00") {
		return fmt.Errorf("path %q contains a control character", p)
	}
	return nil
}
