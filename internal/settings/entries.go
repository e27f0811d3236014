package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// UmountMode selects how the capability layer detaches a mount point.
type UmountMode int

const (
	// UmountNormal performs a plain umount.
	UmountNormal UmountMode = 0
	// UmountDetach performs a lazy (MNT_DETACH) umount.
	UmountDetach UmountMode = 1
)

// UmountModeIds maps each mode to its accepted flag spellings.
var UmountModeIds = map[UmountMode][]string{
	UmountNormal: {"normal", "0"},
	UmountDetach: {"detach", "1"},
}

func (m UmountMode) String() string {
	switch m {
	case UmountNormal:
		return "normal"
	case UmountDetach:
		return "detach"
	default:
		return fmt.Sprintf("UmountMode(%d)", int(m))
	}
}

// Valid reports whether m is one of the known modes.
func (m UmountMode) Valid() bool {
	return m == UmountNormal || m == UmountDetach
}

// UmountEntry is a forced-unmount rule.
type UmountEntry struct {
	Path string
	Mode UmountMode
}

// String encodes the entry as "path|mode".
func (e UmountEntry) String() string {
	return e.Path + "|" + strconv.Itoa(int(e.Mode))
}

// ParseUmountEntry decodes "path|mode". The mode is taken after the last
// separator.
func ParseUmountEntry(s string) (UmountEntry, error) {
	i := strings.LastIndex(s, "|")
	if i < 0 {
		return UmountEntry{}, fmt.Errorf("umount entry %q: missing mode", s)
	}
	path, raw := s[:i], s[i+1:]
	if err := ValidatePath(path); err != nil {
		return UmountEntry{}, fmt.Errorf("umount entry: %w", err)
	}
	if strings.Contains(path, "|") {
		return UmountEntry{}, fmt.Errorf("umount entry %q: path contains separator", s)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return UmountEntry{}, fmt.Errorf("umount entry %q: bad mode: %w", s, err)
	}
	mode := UmountMode(n)
	if !mode.Valid() {
		return UmountEntry{}, fmt.Errorf("umount entry %q: unknown mode %d", s, n)
	}
	return UmountEntry{Path: path, Mode: mode}, nil
}

// StatFieldCount is the number of fields in an encoded stat override.
const StatFieldCount = 13

// StatAttrNames names the twelve attributes following the path, in order.
var StatAttrNames = [StatFieldCount - 1]string{
	"ino", "dev", "nlink", "size",
	"atime", "atime_nsec", "mtime", "mtime_nsec",
	"ctime", "ctime_nsec", "blocks", "blksize",
}

// StatOverride replaces the metadata the capability layer reports for Path.
// Each attribute is either a decimal literal or [Default].
type StatOverride struct {
	Path  string
	Attrs [StatFieldCount - 1]string
}

// NewStatOverride returns an override for path with every attribute defaulted.
func NewStatOverride(path string) StatOverride {
	o := StatOverride{Path: path}
	for i := range o.Attrs {
		o.Attrs[i] = Default
	}
	return o
}

// String encodes the override as 13 pipe-separated fields.
func (o StatOverride) String() string {
	fields := make([]string, 0, StatFieldCount)
	fields = append(fields, o.Path)
	fields = append(fields, o.Attrs[:]...)
	return strings.Join(fields, "|")
}

// Args returns the override as command arguments: path then attributes.
func (o StatOverride) Args() []string {
	return strings.Split(o.String(), "|")
}

// ParseStatOverride decodes a 13-field record.
func ParseStatOverride(s string) (StatOverride, error) {
	fields := strings.Split(s, "|")
	if len(fields) != StatFieldCount {
		return StatOverride{}, fmt.Errorf("stat override %q: got %d fields, want %d", s, len(fields), StatFieldCount)
	}
	o := StatOverride{Path: fields[0]}
	if err := ValidatePath(o.Path); err != nil {
		return StatOverride{}, fmt.Errorf("stat override: %w", err)
	}
	for i, raw := range fields[1:] {
		v := strings.TrimSpace(raw)
		if v == "" {
			return StatOverride{}, fmt.Errorf("stat override %q: %s is blank", s, StatAttrNames[i])
		}
		if v != Default {
			if _, err := strconv.ParseUint(v, 10, 64); err != nil {
				return StatOverride{}, fmt.Errorf("stat override %q: %s: %q is neither a number nor %q", s, StatAttrNames[i], v, Default)
			}
		}
		o.Attrs[i] = v
	}
	return o, nil
}
