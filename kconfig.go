package kspoof

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoKernelConfig is returned when the kernel config dump cannot be read.
var ErrNoKernelConfig = errors.New("no kernel config found")

// DefaultKernelConfigPath is the gzip dump exported by CONFIG_IKCONFIG_PROC.
const DefaultKernelConfigPath = "/proc/config.gz"

const notSetSuffix = " is not set"

// ConfigValue is the state of a kernel config symbol in the dump.
type ConfigValue string

const (
	// ConfigBuiltin means the symbol is set to =y.
	ConfigBuiltin ConfigValue = "y"
	// ConfigNotSet means the dump carries "# CONFIG_X is not set".
	ConfigNotSet ConfigValue = "not_set"
)

// IsBuiltin returns true if the symbol is set to =y.
func (v ConfigValue) IsBuiltin() bool {
	return v == ConfigBuiltin
}

// IsNotSet returns true if the dump explicitly marks the symbol as not set.
func (v ConfigValue) IsNotSet() bool {
	return v == ConfigNotSet
}

func (v ConfigValue) String() string {
	if v == "" {
		return "absent"
	}
	return string(v)
}

// KernelConfig holds the parsed kernel configuration dump.
// Keys do not include the CONFIG_ prefix.
type KernelConfig struct {
	raw map[string]ConfigValue
}

// NewKernelConfig creates a KernelConfig from a raw config map.
// The map is copied to ensure immutability after construction.
func NewKernelConfig(raw map[string]ConfigValue) *KernelConfig {
	copied := make(map[string]ConfigValue, len(raw))
	for k, v := range raw {
		copied[k] = v
	}
	return &KernelConfig{raw: copied}
}

// Get returns the value for key, or "" when the dump does not mention it.
func (kc *KernelConfig) Get(key string) ConfigValue {
	v, _ := kc.Lookup(key)
	return v
}

// Lookup returns the value for key and whether the dump mentions it.
func (kc *KernelConfig) Lookup(key string) (ConfigValue, bool) {
	if kc == nil || kc.raw == nil {
		return "", false
	}
	v, ok := kc.raw[strings.TrimPrefix(key, "CONFIG_")]
	return v, ok
}

// Len returns the number of symbols in the dump.
func (kc *KernelConfig) Len() int {
	if kc == nil {
		return 0
	}
	return len(kc.raw)
}

// ReadKernelConfig reads and parses the dump at path. Paths ending in .gz
// are decompressed.
func ReadKernelConfig(path string) (*KernelConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoKernelConfig, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNoKernelConfig, path, err)
		}
		defer gr.Close()
		reader = gr
	}

	kc, err := parseConfig(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoKernelConfig, path, err)
	}
	return kc, nil
}

// parseConfig parses the three line shapes of a kernel config dump:
// CONFIG_X=y, "# CONFIG_X is not set", and CONFIG_X=<value>.
func parseConfig(r io.Reader) (*KernelConfig, error) {
	raw := make(map[string]ConfigValue)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "# CONFIG_"); ok {
			if key, ok := strings.CutSuffix(rest, notSetSuffix); ok && key != "" {
				raw[key] = ConfigNotSet
			}
			continue
		}

		rest, ok := strings.CutPrefix(line, "CONFIG_")
		if !ok {
			continue
		}
		key, value, ok := strings.Cut(rest, "=")
		if !ok || key == "" {
			continue
		}
		raw[key] = ConfigValue(value)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return NewKernelConfig(raw), nil
}
