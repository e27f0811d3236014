package kspoof

import (
	"sort"
	"strings"
)

// Source names which information source decided a feature's status.
type Source int

const (
	// SourceNone means neither source mentions the feature.
	SourceNone Source = iota
	// SourceLive means the running capability layer listed the feature.
	SourceLive
	// SourceDump means the kernel config dump decided.
	SourceDump
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceDump:
		return "dump"
	default:
		return "none"
	}
}

// FeatureStatus is the reconciled state of one feature. It is derived on
// every query and never cached.
type FeatureStatus struct {
	Feature      Feature `json:"-"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	Enabled      bool    `json:"enabled"`
	Configurable bool    `json:"configurable"`
	Source       Source  `json:"-"`
	// Value is the dump value when the dump decided, e.g. "y" or "not_set".
	Value ConfigValue `json:"value,omitempty"`
}

// Reconcile merges the live feature list with the kernel config dump.
//
// For each cataloged feature, in this order: listed live means enabled;
// dump "y" means enabled; dump "not_set" means disabled; anything else,
// including literal dump values and absence from both sources, means
// disabled. Either input may be nil when its source failed. The result is
// sorted by display name.
func Reconcile(live []string, kc *KernelConfig) []FeatureStatus {
	listed := make(map[string]bool, len(live))
	for _, sym := range live {
		listed[normalizeSymbol(sym)] = true
	}

	out := make([]FeatureStatus, 0, featureCount)
	for _, f := range Features() {
		st := FeatureStatus{
			Feature:      f,
			Name:         f.String(),
			Symbol:       f.Symbol(),
			Configurable: f.Configurable(),
		}
		value, inDump := kc.Lookup(f.Symbol())
		switch {
		case listed[f.Symbol()]:
			st.Enabled = true
			st.Source = SourceLive
		case inDump && value.IsBuiltin():
			st.Enabled = true
			st.Source = SourceDump
			st.Value = value
		case inDump:
			// not_set and literal values both read as disabled.
			st.Source = SourceDump
			st.Value = value
		}
		out = append(out, st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// parseLive splits the live "show enabled_features" output into symbols.
func parseLive(output string) []string {
	var syms []string
	for _, line := range strings.Split(output, "\n") {
		if s := normalizeSymbol(line); s != "" {
			syms = append(syms, s)
		}
	}
	return syms
}

func normalizeSymbol(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "CONFIG_")
}

// AnyEnabled reports whether at least one status is enabled.
func AnyEnabled(statuses []FeatureStatus) bool {
	for _, st := range statuses {
		if st.Enabled {
			return true
		}
	}
	return false
}
