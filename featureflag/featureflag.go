package featureflag

import (
	"sort"
	"strings"
)

// FeatureFlag is the set of flags enabled on a deepzoom process.
type FeatureFlag map[Flag]struct{}

// New returns the feature flags named in flags. Names are trimmed and empty
// names are ignored, which makes a split comma separated env value safe to
// pass as is.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag, len(flags))
	for _, f := range flags {
		if f = strings.TrimSpace(f); f != "" {
			featureFlag[Flag(f)] = struct{}{}
		}
	}
	return featureFlag
}

// IsSet reports whether flag is enabled. A nil FeatureFlag has no flag set.
func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// IfSet runs do when flag is enabled.
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if f.IsSet(flag) {
		do()
	}
}

// IfNotSet runs do when flag is not enabled.
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if !f.IsSet(flag) {
		do()
	}
}

// List returns the enabled flags in lexical order.
func (f FeatureFlag) List() []string {
	flags := make([]string, 0, len(f))
	for flag := range f {
		flags = append(flags, string(flag))
	}
	sort.Strings(flags)
	return flags
}
