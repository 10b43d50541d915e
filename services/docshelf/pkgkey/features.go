// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pkgkey

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// =============================================================================
// Feature Kind
// =============================================================================

// FeatureKind is the variant of a feature selection.
//
// The numeric order is the variant order used when comparing keys.
type FeatureKind uint8

const (
	// FeaturesDefault builds with the package's default features.
	FeaturesDefault FeatureKind = iota

	// FeaturesAll builds with --all-features.
	FeaturesAll

	// FeaturesDefaultPlus builds with the defaults plus explicit extras.
	FeaturesDefaultPlus

	// FeaturesNoDefault builds with --no-default-features.
	FeaturesNoDefault

	// FeaturesNoDefaultPlus builds without defaults but with explicit extras.
	FeaturesNoDefaultPlus
)

// String returns the variant name.
func (k FeatureKind) String() string {
	switch k {
	case FeaturesDefault:
		return "default"
	case FeaturesAll:
		return "all"
	case FeaturesDefaultPlus:
		return "default+"
	case FeaturesNoDefault:
		return "no-default"
	case FeaturesNoDefaultPlus:
		return "no-default+"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

func (k FeatureKind) hasExtras() bool {
	return k == FeaturesDefaultPlus || k == FeaturesNoDefaultPlus
}

// =============================================================================
// Features
// =============================================================================

// Features is a feature selection.
//
// Extra is only meaningful for the *Plus kinds; it is kept sorted and
// deduplicated so two selections naming the same set compare equal. Build
// values with the constructors below rather than by literal.
type Features struct {
	Kind  FeatureKind `cbor:"kind"`
	Extra []string    `cbor:"extra,omitempty"`
}

// DefaultFeatures selects the default feature set.
func DefaultFeatures() Features { return Features{Kind: FeaturesDefault} }

// AllFeatures selects every feature.
func AllFeatures() Features { return Features{Kind: FeaturesAll} }

// NoDefaultFeatures disables default features.
func NoDefaultFeatures() Features { return Features{Kind: FeaturesNoDefault} }

// DefaultPlus selects the default features plus names.
// An empty names list collapses to DefaultFeatures.
func DefaultPlus(names ...string) Features {
	return newPlus(FeaturesDefaultPlus, FeaturesDefault, names)
}

// NoDefaultPlus disables default features but enables names.
// An empty names list collapses to NoDefaultFeatures.
func NoDefaultPlus(names ...string) Features {
	return newPlus(FeaturesNoDefaultPlus, FeaturesNoDefault, names)
}

func newPlus(kind, bare FeatureKind, names []string) Features {
	extra := normalizeNames(names)
	if len(extra) == 0 {
		return Features{Kind: bare}
	}
	return Features{Kind: kind, Extra: extra}
}

// ParseFeatures builds a selection from cargo-style flags.
//
// Description:
//
//	all wins over everything else, matching cargo. Names may be given as
//	separate entries or comma/space separated within one entry.
func ParseFeatures(all, noDefault bool, names []string) Features {
	if all {
		return AllFeatures()
	}
	var split []string
	for _, n := range names {
		split = append(split, strings.FieldsFunc(n, func(r rune) bool {
			return r == ',' || r == ' '
		})...)
	}
	if noDefault {
		return NoDefaultPlus(split...)
	}
	return DefaultPlus(split...)
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Equal reports whether both selections are identical.
func (f Features) Equal(other Features) bool {
	return f.Compare(other) == 0
}

// Compare orders by variant first, then by the extra names.
func (f Features) Compare(other Features) int {
	if c := cmp.Compare(f.Kind, other.Kind); c != 0 {
		return c
	}
	return slices.Compare(f.Extra, other.Extra)
}

// CargoArgs returns the cargo flags that realise this selection.
func (f Features) CargoArgs() []string {
	var args []string
	switch f.Kind {
	case FeaturesAll:
		args = append(args, "--all-features")
	case FeaturesNoDefault, FeaturesNoDefaultPlus:
		args = append(args, "--no-default-features")
	}
	if f.Kind.hasExtras() && len(f.Extra) > 0 {
		args = append(args, "--features", strings.Join(f.Extra, ","))
	}
	return args
}

// String renders e.g. "default", "all" or "no-default+serde,std".
func (f Features) String() string {
	if f.Kind.hasExtras() {
		return f.Kind.String() + strings.Join(f.Extra, ",")
	}
	return f.Kind.String()
}
