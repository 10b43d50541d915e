// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pkgkey defines the identity of a documentation artifact.
//
// # Description
//
// A Key is (name, version, feature selection). Key equality is the sole
// basis for deciding whether a package is already tracked, and keys are
// totally ordered by name, then version, then feature selection so that
// collections of artifacts sort deterministically.
//
// # Thread Safety
//
// Key, Version and Features are immutable values and safe to share.
package pkgkey

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyName indicates a key was constructed without a package name.
var ErrEmptyName = errors.New("package name is empty")

// Key identifies one documentation artifact.
type Key struct {
	name     string
	version  Version
	features Features
}

// New constructs a Key.
//
// Inputs:
//
//	name - Package name. Must not be empty.
//	version - Package version.
//	features - Feature selection; extras are normalised.
//
// Outputs:
//
//	Key - The key.
//	error - ErrEmptyName if name is blank.
func New(name string, version Version, features Features) (Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Key{}, ErrEmptyName
	}
	return Key{name: name, version: version, features: normalize(features)}, nil
}

// MustNew is New for literals known to be valid, mostly in tests.
func MustNew(name, version string, features Features) Key {
	k, err := New(name, MustParseVersion(version), features)
	if err != nil {
		panic(err)
	}
	return k
}

func normalize(f Features) Features {
	switch f.Kind {
	case FeaturesDefaultPlus:
		return DefaultPlus(f.Extra...)
	case FeaturesNoDefaultPlus:
		return NoDefaultPlus(f.Extra...)
	default:
		return Features{Kind: f.Kind}
	}
}

// Name returns the package name.
func (k Key) Name() string { return k.name }

// Version returns the package version.
func (k Key) Version() Version { return k.version }

// VersionString returns the version for display.
func (k Key) VersionString() string { return k.version.String() }

// Features returns a copy of the feature selection.
func (k Key) Features() Features {
	f := k.features
	if f.Extra != nil {
		f.Extra = append([]string(nil), f.Extra...)
	}
	return f
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k.name == "" }

// Equal reports whether two keys name the same artifact.
func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0
}

// Compare orders keys by name, then version, then feature selection.
// Each component is only consulted when the previous ones are equal.
func (k Key) Compare(other Key) int {
	if c := strings.Compare(k.name, other.name); c != 0 {
		return c
	}
	if c := k.version.Compare(other.version); c != 0 {
		return c
	}
	return k.features.Compare(other.features)
}

// String renders "name@1.2.3" with a "[features]" suffix for non-default
// selections. The result is unique per key and usable as a map key.
func (k Key) String() string {
	s := fmt.Sprintf("%s@%s", k.name, k.version)
	if k.features.Kind != FeaturesDefault {
		s += "[" + k.features.String() + "]"
	}
	return s
}
