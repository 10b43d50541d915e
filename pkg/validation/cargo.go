// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided names before they reach a
// subprocess command line.
//
// Package and feature names come from manifests and flags and end up as
// cargo arguments. Rejecting anything outside cargo's own grammar keeps a
// crafted name from being read as an extra flag.
package validation

import (
	"fmt"
	"regexp"
)

// maxNameLen is the crates.io limit on package names.
const maxNameLen = 64

// packagePattern matches cargo package names: ASCII alphanumerics, '-'
// and '_', not starting with a digit or '-'.
var packagePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// featurePattern matches feature names as given to --features, including
// the "dep:name" and "member/feature" forms.
var featurePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_\-+.]*(?:[:/][A-Za-z0-9_][A-Za-z0-9_\-+.]*)?$`)

// ValidatePackageName validates a cargo package name.
//
// Example:
//
//	if err := validation.ValidatePackageName(desc.Name); err != nil {
//	    return fmt.Errorf("invalid manifest: %w", err)
//	}
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("package name %q is longer than %d characters", name, maxNameLen)
	}
	if !packagePattern.MatchString(name) {
		return fmt.Errorf("invalid package name %q (letters, digits, '-' and '_', not starting with a digit)", name)
	}
	return nil
}

// ValidateFeatureNames validates feature names.
// Returns an error listing all invalid names if any fail validation.
func ValidateFeatureNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if !featurePattern.MatchString(n) {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid feature names: %q", invalid)
	}
	return nil
}
