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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/AleutianAI/docshelf/pkg/validation"
)

// ManifestName is the file ReadManifest looks for in a source directory.
const ManifestName = "Cargo.toml"

// ErrNoPackage indicates a manifest has no [package] table (e.g. a
// virtual workspace manifest).
var ErrNoPackage = errors.New("manifest has no [package] table")

// Descriptor describes a package to build: what a build request names.
type Descriptor struct {
	Name     string
	Version  Version
	Features Features

	// Available lists the features declared in the manifest, sorted.
	// Informational; it does not take part in the key.
	Available []string

	// LibName is the [lib] name override, if the manifest sets one.
	LibName string
}

// Key returns the identity the build of d will be recorded under.
func (d Descriptor) Key() (Key, error) {
	return New(d.Name, d.Version, d.Features)
}

// CrateName is the library target name; rustdoc names its JSON output
// after it. An explicit [lib] name wins over the package name.
func (d Descriptor) CrateName() string {
	if d.LibName != "" {
		return strings.ReplaceAll(d.LibName, "-", "_")
	}
	return strings.ReplaceAll(d.Name, "-", "_")
}

type cargoManifest struct {
	Package *struct {
		Name    string `toml:"name"`
		Version any    `toml:"version"`
	} `toml:"package"`
	Lib *struct {
		Name string `toml:"name"`
	} `toml:"lib"`
	Features map[string][]string `toml:"features"`
}

// ReadManifest reads the Cargo.toml in dir into a Descriptor with the
// default feature selection.
//
// Description:
//
//	Only the [package] name/version, the [lib] name and the [features]
//	table are read.
//	Workspace-inherited versions ({ workspace = true }) are rejected since
//	resolving them needs the workspace root.
//
// Outputs:
//
//	Descriptor - Name, version and declared features.
//	error - Non-nil if the file is missing or malformed.
func ReadManifest(dir string) (Descriptor, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read manifest: %w", err)
	}

	var m cargoManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Descriptor{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Package == nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, ErrNoPackage)
	}

	if err := validation.ValidatePackageName(m.Package.Name); err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}

	raw, ok := m.Package.Version.(string)
	if !ok {
		return Descriptor{}, fmt.Errorf("%s: package.version must be a literal string", path)
	}
	version, err := ParseVersion(raw)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}

	available := make([]string, 0, len(m.Features))
	for name := range m.Features {
		available = append(available, name)
	}
	sort.Strings(available)

	var libName string
	if m.Lib != nil && m.Lib.Name != "" {
		if err := validation.ValidatePackageName(m.Lib.Name); err != nil {
			return Descriptor{}, fmt.Errorf("%s: lib.name: %w", path, err)
		}
		libName = m.Lib.Name
	}

	return Descriptor{
		Name:      m.Package.Name,
		Version:   version,
		Features:  DefaultFeatures(),
		Available: available,
		LibName:   libName,
	}, nil
}
