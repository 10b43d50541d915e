// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder produces documentation artifacts out of process and
// reports each finished build on a notification channel.
//
// A build is fire-and-forget from the caller's point of view: Build returns
// at once, the artifact and its index record are written in the
// background, and exactly one Completion is sent per request.
package builder

import (
	"errors"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

var (
	// ErrBuildFailed wraps failures of the documentation command.
	ErrBuildFailed = errors.New("documentation build failed")

	// ErrOutputMissing indicates the command succeeded but left no JSON.
	ErrOutputMissing = errors.New("documentation output missing")

	// ErrBuilderClosed is reported for requests made after Close.
	ErrBuilderClosed = errors.New("builder closed")
)

// Request asks for one package to be documented.
type Request struct {
	// OutputDir is the storage directory; artifacts land in its
	// artifact subdirectory.
	OutputDir string

	// SourceDir is the package directory holding the manifest.
	SourceDir string

	// Descriptor identifies the package and its feature selection.
	Descriptor pkgkey.Descriptor
}

// Completion is the notification for one finished build.
//
// Record is only meaningful when Err is nil.
type Completion struct {
	Key    pkgkey.Key
	Record artifact.Record
	Err    error
}

// OK reports whether the build produced a record.
func (c Completion) OK() bool {
	return c.Err == nil
}

// Builder starts builds.
//
// Build must not block on the build itself. Exactly one Completion is sent
// on notify for each call, unless the builder is closed first.
type Builder interface {
	Build(req Request, notify chan<- Completion)
}
