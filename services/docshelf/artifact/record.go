// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact holds the on-disk side of a documentation artifact:
// the persisted Record that points at it, the compressed artifact files,
// and the parser that turns a file back into a DocumentTree.
package artifact

import (
	"time"

	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

// Record is the persisted metadata of one produced artifact.
//
// Records are written once by the builder and never modified.
type Record struct {
	Key pkgkey.Key `cbor:"key"`

	// StartedAt is when the build was requested; it is the timestamp the
	// recency orders sort by.
	StartedAt time.Time `cbor:"started_at"`

	// FinishedAt is when the artifact was written.
	FinishedAt time.Time `cbor:"finished_at"`

	// BuildID identifies the build that produced the artifact.
	BuildID string `cbor:"build_id"`

	// Path locates the artifact file, relative to the Store directory.
	Path string `cbor:"path"`

	// Size is the compressed artifact size in bytes.
	Size int64 `cbor:"size"`
}

// Duration is how long the build took.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
