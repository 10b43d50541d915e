// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache models the lifecycle of documentation artifacts as seen by
// the dashboard and orders them for display.
//
// # Description
//
// An Entry is in exactly one of three stages:
//
//	Pending   - a build was requested, no record exists yet
//	Persisted - a record exists in the index, not parsed
//	Resident  - the record has been parsed and is held in memory
//
// Entries are immutable. A transition returns a new Entry that replaces the
// old one in the Collection; nothing is changed in place.
//
// # Thread Safety
//
// Entry values are safe to share. Collection is owned by a single goroutine
// (the UI loop) and must not be accessed concurrently.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

var loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docshelf_entry_loads_total",
	Help: "Persisted to resident transitions by status",
}, []string{"status"})

// =============================================================================
// Stage
// =============================================================================

// Stage is the lifecycle stage of an Entry.
//
// The numeric order is the group precedence used by the grouped sort
// orders: resident entries first, pending entries last.
type Stage int

const (
	// StageResident means the artifact is parsed and in memory.
	StageResident Stage = iota

	// StagePersisted means a record exists on disk but is not parsed.
	StagePersisted

	// StagePending means a build was requested and has not been recorded.
	StagePending
)

// Label returns the display label of the stage.
func (s Stage) Label() string {
	switch s {
	case StageResident:
		return "Loaded"
	case StagePersisted:
		return "Cached-on-disk"
	case StagePending:
		return "Cached-pending"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	return s.Label()
}

// =============================================================================
// Variants
// =============================================================================

// variant is the closed set of stage payloads.
type variant interface {
	stage() Stage
	key() pkgkey.Key
	startedAt() time.Time
}

type pending struct {
	pkg     pkgkey.Key
	started time.Time
}

func (p pending) stage() Stage         { return StagePending }
func (p pending) key() pkgkey.Key      { return p.pkg }
func (p pending) startedAt() time.Time { return p.started }

type persisted struct {
	record artifact.Record
}

func (p persisted) stage() Stage         { return StagePersisted }
func (p persisted) key() pkgkey.Key      { return p.record.Key }
func (p persisted) startedAt() time.Time { return p.record.StartedAt }

type resident struct {
	record artifact.Record
	doc    *artifact.DocumentTree
}

func (r resident) stage() Stage         { return StageResident }
func (r resident) key() pkgkey.Key      { return r.record.Key }
func (r resident) startedAt() time.Time { return r.record.StartedAt }

// =============================================================================
// Entry
// =============================================================================

// Entry is one tracked artifact.
//
// The zero Entry is not valid; use NewPending or NewPersisted.
type Entry struct {
	v variant

	// version is cached from the key for the identity comparators.
	version pkgkey.Version
}

// NewPending creates a Pending entry stamped with the current time.
// The caller inserts it; nothing is persisted.
func NewPending(key pkgkey.Key) Entry {
	return NewPendingAt(key, time.Now())
}

// NewPendingAt creates a Pending entry with an explicit start time.
func NewPendingAt(key pkgkey.Key, started time.Time) Entry {
	return Entry{v: pending{pkg: key, started: started}, version: key.Version()}
}

// NewPersisted creates a Persisted entry from a record read out of the index.
func NewPersisted(record artifact.Record) Entry {
	return Entry{v: persisted{record: record}, version: record.Key.Version()}
}

// Key returns the package key.
func (e Entry) Key() pkgkey.Key { return e.v.key() }

// StartedAt returns the build start time.
func (e Entry) StartedAt() time.Time { return e.v.startedAt() }

// Stage returns the lifecycle stage.
func (e Entry) Stage() Stage { return e.v.stage() }

// Version returns the cached package version.
func (e Entry) Version() pkgkey.Version { return e.version }

// Record returns the artifact record; ok is false for Pending entries.
func (e Entry) Record() (artifact.Record, bool) {
	switch v := e.v.(type) {
	case persisted:
		return v.record, true
	case resident:
		return v.record, true
	default:
		return artifact.Record{}, false
	}
}

// Document returns the parsed tree of a Resident entry, or nil.
func (e Entry) Document() *artifact.DocumentTree {
	if r, ok := e.v.(resident); ok {
		return r.doc
	}
	return nil
}

// HasKey reports whether e tracks key, whatever its stage.
func (e Entry) HasKey(key pkgkey.Key) bool {
	return e.v.key().Equal(key)
}

// SameKey is the deduplication equality: true iff both entries track the
// same package key, regardless of stage. It is not an ordering.
func (e Entry) SameKey(other Entry) bool {
	return e.HasKey(other.Key())
}

// IsInProgress reports whether e is Pending for key.
func (e Entry) IsInProgress(key pkgkey.Key) bool {
	p, ok := e.v.(pending)
	return ok && p.pkg.Equal(key)
}

// Loadable reports whether Load would attempt a transition.
func (e Entry) Loadable() bool {
	_, ok := e.v.(persisted)
	return ok
}

// Load parses a Persisted entry into a Resident one.
//
// Description:
//
//	Blocks on the parser; there is no timeout beyond ctx. On success the
//	returned entry wraps the same record plus the parsed tree. On failure
//	the original Persisted entry is returned unchanged along with the error,
//	so the record stays usable for a retry. Pending and Resident entries
//	are returned unchanged with a nil error.
//
// Outputs:
//
//	Entry - The Resident entry, or e itself.
//	error - Wraps the parser error when parsing failed.
func (e Entry) Load(ctx context.Context, parser artifact.Parser) (Entry, error) {
	p, ok := e.v.(persisted)
	if !ok {
		return e, nil
	}

	doc, err := parser.Parse(ctx, p.record)
	if err != nil {
		loadsTotal.WithLabelValues("error").Inc()
		return e, fmt.Errorf("load %s: %w", p.record.Key, err)
	}

	loadsTotal.WithLabelValues("ok").Inc()
	return Entry{v: resident{record: p.record, doc: doc}, version: e.version}, nil
}

// DisplayFields is what the presentation layer renders for one entry.
type DisplayFields struct {
	Stage   string
	Name    string
	Version string
}

// DisplayFields returns the stage label, name and version strings.
func (e Entry) DisplayFields() DisplayFields {
	key := e.v.key()
	return DisplayFields{
		Stage:   e.v.stage().Label(),
		Name:    key.Name(),
		Version: key.VersionString(),
	}
}

// LogValue implements slog.LogValuer.
func (e Entry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("pkg_key", e.Key().String()),
		slog.String("stage", e.Stage().Label()),
	)
}
