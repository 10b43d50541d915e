// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/builder"
	"github.com/AleutianAI/docshelf/services/docshelf/cache"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

// ErrAlreadyCached indicates a build was requested for a key that already
// has a record.
var ErrAlreadyCached = errors.New("package already cached")

// ShelfOption configures a Shelf.
type ShelfOption func(*Shelf)

// WithSortKind sets the initial order.
func WithSortKind(kind cache.SortKind) ShelfOption {
	return func(s *Shelf) {
		s.coll.SetSortKind(kind)
	}
}

// WithPendingTimeout sets the age after which Expire drops pending
// entries. Zero disables expiry.
func WithPendingTimeout(d time.Duration) ShelfOption {
	return func(s *Shelf) {
		s.pendingTimeout = d
	}
}

// Shelf binds a Manager to the entry collection shown by the dashboard.
//
// Thread Safety: Not safe for concurrent use. Owned by the UI goroutine.
type Shelf struct {
	m              *Manager
	coll           *cache.Collection
	pendingTimeout time.Duration
	logger         *slog.Logger
}

// NewShelf returns an empty shelf. Call Refresh to populate it.
func NewShelf(m *Manager, opts ...ShelfOption) *Shelf {
	s := &Shelf{
		m:      m,
		coll:   cache.NewCollection(cache.RecencyAll),
		logger: m.logger.With(slog.String("component", "shelf")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manager returns the underlying manager.
func (s *Shelf) Manager() *Manager {
	return s.m
}

// Entries returns the entries in display order.
func (s *Shelf) Entries() []cache.Entry {
	return s.coll.Entries()
}

// Lines returns the row ids of the current order.
func (s *Shelf) Lines() []cache.LineID {
	return s.coll.Lines()
}

// Len returns the number of entries.
func (s *Shelf) Len() int {
	return s.coll.Len()
}

// At returns the entry on line.
func (s *Shelf) At(line cache.LineID) (cache.Entry, bool) {
	return s.coll.At(line)
}

// SortKind returns the current order.
func (s *Shelf) SortKind() cache.SortKind {
	return s.coll.SortKind()
}

// CycleSort advances to the next order.
func (s *Shelf) CycleSort() cache.SortKind {
	return s.coll.CycleSort()
}

// Refresh reads the index and merges its records.
//
// Outputs:
//
//	int - Entries added or promoted from pending.
//	error - The read error; the collection is unchanged.
func (s *Shelf) Refresh(ctx context.Context) (int, error) {
	records, err := s.m.ReadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	return s.coll.Reconcile(records), nil
}

// RequestBuild starts a build for desc and tracks it as pending.
//
// Description:
//
//	Checks uniqueness first: a key that is pending fails with
//	cache.ErrDuplicateInProgress, a key with a record fails with
//	ErrAlreadyCached. Only then is the build triggered, and the pending
//	entry inserted before the builder can report back.
func (s *Shelf) RequestBuild(sourceDir string, desc pkgkey.Descriptor) (pkgkey.Key, error) {
	key, err := desc.Key()
	if err != nil {
		return pkgkey.Key{}, err
	}
	switch {
	case s.coll.InProgress(key):
		return key, fmt.Errorf("%s: %w", key, cache.ErrDuplicateInProgress)
	case s.coll.Tracked(key):
		return key, fmt.Errorf("%s: %w", key, ErrAlreadyCached)
	}

	key, ok := s.m.TriggerBuild(sourceDir, desc)
	if !ok {
		return pkgkey.Key{}, ErrEnvironmentUnavailable
	}
	if err := s.coll.Insert(cache.NewPending(key)); err != nil {
		return key, err
	}
	return key, nil
}

// HandleCompletion applies one builder notification.
//
// Description:
//
//	A failed build dismisses its pending entry and returns the build error.
//	A successful build re-reads the index and reconciles; if the index
//	cannot be read, the record carried by the notification is used.
func (s *Shelf) HandleCompletion(ctx context.Context, c builder.Completion) error {
	if !c.OK() {
		if s.coll.Dismiss(c.Key) {
			s.logger.Warn("build failed, pending entry dismissed",
				slog.String("pkg_key", c.Key.String()),
				slog.String("error", c.Err.Error()),
			)
		}
		return c.Err
	}

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("index re-read failed after build", slog.String("error", err.Error()))
		s.coll.Reconcile([]artifact.Record{c.Record})
	}
	return nil
}

// Load parses the entry on line into memory.
func (s *Shelf) Load(ctx context.Context, line cache.LineID) (bool, error) {
	e, ok := s.coll.At(line)
	loaded, err := s.coll.LoadAt(ctx, line, s.m.Parser())
	switch {
	case err != nil:
		s.logger.Warn("load failed", slog.Any("entry", e), slog.String("error", err.Error()))
	case loaded && ok:
		s.logger.Info("loaded", slog.Any("entry", e))
	}
	return loaded, err
}

// Dismiss drops the pending entry on line.
func (s *Shelf) Dismiss(line cache.LineID) bool {
	e, ok := s.coll.At(line)
	if !ok {
		return false
	}
	return s.coll.Dismiss(e.Key())
}

// Expire drops pending entries older than the pending timeout.
func (s *Shelf) Expire(now time.Time) []pkgkey.Key {
	expired := s.coll.ExpirePending(now, s.pendingTimeout)
	for _, k := range expired {
		s.logger.Warn("pending build expired", slog.String("pkg_key", k.String()))
	}
	return expired
}
