// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

// ErrDuplicateInProgress indicates an entry for the key is already tracked.
var ErrDuplicateInProgress = errors.New("package already tracked")

// LineID is a display row position at the time of the last sort.
//
// It does not follow an entry across re-sorts; consumers must re-fetch
// Lines after every mutation.
type LineID int

// Collection is the live, sorted set of entries shown by the dashboard.
//
// Invariants:
//   - at most one entry per package key, whatever its stage
//   - entries are sorted by the current SortKind
//   - len(Lines()) == Len(), with Lines()[i] == LineID(i)
//
// Thread Safety: Not safe for concurrent use. Owned by the UI goroutine;
// other goroutines communicate through the build notification channel.
type Collection struct {
	entries []Entry
	lines   []LineID
	kind    SortKind
}

// NewCollection builds a sorted collection. Entries whose key is already
// present are dropped, keeping the first occurrence.
func NewCollection(kind SortKind, entries ...Entry) *Collection {
	c := &Collection{kind: kind}
	for _, e := range entries {
		if !c.Tracked(e.Key()) {
			c.entries = append(c.entries, e)
		}
	}
	c.resort()
	return c
}

// resort re-derives the order and regenerates the line ids. Called after
// every mutation.
func (c *Collection) resort() {
	c.kind.Sort(c.entries)
	c.lines = make([]LineID, len(c.entries))
	for i := range c.lines {
		c.lines[i] = LineID(i)
	}
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	return len(c.entries)
}

// Lines returns the current row ids.
func (c *Collection) Lines() []LineID {
	return slices.Clone(c.lines)
}

// At returns the entry currently on line.
func (c *Collection) At(line LineID) (Entry, bool) {
	if line < 0 || int(line) >= len(c.entries) {
		return Entry{}, false
	}
	return c.entries[line], true
}

// Entries returns the entries in display order.
func (c *Collection) Entries() []Entry {
	return slices.Clone(c.entries)
}

// SortKind returns the current order.
func (c *Collection) SortKind() SortKind {
	return c.kind
}

// SetSortKind switches the order and re-sorts.
func (c *Collection) SetSortKind(kind SortKind) {
	c.kind = kind
	c.resort()
}

// CycleSort advances to the next order and returns it.
func (c *Collection) CycleSort() SortKind {
	c.SetSortKind(c.kind.Next())
	return c.kind
}

func (c *Collection) indexOf(key pkgkey.Key) int {
	return slices.IndexFunc(c.entries, func(e Entry) bool { return e.HasKey(key) })
}

// Tracked reports whether any entry has key.
func (c *Collection) Tracked(key pkgkey.Key) bool {
	return c.indexOf(key) >= 0
}

// InProgress reports whether a Pending entry exists for key.
func (c *Collection) InProgress(key pkgkey.Key) bool {
	return slices.ContainsFunc(c.entries, func(e Entry) bool { return e.IsInProgress(key) })
}

// Insert adds e. It fails with ErrDuplicateInProgress if the key is
// already tracked in any stage.
func (c *Collection) Insert(e Entry) error {
	if c.Tracked(e.Key()) {
		return ErrDuplicateInProgress
	}
	c.entries = append(c.entries, e)
	c.resort()
	return nil
}

// LoadAt loads the entry on line if it is Persisted.
//
// Description:
//
//	Removes the Persisted entry, runs Entry.Load and inserts the result in
//	its place: the Resident entry on success, the unchanged Persisted entry
//	on failure. The collection is re-sorted either way. Lines that are out of
//	range or hold a non-loadable entry are a no-op.
//
// Outputs:
//
//	bool - True if the entry became Resident.
//	error - The load error; the entry is still present and retryable.
func (c *Collection) LoadAt(ctx context.Context, line LineID, parser artifact.Parser) (bool, error) {
	e, ok := c.At(line)
	if !ok || !e.Loadable() {
		return false, nil
	}

	c.entries = slices.Delete(c.entries, int(line), int(line)+1)
	loaded, err := e.Load(ctx, parser)
	c.entries = append(c.entries, loaded)
	c.resort()
	return err == nil, err
}

// Reconcile merges freshly read index records into the collection.
//
// Description:
//
//	For each record: a Pending entry with the same key is replaced by a
//	Persisted one; an unknown key is inserted as Persisted; Persisted and
//	Resident entries are left as they are, so a Resident entry never
//	reverts.
//
// Outputs:
//
//	int - Number of entries added or promoted.
func (c *Collection) Reconcile(records []artifact.Record) int {
	changed := 0
	for _, r := range records {
		i := c.indexOf(r.Key)
		switch {
		case i < 0:
			c.entries = append(c.entries, NewPersisted(r))
			changed++
		case c.entries[i].Stage() == StagePending:
			c.entries[i] = NewPersisted(r)
			changed++
		}
	}
	if changed > 0 {
		c.resort()
	}
	return changed
}

// Dismiss removes the Pending entry for key, e.g. after its build failed.
// Entries in other stages are never removed.
func (c *Collection) Dismiss(key pkgkey.Key) bool {
	i := slices.IndexFunc(c.entries, func(e Entry) bool { return e.IsInProgress(key) })
	if i < 0 {
		return false
	}
	c.entries = slices.Delete(c.entries, i, i+1)
	c.resort()
	return true
}

// ExpirePending removes Pending entries started more than timeout before
// now and returns their keys. A non-positive timeout disables expiry.
func (c *Collection) ExpirePending(now time.Time, timeout time.Duration) []pkgkey.Key {
	if timeout <= 0 {
		return nil
	}
	var expired []pkgkey.Key
	c.entries = slices.DeleteFunc(c.entries, func(e Entry) bool {
		if e.Stage() == StagePending && now.Sub(e.StartedAt()) > timeout {
			expired = append(expired, e.Key())
			return true
		}
		return false
	})
	if len(expired) > 0 {
		c.resort()
	}
	return expired
}
