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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
)

func assertLines(t *testing.T, c *Collection) {
	t.Helper()
	lines := c.Lines()
	require.Len(t, lines, c.Len())
	for i, l := range lines {
		assert.Equal(t, LineID(i), l)
	}
}

func TestNewCollection_DeduplicatesAndSorts(t *testing.T) {
	c := NewCollection(IdentityAll,
		persistedAt("b", "1.0.0", 1),
		pendingAt("a", "1.0.0", 2),
		persistedAt("a", "1.0.0", 3),
	)

	require.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a@1.0.0", "b@1.0.0"}, names(c.Entries()))
	first, ok := c.At(0)
	require.True(t, ok)
	assert.Equal(t, StagePending, first.Stage(), "first occurrence wins")
	assertLines(t, c)
}

func TestCollection_Empty(t *testing.T) {
	c := NewCollection(RecencyAll)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Lines())
	_, ok := c.At(0)
	assert.False(t, ok)

	c.CycleSort()
	assert.Equal(t, 0, c.Len())
}

func TestCollection_InsertRejectsTrackedKey(t *testing.T) {
	c := NewCollection(RecencyAll, persistedAt("a", "1.0.0", 1))

	err := c.Insert(pendingAt("a", "1.0.0", 5))
	assert.ErrorIs(t, err, ErrDuplicateInProgress)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Insert(pendingAt("a", "2.0.0", 5)))
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.InProgress(key("a", "2.0.0")))
	assert.False(t, c.InProgress(key("a", "1.0.0")))

	err = c.Insert(pendingAt("a", "2.0.0", 6))
	assert.ErrorIs(t, err, ErrDuplicateInProgress)
	assertLines(t, c)
}

func TestCollection_CycleSort(t *testing.T) {
	c := NewCollection(RecencyAll, exampleEntries(t)...)
	assert.Equal(t, []string{"a@1.0.0", "a@2.0.0", "b@1.0.0"}, names(c.Entries()))

	assert.Equal(t, IdentityAll, c.CycleSort())
	assert.Equal(t, RecencyGrouped, c.CycleSort())
	assert.Equal(t, []string{"b@1.0.0", "a@2.0.0", "a@1.0.0"}, names(c.Entries()))
	assert.Equal(t, IdentityGrouped, c.CycleSort())
	assert.Equal(t, RecencyAll, c.CycleSort())
	assertLines(t, c)
}

func TestCollection_LoadAt(t *testing.T) {
	c := NewCollection(RecencyGrouped,
		persistedAt("a", "1.0.0", 1),
		persistedAt("b", "1.0.0", 2),
	)
	// b is newest, so it is on line 0.
	loaded, err := c.LoadAt(context.Background(), 0, &stubParser{doc: &artifact.DocumentTree{}})
	require.NoError(t, err)
	assert.True(t, loaded)

	first, _ := c.At(0)
	assert.Equal(t, "b", first.Key().Name())
	assert.Equal(t, StageResident, first.Stage())
	assert.Equal(t, 2, c.Len())
	assertLines(t, c)

	// loading a resident entry is a no-op
	parser := &stubParser{doc: &artifact.DocumentTree{}}
	loaded, err = c.LoadAt(context.Background(), 0, parser)
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Zero(t, parser.calls)
}

func TestCollection_LoadAtFailureKeepsEntry(t *testing.T) {
	c := NewCollection(RecencyAll, persistedAt("a", "1.0.0", 1), pendingAt("p", "1.0.0", 0))
	parseErr := errors.New("truncated")

	loaded, err := c.LoadAt(context.Background(), 0, &stubParser{err: parseErr})
	assert.ErrorIs(t, err, parseErr)
	assert.False(t, loaded)
	require.Equal(t, 2, c.Len())
	assert.True(t, c.Tracked(key("a", "1.0.0")))

	e, _ := c.At(0)
	assert.Equal(t, StagePersisted, e.Stage())

	loaded, err = c.LoadAt(context.Background(), 0, &stubParser{doc: &artifact.DocumentTree{}})
	require.NoError(t, err)
	assert.True(t, loaded, "retry after a failed load should succeed")
}

func TestCollection_LoadAtOutOfRange(t *testing.T) {
	c := NewCollection(RecencyAll, pendingAt("a", "1.0.0", 1))
	for _, line := range []LineID{-1, 1, 99, 0} {
		loaded, err := c.LoadAt(context.Background(), line, &stubParser{})
		assert.NoError(t, err)
		assert.False(t, loaded)
	}
	assert.Equal(t, 1, c.Len())
}

func TestCollection_Reconcile(t *testing.T) {
	c := NewCollection(RecencyGrouped,
		pendingAt("a", "1.0.0", 10),
		residentAt(t, "r", "1.0.0", 5),
		pendingAt("still", "1.0.0", 11),
	)

	records := []artifact.Record{
		recordFor(key("a", "1.0.0"), at(12)),
		recordFor(key("r", "1.0.0"), at(5)),
		recordFor(key("new", "0.1.0"), at(3)),
	}
	changed := c.Reconcile(records)
	assert.Equal(t, 2, changed)
	require.Equal(t, 4, c.Len())

	stages := map[string]Stage{}
	for _, e := range c.Entries() {
		stages[e.Key().Name()] = e.Stage()
	}
	assert.Equal(t, StagePersisted, stages["a"])
	assert.Equal(t, StageResident, stages["r"], "resident entries never revert")
	assert.Equal(t, StagePersisted, stages["new"])
	assert.Equal(t, StagePending, stages["still"])
	assertLines(t, c)

	assert.Zero(t, c.Reconcile(records), "reconcile is idempotent")
}

func TestCollection_Dismiss(t *testing.T) {
	c := NewCollection(RecencyAll, pendingAt("a", "1.0.0", 1), persistedAt("b", "1.0.0", 2))

	assert.False(t, c.Dismiss(key("b", "1.0.0")), "only pending entries are dismissed")
	assert.True(t, c.Dismiss(key("a", "1.0.0")))
	assert.False(t, c.Dismiss(key("a", "1.0.0")))
	assert.Equal(t, 1, c.Len())
	assertLines(t, c)
}

func TestCollection_ExpirePending(t *testing.T) {
	c := NewCollection(RecencyAll,
		pendingAt("old", "1.0.0", 0),
		pendingAt("fresh", "1.0.0", 3000),
		persistedAt("disk", "1.0.0", 0),
	)
	now := at(3600)

	assert.Nil(t, c.ExpirePending(now, 0))

	expired := c.ExpirePending(now, 30*time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].Name())
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Tracked(key("disk", "1.0.0")))
	assertLines(t, c)
}
