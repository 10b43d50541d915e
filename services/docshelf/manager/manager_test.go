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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/builder"
	"github.com/AleutianAI/docshelf/services/docshelf/cache"
	"github.com/AleutianAI/docshelf/services/docshelf/config"
	"github.com/AleutianAI/docshelf/services/docshelf/index"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

// fakeBuilder records requests. Unless hold is set it writes a record
// (or reports fail) before returning.
type fakeBuilder struct {
	m        *Manager
	requests []builder.Request
	fail     error
	hold     bool
	doc      string
}

func (f *fakeBuilder) Build(req builder.Request, notify chan<- builder.Completion) {
	f.requests = append(f.requests, req)
	if f.hold {
		return
	}
	key, _ := req.Descriptor.Key()
	if f.fail != nil {
		notify <- builder.Completion{Key: key, Err: f.fail}
		return
	}

	id := "build-" + key.Name()
	store := artifact.NewStore(filepath.Join(req.OutputDir, artifact.DirName))
	path, size, err := store.Write(id, strings.NewReader(f.doc))
	if err != nil {
		notify <- builder.Completion{Key: key, Err: err}
		return
	}
	now := time.Now()
	rec := artifact.Record{Key: key, StartedAt: now, FinishedAt: now, BuildID: id, Path: path, Size: size}
	if err := f.m.index.Put(context.Background(), rec); err != nil {
		notify <- builder.Completion{Key: key, Err: err}
		return
	}
	notify <- builder.Completion{Key: key, Record: rec}
}

const validDoc = `{"root":"0","format_version":30,"index":{"0":{"name":"demo"}},"paths":{}}`

func newManager(t *testing.T) (*Manager, *fakeBuilder) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	fb := &fakeBuilder{doc: validDoc}

	m, err := Initialize(Options{Config: cfg, Builder: fb})
	require.NoError(t, err)
	fb.m = m
	t.Cleanup(func() { m.Close() })
	return m, fb
}

func desc(name, version string) pkgkey.Descriptor {
	return pkgkey.Descriptor{Name: name, Version: pkgkey.MustParseVersion(version), Features: pkgkey.DefaultFeatures()}
}

func receive(t *testing.T, m *Manager) builder.Completion {
	t.Helper()
	select {
	case c := <-m.Notifications():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
		return builder.Completion{}
	}
}

// =============================================================================
// Manager
// =============================================================================

func TestInitialize_CreatesStorage(t *testing.T) {
	m, _ := newManager(t)

	assert.False(t, m.Inert())
	assert.DirExists(t, filepath.Join(m.Dir(), artifact.DirName))
	assert.NotNil(t, m.Notifications())
	assert.NotNil(t, m.Parser())
}

func TestInitialize_InertOnUnusableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg := config.Default()
	cfg.DataDir = filepath.Join(file, "sub")

	m, err := Initialize(Options{Config: cfg, Builder: &fakeBuilder{}})
	require.ErrorIs(t, err, ErrEnvironmentUnavailable)
	require.NotNil(t, m)
	assert.True(t, m.Inert())
	assert.Empty(t, m.Dir())
	assert.Nil(t, m.Notifications())

	key, ok := m.TriggerBuild(t.TempDir(), desc("demo", "1.0.0"))
	assert.False(t, ok)
	assert.True(t, key.IsZero())

	records, err := m.ReadAllRecords(context.Background())
	assert.ErrorIs(t, err, ErrEnvironmentUnavailable)
	assert.Empty(t, records)

	_, err = m.Parser().Parse(context.Background(), artifact.Record{})
	assert.ErrorIs(t, err, ErrEnvironmentUnavailable)
	assert.NoError(t, m.Close())
}

func TestInitialize_DefaultBuilder(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	m, err := Initialize(Options{Config: cfg})
	require.NoError(t, err)
	_, ok := m.builder.(*builder.CargoBuilder)
	assert.True(t, ok)
	assert.NoError(t, m.Close())
}

func TestReadAllRecords_EmptyBeforeFirstBuild(t *testing.T) {
	m, _ := newManager(t)

	records, err := m.ReadAllRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTriggerBuild_ReturnsKeyAndDelegates(t *testing.T) {
	m, fb := newManager(t)
	fb.hold = true
	src := t.TempDir()

	key, ok := m.TriggerBuild(src, desc("demo", "1.2.0"))
	require.True(t, ok)
	assert.Equal(t, "demo@1.2.0", key.String())

	require.Len(t, fb.requests, 1)
	assert.Equal(t, m.Dir(), fb.requests[0].OutputDir)
	assert.Equal(t, src, fb.requests[0].SourceDir)
}

func TestTriggerBuild_InvalidDescriptor(t *testing.T) {
	m, fb := newManager(t)

	_, ok := m.TriggerBuild(t.TempDir(), pkgkey.Descriptor{})
	assert.False(t, ok)
	assert.Empty(t, fb.requests)
}

func TestReadAllRecords_OpenFailure(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, os.WriteFile(index.PathIn(m.Dir()), []byte("not a dir"), 0o644))

	_, err := m.ReadAllRecords(context.Background())
	assert.ErrorIs(t, err, index.ErrStorageOpen)
}

// =============================================================================
// Shelf
// =============================================================================

func TestShelf_BuildLifecycle(t *testing.T) {
	m, _ := newManager(t)
	s := NewShelf(m, WithSortKind(cache.RecencyGrouped))
	ctx := context.Background()

	key, err := s.RequestBuild(t.TempDir(), desc("demo", "1.0.0"))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	e, _ := s.At(0)
	assert.Equal(t, cache.StagePending, e.Stage())

	_, err = s.RequestBuild(t.TempDir(), desc("demo", "1.0.0"))
	assert.ErrorIs(t, err, cache.ErrDuplicateInProgress)
	assert.Equal(t, 1, s.Len())

	c := receive(t, m)
	require.True(t, c.Key.Equal(key))
	require.NoError(t, s.HandleCompletion(ctx, c))

	e, _ = s.At(0)
	assert.Equal(t, cache.StagePersisted, e.Stage())
	assert.Equal(t, 1, s.Len())

	loaded, err := s.Load(ctx, 0)
	require.NoError(t, err)
	assert.True(t, loaded)
	e, _ = s.At(0)
	assert.Equal(t, cache.StageResident, e.Stage())
	assert.Equal(t, "demo", e.Document().CrateName())

	_, err = s.RequestBuild(t.TempDir(), desc("demo", "1.0.0"))
	assert.ErrorIs(t, err, ErrAlreadyCached)
}

func TestShelf_FailedBuildDismissesPending(t *testing.T) {
	m, fb := newManager(t)
	fb.fail = errors.New("cargo exploded")
	s := NewShelf(m)

	_, err := s.RequestBuild(t.TempDir(), desc("demo", "1.0.0"))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	err = s.HandleCompletion(context.Background(), receive(t, m))
	assert.EqualError(t, err, "cargo exploded")
	assert.Equal(t, 0, s.Len())
}

func TestShelf_LoadFailureIsRetryable(t *testing.T) {
	m, fb := newManager(t)
	fb.doc = "{truncated"
	s := NewShelf(m)
	ctx := context.Background()

	_, err := s.RequestBuild(t.TempDir(), desc("demo", "1.0.0"))
	require.NoError(t, err)
	require.NoError(t, s.HandleCompletion(ctx, receive(t, m)))

	loaded, err := s.Load(ctx, 0)
	assert.ErrorIs(t, err, artifact.ErrParse)
	assert.False(t, loaded)
	e, ok := s.At(0)
	require.True(t, ok)
	assert.Equal(t, cache.StagePersisted, e.Stage())
}

func TestShelf_RefreshPicksUpExistingRecords(t *testing.T) {
	m, fb := newManager(t)
	ctx := context.Background()

	fb.Build(builder.Request{OutputDir: m.Dir(), Descriptor: desc("a", "1.0.0")}, m.notify)
	fb.Build(builder.Request{OutputDir: m.Dir(), Descriptor: desc("b", "2.0.0")}, m.notify)
	receive(t, m)
	receive(t, m)

	s := NewShelf(m, WithSortKind(cache.IdentityAll))
	n, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, s.Lines(), 2)

	e, _ := s.At(0)
	assert.Equal(t, "a", e.Key().Name())

	n, err = s.Refresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShelf_DismissAndExpire(t *testing.T) {
	m, fb := newManager(t)
	fb.hold = true
	s := NewShelf(m, WithPendingTimeout(time.Minute))

	_, err := s.RequestBuild(t.TempDir(), desc("a", "1.0.0"))
	require.NoError(t, err)
	_, err = s.RequestBuild(t.TempDir(), desc("b", "1.0.0"))
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	assert.True(t, s.Dismiss(0))
	assert.False(t, s.Dismiss(5))
	assert.Equal(t, 1, s.Len())

	assert.Empty(t, s.Expire(time.Now()))
	expired := s.Expire(time.Now().Add(2 * time.Minute))
	assert.Len(t, expired, 1)
	assert.Equal(t, 0, s.Len())
}

func TestShelf_CycleSort(t *testing.T) {
	m, _ := newManager(t)
	s := NewShelf(m)

	assert.Equal(t, cache.RecencyAll, s.SortKind())
	for _, want := range []cache.SortKind{cache.IdentityAll, cache.RecencyGrouped, cache.IdentityGrouped, cache.RecencyAll} {
		assert.Equal(t, want, s.CycleSort())
	}
}

func TestShelf_InertManager(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg := config.Default()
	cfg.DataDir = filepath.Join(file, "sub")
	m, _ := Initialize(Options{Config: cfg, Builder: &fakeBuilder{}})

	s := NewShelf(m)
	_, err := s.RequestBuild(t.TempDir(), desc("a", "1.0.0"))
	assert.ErrorIs(t, err, ErrEnvironmentUnavailable)
	assert.Equal(t, 0, s.Len())

	_, err = s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrEnvironmentUnavailable)
}
