// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/index"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

const sampleDoc = `{"root":"0","crate_version":"0.3.1","format_version":30,` +
	`"index":{"0":{"name":"demo_crate"}},"paths":{"0":{"crate_id":0,"path":["demo_crate"],"kind":"module"}}}`

// fakeCargo writes sampleDoc where rustdoc would, after an optional gate.
type fakeCargo struct {
	mu    sync.Mutex
	calls [][]string
	gate  chan struct{}
	err   error
	skip  bool
	runs  atomic.Int32

	// crate overrides the output file stem; demo_crate when empty.
	crate string
}

func (f *fakeCargo) run(ctx context.Context, dir, name string, args []string) error {
	f.runs.Add(1)
	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(args))
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	if f.skip {
		return nil
	}

	i := slices.Index(args, "--target-dir")
	docDir := filepath.Join(args[i+1], "doc")
	if err := os.MkdirAll(docDir, 0o755); err != nil {
		return err
	}
	crate := f.crate
	if crate == "" {
		crate = "demo_crate"
	}
	return os.WriteFile(filepath.Join(docDir, crate+".json"), []byte(sampleDoc), 0o644)
}

func descriptor(features pkgkey.Features) pkgkey.Descriptor {
	return pkgkey.Descriptor{
		Name:     "demo-crate",
		Version:  pkgkey.MustParseVersion("0.3.1"),
		Features: features,
	}
}

type fixture struct {
	out     string
	idx     *index.Store
	cargo   *fakeCargo
	builder *CargoBuilder
	notify  chan Completion
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	out := t.TempDir()
	f := &fixture{
		out:    out,
		idx:    index.New(index.Config{Dir: index.PathIn(out)}),
		cargo:  &fakeCargo{},
		notify: make(chan Completion, 4),
	}
	cfg.Index = f.idx
	if cfg.Runner == nil {
		cfg.Runner = f.cargo.run
	}
	b, err := NewCargoBuilder(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	f.builder = b
	return f
}

func (f *fixture) request(features pkgkey.Features) Request {
	return Request{OutputDir: f.out, SourceDir: f.out, Descriptor: descriptor(features)}
}

func waitCompletion(t *testing.T, ch <-chan Completion) Completion {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func TestNewCargoBuilder_RequiresIndex(t *testing.T) {
	_, err := NewCargoBuilder(Config{})
	assert.Error(t, err)
}

func TestCargoBuilder_Args(t *testing.T) {
	f := newFixture(t, Config{Toolchain: "+nightly"})
	key := pkgkey.MustNew("demo", "1.0.0", pkgkey.NoDefaultPlus("serde", "std"))

	args := f.builder.Args(key, "/tmp/t")
	assert.Equal(t, []string{
		"+nightly", "rustdoc", "--no-default-features", "--features", "serde,std",
		"--target-dir", "/tmp/t", "--", "-Z", "unstable-options", "--output-format", "json",
	}, args)
}

func TestCargoBuilder_BuildSuccess(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	before := time.Now()
	f.builder.Build(f.request(pkgkey.DefaultFeatures()), f.notify)
	c := waitCompletion(t, f.notify)

	require.NoError(t, c.Err)
	assert.True(t, c.OK())
	assert.Equal(t, "demo-crate", c.Key.Name())
	assert.True(t, c.Record.Key.Equal(c.Key))
	assert.NotEmpty(t, c.Record.BuildID)
	assert.False(t, c.Record.StartedAt.Before(before))
	assert.False(t, c.Record.FinishedAt.Before(c.Record.StartedAt))
	assert.Positive(t, c.Record.Size)

	records, err := f.idx.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, c.Record.BuildID, records[0].BuildID)

	store := artifact.NewStore(filepath.Join(f.out, artifact.DirName))
	doc, err := artifact.NewFileParser(store).Parse(ctx, records[0])
	require.NoError(t, err)
	assert.Equal(t, "demo_crate", doc.CrateName())

	entries, err := os.ReadDir(filepath.Join(f.out, targetDirName))
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch target dirs are removed")
}

func TestCargoBuilder_CommandFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.cargo.err = ErrBuildFailed

	f.builder.Build(f.request(pkgkey.AllFeatures()), f.notify)
	c := waitCompletion(t, f.notify)

	assert.ErrorIs(t, c.Err, ErrBuildFailed)
	assert.False(t, c.OK())
	assert.Equal(t, "demo-crate", c.Key.Name(), "failed completions still carry the key")

	records, err := f.idx.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCargoBuilder_OutputMissing(t *testing.T) {
	f := newFixture(t, Config{})
	f.cargo.skip = true

	f.builder.Build(f.request(pkgkey.DefaultFeatures()), f.notify)
	c := waitCompletion(t, f.notify)
	assert.ErrorIs(t, c.Err, ErrOutputMissing)
}

// TestCargoBuilder_LibNameOutput verifies the output is looked up under
// the [lib] name when the manifest renames the library target.
func TestCargoBuilder_LibNameOutput(t *testing.T) {
	f := newFixture(t, Config{})
	f.cargo.crate = "custom_lib"
	req := f.request(pkgkey.DefaultFeatures())
	req.Descriptor.LibName = "custom_lib"

	f.builder.Build(req, f.notify)
	c := waitCompletion(t, f.notify)
	require.NoError(t, c.Err)
	assert.Equal(t, "demo-crate", c.Key.Name(), "the key keeps the package name")

	records, err := f.idx.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCargoBuilder_LibNameMismatch(t *testing.T) {
	f := newFixture(t, Config{})
	req := f.request(pkgkey.DefaultFeatures())
	req.Descriptor.LibName = "custom_lib"

	f.builder.Build(req, f.notify)
	c := waitCompletion(t, f.notify)
	assert.ErrorIs(t, c.Err, ErrOutputMissing)
}

func TestCargoBuilder_Timeout(t *testing.T) {
	f := newFixture(t, Config{Timeout: 20 * time.Millisecond})
	f.cargo.gate = make(chan struct{})

	f.builder.Build(f.request(pkgkey.DefaultFeatures()), f.notify)
	c := waitCompletion(t, f.notify)
	assert.ErrorIs(t, c.Err, context.DeadlineExceeded)
}

func TestCargoBuilder_InvalidDescriptor(t *testing.T) {
	f := newFixture(t, Config{})
	req := f.request(pkgkey.DefaultFeatures())
	req.Descriptor.Name = ""

	f.builder.Build(req, f.notify)
	c := waitCompletion(t, f.notify)
	assert.ErrorIs(t, c.Err, pkgkey.ErrEmptyName)
	assert.Zero(t, f.cargo.runs.Load())
}

func TestCargoBuilder_RejectsUnsafeNames(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
	}{
		{"package name flag", func(r *Request) { r.Descriptor.Name = "--config=x" }},
		{"feature flag", func(r *Request) { r.Descriptor.Features = pkgkey.DefaultPlus("-Zbuild-std") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			req := f.request(pkgkey.DefaultFeatures())
			tt.modify(&req)

			f.builder.Build(req, f.notify)
			c := waitCompletion(t, f.notify)
			assert.ErrorIs(t, c.Err, ErrBuildFailed)
			assert.False(t, c.Key.IsZero())
			assert.Zero(t, f.cargo.runs.Load())
		})
	}
}

func TestCargoBuilder_CoalescesSameKey(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 4})
	f.cargo.gate = make(chan struct{})

	f.builder.Build(f.request(pkgkey.DefaultFeatures()), f.notify)
	require.Eventually(t, func() bool { return f.cargo.runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.builder.Build(f.request(pkgkey.DefaultFeatures()), f.notify)
	time.Sleep(20 * time.Millisecond)
	close(f.cargo.gate)

	a, b := waitCompletion(t, f.notify), waitCompletion(t, f.notify)
	require.NoError(t, a.Err)
	require.NoError(t, b.Err)
	assert.Equal(t, a.Record.BuildID, b.Record.BuildID)
	assert.EqualValues(t, 1, f.cargo.runs.Load())
}

func TestCargoBuilder_ConcurrencyCap(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 1})
	f.cargo.gate = make(chan struct{})

	f.builder.Build(f.request(pkgkey.DefaultFeatures()), f.notify)
	f.builder.Build(f.request(pkgkey.AllFeatures()), f.notify)

	require.Eventually(t, func() bool { return f.cargo.runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, f.cargo.runs.Load(), "second build waits for the slot")

	close(f.cargo.gate)
	for range 2 {
		require.NoError(t, waitCompletion(t, f.notify).Err)
	}
	assert.EqualValues(t, 2, f.cargo.runs.Load())
}

func TestCargoBuilder_CloseCancelsPending(t *testing.T) {
	f := newFixture(t, Config{})
	f.cargo.gate = make(chan struct{})
	notify := make(chan Completion)

	f.builder.Build(f.request(pkgkey.DefaultFeatures()), notify)
	require.Eventually(t, func() bool { return f.cargo.runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		f.builder.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestCargoBuilder_BuildAfterClose(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.builder.Close())

	f.builder.Build(f.request(pkgkey.DefaultFeatures()), f.notify)
	c := waitCompletion(t, f.notify)
	assert.ErrorIs(t, c.Err, ErrBuilderClosed)
	assert.Equal(t, "demo-crate", c.Key.Name())
	assert.Zero(t, f.cargo.runs.Load())

	// Nobody is receiving; Build must still return.
	f.builder.Build(f.request(pkgkey.AllFeatures()), make(chan Completion))
	assert.Zero(t, f.cargo.runs.Load())
	assert.NoError(t, f.builder.Close())
}

// TestCargoBuilder_BuildRacesClose runs Build and Close concurrently;
// under -race this catches a WaitGroup Add that overlaps Wait.
func TestCargoBuilder_BuildRacesClose(t *testing.T) {
	for range 20 {
		f := newFixture(t, Config{})
		notify := make(chan Completion, 64)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				features := pkgkey.DefaultFeatures()
				if i%2 == 1 {
					features = pkgkey.AllFeatures()
				}
				f.builder.Build(f.request(features), notify)
			}()
		}
		require.NoError(t, f.builder.Close())
		wg.Wait()

		for len(notify) > 0 {
			c := <-notify
			assert.Equal(t, "demo-crate", c.Key.Name())
		}
	}
}

func TestExecRunner(t *testing.T) {
	ctx := context.Background()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	assert.NoError(t, ExecRunner(ctx, t.TempDir(), "/bin/sh", []string{"-c", "exit 0"}))

	err := ExecRunner(ctx, t.TempDir(), "/bin/sh", []string{"-c", "echo boom >&2; exit 3"})
	require.ErrorIs(t, err, ErrBuildFailed)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "exited 3")

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = ExecRunner(short, t.TempDir(), "/bin/sh", []string{"-c", "sleep 5"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
