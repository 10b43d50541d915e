// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manager owns the storage location, the record index and the
// builder, and exposes them to the presentation layer.
//
// # Description
//
// A Manager is constructed once at startup by Initialize and passed to
// whatever runs the UI loop. If the storage directory cannot be resolved
// or created, Initialize returns an inert Manager alongside the error:
// every operation on it logs and returns an empty result instead of
// failing the process.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Shelf is not; it belongs to the UI
// goroutine and receives builder results through Notifications.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/builder"
	"github.com/AleutianAI/docshelf/services/docshelf/config"
	"github.com/AleutianAI/docshelf/services/docshelf/index"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

// ErrEnvironmentUnavailable indicates the manager has no storage location.
var ErrEnvironmentUnavailable = errors.New("storage environment unavailable")

// notifyBuffer is the default capacity of the completion channel.
const notifyBuffer = 16

var meter = otel.Meter("docshelf.manager")

var (
	buildsTriggered, _ = meter.Int64Counter("docshelf.manager.builds_triggered",
		metric.WithDescription("Builds handed to the builder"))
	recordsRead, _ = meter.Int64Counter("docshelf.manager.records_read",
		metric.WithDescription("Records returned by ReadAllRecords"))
)

// Options configures Initialize.
type Options struct {
	// Config supplies the data dir and builder settings.
	Config config.Config

	// Builder replaces the cargo builder. Optional.
	Builder builder.Builder

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager is the process-wide cache manager.
type Manager struct {
	dir       string
	inert     bool
	index     *index.Store
	artifacts *artifact.Store
	parser    artifact.Parser
	builder   builder.Builder
	notify    chan builder.Completion
	logger    *slog.Logger
}

// Initialize resolves and creates the storage directory and wires the
// index, artifact store and builder.
//
// Description:
//
//	The directory is Options.Config.DataDir, or the platform local data
//	directory when unset. Failure to resolve or create it is not fatal:
//	the returned Manager is inert and the error wraps
//	ErrEnvironmentUnavailable.
//
// Outputs:
//
//	*Manager - Never nil.
//	error - Non-nil if the manager is inert or the builder failed to start.
func Initialize(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger.With(slog.String("component", "manager"))}

	dir, err := opts.Config.ResolveDataDir()
	if err == nil {
		err = os.MkdirAll(filepath.Join(dir, artifact.DirName), 0o755)
	}
	if err != nil {
		return m.goInert(err), fmt.Errorf("%w: %w", ErrEnvironmentUnavailable, err)
	}

	m.dir = dir
	m.index = index.New(index.Config{
		Dir:        index.PathIn(dir),
		SyncWrites: opts.Config.Index.SyncWrites,
		Logger:     logger,
	})
	m.artifacts = artifact.NewStore(filepath.Join(dir, artifact.DirName))
	m.parser = artifact.NewFileParser(m.artifacts)
	m.notify = make(chan builder.Completion, notifyBuffer)

	m.builder = opts.Builder
	if m.builder == nil {
		b, err := builder.NewCargoBuilder(builder.Config{
			Cargo:         opts.Config.Builder.Cargo,
			Toolchain:     opts.Config.Builder.Toolchain,
			MaxConcurrent: opts.Config.Builder.MaxConcurrent,
			Timeout:       opts.Config.Builder.Timeout,
			Index:         m.index,
			Logger:        logger,
		})
		if err != nil {
			return m.goInert(err), fmt.Errorf("start builder: %w", err)
		}
		m.builder = b
	}

	m.logger.Info("manager initialized", slog.String("dir", dir))
	return m, nil
}

func (m *Manager) goInert(cause error) *Manager {
	m.logger.Error("manager is inert; manual cache unavailable", slog.String("error", cause.Error()))
	m.inert = true
	m.dir = ""
	m.index = nil
	m.notify = nil
	m.parser = inertParser{}
	return m
}

// Inert reports whether the manager has no storage.
func (m *Manager) Inert() bool {
	return m.inert
}

// Dir returns the storage directory, or "" when inert.
func (m *Manager) Dir() string {
	return m.dir
}

// Parser returns the artifact parser used by Load.
func (m *Manager) Parser() artifact.Parser {
	return m.parser
}

// Notifications returns the completion channel; nil when inert.
func (m *Manager) Notifications() <-chan builder.Completion {
	return m.notify
}

// TriggerBuild hands a package to the builder and returns its key.
//
// Description:
//
//	Returns immediately; the build runs in the background and reports on
//	Notifications. The caller must check that the key is not already in
//	progress before calling.
//
// Inputs:
//
//	sourceDir - The package directory.
//	desc - The package descriptor.
//
// Outputs:
//
//	pkgkey.Key - The key the build will be recorded under.
//	bool - False if the manager is inert or desc has no valid key.
func (m *Manager) TriggerBuild(sourceDir string, desc pkgkey.Descriptor) (pkgkey.Key, bool) {
	if m.inert || m.notify == nil || m.builder == nil {
		m.logger.Warn("build not started: storage unavailable", slog.String("package", desc.Name))
		return pkgkey.Key{}, false
	}

	key, err := desc.Key()
	if err != nil {
		m.logger.Warn("build not started: invalid package", slog.String("error", err.Error()))
		return pkgkey.Key{}, false
	}

	m.builder.Build(builder.Request{
		OutputDir:  m.dir,
		SourceDir:  sourceDir,
		Descriptor: desc,
	}, m.notify)
	buildsTriggered.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("package", key.Name())))
	m.logger.Info("build triggered", slog.String("pkg_key", key.String()))
	return key, true
}

// ReadAllRecords reads every record in the index.
//
// Outputs:
//
//	[]artifact.Record - The decodable records; empty if no build has
//	                    completed yet.
//	error - ErrEnvironmentUnavailable when inert, index.ErrStorageOpen when
//	        the index cannot be opened.
func (m *Manager) ReadAllRecords(ctx context.Context) ([]artifact.Record, error) {
	if m.inert {
		m.logger.Warn("records not read: storage unavailable")
		return []artifact.Record{}, ErrEnvironmentUnavailable
	}
	records, err := m.index.ReadAll(ctx)
	recordsRead.Add(ctx, int64(len(records)))
	return records, err
}

// Close stops the builder if it owns one.
func (m *Manager) Close() error {
	if c, ok := m.builder.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type inertParser struct{}

func (inertParser) Parse(ctx context.Context, record artifact.Record) (*artifact.DocumentTree, error) {
	return nil, ErrEnvironmentUnavailable
}
