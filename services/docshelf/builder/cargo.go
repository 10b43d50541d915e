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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/docshelf/pkg/validation"
	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/index"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docshelf_builds_total",
		Help: "Documentation builds by outcome",
	}, []string{"status"})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docshelf_build_duration_seconds",
		Help:    "Wall time of documentation builds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	buildsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docshelf_builds_in_flight",
		Help: "Builds holding a concurrency slot",
	})
)

var tracer = otel.Tracer("docshelf.builder")

// targetDirName is the scratch directory under the output dir.
const targetDirName = "target"

// =============================================================================
// Configuration
// =============================================================================

// Config configures a CargoBuilder.
type Config struct {
	// Cargo is the cargo binary. Default "cargo".
	Cargo string

	// Toolchain is passed before the subcommand, e.g. "+nightly". Empty
	// uses the default toolchain.
	Toolchain string

	// MaxConcurrent caps simultaneous builds. Default 2.
	MaxConcurrent int64

	// Timeout bounds one build. Default 30 minutes.
	Timeout time.Duration

	// Index receives the record of every successful build. Required.
	Index *index.Store

	// Runner executes the command. Default ExecRunner.
	Runner Runner

	// Logger for build events. Default slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Cargo == "" {
		c.Cargo = "cargo"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.Runner == nil {
		c.Runner = ExecRunner
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// =============================================================================
// CargoBuilder
// =============================================================================

// CargoBuilder documents packages with rustdoc's JSON output.
//
// Description:
//
//	Each request runs in its own goroutine. Concurrency is capped by a
//	weighted semaphore; concurrent requests for the same key share one
//	build. The JSON is compressed into the artifact store, the record is
//	written to the index, and only then is the Completion sent.
//
// Thread Safety: Safe for concurrent use.
type CargoBuilder struct {
	cfg    Config
	logger *slog.Logger
	sem    *semaphore.Weighted
	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add in Build against wg.Wait in Close.
	mu     sync.Mutex
	closed bool
}

// NewCargoBuilder creates a builder.
//
// Inputs:
//
//	cfg - Builder configuration. Index must be set.
//
// Outputs:
//
//	*CargoBuilder - The builder. Call Close to stop in-flight builds.
//	error - Non-nil if cfg.Index is nil.
func NewCargoBuilder(cfg Config) (*CargoBuilder, error) {
	if cfg.Index == nil {
		return nil, errors.New("builder: index store is required")
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &CargoBuilder{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "builder")),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Build starts a build in the background and returns immediately.
//
// After Close, Build starts nothing and delivers ErrBuilderClosed only if
// notify is ready to receive it.
func (b *CargoBuilder) Build(req Request, notify chan<- Completion) {
	key, err := req.Descriptor.Key()
	if err == nil {
		err = validateArgs(key)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		select {
		case notify <- Completion{Key: key, Err: ErrBuilderClosed}:
		default:
			b.logger.Warn("build rejected, builder closed", slog.String("pkg_key", key.String()))
		}
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	if err != nil {
		go func() {
			defer b.wg.Done()
			b.send(notify, Completion{Key: key, Err: err})
		}()
		return
	}

	go func() {
		defer b.wg.Done()

		v, err, shared := b.flight.Do(key.String(), func() (any, error) {
			return b.run(b.ctx, req, key)
		})
		if shared {
			b.logger.Debug("build coalesced", slog.String("pkg_key", key.String()))
		}

		c := Completion{Key: key, Err: err}
		if err == nil {
			c.Record = v.(artifact.Record)
		}
		b.send(notify, c)
	}()
}

// validateArgs rejects names that cargo would not accept, before they
// reach the command line.
func validateArgs(key pkgkey.Key) error {
	if err := validation.ValidatePackageName(key.Name()); err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	if err := validation.ValidateFeatureNames(key.Features().Extra); err != nil {
		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	return nil
}

// send delivers c unless the builder is closing.
func (b *CargoBuilder) send(notify chan<- Completion, c Completion) {
	select {
	case notify <- c:
	case <-b.ctx.Done():
		b.logger.Warn("completion dropped, builder closed", slog.String("pkg_key", c.Key.String()))
	}
}

// Close cancels in-flight builds and waits for their goroutines. Safe to
// call more than once.
func (b *CargoBuilder) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

// Args returns the cargo arguments for key with the given target dir.
func (b *CargoBuilder) Args(key pkgkey.Key, targetDir string) []string {
	var args []string
	if b.cfg.Toolchain != "" {
		args = append(args, b.cfg.Toolchain)
	}
	args = append(args, "rustdoc")
	args = append(args, key.Features().CargoArgs()...)
	args = append(args, "--target-dir", targetDir,
		"--", "-Z", "unstable-options", "--output-format", "json")
	return args
}

// run performs one build and records it.
func (b *CargoBuilder) run(ctx context.Context, req Request, key pkgkey.Key) (record artifact.Record, err error) {
	if ctx.Err() != nil {
		return record, ErrBuilderClosed
	}

	ctx, span := tracer.Start(ctx, "builder.CargoBuilder.run",
		trace.WithAttributes(
			attribute.String("pkg_key", key.String()),
			attribute.String("source_dir", req.SourceDir),
		),
	)
	defer span.End()

	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "build failed")
		}
		buildsTotal.WithLabelValues(status).Inc()
		buildDuration.Observe(time.Since(started).Seconds())
	}()

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return record, fmt.Errorf("wait for build slot: %w", err)
	}
	defer b.sem.Release(1)
	buildsInFlight.Inc()
	defer buildsInFlight.Dec()

	buildID := uuid.NewString()
	span.SetAttributes(attribute.String("build_id", buildID))
	logger := b.logger.With(slog.String("pkg_key", key.String()), slog.String("build_id", buildID))
	logger.Info("build started", slog.String("source_dir", req.SourceDir))

	scratch := filepath.Join(req.OutputDir, targetDirName)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return record, fmt.Errorf("create target dir: %w", err)
	}
	targetDir, err := os.MkdirTemp(scratch, buildID+"-")
	if err != nil {
		return record, fmt.Errorf("create target dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(targetDir); rmErr != nil {
			logger.Warn("failed to remove target dir", slog.String("error", rmErr.Error()))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	if err := b.cfg.Runner(runCtx, req.SourceDir, b.cfg.Cargo, b.Args(key, targetDir)); err != nil {
		logger.Warn("build failed", slog.String("error", err.Error()))
		return record, fmt.Errorf("build %s: %w", key, err)
	}

	output := filepath.Join(targetDir, "doc", req.Descriptor.CrateName()+".json")
	f, err := os.Open(output)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return record, fmt.Errorf("%w: %s", ErrOutputMissing, output)
		}
		return record, fmt.Errorf("open build output: %w", err)
	}
	defer f.Close()

	store := artifact.NewStore(filepath.Join(req.OutputDir, artifact.DirName))
	path, size, err := store.Write(buildID, f)
	if err != nil {
		return record, fmt.Errorf("store artifact: %w", err)
	}

	record = artifact.Record{
		Key:        key,
		StartedAt:  started,
		FinishedAt: time.Now(),
		BuildID:    buildID,
		Path:       path,
		Size:       size,
	}
	if err := b.cfg.Index.Put(ctx, record); err != nil {
		return artifact.Record{}, fmt.Errorf("record build: %w", err)
	}

	logger.Info("build finished",
		slog.Duration("duration", record.Duration()),
		slog.Int64("size", size),
	)
	return record, nil
}
