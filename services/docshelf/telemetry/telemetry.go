// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry and Prometheus output for docshelf.
//
// docshelf is a local tool with no collector to push to, so both signals
// go to files:
//
//   - Spans are exported as pretty-printed JSON to TraceFile.
//   - OTel metrics are bridged into the Prometheus registry and, together
//     with the promauto collectors of the builder, written in text
//     exposition format to MetricsFile on shutdown.
//
// Either file may be empty, which disables that signal. With both empty,
// Init is a no-op and the global providers stay at their no-op defaults.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.Config{TraceFile: path})
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Thread Safety
//
// Call Init once at startup. The returned shutdown is not reentrant.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ErrNilContext is returned by Init when ctx is nil.
var ErrNilContext = errors.New("telemetry: nil context")

// Config controls telemetry output.
type Config struct {
	// ServiceName identifies this process in span resources.
	// Default "docshelf".
	ServiceName string

	// ServiceVersion is recorded as service.version.
	ServiceVersion string

	// TraceFile receives exported spans. Empty disables tracing.
	TraceFile string

	// MetricsFile receives a metrics snapshot on shutdown. Empty disables
	// the OTel meter provider and the snapshot.
	MetricsFile string

	// Registry replaces the default Prometheus registry. Used by tests.
	Registry *prometheus.Registry
}

// Init installs the tracer and meter providers described by cfg.
//
// Description:
//
//	Sets the global TracerProvider when TraceFile is set and the global
//	MeterProvider when MetricsFile is set. The returned shutdown flushes
//	pending spans, writes the metrics snapshot and closes the trace file.
//
// Inputs:
//
//	ctx - Context for initialization.
//	cfg - Output configuration.
//
// Outputs:
//
//	shutdown - Must be called on exit. Never nil on success.
//	error - Non-nil if an exporter or file could not be created.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "docshelf"
	}

	var shutdownFuncs []func(context.Context) error
	runAll := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	// undo partial setup on failure
	defer func() {
		if err != nil {
			_ = runAll(ctx)
		}
	}()

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	// --- TRACES ---
	if cfg.TraceFile != "" {
		tp, closeFile, err := initTracer(cfg.TraceFile, res)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown, closeFile)
	}

	// --- METRICS ---
	if cfg.MetricsFile != "" {
		var registerer prometheus.Registerer = prometheus.DefaultRegisterer
		var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
		if cfg.Registry != nil {
			registerer, gatherer = cfg.Registry, cfg.Registry
		}

		exporter, err := promexporter.New(promexporter.WithRegisterer(registerer))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		)
		otel.SetMeterProvider(mp)

		path := cfg.MetricsFile
		shutdownFuncs = append(shutdownFuncs,
			func(context.Context) error { return WriteMetrics(path, gatherer) },
			mp.Shutdown,
		)
	}

	return runAll, nil
}

// initTracer opens path for append and builds a provider exporting to it.
func initTracer(path string, res *resource.Resource) (*trace.TracerProvider, func(context.Context) error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(file),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)
	closeFile := func(context.Context) error { return file.Close() }
	return tp, closeFile, nil
}

// WriteMetrics writes everything g gathers to path in Prometheus text
// format, replacing the file atomically.
func WriteMetrics(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
