// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/docshelf/pkg/logging"
	"github.com/AleutianAI/docshelf/services/docshelf/config"
	"github.com/AleutianAI/docshelf/services/docshelf/manager"
	"github.com/AleutianAI/docshelf/services/docshelf/telemetry"
)

// --- Global Flags ---
var (
	configPath  string
	dataDir     string
	logLevel    string
	traceFile   string
	metricsFile string

	rootCmd = &cobra.Command{
		Use:   "docshelf [dir]",
		Short: "Build and browse cached rustdoc documentation",
		Long: `docshelf builds the rustdoc JSON of Cargo packages, records every
build in a local index and lets you browse, sort and load the results.

Without a subcommand it opens the dashboard for the package in dir
(default: the working directory).`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		Version:      version,
		RunE:         runDashboard,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default <data dir>/config.yaml)")
	pf.StringVar(&dataDir, "data-dir", "", "override the data directory")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&traceFile, "trace-file", "", "write OpenTelemetry spans to this file")
	pf.StringVar(&metricsFile, "metrics-file", "", "write a Prometheus metrics snapshot to this file on exit")

	addFeatureFlags(rootCmd)

	rootCmd.AddCommand(tuiCmd, listCmd, buildCmd, configCmd)
}

// =============================================================================
// Environment
// =============================================================================

// env is everything a command needs, built from flags and config.
type env struct {
	cfg      config.Config
	logger   *logging.Logger
	mgr      *manager.Manager
	shutdown func(context.Context) error
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	path := configPath
	if path == "" {
		if dir, err := config.DataLocalDir(); err == nil {
			path = filepath.Join(dir, config.ConfigFileName)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, path, err
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	return cfg, path, cfg.Validate()
}

// setup builds the environment for cmd.
//
// Description:
//
//	quiet routes logs to <data dir>/logs instead of stderr, for commands
//	that own the terminal. An inert manager is not an error here: the
//	commands report ErrEnvironmentUnavailable themselves.
func setup(cmd *cobra.Command, quiet bool) (*env, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logCfg := logging.Config{Level: level, Quiet: quiet, Writer: cmd.ErrOrStderr()}
	if quiet {
		if dir, err := cfg.ResolveDataDir(); err == nil {
			logCfg.LogDir = filepath.Join(dir, logging.DirName)
		}
	}
	logger := logging.New(logCfg)
	slog.SetDefault(logger.Slog())

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceVersion: version,
		TraceFile:      traceFile,
		MetricsFile:    metricsFile,
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	mgr, err := manager.Initialize(manager.Options{Config: cfg, Logger: logger.Slog()})
	if err != nil && !errors.Is(err, manager.ErrEnvironmentUnavailable) {
		_ = shutdown(context.Background())
		logger.Close()
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, mgr: mgr, shutdown: shutdown}, nil
}

func (e *env) shelf(opts ...manager.ShelfOption) *manager.Shelf {
	opts = append([]manager.ShelfOption{manager.WithPendingTimeout(e.cfg.PendingTimeout)}, opts...)
	return manager.NewShelf(e.mgr, opts...)
}

// close stops the builder, flushes telemetry and closes the log file.
func (e *env) close() error {
	return errors.Join(
		e.mgr.Close(),
		e.shutdown(context.Background()),
		e.logger.Close(),
	)
}

// =============================================================================
// Helpers
// =============================================================================

// sourceDir resolves the optional [dir] argument.
func sourceDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	return abs, nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
