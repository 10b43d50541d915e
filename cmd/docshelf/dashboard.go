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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/docshelf/services/docshelf/manager"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
	"github.com/AleutianAI/docshelf/services/docshelf/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui [dir]",
	Short: "Open the dashboard (the default command)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDashboard,
}

func init() {
	addFeatureFlags(tuiCmd)
}

var (
	featureList []string
	allFeatures bool
	noDefault   bool
)

// addFeatureFlags registers the cargo-style feature selection flags.
func addFeatureFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVarP(&featureList, "features", "F", nil, "space or comma separated features to activate")
	f.BoolVar(&allFeatures, "all-features", false, "activate all available features")
	f.BoolVar(&noDefault, "no-default-features", false, "do not activate the default feature")
}

func selectedFeatures() pkgkey.Features {
	return pkgkey.ParseFeatures(allFeatures, noDefault, featureList)
}

// runDashboard opens the dashboard, or prints the list when stdout is not
// a terminal.
func runDashboard(cmd *cobra.Command, args []string) error {
	if !isTerminal(os.Stdout) {
		return runList(cmd, nil)
	}

	dir, err := sourceDir(args)
	if err != nil {
		return err
	}

	e, err := setup(cmd, true)
	if err != nil {
		return err
	}
	defer e.close()

	shelf := e.shelf()
	if _, err := shelf.Refresh(cmd.Context()); err != nil && !errors.Is(err, manager.ErrEnvironmentUnavailable) {
		e.logger.Slog().Warn("initial refresh failed", slog.String("error", err.Error()))
	}

	cfg := tui.Config{Features: selectedFeatures()}
	if _, err := os.Stat(filepath.Join(dir, pkgkey.ManifestName)); err == nil {
		cfg.SourceDir = dir
	}

	p := tea.NewProgram(tui.New(shelf, cfg), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
