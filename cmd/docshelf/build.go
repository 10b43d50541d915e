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
	"io"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/docshelf/pkg/ux"
	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/builder"
	"github.com/AleutianAI/docshelf/services/docshelf/manager"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

var (
	interactive bool
	quiet       bool

	buildCmd = &cobra.Command{
		Use:   "build [dir]",
		Short: "Build and cache the documentation of a Cargo package",
		Long: `Build the rustdoc JSON of the package in dir (default: the working
directory) with the selected features and record it in the index.

A package that is already cached under the same name, version and
feature selection is not rebuilt. The command always waits for the build
to be recorded; --quiet only silences progress output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runBuild,
	}
)

func init() {
	addFeatureFlags(buildCmd)
	buildCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "choose features in a form")
	buildCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print nothing but errors")
}

func runBuild(cmd *cobra.Command, args []string) error {
	dir, err := sourceDir(args)
	if err != nil {
		return err
	}
	desc, err := pkgkey.ReadManifest(dir)
	if err != nil {
		return err
	}

	if interactive {
		if !isTerminal(os.Stdin) {
			return errors.New("--interactive needs a terminal")
		}
		desc.Features, err = pickFeatures(desc)
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		if err != nil {
			return err
		}
	} else {
		desc.Features = selectedFeatures()
	}

	e, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	shelf := e.shelf()
	if _, err := shelf.Refresh(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if quiet {
		out = io.Discard
	}
	pr := ux.NewPrinter(out, !quiet && isTerminal(os.Stdout))
	key, err := shelf.RequestBuild(dir, desc)
	switch {
	case errors.Is(err, manager.ErrAlreadyCached):
		pr.Info(key.String() + " is already cached")
		return nil
	case err != nil:
		return err
	}

	// Wait even when quiet: e.close cancels the builder.
	spin := pr.Spinner("building " + key.String())
	spin.Start()
	record, err := waitForBuild(cmd.Context(), shelf, key)
	spin.Stop()
	if err != nil {
		return err
	}
	pr.Success(fmt.Sprintf("built %s in %s (%d bytes)",
		key, record.Duration().Round(time.Millisecond), record.Size))
	return nil
}

// waitForBuild applies notifications until the one for key arrives.
func waitForBuild(ctx context.Context, shelf *manager.Shelf, key pkgkey.Key) (artifact.Record, error) {
	notify := shelf.Manager().Notifications()
	for {
		var c builder.Completion
		select {
		case <-ctx.Done():
			return artifact.Record{}, ctx.Err()
		case c = <-notify:
		}

		if err := shelf.HandleCompletion(ctx, c); err != nil {
			if c.Key.Equal(key) {
				return artifact.Record{}, fmt.Errorf("build %s: %w", key, err)
			}
			continue
		}
		if c.Key.Equal(key) {
			return c.Record, nil
		}
	}
}

// Feature set choices offered by the form.
const (
	choiceDefault   = "default"
	choiceAll       = "all"
	choiceNoDefault = "no-default"
)

// pickFeatures asks for the feature selection of desc.
func pickFeatures(desc pkgkey.Descriptor) (pkgkey.Features, error) {
	mode := choiceDefault
	var extras []string

	fields := []huh.Field{
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Features for %s %s", desc.Name, desc.Version)).
			Options(
				huh.NewOption("Default features", choiceDefault),
				huh.NewOption("All features", choiceAll),
				huh.NewOption("No default features", choiceNoDefault),
			).
			Value(&mode),
	}
	if len(desc.Available) > 0 {
		fields = append(fields, huh.NewMultiSelect[string]().
			Title("Additional features").
			Description("Ignored with all features").
			Options(huh.NewOptions(desc.Available...)...).
			Value(&extras))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return pkgkey.Features{}, err
	}
	return featuresFromChoice(mode, extras), nil
}

func featuresFromChoice(mode string, extras []string) pkgkey.Features {
	return pkgkey.ParseFeatures(mode == choiceAll, mode == choiceNoDefault, extras)
}
