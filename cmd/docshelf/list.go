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
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/docshelf/services/docshelf/cache"
	"github.com/AleutianAI/docshelf/services/docshelf/manager"
)

var sortFlag string

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached documentation",
	Long: `List every build recorded in the index.

Sort orders: recency, identity, recency-grouped, identity-grouped.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&sortFlag, "sort", "s", "recency", "sort order")
}

func runList(cmd *cobra.Command, _ []string) error {
	kind, err := parseSort()
	if err != nil {
		return err
	}

	e, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer e.close()

	shelf := e.shelf(manager.WithSortKind(kind))
	if _, err := shelf.Refresh(cmd.Context()); err != nil {
		if errors.Is(err, manager.ErrEnvironmentUnavailable) {
			return err
		}
		e.logger.Slog().Warn("index read failed", "error", err)
	}

	return writeEntries(cmd.OutOrStdout(), shelf.Entries(), time.Now())
}

// writeEntries prints entries as an aligned table.
func writeEntries(out io.Writer, entries []cache.Entry, now time.Time) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No cached documentation.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tNAME\tVERSION\tFEATURES\tBUILT")
	for _, e := range entries {
		f := e.DisplayFields()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			f.Stage, f.Name, f.Version, e.Key().Features(), age(now.Sub(e.StartedAt())))
	}
	return w.Flush()
}

// age formats d coarsely: 42s, 5m, 3h, 2d.
func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func parseSort() (cache.SortKind, error) {
	if sortFlag == "" {
		return cache.RecencyAll, nil
	}
	return cache.ParseSortKind(sortFlag)
}
