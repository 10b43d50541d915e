// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui is the docshelf dashboard.
//
// # Description
//
// The dashboard lists every tracked artifact with its stage, lets the user
// load persisted artifacts, cycle the sort order and start builds for the
// package in the working directory. Build completions arrive on the
// manager's notification channel and are applied inside Update, so the
// entry collection is only ever touched by the bubbletea loop.
//
// # Thread Safety
//
// Model is used by a single bubbletea program. Do not share it.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/docshelf/services/docshelf/builder"
	"github.com/AleutianAI/docshelf/services/docshelf/cache"
	"github.com/AleutianAI/docshelf/services/docshelf/manager"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
)

// =============================================================================
// Messages
// =============================================================================

// completionMsg carries one builder notification into the loop.
type completionMsg struct {
	completion builder.Completion
}

// expireTickMsg drives pending-entry expiry.
type expireTickMsg time.Time

// =============================================================================
// Config
// =============================================================================

// Config configures the dashboard.
type Config struct {
	// SourceDir is the package built by the build key. Empty disables it.
	SourceDir string

	// Features is the selection used for builds.
	Features pkgkey.Features

	// ExpireInterval is how often stale pending entries are checked.
	// Default one minute.
	ExpireInterval time.Duration
}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model of the dashboard.
type Model struct {
	shelf *manager.Shelf
	cfg   Config
	keys  KeyMap
	help  help.Model

	// cursor is the selected line; kept on the same key across re-sorts
	// when that key is still present.
	cursor cache.LineID

	status    string
	statusErr bool

	width    int
	height   int
	quitting bool

	now func() time.Time
}

// New creates the dashboard over shelf. The shelf should already be
// refreshed.
func New(shelf *manager.Shelf, cfg Config) Model {
	if cfg.ExpireInterval <= 0 {
		cfg.ExpireInterval = time.Minute
	}
	m := Model{
		shelf: shelf,
		cfg:   cfg,
		keys:  DefaultKeyMap,
		help:  help.New(),
		now:   time.Now,
	}
	if shelf.Manager().Inert() {
		m.setError(manager.ErrEnvironmentUnavailable)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenForCompletion(m.shelf.Manager().Notifications()),
		expireTick(m.cfg.ExpireInterval),
	)
}

// listenForCompletion blocks until the builder reports, then delivers the
// completion as a message. A nil channel yields no command.
func listenForCompletion(ch <-chan builder.Completion) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return completionMsg{completion: c}
	}
}

func expireTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return expireTickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tea.KeyMsg:
		return m.handleKey(msg)

	case completionMsg:
		m.applyCompletion(msg.completion)
		return m, listenForCompletion(m.shelf.Manager().Notifications())

	case expireTickMsg:
		m.mutate(func() {
			if expired := m.shelf.Expire(time.Time(msg)); len(expired) > 0 {
				m.setStatus(fmt.Sprintf("expired %d stale pending build(s)", len(expired)))
			}
		})
		return m, expireTick(m.cfg.ExpireInterval)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if int(m.cursor) < m.shelf.Len()-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Sort):
		m.mutate(func() {
			kind := m.shelf.CycleSort()
			m.setStatus(kind.Label())
		})

	case key.Matches(msg, m.keys.Load):
		m.load()

	case key.Matches(msg, m.keys.Build):
		m.build()

	case key.Matches(msg, m.keys.Dismiss):
		e, ok := m.shelf.At(m.cursor)
		if !ok || e.Stage() != cache.StagePending {
			m.setStatus("only pending entries can be dismissed")
			break
		}
		m.mutate(func() {
			m.shelf.Dismiss(m.cursor)
			m.setStatus("dismissed " + e.Key().String())
		})

	case key.Matches(msg, m.keys.Refresh):
		m.mutate(func() {
			n, err := m.shelf.Refresh(context.Background())
			if err != nil {
				m.setError(err)
				return
			}
			m.setStatus(fmt.Sprintf("refreshed, %d new", n))
		})
	}
	return m, nil
}

// mutate runs fn and moves the cursor to wherever the selected key ended
// up, clamping when it is gone.
func (m *Model) mutate(fn func()) {
	selected, had := m.shelf.At(m.cursor)
	fn()

	n := m.shelf.Len()
	if had {
		for i, e := range m.shelf.Entries() {
			if e.SameKey(selected) {
				m.cursor = cache.LineID(i)
				return
			}
		}
	}
	switch {
	case n == 0:
		m.cursor = 0
	case int(m.cursor) >= n:
		m.cursor = cache.LineID(n - 1)
	}
}

func (m *Model) load() {
	e, ok := m.shelf.At(m.cursor)
	if !ok {
		return
	}
	if !e.Loadable() {
		m.setStatus(e.Key().String() + " is " + e.Stage().Label())
		return
	}
	m.mutate(func() {
		if _, err := m.shelf.Load(context.Background(), m.cursor); err != nil {
			m.setError(err)
			return
		}
		m.setStatus("loaded " + e.Key().String())
	})
}

func (m *Model) build() {
	if m.cfg.SourceDir == "" {
		m.setStatus("no package directory given")
		return
	}
	desc, err := pkgkey.ReadManifest(m.cfg.SourceDir)
	if err != nil {
		m.setError(err)
		return
	}
	desc.Features = m.cfg.Features

	m.mutate(func() {
		key, err := m.shelf.RequestBuild(m.cfg.SourceDir, desc)
		if err != nil {
			m.setError(err)
			return
		}
		m.setStatus("building " + key.String())
	})
	// follow the new pending entry
	if key, err := desc.Key(); err == nil {
		for i, e := range m.shelf.Entries() {
			if e.IsInProgress(key) {
				m.cursor = cache.LineID(i)
			}
		}
	}
}

func (m *Model) applyCompletion(c builder.Completion) {
	m.mutate(func() {
		if err := m.shelf.HandleCompletion(context.Background(), c); err != nil {
			m.setError(fmt.Errorf("build %s: %w", c.Key, err))
			return
		}
		m.setStatus("built " + c.Key.String())
	})
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(err error) {
	switch {
	case errors.Is(err, cache.ErrDuplicateInProgress):
		m.status = "a build for this package is already running"
	default:
		m.status = err.Error()
	}
	m.statusErr = true
}

// Cursor returns the selected line.
func (m Model) Cursor() cache.LineID {
	return m.cursor
}

// Status returns the status line text.
func (m Model) Status() string {
	return m.status
}

// =============================================================================
// View
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("docshelf"))
	b.WriteString("  ")
	b.WriteString(sortStyle.Render(m.shelf.SortKind().Label()))
	b.WriteString("\n\n")

	if m.shelf.Len() == 0 {
		b.WriteString(emptyStyle.Render("No cached documentation. Press b to build the current package."))
		b.WriteString("\n")
	}
	for _, line := range m.shelf.Lines() {
		e, _ := m.shelf.At(line)
		b.WriteString(m.renderRow(line, e))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.status != "" {
		if m.statusErr {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(statusStyle.Render(m.status))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderRow(line cache.LineID, e cache.Entry) string {
	f := e.DisplayFields()
	badge := badgeFor(e.Stage()).Render(f.Stage)

	row := fmt.Sprintf("%s %s %s", badge, f.Name, versionStyle.Render(f.Version))
	if feats := e.Key().Features(); feats.Kind != pkgkey.FeaturesDefault {
		row += " " + featuresStyle.Render(feats.String())
	}
	if line == m.cursor {
		return cursorStyle.Render("> ") + selectedStyle.Render(row)
	}
	return "  " + row
}

func badgeFor(stage cache.Stage) lipgloss.Style {
	switch stage {
	case cache.StageResident:
		return residentBadge
	case cache.StagePersisted:
		return persistedBadge
	default:
		return pendingBadge
	}
}

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	sortStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	versionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	featuresStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	residentBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)

	persistedBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")).
			Background(lipgloss.Color("17")).
			Padding(0, 1)

	pendingBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Background(lipgloss.Color("58")).
			Padding(0, 1)
)
