// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders status lines and progress for the docshelf commands.
//
// A Printer is either rich (colors, animated spinner) or plain (no escape
// sequences, one line per event). Commands pick rich only when stdout is a
// terminal, so piped output stays greppable.
package ux

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// docshelf palette
var (
	ColorAccent  = lipgloss.Color("#20B9B4")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#2C4A54")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconInfo    Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// Printer writes status lines to one writer.
type Printer struct {
	out  io.Writer
	rich bool
}

// NewPrinter creates a Printer. rich enables colors and animation.
func NewPrinter(out io.Writer, rich bool) *Printer {
	return &Printer{out: out, rich: rich}
}

// Rich reports whether the printer emits escape sequences.
func (p *Printer) Rich() bool {
	return p.rich
}

func (p *Printer) line(icon Icon, style lipgloss.Style, text string) {
	if !p.rich {
		fmt.Fprintf(p.out, "%s %s\n", icon, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", icon.Render(), style.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.line(IconSuccess, Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.line(IconWarning, Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.line(IconError, Styles.Error, text)
}

// Info prints a neutral line.
func (p *Printer) Info(text string) {
	p.line(IconInfo, lipgloss.NewStyle(), text)
}
