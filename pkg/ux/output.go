// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the proofbench CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// proofbench palette - chalk on slate
var (
	ColorChalk    = lipgloss.Color("#F5F1E8") // chalk white - primary text
	ColorCyanInk  = lipgloss.Color("#4FB8CC") // cyan ink - brand, headings
	ColorCyanDim  = lipgloss.Color("#2E7D8C") // dim cyan - borders, accents
	ColorGraphite = lipgloss.Color("#6B7280") // graphite - muted text
	ColorSlateBg  = lipgloss.Color("#1E2530") // slate - backgrounds

	ColorSuccess = lipgloss.Color("#6BCB77") // green for proved
	ColorWarning = lipgloss.Color("#E8C547") // amber for variants
	ColorError   = lipgloss.Color("#DE5B5B") // red for failures
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style

	StatusOK      lipgloss.Style
	StatusWarning lipgloss.Style
	StatusError   lipgloss.Style
	StatusPending lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorCyanInk),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorCyanDim),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorGraphite),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorCyanInk).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorCyanDim).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	StatusOK:      lipgloss.NewStyle().SetString("✓").Foreground(ColorSuccess),
	StatusWarning: lipgloss.NewStyle().SetString("⚠").Foreground(ColorWarning),
	StatusError:   lipgloss.NewStyle().SetString("✗").Foreground(ColorError),
	StatusPending: lipgloss.NewStyle().SetString("○").Foreground(ColorGraphite),
}

// IsInteractive reports whether stdout is a TTY. Non-interactive runs
// (pipes, CI) should skip spinners and live redraws.
func IsInteractive() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// Title prints a styled section title.
func Title(text string) {
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success line with a check mark.
func Success(format string, args ...any) {
	fmt.Printf("%s %s\n", Styles.StatusOK.String(), Styles.Success.Render(fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func Warn(format string, args ...any) {
	fmt.Printf("%s %s\n", Styles.StatusWarning.String(), Styles.Warning.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error line to stderr.
func Error(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", Styles.StatusError.String(), Styles.Error.Render(fmt.Sprintf(format, args...)))
}

// Info prints a muted informational line.
func Info(format string, args ...any) {
	fmt.Println(Styles.Muted.Render(fmt.Sprintf(format, args...)))
}
