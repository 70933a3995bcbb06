// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/nucleus-foundation/nucleus/lib/trace"
)

// categoryStyles colors one line per event by its emitting component.
var categoryStyles = map[trace.Category]lipgloss.Style{
	trace.CategoryScheduler: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	trace.CategoryIPC:       lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	trace.CategorySecurity:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	trace.CategoryCustom:    lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
}

// printEvents writes one line per event, oldest first. Styling is
// applied only when stdout is a terminal, so piped output stays
// plain.
func printEvents(events []trace.Event) {
	colorize := term.IsTerminal(int(os.Stdout.Fd()))
	for _, event := range events {
		line := fmt.Sprintf("%8d %16d %-9s %-15s task=%-4d payload=%d",
			event.Sequence, event.Timestamp,
			event.Category.String(), event.Code.String(),
			event.Task, event.Payload)
		if event.Note != "" {
			line += " " + event.Note
		}
		if style, ok := categoryStyles[event.Category]; ok && colorize {
			line = style.Render(line)
		}
		fmt.Println(line)
	}
}
