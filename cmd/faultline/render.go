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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/faultline/services/locate"
	"github.com/AleutianAI/faultline/services/locate/index"
	"github.com/AleutianAI/faultline/services/locate/search"
)

var (
	colorTeal  = lipgloss.Color("#20B9B4")
	colorDeep  = lipgloss.Color("#16858E")
	colorSlate = lipgloss.Color("#2C4A54")
	colorGold  = lipgloss.Color("#F4D03F")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	mutedStyle = lipgloss.NewStyle().Foreground(colorSlate)
	warnStyle  = lipgloss.NewStyle().Foreground(colorGold)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDeep).
			Padding(0, 1)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// renderResult formats a session outcome. Without styling the locations
// use the tagged form downstream agents consume.
func renderResult(res locate.LocateResult, styled bool) string {
	if !styled {
		var s strings.Builder
		fmt.Fprintf(&s, "session %s: %s after %d round(s), %d location(s)\n\n",
			res.SessionID, res.Status, res.Rounds, len(res.BugLocations))
		s.WriteString(search.RenderBugLocations(res.BugLocations))
		return s.String()
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render(fmt.Sprintf("Session %s", res.SessionID)))
	s.WriteString("\n")
	status := fmt.Sprintf("%s after %d round(s), output in %s", res.Status, res.Rounds, res.OutputDir)
	if len(res.BugLocations) == 0 {
		s.WriteString(warnStyle.Render(status + ", no locations found"))
		s.WriteString("\n")
		return s.String()
	}
	s.WriteString(mutedStyle.Render(status))
	s.WriteString("\n")
	for i, loc := range res.BugLocations {
		s.WriteString(boxStyle.Render(renderLocation(i+1, loc)))
		s.WriteString("\n")
	}
	return s.String()
}

func renderLocation(n int, loc search.BugLocation) string {
	var s strings.Builder
	header := fmt.Sprintf("#%d %s:%d-%d", n, loc.RelFilePath, loc.StartLine, loc.EndLine)
	s.WriteString(titleStyle.Render(header))
	if scope := strings.Trim(loc.ClassName+"."+loc.MethodName, "."); scope != "" {
		s.WriteString("  " + mutedStyle.Render(scope))
	}
	s.WriteString("\n")
	s.WriteString(strings.TrimRight(loc.Code, "\n"))
	if loc.IntendedBehavior != "" {
		s.WriteString("\n\n")
		s.WriteString(mutedStyle.Render("Intended: ") + loc.IntendedBehavior)
	}
	return s.String()
}

func renderStats(st index.Stats, styled bool) string {
	body := fmt.Sprintf("files: %d\nclasses: %d\nfunctions: %d\nparse errors: %d",
		st.Files, st.Classes, st.Functions, st.ParseErrors)
	if !styled {
		return st.Root + "\n" + body + "\n"
	}
	return titleStyle.Render(st.Root) + "\n" + boxStyle.Render(body) + "\n"
}
