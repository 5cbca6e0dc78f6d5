// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/faultline/services/locate/parse"
	"github.com/AleutianAI/faultline/services/locate/search"
)

// fallbackStep is one primitive tried when direct resolution fails.
type fallbackStep struct {
	primitive string
	// args builds the primitive's arguments; ok is false when the candidate
	// lacks a required field.
	args func(c search.Candidate) (map[string]string, bool)
}

// fallbackChain is tried in order; the first step that finds anything wins.
var fallbackChain = []fallbackStep{
	{search.PrimSearchMethodInClass, func(c search.Candidate) (map[string]string, bool) {
		return map[string]string{"method_name": c.Method, "class_name": c.Class}, c.Method != "" && c.Class != ""
	}},
	{search.PrimSearchMethod, func(c search.Candidate) (map[string]string, bool) {
		return map[string]string{"method_name": c.Method}, c.Method != ""
	}},
	{search.PrimSearchClassInFile, func(c search.Candidate) (map[string]string, bool) {
		return map[string]string{"class_name": c.Class, "file_name": c.File}, c.Class != "" && c.File != ""
	}},
	{search.PrimGetClassFullSnippet, func(c search.Candidate) (map[string]string, bool) {
		return map[string]string{"class_name": c.Class}, c.Class != ""
	}},
	{search.PrimGetFileContent, func(c search.Candidate) (map[string]string, bool) {
		return map[string]string{"file_path": c.File}, c.File != ""
	}},
}

// resolveCandidates turns the model's candidates into bug locations.
// Candidates that resolve to nothing contribute no locations.
func (m *Manager) resolveCandidates(ctx context.Context, candidates []parse.Candidate) []search.BugLocation {
	out := []search.BugLocation{}
	for _, pc := range candidates {
		c := search.Candidate{
			File:             strings.TrimSpace(pc.File),
			Class:            strings.TrimSpace(pc.Class),
			Method:           strings.TrimSpace(pc.Method),
			IntendedBehavior: pc.IntendedBehavior,
		}
		locs := m.resolver.ResolveBugLocation(ctx, c)
		if len(locs) == 0 {
			locs = m.fallback(ctx, c)
		}
		out = append(out, locs...)
	}
	return out
}

// fallback walks fallbackChain for c.
func (m *Manager) fallback(ctx context.Context, c search.Candidate) []search.BugLocation {
	for _, step := range fallbackChain {
		args, ok := step.args(c)
		if !ok {
			continue
		}
		if _, registered := m.registry.Lookup(step.primitive); !registered {
			continue
		}
		res, err := m.registry.Invoke(ctx, step.primitive, args)
		if err != nil || !res.Found {
			continue
		}

		fallbacksTotal.WithLabelValues(step.primitive).Inc()
		m.logger.Warn("candidate resolved by fallback",
			slog.String("primitive", step.primitive),
			slog.String("file", c.File),
			slog.String("class", c.Class),
			slog.String("method", c.Method),
			slog.Int("matches", len(res.Matches)),
		)
		locs := make([]search.BugLocation, 0, len(res.Matches))
		for _, sr := range res.Matches {
			locs = append(locs, search.NewBugLocation(sr, m.cfg.ProjectRoot, c.IntendedBehavior))
		}
		return locs
	}
	m.logger.Warn("candidate did not resolve",
		slog.String("file", c.File),
		slog.String("class", c.Class),
		slog.String("method", c.Method),
	)
	return nil
}
