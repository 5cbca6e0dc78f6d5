// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/faultline/services/locate/index"
)

// Candidate is a bug location proposed by the model. Any field may be empty.
type Candidate struct {
	File             string `json:"file"`
	Class            string `json:"class"`
	Method           string `json:"method"`
	IntendedBehavior string `json:"intended_behavior"`
}

// Resolver turns candidates into concrete bug locations.
type Resolver interface {
	ResolveBugLocation(ctx context.Context, c Candidate) []BugLocation
}

// ResolveBugLocation resolves a candidate into bug locations.
//
// Description:
//
//	When the candidate names a file that matches indexed files, the lookup is
//	scoped to those files:
//	  - class and method: the method inside that class
//	  - class only: the whole class
//	  - method only: the method or function
//	  - neither: the whole file
//	When no file is given, or the scoped lookup finds nothing, the lookup is
//	repeated project-wide (method in class, whole class, then method).
//	Results are de-duplicated by (file, start, end). Unlike the search
//	primitives, resolution is not subject to the show limit.
//
// Outputs:
//   - []BugLocation: Empty when nothing resolved.
//
// Thread Safety: Safe for concurrent use.
func (b *Backend) ResolveBugLocation(_ context.Context, c Candidate) []BugLocation {
	file := strings.TrimSpace(c.File)
	class := strings.TrimSpace(c.Class)
	method := strings.TrimSpace(c.Method)

	var results []SearchResult
	if file != "" {
		if files := b.idx.MatchFiles(file); len(files) > 0 {
			results = b.resolveInFiles(files, class, method)
		}
	}
	if len(results) == 0 {
		results = b.resolveGlobally(class, method)
	}

	results = dedupResults(results)
	locs := make([]BugLocation, 0, len(results))
	for _, r := range results {
		locs = append(locs, NewBugLocation(r, b.idx.Root(), c.IntendedBehavior))
	}
	b.logger.Debug("search: resolved candidate",
		slog.String("file", file),
		slog.String("class", class),
		slog.String("method", method),
		slog.Int("locations", len(locs)),
	)
	return locs
}

func (b *Backend) resolveInFiles(files []string, class, method string) []SearchResult {
	switch {
	case class != "" && method != "":
		return b.resultsAt(inFiles(b.idx.MethodsInClass(class, method), files), class, method)
	case class != "":
		return b.resultsAt(inFiles(b.idx.Classes(class), files), class, "")
	case method != "":
		var out []SearchResult
		for _, owner := range b.idx.MethodOwners(method) {
			out = append(out, b.resultsAt(inFiles(b.idx.MethodsInClass(owner, method), files), owner, method)...)
		}
		return append(out, b.resultsAt(inFiles(b.idx.Functions(method), files), "", method)...)
	default:
		var out []SearchResult
		for _, f := range files {
			lines, err := b.idx.FileLines(f)
			if err != nil || len(lines) == 0 {
				continue
			}
			if r, err := b.resultAt(index.Location{File: f, StartLine: 1, EndLine: len(lines)}, "", ""); err == nil {
				out = append(out, r)
			}
		}
		return out
	}
}

func (b *Backend) resolveGlobally(class, method string) []SearchResult {
	switch {
	case class != "" && method != "":
		if locs := b.idx.MethodsInClass(class, method); len(locs) > 0 {
			return b.resultsAt(locs, class, method)
		}
		if owner, locs := b.inheritedMethod(class, method); len(locs) > 0 {
			return b.resultsAt(locs, owner, method)
		}
		return nil
	case class != "":
		return b.resultsAt(b.idx.Classes(class), class, "")
	case method != "":
		var out []SearchResult
		for _, owner := range b.idx.MethodOwners(method) {
			out = append(out, b.resultsAt(b.idx.MethodsInClass(owner, method), owner, method)...)
		}
		return append(out, b.resultsAt(b.idx.Functions(method), "", method)...)
	}
	return nil
}
