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
	"fmt"
	"path/filepath"
	"strings"
)

// ResultShowLimit is the number of matches shown in full before the rest are
// collapsed into a per-file summary.
const ResultShowLimit = 3

// SearchResult is one located code region.
//
// Thread Safety: Immutable once created; safe to share.
type SearchResult struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	ClassName string `json:"class_name,omitempty"`
	FuncName  string `json:"func_name,omitempty"`
	Code      string `json:"code"`
}

// Result is the outcome of a search primitive.
//
// Message is the text fed back to the model. Found is false when nothing
// matched; that is a normal outcome, not an error.
type Result struct {
	Message string
	Matches []SearchResult
	Found   bool
}

func notFound(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// RelPath returns the result's path relative to projectRoot.
func (r SearchResult) RelPath(projectRoot string) string {
	if projectRoot == "" {
		return filepath.ToSlash(r.FilePath)
	}
	rel, err := filepath.Rel(projectRoot, r.FilePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(r.FilePath)
	}
	return filepath.ToSlash(rel)
}

// TaggedUpToFile renders "<file>path</file>".
func (r SearchResult) TaggedUpToFile(projectRoot string) string {
	return "<file>" + r.RelPath(projectRoot) + "</file>"
}

// TaggedUpToClass appends the class tag (if any) on its own line.
func (r SearchResult) TaggedUpToClass(projectRoot string) string {
	class := ""
	if r.ClassName != "" {
		class = "<class>" + r.ClassName + "</class>"
	}
	return r.TaggedUpToFile(projectRoot) + "\n" + class
}

// TaggedUpToFunc appends the function tag (if any) after the class tag.
func (r SearchResult) TaggedUpToFunc(projectRoot string) string {
	fn := ""
	if r.FuncName != "" {
		fn = " <func>" + r.FuncName + "</func>"
	}
	return r.TaggedUpToClass(projectRoot) + fn
}

// Tagged renders the full tagged block including code.
func (r SearchResult) Tagged(projectRoot string) string {
	return r.TaggedUpToFunc(projectRoot) + "\n<code>\n" + r.Code + "\n</code>"
}

// CollapseToFileLevel summarizes results as one line per file with a count.
func CollapseToFileLevel(results []SearchResult, projectRoot string) string {
	order, counts := groupBy(results, func(r SearchResult) string { return r.RelPath(projectRoot) })
	var b strings.Builder
	for _, file := range order {
		n := counts[file]
		noun := "matches"
		if n == 1 {
			noun = "match"
		}
		fmt.Fprintf(&b, "- <file>%s</file> (%d %s)\n", file, n, noun)
	}
	return b.String()
}

// CollapseToMethodLevel summarizes results as one line per (file, function).
func CollapseToMethodLevel(results []SearchResult, projectRoot string) string {
	order, counts := groupBy(results, func(r SearchResult) string {
		key := "<file>" + r.RelPath(projectRoot) + "</file>"
		if r.FuncName != "" {
			key += " <func>" + r.FuncName + "</func>"
		} else {
			key += " <code>Not in a function</code>"
		}
		return key
	})
	var b strings.Builder
	for _, key := range order {
		n := counts[key]
		noun := "matches"
		if n == 1 {
			noun = "match"
		}
		fmt.Fprintf(&b, "- %s (%d %s)\n", key, n, noun)
	}
	return b.String()
}

func groupBy(results []SearchResult, key func(SearchResult) string) ([]string, map[string]int) {
	var order []string
	counts := make(map[string]int)
	for _, r := range results {
		k := key(r)
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	return order, counts
}

type resultKey struct {
	file       string
	start, end int
}

// dedupResults drops results that cover the same (file, start, end) region,
// keeping the first occurrence.
func dedupResults(results []SearchResult) []SearchResult {
	seen := make(map[resultKey]bool, len(results))
	out := results[:0:0]
	for _, r := range results {
		k := resultKey{r.FilePath, r.StartLine, r.EndLine}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// BugLocation is a resolved suspicious code region with the behavior the
// model expects from it.
type BugLocation struct {
	RelFilePath      string `json:"rel_file_path"`
	AbsFilePath      string `json:"abs_file_path"`
	StartLine        int    `json:"start_line"`
	EndLine          int    `json:"end_line"`
	ClassName        string `json:"class_name,omitempty"`
	MethodName       string `json:"method_name,omitempty"`
	Code             string `json:"code"`
	IntendedBehavior string `json:"intended_behavior"`
}

// NewBugLocation attaches the intended behavior to a search result.
func NewBugLocation(sr SearchResult, projectPath, intendedBehavior string) BugLocation {
	return BugLocation{
		RelFilePath:      sr.RelPath(projectPath),
		AbsFilePath:      sr.FilePath,
		StartLine:        sr.StartLine,
		EndLine:          sr.EndLine,
		ClassName:        sr.ClassName,
		MethodName:       sr.FuncName,
		Code:             sr.Code,
		IntendedBehavior: intendedBehavior,
	}
}

// String renders the location for downstream agents.
func (b BugLocation) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "<file>%s</file>\n", b.RelFilePath)
	if b.ClassName != "" {
		fmt.Fprintf(&s, "<class>%s</class>\n", b.ClassName)
	}
	if b.MethodName != "" {
		fmt.Fprintf(&s, "<method>%s</method>\n", b.MethodName)
	}
	fmt.Fprintf(&s, "<code>\n%s\n</code>\n", strings.TrimRight(b.Code, "\n"))
	if b.IntendedBehavior != "" {
		fmt.Fprintf(&s, "<intended_behavior>%s</intended_behavior>\n", b.IntendedBehavior)
	}
	return s.String()
}

// RenderBugLocations concatenates numbered location renderings.
func RenderBugLocations(locs []BugLocation) string {
	var s strings.Builder
	for i, loc := range locs {
		fmt.Fprintf(&s, "Location #%d:\n%s\n", i+1, loc.String())
	}
	return s.String()
}
