// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the code-search primitives a reasoning model can
// invoke, the registry that exposes them by name, and the resolution of
// model-proposed bug locations into concrete code regions.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/faultline/services/locate/index"
)

// maxInheritanceDepth bounds the base-class walk in SearchMethodInClass.
const maxInheritanceDepth = 8

// codeContextLines is the number of lines shown around a code match.
const codeContextLines = 3

// Backend runs search primitives against a built index.
//
// Thread Safety: Safe for concurrent use; the index is read-only.
type Backend struct {
	idx       *index.Index
	showLimit int
	logger    *slog.Logger
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithShowLimit overrides ResultShowLimit.
func WithShowLimit(n int) BackendOption {
	return func(b *Backend) {
		if n > 0 {
			b.showLimit = n
		}
	}
}

// WithBackendLogger sets the logger.
func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackend creates a Backend over idx.
func NewBackend(idx *index.Index, opts ...BackendOption) *Backend {
	b := &Backend{idx: idx, showLimit: ResultShowLimit, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ProjectRoot returns the indexed project root.
func (b *Backend) ProjectRoot() string { return b.idx.Root() }

// present formats matches under header, applying the show limit.
//
// Description:
//
//	Up to showLimit results are rendered in full. When more exist the header
//	still carries the true count, the shown slice is truncated, and the rest
//	are listed in collapsed per-file form.
func (b *Backend) present(header string, results []SearchResult) Result {
	results = dedupResults(results)
	root := b.idx.Root()

	var msg strings.Builder
	msg.WriteString(header)
	shown := results
	if len(results) > b.showLimit {
		shown = results[:b.showLimit]
	}
	for i, r := range shown {
		fmt.Fprintf(&msg, "- Search result %d:\n```\n%s\n```\n", i+1, r.Tagged(root))
	}
	if rest := results[len(shown):]; len(rest) > 0 {
		fmt.Fprintf(&msg, "Showing %d of %d results. The remaining matches are in:\n%s",
			len(shown), len(results), CollapseToFileLevel(rest, root))
	}
	return Result{Message: msg.String(), Matches: shown, Found: true}
}

func (b *Backend) resultAt(loc index.Location, class, fn string) (SearchResult, error) {
	code, err := b.idx.Snippet(loc.File, loc.StartLine, loc.EndLine, true)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{
		FilePath:  loc.File,
		StartLine: loc.StartLine,
		EndLine:   loc.EndLine,
		ClassName: class,
		FuncName:  fn,
		Code:      code,
	}, nil
}

func (b *Backend) resultsAt(locs []index.Location, class, fn string) []SearchResult {
	out := make([]SearchResult, 0, len(locs))
	for _, loc := range locs {
		r, err := b.resultAt(loc, class, fn)
		if err != nil {
			b.logger.Warn("search: snippet unavailable",
				slog.String("file", loc.File),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, r)
	}
	return out
}

func inFiles(locs []index.Location, files []string) []index.Location {
	allowed := make(map[string]bool, len(files))
	for _, f := range files {
		allowed[f] = true
	}
	var out []index.Location
	for _, l := range locs {
		if allowed[l.File] {
			out = append(out, l)
		}
	}
	return out
}

// SearchClass returns the signatures (header plus method signatures) of
// every class named className.
func (b *Backend) SearchClass(_ context.Context, className string) Result {
	locs := b.idx.Classes(className)
	if len(locs) == 0 {
		return notFound("Could not find class %s in the codebase.", className)
	}
	var results []SearchResult
	for _, loc := range locs {
		sig, err := b.idx.ClassSignature(className, loc)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{
			FilePath:  loc.File,
			StartLine: loc.StartLine,
			EndLine:   loc.EndLine,
			ClassName: className,
			Code:      sig,
		})
	}
	if len(results) == 0 {
		return notFound("Could not find class %s in the codebase.", className)
	}
	return b.present(fmt.Sprintf("Found %d classes with name %s in the codebase:\n\n", len(results), className), results)
}

// SearchClassInFile returns the full definition of className in files
// matching fileName.
func (b *Backend) SearchClassInFile(_ context.Context, className, fileName string) Result {
	files := b.idx.MatchFiles(fileName)
	if len(files) == 0 {
		return notFound("Could not find file %s in the codebase.", fileName)
	}
	locs := inFiles(b.idx.Classes(className), files)
	if len(locs) == 0 {
		return notFound("Could not find class %s in file %s.", className, fileName)
	}
	results := b.resultsAt(locs, className, "")
	return b.present(fmt.Sprintf("Found %d classes with name %s in file %s:\n\n", len(results), className, fileName), results)
}

// SearchMethodInFile returns every method or function named methodName in
// files matching filePath.
func (b *Backend) SearchMethodInFile(_ context.Context, methodName, filePath string) Result {
	files := b.idx.MatchFiles(filePath)
	if len(files) == 0 {
		return notFound("Could not find file %s in the codebase.", filePath)
	}
	var results []SearchResult
	for _, class := range b.idx.MethodOwners(methodName) {
		results = append(results, b.resultsAt(inFiles(b.idx.MethodsInClass(class, methodName), files), class, methodName)...)
	}
	results = append(results, b.resultsAt(inFiles(b.idx.Functions(methodName), files), "", methodName)...)
	if len(results) == 0 {
		return notFound("The method %s does not appear in file %s.", methodName, filePath)
	}
	sortResults(results)
	return b.present(fmt.Sprintf("Found %d methods with name %s in file %s:\n\n", len(results), methodName, filePath), results)
}

// SearchMethodInClass returns methodName as defined in className, walking
// indexed base classes breadth first when the class does not define it.
func (b *Backend) SearchMethodInClass(_ context.Context, methodName, className string) Result {
	if len(b.idx.Classes(className)) == 0 {
		return notFound("Could not find class %s in the codebase.", className)
	}
	if locs := b.idx.MethodsInClass(className, methodName); len(locs) > 0 {
		results := b.resultsAt(locs, className, methodName)
		return b.present(fmt.Sprintf("Found %d methods with name %s in class %s:\n\n", len(results), methodName, className), results)
	}

	owner, locs := b.inheritedMethod(className, methodName)
	if len(locs) == 0 {
		return notFound("Could not find method %s in class %s.", methodName, className)
	}
	results := b.resultsAt(locs, owner, methodName)
	return b.present(fmt.Sprintf("Found %d methods with name %s in class %s (inherited from %s):\n\n",
		len(results), methodName, className, owner), results)
}

func (b *Backend) inheritedMethod(className, methodName string) (string, []index.Location) {
	visited := map[string]bool{className: true}
	frontier := b.idx.Bases(className)
	for depth := 0; depth < maxInheritanceDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, base := range frontier {
			if visited[base] {
				continue
			}
			visited[base] = true
			if locs := b.idx.MethodsInClass(base, methodName); len(locs) > 0 {
				return base, locs
			}
			next = append(next, b.idx.Bases(base)...)
		}
		frontier = next
	}
	return "", nil
}

// SearchMethod returns every class method and module-level function named
// methodName.
func (b *Backend) SearchMethod(_ context.Context, methodName string) Result {
	owners := b.idx.MethodOwners(methodName)
	var results []SearchResult
	for _, class := range owners {
		results = append(results, b.resultsAt(b.idx.MethodsInClass(class, methodName), class, methodName)...)
	}
	results = append(results, b.resultsAt(b.idx.Functions(methodName), "", methodName)...)
	if len(results) == 0 {
		return notFound("Could not find method %s in the codebase.", methodName)
	}
	header := fmt.Sprintf("Found %d methods with name %s in the codebase:\n\n", len(results), methodName)
	if len(owners) > 1 {
		header = fmt.Sprintf("Found %d methods with name %s in the codebase. It is defined in classes: %s.\n\n",
			len(results), methodName, strings.Join(owners, ", "))
	}
	return b.present(header, results)
}

// SearchCode returns regions containing codeStr anywhere in the project.
func (b *Backend) SearchCode(_ context.Context, codeStr string) Result {
	if strings.TrimSpace(codeStr) == "" {
		return notFound("Could not search for an empty code snippet.")
	}
	results := b.codeMatches(b.idx.Files(), codeStr)
	if len(results) == 0 {
		return notFound("Could not find code %s in the codebase.", codeStr)
	}
	header := fmt.Sprintf("Found %d snippets containing `%s` in the codebase:\n\n", len(results), codeStr)
	if len(results) > b.showLimit {
		header += "They appeared in the following methods:\n" + CollapseToMethodLevel(results, b.idx.Root()) + "\n"
	}
	return b.present(header, results)
}

// SearchCodeInFile returns regions containing codeStr in files matching filePath.
func (b *Backend) SearchCodeInFile(_ context.Context, codeStr, filePath string) Result {
	files := b.idx.MatchFiles(filePath)
	if len(files) == 0 {
		return notFound("Could not find file %s in the codebase.", filePath)
	}
	if strings.TrimSpace(codeStr) == "" {
		return notFound("Could not search for an empty code snippet.")
	}
	results := b.codeMatches(files, codeStr)
	if len(results) == 0 {
		return notFound("Could not find code %s in file %s.", codeStr, filePath)
	}
	return b.present(fmt.Sprintf("Found %d snippets with code %s in file %s:\n\n", len(results), codeStr, filePath), results)
}

func (b *Backend) codeMatches(files []string, codeStr string) []SearchResult {
	var results []SearchResult
	for _, file := range files {
		lines, err := b.idx.FileLines(file)
		if err != nil {
			continue
		}
		for i, line := range lines {
			if !strings.Contains(line, codeStr) {
				continue
			}
			lineNo := i + 1
			start := max(1, lineNo-codeContextLines)
			end := min(len(lines), lineNo+codeContextLines)
			class, fn := b.idx.Enclosing(file, lineNo)
			r, err := b.resultAt(index.Location{File: file, StartLine: start, EndLine: end}, class, fn)
			if err == nil {
				results = append(results, r)
			}
		}
	}
	return results
}

// GetClassFullSnippet returns the full definition of every class named className.
func (b *Backend) GetClassFullSnippet(_ context.Context, className string) Result {
	locs := b.idx.Classes(className)
	if len(locs) == 0 {
		return notFound("Could not find class %s in the codebase.", className)
	}
	results := b.resultsAt(locs, className, "")
	return b.present(fmt.Sprintf("Found %d classes with name %s in the codebase:\n\n", len(results), className), results)
}

// GetFileContent returns the full content of files matching filePath.
func (b *Backend) GetFileContent(_ context.Context, filePath string) Result {
	files := b.idx.MatchFiles(filePath)
	if len(files) == 0 {
		return notFound("Could not find file %s in the codebase.", filePath)
	}
	var results []SearchResult
	for _, f := range files {
		lines, err := b.idx.FileLines(f)
		if err != nil {
			continue
		}
		if r, err := b.resultAt(index.Location{File: f, StartLine: 1, EndLine: len(lines)}, "", ""); err == nil {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return notFound("Could not find file %s in the codebase.", filePath)
	}
	return b.present(fmt.Sprintf("Found %d files matching %s:\n\n", len(results), filePath), results)
}

// GetCodeAroundLine returns windowSize lines on either side of lineNumber.
// Both numeric arguments arrive as text from the model.
func (b *Backend) GetCodeAroundLine(_ context.Context, filePath, lineNumber, windowSize string) Result {
	line, err := strconv.Atoi(strings.TrimSpace(lineNumber))
	if err != nil || line < 1 {
		return notFound("Invalid line number %s.", lineNumber)
	}
	window, err := strconv.Atoi(strings.TrimSpace(windowSize))
	if err != nil || window < 0 {
		return notFound("Invalid window size %s.", windowSize)
	}
	files := b.idx.MatchFiles(filePath)
	if len(files) == 0 {
		return notFound("Could not find file %s in the codebase.", filePath)
	}
	var results []SearchResult
	for _, f := range files {
		lines, err := b.idx.FileLines(f)
		if err != nil || line > len(lines) {
			continue
		}
		class, fn := b.idx.Enclosing(f, line)
		w := min(window, len(lines))
		loc := index.Location{File: f, StartLine: max(1, line-w), EndLine: min(len(lines), line+w)}
		if r, err := b.resultAt(loc, class, fn); err == nil {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return notFound("Line %d is out of range for file %s.", line, filePath)
	}
	return b.present(fmt.Sprintf("Found %d code snippets around line %d in %s:\n\n", len(results), line, filePath), results)
}

func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FilePath != results[j].FilePath {
			return results[i].FilePath < results[j].FilePath
		}
		return results[i].StartLine < results[j].StartLine
	})
}
