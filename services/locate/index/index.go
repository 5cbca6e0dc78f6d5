// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index builds the read-only source index that the search primitives
// query: where every class, method, and module-level function of a Python
// project is defined, plus the raw lines of each file.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/faultline/services/locate/ast"
)

// ErrFileNotIndexed indicates a path outside the indexed file set.
var ErrFileNotIndexed = errors.New("file not indexed")

// Location is a definition site inside an indexed file.
//
// File is absolute. Lines are 1-based and inclusive.
type Location struct {
	File         string
	StartLine    int
	EndLine      int
	SignatureEnd int
}

func locationOf(file string, d ast.Definition) Location {
	return Location{
		File:         file,
		StartLine:    d.StartLine,
		EndLine:      d.EndLine,
		SignatureEnd: d.SignatureEnd,
	}
}

// Index is the immutable result of Build.
//
// Thread Safety: Safe for concurrent reads. Nothing mutates an Index after
// Build returns.
type Index struct {
	root  string
	files []string
	lines map[string][]string
	mods  map[string]*ast.Module

	classes      map[string][]Location
	classMethods map[string]map[string][]Location
	functions    map[string][]Location
	bases        map[string][]string
	parseErrors  int
}

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	parallelism int
	logger      *slog.Logger
}

// WithParallelism bounds the number of files parsed concurrently.
func WithParallelism(n int) Option {
	return func(o *buildOptions) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithLogger sets the logger used while building.
func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

type parsedFile struct {
	mod   *ast.Module
	lines []string
}

// Build enumerates and parses every Python source under root.
//
// Description:
//
//	Files come from FindPythonFiles. Parsing fans out over an errgroup bounded
//	by the configured parallelism; each worker writes to its own slot so the
//	merge is deterministic regardless of completion order. Files that fail to
//	parse are logged and left out of the symbol tables, matching how a search
//	over an unparseable file would behave anyway.
//
// Inputs:
//   - ctx: Cancellation aborts the build.
//   - root: Project root.
//   - opts: Build options.
//
// Outputs:
//   - *Index: The index.
//   - error: Enumeration or cancellation failure.
func Build(ctx context.Context, root string, opts ...Option) (*Index, error) {
	o := buildOptions{parallelism: runtime.NumCPU(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := startBuildSpan(ctx, root)
	defer span.End()
	start := time.Now()

	files, err := FindPythonFiles(root)
	if err != nil {
		recordBuildError(span, err)
		return nil, err
	}
	absRoot, _ := filepath.Abs(root)

	parsed := make([]*parsedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, file := range files {
		g.Go(func() error {
			mod, content, err := ast.ParseFile(gctx, file)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				o.logger.Warn("index: skipping unparseable file",
					slog.String("file", file),
					slog.String("error", err.Error()),
				)
				return nil
			}
			parsed[i] = &parsedFile{mod: mod, lines: splitLines(string(content))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		recordBuildError(span, err)
		return nil, fmt.Errorf("building index for %s: %w", absRoot, err)
	}

	idx := &Index{
		root:         absRoot,
		lines:        make(map[string][]string, len(files)),
		mods:         make(map[string]*ast.Module, len(files)),
		classes:      make(map[string][]Location),
		classMethods: make(map[string]map[string][]Location),
		functions:    make(map[string][]Location),
		bases:        make(map[string][]string),
	}
	for i, pf := range parsed {
		if pf == nil {
			idx.parseErrors++
			continue
		}
		idx.add(files[i], pf)
	}

	setBuildSpanResult(span, len(idx.files), len(idx.classes), len(idx.functions), idx.parseErrors)
	recordBuildMetrics(time.Since(start), len(idx.files), idx.parseErrors)
	o.logger.Info("index: built",
		slog.String("root", absRoot),
		slog.Int("files", len(idx.files)),
		slog.Int("classes", len(idx.classes)),
		slog.Int("functions", len(idx.functions)),
		slog.Int("parse_errors", idx.parseErrors),
		slog.Duration("duration", time.Since(start)),
	)
	return idx, nil
}

func (idx *Index) add(file string, pf *parsedFile) {
	idx.files = append(idx.files, file)
	idx.lines[file] = pf.lines
	idx.mods[file] = pf.mod

	for _, cls := range pf.mod.Classes {
		idx.classes[cls.Name] = append(idx.classes[cls.Name], locationOf(file, cls.Definition))
		if len(cls.Bases) > 0 {
			idx.bases[cls.Name] = appendUnique(idx.bases[cls.Name], cls.Bases...)
		}
		methods := idx.classMethods[cls.Name]
		if methods == nil {
			methods = make(map[string][]Location)
			idx.classMethods[cls.Name] = methods
		}
		for _, m := range cls.Methods {
			methods[m.Name] = append(methods[m.Name], locationOf(file, m))
		}
	}
	for _, fn := range pf.mod.Functions {
		idx.functions[fn.Name] = append(idx.functions[fn.Name], locationOf(file, fn))
	}
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

// Root returns the absolute project root.
func (idx *Index) Root() string { return idx.root }

// Files returns the indexed files (absolute, sorted).
func (idx *Index) Files() []string {
	out := make([]string, len(idx.files))
	copy(out, idx.files)
	return out
}

// RelPath returns file relative to the project root, slash separated.
func (idx *Index) RelPath(file string) string {
	rel, err := filepath.Rel(idx.root, file)
	if err != nil {
		return filepath.ToSlash(file)
	}
	return filepath.ToSlash(rel)
}

// Classes returns every definition site of the named class.
func (idx *Index) Classes(name string) []Location {
	return idx.classes[name]
}

// MethodsInClass returns the definition sites of method in class.
func (idx *Index) MethodsInClass(class, method string) []Location {
	return idx.classMethods[class][method]
}

// Methods returns every method of class, keyed by method name.
func (idx *Index) Methods(class string) map[string][]Location {
	return idx.classMethods[class]
}

// Functions returns the module-level definition sites of name.
func (idx *Index) Functions(name string) []Location {
	return idx.functions[name]
}

// Bases returns the recorded base classes of class.
func (idx *Index) Bases(class string) []string {
	return idx.bases[class]
}

// MethodOwners lists, sorted, the classes that define method.
func (idx *Index) MethodOwners(method string) []string {
	var owners []string
	for class, methods := range idx.classMethods {
		if len(methods[method]) > 0 {
			owners = append(owners, class)
		}
	}
	sort.Strings(owners)
	return owners
}

// MatchFiles resolves a user-supplied file name to indexed files.
//
// Description:
//
//	An indexed file matches when its project-relative path equals name or
//	ends with "/"+name. Absolute names inside the root are made relative
//	first. Leading "./" is ignored.
//
// Outputs:
//   - []string: Matching absolute paths, in index order. Empty if none.
func (idx *Index) MatchFiles(name string) []string {
	name = strings.TrimSpace(filepath.ToSlash(name))
	if filepath.IsAbs(name) {
		if rel, err := filepath.Rel(idx.root, name); err == nil && !strings.HasPrefix(rel, "..") {
			name = filepath.ToSlash(rel)
		}
	}
	name = strings.TrimPrefix(name, "./")
	if name == "" {
		return nil
	}
	var out []string
	for _, f := range idx.files {
		rel := idx.RelPath(f)
		if rel == name || strings.HasSuffix(rel, "/"+name) {
			out = append(out, f)
		}
	}
	return out
}

// FileLines returns the lines of an indexed file.
func (idx *Index) FileLines(file string) ([]string, error) {
	lines, ok := idx.lines[file]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotIndexed, file)
	}
	return lines, nil
}

// Snippet returns lines start..end (1-based, inclusive) of file.
//
// Description:
//
//	With withLineNo each line is prefixed by its number and a space, which is
//	the form the model sees so it can cite exact lines back. The range is
//	clamped to the file.
func (idx *Index) Snippet(file string, start, end int, withLineNo bool) (string, error) {
	lines, err := idx.FileLines(file)
	if err != nil {
		return "", err
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	var b strings.Builder
	for i := start; i <= end; i++ {
		if withLineNo {
			fmt.Fprintf(&b, "%d %s\n", i, lines[i-1])
		} else {
			b.WriteString(lines[i-1])
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// ClassSignature renders a class header followed by the signature lines of
// its methods, omitting bodies.
func (idx *Index) ClassSignature(class string, loc Location) (string, error) {
	lines, err := idx.FileLines(loc.File)
	if err != nil {
		return "", err
	}
	sigEnd := loc.SignatureEnd
	if sigEnd < loc.StartLine {
		sigEnd = loc.StartLine
	}
	header, err := idx.Snippet(loc.File, loc.StartLine, sigEnd, true)
	if err != nil {
		return "", err
	}
	var sigs []Location
	for _, locs := range idx.classMethods[class] {
		for _, m := range locs {
			if m.File == loc.File && m.StartLine >= loc.StartLine && m.EndLine <= loc.EndLine {
				sigs = append(sigs, m)
			}
		}
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].StartLine < sigs[j].StartLine })

	var b strings.Builder
	b.WriteString(header)
	for _, m := range sigs {
		end := m.SignatureEnd
		if end < m.StartLine {
			end = m.StartLine
		}
		if end > len(lines) {
			end = len(lines)
		}
		for i := m.StartLine; i <= end; i++ {
			fmt.Fprintf(&b, "%d %s\n", i, lines[i-1])
		}
	}
	return b.String(), nil
}

// Enclosing returns the innermost class and function (or method) whose
// definition spans line in file. Either may be empty.
func (idx *Index) Enclosing(file string, line int) (class, function string) {
	mod := idx.mods[file]
	if mod == nil {
		return "", ""
	}
	within := func(start, end int) bool { return line >= start && line <= end }
	best := 0
	for _, cls := range mod.Classes {
		if !within(cls.StartLine, cls.EndLine) || cls.StartLine < best {
			continue
		}
		best = cls.StartLine
		class, function = cls.Name, ""
		for _, m := range cls.Methods {
			if within(m.StartLine, m.EndLine) {
				function = m.Name
			}
		}
	}
	if class == "" {
		for _, fn := range mod.Functions {
			if within(fn.StartLine, fn.EndLine) {
				function = fn.Name
			}
		}
	}
	return class, function
}

// Stats summarizes the index for CLI and API output.
type Stats struct {
	Root        string `json:"root"`
	Files       int    `json:"files"`
	Classes     int    `json:"classes"`
	Functions   int    `json:"functions"`
	ParseErrors int    `json:"parse_errors"`
}

// Stats returns counts describing the index.
func (idx *Index) Stats() Stats {
	return Stats{
		Root:        idx.root,
		Files:       len(idx.files),
		Classes:     len(idx.classes),
		Functions:   len(idx.functions),
		ParseErrors: idx.parseErrors,
	}
}
