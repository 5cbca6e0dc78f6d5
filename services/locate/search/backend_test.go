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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/faultline/services/locate/index"
)

const shapesSource = `class Shape:
    def area(self):
        return 0

    def describe(self):
        return "shape"


class Square(Shape):
    def __init__(self, side):
        self.side = side

    def area(self):
        return self.side * self.side


def area(shape):
    return shape.area()
`

const utilSource = `def clamp(value, low, high):
    if value < low:
        return low
    if value > high:
        return high
    return value
`

func newTestBackend(t *testing.T, extra map[string]string) *Backend {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"geo/shapes.py": shapesSource,
		"geo/util.py":   utilSource,
	}
	for k, v := range extra {
		files[k] = v
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	idx, err := index.Build(context.Background(), root)
	require.NoError(t, err)
	return NewBackend(idx)
}

func TestSearchClass(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.SearchClass(context.Background(), "Square")
	require.True(t, res.Found)
	require.Len(t, res.Matches, 1)
	assert.Contains(t, res.Message, "Found 1 classes with name Square")
	assert.Contains(t, res.Matches[0].Code, "9 class Square(Shape):")
	assert.Contains(t, res.Matches[0].Code, "13     def area(self):")
	assert.NotContains(t, res.Matches[0].Code, "self.side * self.side", "signatures only")

	res = b.SearchClass(context.Background(), "Circle")
	assert.False(t, res.Found)
	assert.Empty(t, res.Matches)
	assert.Equal(t, "Could not find class Circle in the codebase.", res.Message)
}

func TestSearchClassInFile(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.SearchClassInFile(context.Background(), "Shape", "shapes.py")
	require.True(t, res.Found)
	assert.Contains(t, res.Matches[0].Code, "return \"shape\"")
	assert.Equal(t, "geo/shapes.py", res.Matches[0].RelPath(b.ProjectRoot()))

	assert.False(t, b.SearchClassInFile(context.Background(), "Shape", "util.py").Found)
	res = b.SearchClassInFile(context.Background(), "Shape", "nowhere.py")
	assert.False(t, res.Found)
	assert.Contains(t, res.Message, "Could not find file nowhere.py")
}

func TestSearchMethodInClass_Inherited(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.SearchMethodInClass(context.Background(), "area", "Square")
	require.True(t, res.Found)
	assert.Equal(t, "Square", res.Matches[0].ClassName)
	assert.Equal(t, 13, res.Matches[0].StartLine)

	res = b.SearchMethodInClass(context.Background(), "describe", "Square")
	require.True(t, res.Found)
	assert.Equal(t, "Shape", res.Matches[0].ClassName)
	assert.Contains(t, res.Message, "inherited from Shape")

	res = b.SearchMethodInClass(context.Background(), "perimeter", "Square")
	assert.False(t, res.Found)
	assert.Equal(t, "Could not find method perimeter in class Square.", res.Message)

	res = b.SearchMethodInClass(context.Background(), "area", "Circle")
	assert.False(t, res.Found)
}

func TestSearchMethod_ListsOwners(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.SearchMethod(context.Background(), "area")
	require.True(t, res.Found)
	assert.Contains(t, res.Message, "Found 3 methods with name area")
	assert.Contains(t, res.Message, "defined in classes: Shape, Square")
	assert.Len(t, res.Matches, 3)

	assert.False(t, b.SearchMethod(context.Background(), "nothing").Found)
}

func TestSearchMethodInFile(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.SearchMethodInFile(context.Background(), "clamp", "geo/util.py")
	require.True(t, res.Found)
	assert.Equal(t, 1, res.Matches[0].StartLine)
	assert.Equal(t, 6, res.Matches[0].EndLine)

	assert.False(t, b.SearchMethodInFile(context.Background(), "clamp", "shapes.py").Found)
}

func TestSearchCode(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.SearchCode(context.Background(), "return high")
	require.True(t, res.Found)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "clamp", res.Matches[0].FuncName)
	assert.Equal(t, 2, res.Matches[0].StartLine)
	assert.Equal(t, 6, res.Matches[0].EndLine)

	res = b.SearchCodeInFile(context.Background(), "self.side", "shapes.py")
	require.True(t, res.Found)
	assert.Equal(t, "Square", res.Matches[0].ClassName)

	assert.False(t, b.SearchCode(context.Background(), "   ").Found)
	assert.False(t, b.SearchCode(context.Background(), "no such text").Found)
}

func TestGetFileContentAndAroundLine(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.GetFileContent(context.Background(), "util.py")
	require.True(t, res.Found)
	assert.True(t, strings.HasPrefix(res.Matches[0].Code, "1 def clamp(value, low, high):\n"))

	res = b.GetCodeAroundLine(context.Background(), "util.py", "4", "1")
	require.True(t, res.Found)
	assert.Equal(t, 3, res.Matches[0].StartLine)
	assert.Equal(t, 5, res.Matches[0].EndLine)

	assert.False(t, b.GetCodeAroundLine(context.Background(), "util.py", "x", "1").Found)
	assert.False(t, b.GetCodeAroundLine(context.Background(), "util.py", "99", "1").Found)
}

func TestGetCodeAroundLine_HugeWindow(t *testing.T) {
	b := newTestBackend(t, nil)

	res := b.GetCodeAroundLine(context.Background(), "util.py", "4", "9223372036854775807")
	require.True(t, res.Found)
	assert.Equal(t, 1, res.Matches[0].StartLine)
	assert.Equal(t, 6, res.Matches[0].EndLine)
	assert.True(t, strings.HasPrefix(res.Matches[0].Code, "1 def clamp(value, low, high):\n"))
}

func TestPresent_TruncatesToShowLimit(t *testing.T) {
	extra := map[string]string{}
	for i := 0; i < 5; i++ {
		extra[fmt.Sprintf("pkg%d/handler.py", i)] = "class Handler:\n    def handle(self):\n        pass\n"
	}
	b := newTestBackend(t, extra)

	res := b.GetClassFullSnippet(context.Background(), "Handler")
	require.True(t, res.Found)
	assert.Len(t, res.Matches, ResultShowLimit)
	assert.Contains(t, res.Message, "Found 5 classes with name Handler")
	assert.Contains(t, res.Message, "Showing 3 of 5 results")
	assert.Contains(t, res.Message, "<file>pkg4/handler.py</file> (1 match)")
}

func TestResolveBugLocation(t *testing.T) {
	b := newTestBackend(t, nil)
	ctx := context.Background()

	locs := b.ResolveBugLocation(ctx, Candidate{File: "geo/shapes.py", Class: "Square", Method: "area", IntendedBehavior: "return side squared"})
	require.Len(t, locs, 1)
	assert.Equal(t, "geo/shapes.py", locs[0].RelFilePath)
	assert.Equal(t, "Square", locs[0].ClassName)
	assert.Equal(t, "area", locs[0].MethodName)
	assert.Equal(t, "return side squared", locs[0].IntendedBehavior)

	locs = b.ResolveBugLocation(ctx, Candidate{File: "wrong/path.py", Class: "Shape"})
	require.Len(t, locs, 1, "unknown file falls back to a project-wide lookup")
	assert.Equal(t, 1, locs[0].StartLine)

	locs = b.ResolveBugLocation(ctx, Candidate{Method: "area"})
	assert.Len(t, locs, 3)

	locs = b.ResolveBugLocation(ctx, Candidate{File: "util.py"})
	require.Len(t, locs, 1)
	assert.Equal(t, 6, locs[0].EndLine)

	assert.Empty(t, b.ResolveBugLocation(ctx, Candidate{Class: "Circle"}))
	assert.Empty(t, b.ResolveBugLocation(ctx, Candidate{}))
}

func TestBugLocation_String(t *testing.T) {
	loc := NewBugLocation(SearchResult{
		FilePath: "/proj/a/b.py", StartLine: 1, EndLine: 2, ClassName: "C", FuncName: "f", Code: "1 def f():\n2     pass\n",
	}, "/proj", "should not crash")

	assert.Equal(t, "a/b.py", loc.RelFilePath)
	assert.Equal(t,
		"<file>a/b.py</file>\n<class>C</class>\n<method>f</method>\n<code>\n1 def f():\n2     pass\n</code>\n<intended_behavior>should not crash</intended_behavior>\n",
		loc.String())
	assert.Contains(t, RenderBugLocations([]BugLocation{loc}), "Location #1:")
}

func TestSearchResult_Tagged(t *testing.T) {
	r := SearchResult{FilePath: "/p/x.py", ClassName: "A", FuncName: "run", Code: "code"}
	assert.Equal(t, "<file>x.py</file>\n<class>A</class> <func>run</func>\n<code>\ncode\n</code>", r.Tagged("/p"))

	r = SearchResult{FilePath: "/p/x.py", Code: "code"}
	assert.Equal(t, "<file>x.py</file>\n\n<code>\ncode\n</code>", r.Tagged("/p"))
}
