// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `import os


def helper(a,
           b):
    return a + b


@dataclass
class Point(Base, mixins.Printable, metaclass=Meta):
    x: int

    def norm(self):
        return 0

    @property
    def label(self):
        return "p"

    class Meta:
        ordering = ["x"]


async def fetch():
    pass
`

func TestParseSource_Outline(t *testing.T) {
	mod, err := ParseSource(context.Background(), "pkg/point.py", []byte(sampleSource))
	require.NoError(t, err)
	assert.False(t, mod.HasErrors)

	require.Len(t, mod.Functions, 2)
	assert.Equal(t, "helper", mod.Functions[0].Name)
	assert.Equal(t, 4, mod.Functions[0].StartLine)
	assert.Equal(t, 5, mod.Functions[0].SignatureEnd)
	assert.Equal(t, 6, mod.Functions[0].EndLine)
	assert.Equal(t, "fetch", mod.Functions[1].Name)

	require.Len(t, mod.Classes, 2)
	point := mod.Classes[0]
	assert.Equal(t, "Point", point.Name)
	assert.Equal(t, 9, point.StartLine, "decorators belong to the definition")
	assert.Equal(t, 10, point.SignatureEnd)
	assert.Equal(t, []string{"Base", "Printable"}, point.Bases)

	require.Len(t, point.Methods, 2)
	assert.Equal(t, "norm", point.Methods[0].Name)
	assert.Equal(t, 13, point.Methods[0].StartLine)
	assert.Equal(t, 14, point.Methods[0].EndLine)
	assert.Equal(t, "label", point.Methods[1].Name)
	assert.Equal(t, 16, point.Methods[1].StartLine)

	assert.Equal(t, "Meta", mod.Classes[1].Name)
}

func TestClassBases(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{"name and object", "class Foo(B, object):\n    pass", []string{"B"}},
		{"type call", "class Bar(type('D', (), {})):\n    pass", []string{"'D'"}},
		{"mixed", "class Baz(C, type('E', (), {}), object):\n    pass", []string{"C", "'E'"}},
		{"only object", "class Quux(object):\n    pass", nil},
		{"no parens", "class Plain:\n    pass", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod, err := ParseSource(context.Background(), "x.py", []byte(tt.source))
			require.NoError(t, err)
			require.Len(t, mod.Classes, 1)
			if tt.want == nil {
				assert.Empty(t, mod.Classes[0].Bases)
				return
			}
			assert.Equal(t, tt.want, mod.Classes[0].Bases)
		})
	}
}

func TestParseSource_InvalidUTF8(t *testing.T) {
	_, err := ParseSource(context.Background(), "bad.py", []byte{0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, ErrInvalidContent)
}

func TestParseSource_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ParseSource(ctx, "x.py", []byte("def f(): pass"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSource_SyntaxErrorStillOutlines(t *testing.T) {
	mod, err := ParseSource(context.Background(), "broken.py", []byte("def ok():\n    pass\n\ndef broken(:\n"))
	require.NoError(t, err)
	assert.True(t, mod.HasErrors)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.py")
	require.NoError(t, os.WriteFile(path, []byte("class A:\n    def run(self):\n        pass\n"), 0o644))

	mod, content, err := ParseFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, mod.Path)
	assert.Contains(t, string(content), "def run")
	require.Len(t, mod.Classes, 1)
	assert.Equal(t, 3, mod.Classes[0].EndLine)

	_, _, err = ParseFile(context.Background(), filepath.Join(dir, "missing.py"))
	assert.Error(t, err)
}
