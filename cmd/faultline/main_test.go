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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/faultline/services/locate"
	"github.com/AleutianAI/faultline/services/locate/index"
	"github.com/AleutianAI/faultline/services/locate/search"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"locate", "index", "review", "serve"})

	for _, flag := range []string{"config", "log-level", "log-format", "trace"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestReadInput(t *testing.T) {
	got, err := readInput(strings.NewReader("from stdin"), "-")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	got, err = readInput(nil, "")
	require.NoError(t, err)
	assert.Empty(t, got)

	path := filepath.Join(t.TempDir(), "issue.md")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))
	got, err = readInput(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	_, err = readInput(nil, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRenderResult_Plain(t *testing.T) {
	res := locate.LocateResult{
		SessionID: "abc",
		Status:    "done",
		Rounds:    2,
		BugLocations: []search.BugLocation{{
			RelFilePath:      "pkg/calc.py",
			StartLine:        2,
			EndLine:          3,
			ClassName:        "Calculator",
			MethodName:       "add",
			Code:             "def add(self, a, b):\n    return a - b",
			IntendedBehavior: "return the sum",
		}},
	}

	out := renderResult(res, false)
	assert.Contains(t, out, "session abc: done after 2 round(s), 1 location(s)")
	assert.Contains(t, out, "Location #1:")
	assert.Contains(t, out, "<file>pkg/calc.py</file>")
	assert.Contains(t, out, "<intended_behavior>return the sum</intended_behavior>")

	styled := renderResult(res, true)
	assert.Contains(t, styled, "pkg/calc.py:2-3")
	assert.Contains(t, styled, "return the sum")
}

func TestRenderResult_NoLocations(t *testing.T) {
	out := renderResult(locate.LocateResult{SessionID: "x", Status: "exhausted", Rounds: 15}, true)
	assert.Contains(t, out, "no locations found")
}

func TestRenderStats(t *testing.T) {
	out := renderStats(index.Stats{Root: "/repo", Files: 3, Classes: 2, Functions: 5}, false)
	assert.Equal(t, "/repo\nfiles: 3\nclasses: 2\nfunctions: 5\nparse errors: 0\n", out)
}

func TestIsTerminal_Buffer(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
}
