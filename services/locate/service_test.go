// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locate

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate/config"
	"github.com/AleutianAI/faultline/services/locate/storage"
)

const calcSource = `class Calculator:
    def add(self, a, b):
        return a - b

    def sub(self, a, b):
        return a - b


def helper():
    return Calculator()
`

const calcPatch = `--- a/pkg/calc.py
+++ b/pkg/calc.py
@@ -1,3 +1,3 @@
 class Calculator:
     def add(self, a, b):
-        return a - b
+        return a + b
`

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "calc.py"), []byte(calcSource), 0o644))
	return root
}

// replies answers each Chat call with the next scripted reply, repeating
// the last one when the script runs out.
func replies(texts ...string) (llm.ChatClient, *int) {
	var mu sync.Mutex
	calls := 0
	return llm.ChatFunc(func(context.Context, []llm.Message, llm.ChatOptions) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		i := calls
		if i >= len(texts) {
			i = len(texts) - 1
		}
		calls++
		return texts[i], nil
	}), &calls
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.ConvRoundLimit = 3
	return cfg
}

func TestNewService_NilClient(t *testing.T) {
	_, err := NewService(config.DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestNewService_PromptsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.PromptsFile = filepath.Join(t.TempDir(), "missing.yaml")
	client, _ := replies("{}")

	_, err := NewService(cfg, client)
	assert.Error(t, err)
}

func TestService_IndexCached(t *testing.T) {
	root := writeProject(t)
	client, _ := replies("{}")
	svc, err := NewService(testConfig(t), client)
	require.NoError(t, err)

	first, err := svc.Index(context.Background(), root)
	require.NoError(t, err)
	second, err := svc.Index(context.Background(), root)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, first.Stats().Files)

	svc.Invalidate(root)
	third, err := svc.Index(context.Background(), root)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestService_Locate(t *testing.T) {
	root := writeProject(t)
	client, calls := replies(`{"API_calls": [], "bug_locations": [
		{"file": "pkg/calc.py", "class": "Calculator", "method": "add", "intended_behavior": "return the sum"}]}`)

	cfg := testConfig(t)
	svc, err := NewService(cfg, client)
	require.NoError(t, err)

	res, err := svc.Locate(context.Background(), LocateRequest{
		ProjectRoot: root,
		Issue:       "Calculator.add subtracts instead of adding",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Status)
	assert.Equal(t, 1, *calls)
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, filepath.Join(cfg.OutputDir, res.SessionID), res.OutputDir)
	require.Len(t, res.BugLocations, 1)

	loc := res.BugLocations[0]
	assert.Equal(t, "pkg/calc.py", loc.RelFilePath)
	assert.Equal(t, "Calculator", loc.ClassName)
	assert.Equal(t, "add", loc.MethodName)
	assert.Equal(t, 2, loc.StartLine)
	assert.Equal(t, 3, loc.EndLine)
	assert.Equal(t, "return the sum", loc.IntendedBehavior)

	assert.FileExists(t, filepath.Join(res.OutputDir, storage.BugLocationsFile))
	assert.FileExists(t, filepath.Join(res.OutputDir, storage.ToolCallLayersFile))
}

func TestService_LocateKeepsEachSessionTrail(t *testing.T) {
	root := writeProject(t)
	client, _ := replies(
		`{"API_calls": ["search_class('Calculator')"], "bug_locations": []}`,
		`{"API_calls": [], "bug_locations": [{"class": "Calculator"}]}`,
	)
	cfg := testConfig(t)
	svc, err := NewService(cfg, client)
	require.NoError(t, err)

	first, err := svc.Locate(context.Background(), LocateRequest{ProjectRoot: root, Issue: "first"})
	require.NoError(t, err)
	second, err := svc.Locate(context.Background(), LocateRequest{ProjectRoot: root, Issue: "second"})
	require.NoError(t, err)

	require.NotEqual(t, first.SessionID, second.SessionID)
	require.NotEqual(t, first.OutputDir, second.OutputDir)

	firstLayers, err := os.ReadFile(filepath.Join(first.OutputDir, storage.ToolCallLayersFile))
	require.NoError(t, err)
	assert.JSONEq(t, `[[{"func_name": "search_class", "arguments": {"class_name": "Calculator"}, "call_ok": true}]]`, string(firstLayers))
	assert.FileExists(t, filepath.Join(first.OutputDir, "conversation_round_1.json"))

	secondLayers, err := os.ReadFile(filepath.Join(second.OutputDir, storage.ToolCallLayersFile))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(secondLayers))
	assert.FileExists(t, filepath.Join(second.OutputDir, "conversation_round_0.json"))
	assert.NoFileExists(t, filepath.Join(second.OutputDir, "conversation_round_1.json"))
}

func TestService_LocateOutputDirOverride(t *testing.T) {
	root := writeProject(t)
	client, _ := replies(`{"API_calls": [], "bug_locations": [{"class": "Calculator"}]}`)
	svc, err := NewService(testConfig(t), client)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "session")
	res, err := svc.Locate(context.Background(), LocateRequest{ProjectRoot: root, Issue: "x", OutputDir: out})
	require.NoError(t, err)
	assert.Equal(t, out, res.OutputDir)
	assert.FileExists(t, filepath.Join(out, storage.BugLocationsFile))
}

func TestService_LocateInvalidRequest(t *testing.T) {
	client, _ := replies("{}")
	svc, err := NewService(testConfig(t), client)
	require.NoError(t, err)

	_, err = svc.Locate(context.Background(), LocateRequest{Issue: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Locate(context.Background(), LocateRequest{ProjectRoot: t.TempDir()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_Archive(t *testing.T) {
	root := writeProject(t)
	client, _ := replies(`{"bug_locations": [{"method": "helper"}]}`)

	archive, err := storage.OpenArchive(storage.ArchiveConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	svc, err := NewService(testConfig(t), client, WithArchive(archive))
	require.NoError(t, err)

	res, err := svc.Locate(context.Background(), LocateRequest{ProjectRoot: root, Issue: "helper is wrong"})
	require.NoError(t, err)

	metas, err := svc.Sessions(context.Background(), root, 10)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, res.SessionID, metas[0].ID)
	assert.Equal(t, 1, metas[0].Locations)

	rec, err := svc.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "helper is wrong", rec.Issue)
}

func TestService_ArchiveDisabled(t *testing.T) {
	client, _ := replies("{}")
	svc, err := NewService(testConfig(t), client)
	require.NoError(t, err)

	_, err = svc.Sessions(context.Background(), "", 0)
	assert.ErrorIs(t, err, ErrArchiveDisabled)
	_, err = svc.Session(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}

func TestService_Review(t *testing.T) {
	client, _ := replies(`{"patch-correct": "no", "patch-analysis": "wrong operator", "patch-advice": "use +",
		"test-correct": "yes", "test-analysis": "", "test-advice": ""}`)
	svc, err := NewService(testConfig(t), client)
	require.NoError(t, err)

	review, err := svc.Review(context.Background(), ReviewRequest{Issue: "add is wrong", Patch: calcPatch})
	require.NoError(t, err)
	assert.Equal(t, "NO", string(review.PatchDecision))
	assert.Equal(t, "use +", review.PatchAdvice)
	assert.Equal(t, []PatchFile{{Path: "pkg/calc.py", Added: 1, Deleted: 1, Hunks: 1}}, review.Files)

	_, err = svc.Review(context.Background(), ReviewRequest{Issue: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Review(context.Background(), ReviewRequest{Issue: "x", Patch: "not a diff at all"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSummarizePatch(t *testing.T) {
	files, err := SummarizePatch(calcPatch + `--- a/pkg/old.py
+++ /dev/null
@@ -1,2 +0,0 @@
-def old():
-    pass
`)
	require.NoError(t, err)
	assert.Equal(t, []PatchFile{
		{Path: "pkg/calc.py", Added: 1, Deleted: 1, Hunks: 1},
		{Path: "pkg/old.py", Added: 0, Deleted: 2, Hunks: 1},
	}, files)

	_, err = SummarizePatch("")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_WatchInvalidates(t *testing.T) {
	root := writeProject(t)
	client, _ := replies("{}")
	cfg := testConfig(t)
	cfg.Watch = true
	svc, err := NewService(cfg, client)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	first, err := svc.Index(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "extra.py"), []byte("def extra():\n    pass\n"), 0o644))

	assert.Eventually(t, func() bool {
		idx, err := svc.Index(context.Background(), root)
		return err == nil && idx != first && idx.Stats().Files == 2
	}, 5*time.Second, 50*time.Millisecond)
}
