// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate"
	"github.com/AleutianAI/faultline/services/locate/config"
	"github.com/AleutianAI/faultline/services/locate/index"
	"github.com/AleutianAI/faultline/services/locate/storage"
)

const widgetSource = `class Widget:
    def render(self):
        return None
`

const widgetPatch = `--- a/widget.py
+++ b/widget.py
@@ -1,3 +1,3 @@
 class Widget:
     def render(self):
-        return None
+        return "<widget/>"
`

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.py"), []byte(widgetSource), 0o644))
	return root
}

func setupRouter(t *testing.T, client llm.ChatClient, withArchive bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.ConvRoundLimit = 2

	var opts []locate.ServiceOption
	if withArchive {
		archive, err := storage.OpenArchive(storage.ArchiveConfig{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = archive.Close() })
		opts = append(opts, locate.WithArchive(archive))
	}

	svc, err := locate.NewService(cfg, client, opts...)
	require.NoError(t, err)
	return NewRouter(NewHandlers(svc), false)
}

func fixedReply(text string) llm.ChatClient {
	return llm.ChatFunc(func(context.Context, []llm.Message, llm.ChatOptions) (string, error) {
		return text, nil
	})
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router := setupRouter(t, fixedReply("{}"), false)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestHandleLocate(t *testing.T) {
	root := setupProject(t)
	router := setupRouter(t, fixedReply(`{"API_calls": [], "bug_locations": [{"class": "Widget", "method": "render"}]}`), false)

	w := doJSON(t, router, http.MethodPost, "/v1/locate", locate.LocateRequest{
		ProjectRoot: root,
		Issue:       "Widget.render returns nothing",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	var res locate.LocateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "done", res.Status)
	require.Len(t, res.BugLocations, 1)
	assert.Equal(t, "widget.py", res.BugLocations[0].RelFilePath)
	assert.Equal(t, "render", res.BugLocations[0].MethodName)
}

func TestHandleLocate_IgnoresOutputDir(t *testing.T) {
	root := setupProject(t)
	router := setupRouter(t, fixedReply(`{"bug_locations": [{"class": "Widget"}]}`), false)
	target := filepath.Join(t.TempDir(), "elsewhere")

	w := doJSON(t, router, http.MethodPost, "/v1/locate", map[string]string{
		"project_root": root,
		"issue":        "x",
		"output_dir":   target,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res locate.LocateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEqual(t, target, res.OutputDir)
	assert.Equal(t, res.SessionID, filepath.Base(res.OutputDir))
	assert.NoDirExists(t, target)
}

func TestHandleLocate_RequestIDEchoed(t *testing.T) {
	root := setupProject(t)
	router := setupRouter(t, fixedReply(`{"bug_locations": [{"class": "Widget"}]}`), false)

	body, err := json.Marshal(locate.LocateRequest{ProjectRoot: root, Issue: "x"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/locate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestHandleLocate_BadRequest(t *testing.T) {
	router := setupRouter(t, fixedReply("{}"), false)

	w := doJSON(t, router, http.MethodPost, "/v1/locate", map[string]string{"issue": "no root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_REQUEST", resp.Code)
}

func TestHandleLocate_MissingProject(t *testing.T) {
	router := setupRouter(t, fixedReply("{}"), false)

	w := doJSON(t, router, http.MethodPost, "/v1/locate", locate.LocateRequest{
		ProjectRoot: filepath.Join(t.TempDir(), "does-not-exist"),
		Issue:       "x",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PROJECT_NOT_FOUND", resp.Code)
}

func TestHandleLocate_ModelFailure(t *testing.T) {
	root := setupProject(t)
	failing := llm.ChatFunc(func(context.Context, []llm.Message, llm.ChatOptions) (string, error) {
		return "", errors.New("upstream down")
	})
	router := setupRouter(t, failing, false)

	w := doJSON(t, router, http.MethodPost, "/v1/locate", locate.LocateRequest{ProjectRoot: root, Issue: "x"})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "MODEL_ERROR", resp.Code)
}

func TestHandleIndexStats(t *testing.T) {
	root := setupProject(t)
	router := setupRouter(t, fixedReply("{}"), false)

	w := doJSON(t, router, http.MethodGet, "/v1/index/stats?project_root="+root, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats index.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.Classes)

	w = doJSON(t, router, http.MethodGet, "/v1/index/stats", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleIndex_Rebuild(t *testing.T) {
	root := setupProject(t)
	router := setupRouter(t, fixedReply("{}"), false)

	w := doJSON(t, router, http.MethodPost, "/v1/index", IndexRequest{ProjectRoot: root})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, os.WriteFile(filepath.Join(root, "extra.py"), []byte("def extra():\n    pass\n"), 0o644))

	w = doJSON(t, router, http.MethodPost, "/v1/index", IndexRequest{ProjectRoot: root})
	var stats index.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Files, "cached index is reused")

	w = doJSON(t, router, http.MethodPost, "/v1/index", IndexRequest{ProjectRoot: root, Rebuild: true})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Files)
}

func TestHandleReview(t *testing.T) {
	router := setupRouter(t, fixedReply(`{"patch-correct": "yes", "patch-analysis": "ok", "patch-advice": "",
		"test-correct": "yes", "test-analysis": "ok", "test-advice": ""}`), false)

	w := doJSON(t, router, http.MethodPost, "/v1/review", locate.ReviewRequest{Issue: "x", Patch: widgetPatch})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"patch-correct":"YES"`)
	assert.Contains(t, w.Body.String(), `"path":"widget.py"`)
}

func TestHandleReview_NoVerdict(t *testing.T) {
	router := setupRouter(t, fixedReply("I cannot tell."), false)

	w := doJSON(t, router, http.MethodPost, "/v1/review", locate.ReviewRequest{Issue: "x", Patch: widgetPatch})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleSessions(t *testing.T) {
	root := setupProject(t)
	router := setupRouter(t, fixedReply(`{"bug_locations": [{"class": "Widget"}]}`), true)

	w := doJSON(t, router, http.MethodPost, "/v1/locate", locate.LocateRequest{ProjectRoot: root, Issue: "x"})
	require.Equal(t, http.StatusOK, w.Code)
	var res locate.LocateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w = doJSON(t, router, http.MethodGet, "/v1/sessions?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list SessionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, res.SessionID, list.Sessions[0].ID)

	w = doJSON(t, router, http.MethodGet, "/v1/sessions/"+res.SessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec storage.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "x", rec.Issue)

	w = doJSON(t, router, http.MethodGet, "/v1/sessions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSessions_ArchiveDisabled(t *testing.T) {
	router := setupRouter(t, fixedReply("{}"), false)

	w := doJSON(t, router, http.MethodGet, "/v1/sessions", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(t, fixedReply("{}"), false)

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
