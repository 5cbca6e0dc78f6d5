// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the locate service over HTTP.
package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/faultline/services/locate"
	"github.com/AleutianAI/faultline/services/locate/conversation"
	"github.com/AleutianAI/faultline/services/locate/manager"
	"github.com/AleutianAI/faultline/services/locate/storage"
)

// RequestIDHeader carries the caller's request ID, echoed on the response.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// IndexRequest asks for a project index to be built.
type IndexRequest struct {
	ProjectRoot string `json:"project_root" binding:"required"`

	// Rebuild drops any cached index first.
	Rebuild bool `json:"rebuild,omitempty"`
}

// SessionsResponse lists archived sessions.
type SessionsResponse struct {
	Sessions []storage.SessionMeta `json:"sessions"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status string `json:"status"`
}

// Handlers serves the HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	svc *locate.Service
}

// NewHandlers creates handlers backed by svc.
func NewHandlers(svc *locate.Service) *Handlers {
	return &Handlers{svc: svc}
}

func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(RequestIDHeader, id)
	return id
}

// HandleLocate handles POST /v1/locate.
//
// Description:
//
//	Runs one search session synchronously and returns the bug locations.
//	A session that ran out of rounds still answers 200 with status
//	"exhausted".
//
// Response:
//
//	200 OK: locate.LocateResult
//	400 Bad Request: Malformed body or missing fields
//	404 Not Found: Project root does not exist
//	502 Bad Gateway: The model failed mid-session
func (h *Handlers) HandleLocate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLocate")

	var req locate.LocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	res, err := h.svc.Locate(c.Request.Context(), req)
	if err != nil {
		logger.Warn("locate failed",
			slog.String("project_root", req.ProjectRoot),
			slog.String("session_id", res.SessionID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}
	logger.Info("locate finished",
		slog.String("session_id", res.SessionID),
		slog.String("status", res.Status),
		slog.Int("bug_locations", len(res.BugLocations)),
	)
	c.JSON(http.StatusOK, res)
}

// HandleReview handles POST /v1/review.
//
// Response:
//
//	200 OK: parse.Review
//	400 Bad Request: Missing issue or patch
//	422 Unprocessable Entity: The reviewer reply carried no verdict
//	502 Bad Gateway: The model call failed
func (h *Handlers) HandleReview(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleReview")

	var req locate.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	review, err := h.svc.Review(c.Request.Context(), req)
	if err != nil {
		logger.Warn("review failed", slog.String("error", err.Error()))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

// HandleIndex handles POST /v1/index.
//
// Response:
//
//	200 OK: index.Stats
//	400 Bad Request: Missing project_root
//	404 Not Found: Project root does not exist
func (h *Handlers) HandleIndex(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIndex")

	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	if req.Rebuild {
		h.svc.Invalidate(req.ProjectRoot)
	}
	h.writeStats(c, logger, req.ProjectRoot)
}

// HandleIndexStats handles GET /v1/index/stats.
//
// Query Parameters:
//
//	project_root: Project to describe (required). Built on first use.
func (h *Handlers) HandleIndexStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIndexStats")

	root := c.Query("project_root")
	if root == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "project_root parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	h.writeStats(c, logger, root)
}

func (h *Handlers) writeStats(c *gin.Context, logger *slog.Logger, root string) {
	idx, err := h.svc.Index(c.Request.Context(), root)
	if err != nil {
		logger.Warn("index failed", slog.String("project_root", root), slog.String("error", err.Error()))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, idx.Stats())
}

// HandleListSessions handles GET /v1/sessions.
//
// Query Parameters:
//
//	project_root: Restrict to one project (optional)
//	limit: Maximum sessions, default 50 (optional)
func (h *Handlers) HandleListSessions(c *gin.Context) {
	getOrCreateRequestID(c)

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	metas, err := h.svc.Sessions(c.Request.Context(), c.Query("project_root"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if metas == nil {
		metas = []storage.SessionMeta{}
	}
	c.JSON(http.StatusOK, SessionsResponse{Sessions: metas})
}

// HandleGetSession handles GET /v1/sessions/:id.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	getOrCreateRequestID(c)

	rec, err := h.svc.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// writeError maps service errors to status codes.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, locate.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, fs.ErrNotExist):
		status, code = http.StatusNotFound, "PROJECT_NOT_FOUND"
	case errors.Is(err, storage.ErrSessionNotFound):
		status, code = http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, locate.ErrArchiveDisabled):
		status, code = http.StatusServiceUnavailable, "ARCHIVE_DISABLED"
	case errors.Is(err, conversation.ErrNoReview):
		status, code = http.StatusUnprocessableEntity, "NO_VERDICT"
	case errors.Is(err, conversation.ErrModelCall), errors.Is(err, manager.ErrSessionFailed):
		status, code = http.StatusBadGateway, "MODEL_ERROR"
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
