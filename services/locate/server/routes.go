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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName labels the HTTP spans.
const ServiceName = "faultline"

// RegisterRoutes registers the /v1 endpoints with rg.
//
// Endpoints:
//
//	POST /v1/locate          - Run a search session
//	POST /v1/review          - Review a patch and reproduction test
//	POST /v1/index           - Build (or rebuild) a project index
//	GET  /v1/index/stats     - Describe a project index
//	GET  /v1/sessions        - List archived sessions
//	GET  /v1/sessions/:id    - Load an archived session
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/locate", handlers.HandleLocate)
	rg.POST("/review", handlers.HandleReview)

	idx := rg.Group("/index")
	{
		idx.POST("", handlers.HandleIndex)
		idx.GET("/stats", handlers.HandleIndexStats)
	}

	sessions := rg.Group("/sessions")
	{
		sessions.GET("", handlers.HandleListSessions)
		sessions.GET("/:id", handlers.HandleGetSession)
	}
}

// NewRouter builds the engine with recovery and tracing middleware, the
// /v1 API, /health and the Prometheus /metrics endpoint.
//
// Inputs:
//   - handlers: The API handlers.
//   - debug: Adds gin's request logger.
func NewRouter(handlers *Handlers, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}
