// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/services/backend/handlers"
	"github.com/depictio/depictio/services/backend/middleware"
	"github.com/depictio/depictio/services/backend/observability"
	"github.com/depictio/depictio/services/diagnostics"
	"github.com/depictio/depictio/services/events"
	"github.com/depictio/depictio/services/join"
	"github.com/depictio/depictio/services/links"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/process"
	"github.com/depictio/depictio/services/query"
	"github.com/depictio/depictio/services/scan"
)

// Deps bundles the engines the API surface dispatches to. Store, Scan,
// Join, Query, Process, and Links must be set. Hub, Diagnostics, and
// States are optional; their routes are omitted when nil.
type Deps struct {
	Store   metastore.Store
	Scan    *scan.Engine
	Join    *join.Engine
	Query   *query.Pipeline
	Process *process.Processor
	Links   *links.Engine

	Hub         *events.Hub
	Diagnostics *diagnostics.Collector
	States      *extensions.StateStore

	// OAuthIssuerURL is the external provider's authorize endpoint.
	// Empty means login is local-only.
	OAuthIssuerURL string
}

// SetupRoutes registers the backend API on router.
//
// /health and /metrics stay open so probes and scrapers work without
// credentials. Everything under /v1 passes the configured AuthProvider.
// The /auth pair sits outside /v1 because the login flow runs before a
// token exists.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	audit := opts.AuditLogger

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.States != nil {
		auth := router.Group("/auth")
		{
			auth.GET("/login", handlers.OAuthLogin(deps.States, deps.OAuthIssuerURL))
			auth.GET("/callback", handlers.OAuthCallback(deps.States))
		}
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		projects := v1.Group("/projects", requestMetrics(observability.EndpointProjects))
		{
			projects.POST("", handlers.ApplyProject(deps.Store, audit))
			projects.GET("", handlers.ListProjects(deps.Store))
			projects.GET("/:id", handlers.GetProject(deps.Store))
			projects.DELETE("/:id", handlers.DeleteProject(deps.Store, audit))
		}

		scans := v1.Group("/scans", requestMetrics(observability.EndpointScan))
		{
			scans.POST("/projects/:id", handlers.ScanProject(deps.Store, deps.Scan, audit))
			scans.POST("/collections/:dcID", handlers.ScanDataCollection(deps.Scan, audit))
		}

		proc := v1.Group("/process", requestMetrics(observability.EndpointProcess))
		{
			proc.POST("/projects/:id", handlers.ProcessProject(deps.Store, deps.Process, deps.Hub, audit))
			proc.POST("/collections/:dcID", handlers.ProcessDataCollection(deps.Store, deps.Process, deps.Hub, audit))
		}

		joins := v1.Group("/joins", requestMetrics(observability.EndpointJoins))
		{
			joins.GET("/projects/:id", handlers.ListJoins(deps.Store))
			joins.POST("/validate", handlers.ValidateJoin(deps.Store, deps.Join))
			joins.POST("/preview", handlers.PreviewJoin(deps.Store, deps.Join))
			joins.POST("/execute", handlers.ExecuteJoin(deps.Store, deps.Join, deps.Hub, audit))
		}

		v1.POST("/query/:dcID", requestMetrics(observability.EndpointQuery),
			handlers.RunQuery(deps.Store, deps.Query))
		v1.POST("/links/resolve", requestMetrics(observability.EndpointLinks),
			handlers.ResolveLink(deps.Store, deps.Links))

		if deps.Hub != nil {
			v1.GET("/events/ws", countRequest(observability.EndpointEvents),
				handlers.HandleEventsWebSocket(deps.Hub))
		}
		if deps.Diagnostics != nil {
			v1.GET("/diagnostics", requestMetrics(observability.EndpointDiagnostics),
				handlers.RunDiagnostics(deps.Diagnostics))
		}

		v1.GET("/audit", handlers.QueryAudit(audit))
	}
}

// requestMetrics observes outcome and latency for one endpoint group.
// With metrics disabled (nil DefaultMetrics) it passes through untouched.
func requestMetrics(endpoint observability.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := observability.DefaultMetrics
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		m.RecordRequest(endpoint, c.Writer.Status() < http.StatusBadRequest)
		m.RecordRequestDuration(endpoint, time.Since(start).Seconds())
	}
}

// countRequest records the outcome only. Websocket sessions stay open
// for minutes, so their wall time has no place in the request latency
// histogram; session metrics cover them instead.
func countRequest(endpoint observability.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, c.Writer.Status() < http.StatusBadRequest)
		}
	}
}
