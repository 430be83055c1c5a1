// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/services/backend/middleware"
)

// QueryAudit returns audit events matching the query string filters,
// newest first. Reading the trail requires the admin role.
//
// Supported params: event_type (repeatable), user_id, resource_type,
// resource_id, outcome, start and end (RFC3339, end exclusive), limit,
// offset.
func QueryAudit(logger extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := middleware.GetAuthInfo(c)
		if info == nil || !info.HasRole("admin") {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		filter, err := auditFilterFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		events, err := logger.Query(c.Request.Context(), filter)
		if err != nil {
			slog.Error("audit query failed", "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
	}
}

func auditFilterFromQuery(c *gin.Context) (extensions.AuditFilter, error) {
	filter := extensions.AuditFilter{
		EventTypes:   c.QueryArray("event_type"),
		UserID:       c.Query("user_id"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Outcome:      c.Query("outcome"),
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid start time %q: %w", v, err)
		}
		filter.StartTime = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid end time %q: %w", v, err)
		}
		filter.EndTime = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = n
	}
	return filter, nil
}
