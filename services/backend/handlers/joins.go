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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/services/backend/observability"
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/events"
	"github.com/depictio/depictio/services/join"
	"github.com/depictio/depictio/services/metastore"
)

// JoinRequest names the join to operate on. A declared join is picked by
// name from the project; an inline definition takes precedence when both
// are present.
type JoinRequest struct {
	ProjectID string                    `json:"project_id"`
	JoinName  string                    `json:"join_name,omitempty"`
	Join      *datamodel.JoinDefinition `json:"join,omitempty"`

	// SampleLimit caps preview sample rows (preview only).
	SampleLimit int `json:"sample_limit,omitempty"`

	// SkipGranularity executes the raw join without granularity
	// aggregation (execute only).
	SkipGranularity bool `json:"skip_granularity,omitempty"`
}

// resolveJoinRequest loads the project and picks the join definition the
// request names.
func resolveJoinRequest(c *gin.Context, store metastore.Store, req *JoinRequest) (*datamodel.Project, *datamodel.JoinDefinition, bool) {
	id, err := datamodel.ParseID(req.ProjectID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return nil, nil, false
	}
	project, err := store.GetProject(c.Request.Context(), id)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return nil, nil, false
	}

	if req.Join != nil {
		return project, req.Join, true
	}
	for i := range project.Joins {
		if project.Joins[i].Name == req.JoinName {
			return project, &project.Joins[i], true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "join not declared in project: " + req.JoinName})
	return nil, nil, false
}

// ListJoins returns the join lineage rows recorded for a project.
func ListJoins(store metastore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := datamodel.ParseID(c.Param("id"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		rows, err := store.ListJoinMetadata(c.Request.Context(), id)
		if err != nil {
			slog.Error("failed to list join metadata", "project_id", id.Hex(), "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"joins": rows, "count": len(rows)})
	}
}

// ValidateJoin checks a join definition against the current table state
// without touching any data.
func ValidateJoin(store metastore.Store, engine *join.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req JoinRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		project, jd, ok := resolveJoinRequest(c, store, &req)
		if !ok {
			return
		}

		result, err := engine.Validate(c.Request.Context(), jd, project)
		if err != nil {
			slog.Error("join validation failed", "join", jd.Name, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// PreviewJoin runs the join in memory and returns counts plus a bounded
// sample of result rows. Nothing is persisted.
func PreviewJoin(store metastore.Store, engine *join.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req JoinRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		project, jd, ok := resolveJoinRequest(c, store, &req)
		if !ok {
			return
		}

		result, err := engine.Preview(c.Request.Context(), jd, project, req.SampleLimit)
		if err != nil {
			slog.Error("join preview failed", "join", jd.Name, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// ExecuteJoin performs the join. When the definition asks for
// persistence the result lands as the next Delta table version and a
// join_completed event is published.
func ExecuteJoin(store metastore.Store, engine *join.Engine, hub *events.Hub, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req JoinRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		project, jd, ok := resolveJoinRequest(c, store, &req)
		if !ok {
			return
		}

		df, meta, err := engine.Execute(c.Request.Context(), jd, project, !req.SkipGranularity)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordJoin(string(jd.How), err == nil)
		}
		recordAudit(c, audit, extensions.AuditEvent{
			EventType:    "join.execute",
			Action:       "execute",
			ResourceType: "join",
			ResourceID:   jd.ID.Hex(),
			Outcome:      outcomeOf(err),
			Metadata:     map[string]any{"project_id": project.ID.Hex(), "join_name": jd.Name},
		})
		if err != nil {
			slog.Error("join execution failed", "join", jd.Name, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		if hub != nil && meta.Lineage != nil {
			hub.JoinCompleted(jd.Name, meta.Lineage.ResultDCID)
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "success",
			"metadata": meta,
			"rows":     meta.JoinedRows,
			"columns":  df.Columns(),
		})
	}
}
