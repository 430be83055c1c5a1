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
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/events"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/process"
)

// ProcessProjectRequest narrows materialization to one collection tag.
type ProcessProjectRequest struct {
	DCTag string `json:"data_collection_tag,omitempty"`
}

// ProcessProject materializes every table collection of a project into
// Delta tables, optionally narrowed to one tag.
func ProcessProject(store metastore.Store, processor *process.Processor, hub *events.Hub, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := datamodel.ParseID(c.Param("id"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		var req ProcessProjectRequest
		if c.Request.ContentLength > 0 {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}

		project, err := store.GetProject(c.Request.Context(), id)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		slog.Info("materialization requested", "project", project.Name, "data_collection_tag", req.DCTag)

		results, err := processor.MaterializeProject(c.Request.Context(), project, req.DCTag)
		recordAudit(c, audit, extensions.AuditEvent{
			EventType:    "collection.process",
			Action:       "execute",
			ResourceType: "project",
			ResourceID:   id.Hex(),
			Outcome:      outcomeOf(err),
		})
		if err != nil {
			slog.Error("project materialization failed", "project", project.Name, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		announceMaterialized(hub, results)
		c.JSON(http.StatusOK, gin.H{"status": "success", "results": results, "count": len(results)})
	}
}

// ProcessDataCollection materializes one table collection into a Delta
// table, resolving its owning project from the store.
func ProcessDataCollection(store metastore.Store, processor *process.Processor, hub *events.Hub, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		dcID, err := datamodel.ParseID(c.Param("dcID"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		project, err := store.FindProjectByDC(c.Request.Context(), dcID)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		dc, _, ok := project.DCByID(dcID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "data collection not found in project"})
			return
		}

		slog.Info("collection materialization requested",
			"project", project.Name, "data_collection_tag", dc.Tag)

		result, err := processor.Materialize(c.Request.Context(), project, dc)
		recordAudit(c, audit, extensions.AuditEvent{
			EventType:    "collection.process",
			Action:       "execute",
			ResourceType: "data_collection",
			ResourceID:   dcID.Hex(),
			Outcome:      outcomeOf(err),
		})
		if err != nil {
			slog.Error("collection materialization failed",
				"data_collection_tag", dc.Tag, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		announceMaterialized(hub, []*process.Result{result})
		c.JSON(http.StatusOK, gin.H{"status": "success", "result": result})
	}
}

// announceMaterialized publishes an update event for every collection
// whose Delta table gained a new version.
func announceMaterialized(hub *events.Hub, results []*process.Result) {
	if hub == nil {
		return
	}
	for _, r := range results {
		if r == nil || !r.Written {
			continue
		}
		hub.DataCollectionChanged(r.DataCollectionID, r.Tag, datamodel.OpUpdated)
	}
}
