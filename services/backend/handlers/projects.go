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
	"github.com/depictio/depictio/services/metastore"
)

// ApplyProject declaratively creates or replaces a project definition.
// Entities that arrive without an id are assigned one, so re-applying
// the same config keeps identity stable.
func ApplyProject(store metastore.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var project datamodel.Project
		if err := c.BindJSON(&project); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		project.EnsureIDs()
		if err := project.Validate(); err != nil {
			slog.Warn("rejected invalid project", "project", project.Name, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		err := store.UpsertProject(c.Request.Context(), &project)
		recordAudit(c, audit, extensions.AuditEvent{
			EventType:    "project.apply",
			Action:       "update",
			ResourceType: "project",
			ResourceID:   project.ID.Hex(),
			Outcome:      outcomeOf(err),
		})
		if err != nil {
			slog.Error("failed to upsert project", "project", project.Name, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		slog.Info("project applied", "project", project.Name, "project_id", project.ID.Hex())
		c.JSON(http.StatusOK, gin.H{
			"status":     "success",
			"project_id": project.ID.Hex(),
			"name":       project.Name,
		})
	}
}

// ListProjects returns every project definition.
func ListProjects(store metastore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := store.ListProjects(c.Request.Context())
		if err != nil {
			slog.Error("failed to list projects", "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
	}
}

// GetProject returns one project by id.
func GetProject(store metastore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := datamodel.ParseID(c.Param("id"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		project, err := store.GetProject(c.Request.Context(), id)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

// DeleteProject removes a project definition. The underlying run and
// file ledgers stay untouched; a later scan of a re-applied project
// reconciles them.
func DeleteProject(store metastore.Store, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := datamodel.ParseID(c.Param("id"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		err = store.DeleteProject(c.Request.Context(), id)
		recordAudit(c, audit, extensions.AuditEvent{
			EventType:    "project.delete",
			Action:       "delete",
			ResourceType: "project",
			ResourceID:   id.Hex(),
			Outcome:      outcomeOf(err),
		})
		if err != nil {
			slog.Error("failed to delete project", "project_id", id.Hex(), "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		slog.Info("project deleted", "project_id", id.Hex())
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_project_id": id.Hex()})
	}
}
