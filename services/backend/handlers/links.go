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

	"github.com/depictio/depictio/services/backend/observability"
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/links"
	"github.com/depictio/depictio/services/metastore"
)

// ResolveLinkRequest carries a link resolution. ProjectID is optional;
// when omitted the owning project is found through the source
// collection.
type ResolveLinkRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	links.Request
}

// ResolveLink maps filter values from a source collection onto a target
// collection through the project's declared links. Without an enabled
// link the response reports link_found=false and the caller applies no
// cross-collection effect.
func ResolveLink(store metastore.Store, engine *links.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveLinkRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		var project *datamodel.Project
		var err error
		if req.ProjectID != "" {
			id, perr := datamodel.ParseID(req.ProjectID)
			if perr != nil {
				c.JSON(errStatus(perr), gin.H{"error": perr.Error()})
				return
			}
			project, err = store.GetProject(c.Request.Context(), id)
		} else {
			project, err = store.FindProjectByDC(c.Request.Context(), req.SourceDCID)
		}
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		result, err := engine.Resolve(project, req.Request)
		if err != nil {
			slog.Error("link resolution failed",
				"source_dc", req.SourceDCID.Hex(),
				"source_column", req.SourceColumn,
				"error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			resolver := string(result.ResolverUsed)
			if resolver == "" {
				resolver = "none"
			}
			m.RecordLinkResolution(resolver, result.LinkFound)
		}
		c.JSON(http.StatusOK, result)
	}
}
