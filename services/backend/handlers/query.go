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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/depictio/depictio/services/backend/observability"
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/query"
)

// RunQuery serves one page of a dashboard table request against the
// target collection's Delta table. The owning project is resolved from
// the store, so the client only names the collection.
func RunQuery(store metastore.Store, pipeline *query.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		dcID, err := datamodel.ParseID(c.Param("dcID"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		var req query.Request
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		project, err := store.FindProjectByDC(c.Request.Context(), dcID)
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		start := time.Now()
		result, err := pipeline.Query(c.Request.Context(), project, dcID, &req)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordQueryDuration(time.Since(start).Seconds(), err == nil)
		}
		if err != nil {
			slog.Error("query failed", "dc_id", dcID.Hex(), "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
