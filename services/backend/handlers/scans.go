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

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/services/backend/observability"
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/scan"
)

// ScanProjectRequest narrows and tunes a project scan. All fields are
// optional; an empty body scans every workflow and collection.
type ScanProjectRequest struct {
	Workflow string `json:"workflow,omitempty"`
	DCTag    string `json:"data_collection_tag,omitempty"`
	Rescan   bool   `json:"rescan,omitempty"`
	Sync     bool   `json:"sync,omitempty"`
}

// ScanDCRequest tunes a single-collection scan.
type ScanDCRequest struct {
	Sync bool `json:"sync,omitempty"`
}

// ScanProject walks every configured location of a project and
// reconciles runs and files against the metadata store.
func ScanProject(store metastore.Store, engine *scan.Engine, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := datamodel.ParseID(c.Param("id"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		var req ScanProjectRequest
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

		slog.Info("scan requested",
			"project", project.Name,
			"workflow", req.Workflow,
			"data_collection_tag", req.DCTag,
			"rescan", req.Rescan,
			"sync", req.Sync)

		start := time.Now()
		report, err := engine.ScanProject(c.Request.Context(), project, scan.Params{
			WorkflowFilter: req.Workflow,
			DCTagFilter:    req.DCTag,
			Rescan:         req.Rescan,
			Sync:           req.Sync,
		})
		recordScanMetrics(observability.TriggerAPI, start, report, err)
		recordAudit(c, audit, extensions.AuditEvent{
			EventType:    "scan.run",
			Action:       "execute",
			ResourceType: "project",
			ResourceID:   id.Hex(),
			Outcome:      outcomeOf(err),
		})
		if err != nil {
			slog.Error("project scan failed", "project", project.Name, "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		respondScanReport(c, report)
	}
}

// ScanDataCollection scans a single data collection by id, resolving its
// owning project from the store.
func ScanDataCollection(engine *scan.Engine, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		dcID, err := datamodel.ParseID(c.Param("dcID"))
		if err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		var req ScanDCRequest
		if c.Request.ContentLength > 0 {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}

		slog.Info("collection scan requested", "dc_id", dcID.Hex(), "sync", req.Sync)

		start := time.Now()
		report, err := engine.ScanDC(c.Request.Context(), dcID, req.Sync)
		recordScanMetrics(observability.TriggerAPI, start, report, err)
		recordAudit(c, audit, extensions.AuditEvent{
			EventType:    "scan.run",
			Action:       "execute",
			ResourceType: "data_collection",
			ResourceID:   dcID.Hex(),
			Outcome:      outcomeOf(err),
		})
		if err != nil {
			slog.Error("collection scan failed", "dc_id", dcID.Hex(), "error", err)
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}

		respondScanReport(c, report)
	}
}

// respondScanReport serializes a scan report, marking partial results.
func respondScanReport(c *gin.Context, report *scan.Report) {
	status := "success"
	if report.Partial() {
		status = "partial"
	}
	body := gin.H{"status": status, "report": report}
	if problems := report.ProblemStrings(); len(problems) > 0 {
		body["problems"] = problems
	}
	c.JSON(http.StatusOK, body)
}

// recordScanMetrics feeds the scan counters when metrics are enabled.
func recordScanMetrics(trigger observability.ScanTrigger, start time.Time, report *scan.Report, err error) {
	m := observability.DefaultMetrics
	if m == nil {
		return
	}
	m.RecordScanDuration(trigger, time.Since(start).Seconds())
	m.RecordScan(trigger, err == nil)
	if report != nil {
		m.RecordFileBuckets(report.Totals.New, report.Totals.Updated, report.Totals.Missing, report.Totals.Skipped)
	}
}
