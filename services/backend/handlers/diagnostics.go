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

	"github.com/depictio/depictio/services/diagnostics"
)

// RunDiagnostics runs the full network and resource probe suite and
// returns the report. Probe failures land inside the report body, not
// as an HTTP error, so the endpoint stays useful when the environment
// is degraded.
func RunDiagnostics(collector *diagnostics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("diagnostics requested", "client", c.ClientIP())
		c.JSON(http.StatusOK, collector.Collect(c.Request.Context()))
	}
}
