// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers for the backend service.
//
// Every handler is a factory: it takes its dependencies (store, engines,
// hub) and returns a gin.HandlerFunc closure. Domain failures carry a
// datamodel error kind, which errStatus maps onto the HTTP status code,
// so handlers never inspect error strings.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/services/backend/middleware"
	"github.com/depictio/depictio/services/datamodel"
)

// errStatus maps a domain error kind to an HTTP status code.
// Errors without a domain kind fall through to 500.
func errStatus(err error) int {
	switch datamodel.KindOf(err) {
	case datamodel.KindNotFound, datamodel.KindDCNotFound:
		return http.StatusNotFound
	case datamodel.KindConflict:
		return http.StatusConflict
	case datamodel.KindConfigInvalid, datamodel.KindMissingJoinColumn,
		datamodel.KindInvalidTime, datamodel.KindInvalidFile, datamodel.KindTypeError:
		return http.StatusBadRequest
	case datamodel.KindDCNotProcessed:
		return http.StatusUnprocessableEntity
	case datamodel.KindAuthError:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// recordAudit logs a security-relevant event via the configured audit
// logger. The actor is taken from the request's auth info when the event
// does not name one. Audit failures are logged and never fail the
// request being audited.
func recordAudit(c *gin.Context, logger extensions.AuditLogger, event extensions.AuditEvent) {
	if logger == nil {
		return
	}
	if event.UserID == "" {
		if info := middleware.GetAuthInfo(c); info != nil && info.UserID != "" {
			event.UserID = info.UserID
		} else {
			event.UserID = "anonymous"
		}
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if _, ok := event.Metadata["ip_address"]; !ok {
		event.Metadata["ip_address"] = c.ClientIP()
	}
	if err := logger.Log(c.Request.Context(), event); err != nil {
		slog.Warn("failed to record audit event", "event_type", event.EventType, "error", err)
	}
}

// outcomeOf renders an error as an audit outcome string.
func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
