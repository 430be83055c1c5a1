// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"sync"
	"time"
)

// AuditEvent represents a security-relevant event for compliance logging.
//
// This struct captures the essential information needed for security
// audits, compliance reporting, and incident investigation.
//
// # Event Categories
//
// Events are categorized by type for filtering and alerting:
//   - Authentication: "auth.login", "auth.logout", "auth.failed"
//   - Projects: "project.create", "project.update", "project.delete"
//   - Data: "scan.run", "collection.process", "join.execute"
//   - Queries: "query.run", "link.resolve"
//   - System: "system.start", "system.stop", "system.error"
//
// For regulatory compliance, always populate:
//   - UserID: Required for right-to-know requests
//   - Timestamp: Required for audit trail integrity
//   - ResourceType/ResourceID: Required for data lineage
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "join.execute",
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       authInfo.UserID,
//	    Action:       "execute",
//	    ResourceType: "join",
//	    ResourceID:   joinID.Hex(),
//	    Outcome:      "success",
//	    Metadata: map[string]any{
//	        "project_id": projectID.Hex(),
//	        "row_count":  rowCount,
//	    },
//	}
type AuditEvent struct {
	// EventType categorizes the event for filtering and alerting.
	// Format: "category.action" (e.g., "auth.login", "scan.run")
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations should set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	// Use "system" for automated actions, "anonymous" if unknown.
	UserID string

	// Action describes what operation was attempted.
	// Common values: "create", "read", "update", "delete", "execute"
	Action string

	// ResourceType is the category of resource involved.
	// Examples: "project", "data_collection", "join", "query"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "failure", "blocked", "error"
	Outcome string

	// Metadata holds additional event-specific data.
	//
	// Common metadata keys:
	//   - "error": error message if Outcome is "failure" or "error"
	//   - "ip_address": client IP for security analysis
	//   - "duration_ms": operation duration
	//   - "project_id": owning project for data events
	Metadata map[string]any
}

// AuditFilter defines criteria for querying audit events.
//
// All fields are optional. Only non-zero values are used as filters,
// and multiple fields combine with AND logic.
type AuditFilter struct {
	// EventTypes limits results to specific event types.
	// If empty, all event types are included.
	EventTypes []string

	// UserID limits results to events from a specific user.
	UserID string

	// StartTime is the earliest event timestamp to include (inclusive).
	StartTime time.Time

	// EndTime is the latest event timestamp to include (exclusive).
	EndTime time.Time

	// ResourceType limits results to events involving a resource type.
	ResourceType string

	// ResourceID limits results to events involving a specific resource.
	ResourceID string

	// Outcome limits results to events with a specific outcome.
	Outcome string

	// Limit is the maximum number of events to return.
	// If zero, an implementation-specific default is used.
	Limit int

	// Offset is the number of events to skip (for pagination).
	Offset int
}

// AuditLogger records security-relevant events for compliance and
// analysis.
//
// Implementations must be safe for concurrent use by multiple
// goroutines, and Log should return quickly so it never becomes the
// bottleneck of the operation being audited.
//
// # Open Source Behavior
//
// The default NopAuditLogger discards all events. MemoryAuditLogger
// keeps a bounded in-process trail, which is enough for a single-node
// deployment's admin surface.
//
// # Hosted Implementation
//
// Hosted versions send events to SIEM systems, cloud logging, or
// compliance databases.
type AuditLogger interface {
	// Log records a security-relevant event.
	//
	// Implementations should:
	//   1. Set Timestamp if zero
	//   2. Persist or transmit the event
	//   3. Return quickly (buffer if needed)
	Log(ctx context.Context, event AuditEvent) error

	// Query retrieves audit events matching the filter criteria,
	// ordered by Timestamp descending.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush ensures all buffered events are persisted. Call before
	// shutdown to prevent event loss; sync implementations may no-op.
	Flush(ctx context.Context) error
}

// NopAuditLogger is the default audit logger for open source.
//
// It discards all events without recording them.
//
// Thread-safe: This implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event without recording it.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// Query always returns an empty slice (no events are stored).
func (l *NopAuditLogger) Query(_ context.Context, _ AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(_ context.Context) error {
	return nil
}

// MemoryAuditLogger keeps a bounded in-process audit trail.
//
// When the buffer is full the oldest events are discarded. This serves
// single-node deployments that want a recent trail on the admin surface
// without external infrastructure.
//
// Thread-safe.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
	limit  int
}

// NewMemoryAuditLogger builds a logger retaining at most limit events.
// A limit of zero or less defaults to 1024.
func NewMemoryAuditLogger(limit int) *MemoryAuditLogger {
	if limit <= 0 {
		limit = 1024
	}
	return &MemoryAuditLogger{limit: limit}
}

// Log records the event, stamping a UTC timestamp when missing.
func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if len(l.events) > l.limit {
		l.events = l.events[len(l.events)-l.limit:]
	}
	return nil
}

// Query returns matching events, newest first.
func (l *MemoryAuditLogger) Query(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []AuditEvent
	for i := len(l.events) - 1; i >= 0; i-- {
		if auditMatches(l.events[i], filter) {
			matched = append(matched, l.events[i])
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []AuditEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	if matched == nil {
		matched = []AuditEvent{}
	}
	return matched, nil
}

// Flush is a no-op; events live in memory only.
func (l *MemoryAuditLogger) Flush(_ context.Context) error {
	return nil
}

func auditMatches(event AuditEvent, filter AuditFilter) bool {
	if len(filter.EventTypes) > 0 {
		found := false
		for _, t := range filter.EventTypes {
			if event.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.UserID != "" && event.UserID != filter.UserID {
		return false
	}
	if filter.ResourceType != "" && event.ResourceType != filter.ResourceType {
		return false
	}
	if filter.ResourceID != "" && event.ResourceID != filter.ResourceID {
		return false
	}
	if filter.Outcome != "" && event.Outcome != filter.Outcome {
		return false
	}
	if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && !event.Timestamp.Before(filter.EndTime) {
		return false
	}
	return true
}

// Compile-time interface compliance checks.
var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
