// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the backend.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the data
// platform API. Metrics include:
//   - Request counters and latency histograms (by endpoint, status)
//   - Scan counters and durations (by trigger)
//   - File reconciliation counters (by bucket)
//   - Join, query, and link-resolution activity
//   - Live websocket session gauge and event bus counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "depictio"

// Subsystem for backend metrics
const backendSubsystem = "backend"

// BackendMetrics holds all Prometheus metrics for the data platform API.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring scan, join,
// query, and event bus activity. Initialize once at startup via
// InitMetrics().
//
// # Fields
//
//   - RequestsTotal: Counter of API requests by endpoint and status
//   - RequestDurationSeconds: Histogram of request latency by endpoint
//   - ScansTotal: Counter of scans by trigger and status
//   - ScanDurationSeconds: Histogram of scan wall time by trigger
//   - FilesSeenTotal: Counter of reconciled files by bucket
//   - JoinsTotal: Counter of join executions by type and status
//   - QueryDurationSeconds: Histogram of query pipeline latency
//   - LinkResolutionsTotal: Counter of link resolutions by resolver and outcome
//   - ActiveSessions: Gauge of live websocket sessions
//   - EventsPublishedTotal: Counter of bus events by topic
//   - EventsDroppedTotal: Counter of events dropped on slow subscribers
//
// # Thread Safety
//
// All operations are thread-safe.
type BackendMetrics struct {
	// RequestsTotal counts API requests by endpoint and status.
	// Labels: endpoint (projects, scan, query, ...), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures request latency.
	// Labels: endpoint (projects, scan, query, ...)
	RequestDurationSeconds *prometheus.HistogramVec

	// ScansTotal counts scans by trigger and status.
	// Labels: trigger (api, scheduled, watch), status (success, error)
	ScansTotal *prometheus.CounterVec

	// ScanDurationSeconds measures scan wall time.
	// Labels: trigger (api, scheduled, watch)
	ScanDurationSeconds *prometheus.HistogramVec

	// FilesSeenTotal counts files by reconciliation bucket.
	// Labels: bucket (added, updated, removed, unchanged)
	FilesSeenTotal *prometheus.CounterVec

	// JoinsTotal counts join executions by type and status.
	// Labels: join_type (inner, left, right, outer), status (success, error)
	JoinsTotal *prometheus.CounterVec

	// QueryDurationSeconds measures query pipeline latency.
	// Labels: status (success, error)
	QueryDurationSeconds *prometheus.HistogramVec

	// LinkResolutionsTotal counts link resolutions by resolver and outcome.
	// Labels: resolver (column_map, identity, ...), outcome (found, passthrough)
	LinkResolutionsTotal *prometheus.CounterVec

	// ActiveSessions tracks live websocket sessions.
	ActiveSessions prometheus.Gauge

	// EventsPublishedTotal counts bus events by topic.
	// Labels: topic (data_collection_updated, join_completed, ...)
	EventsPublishedTotal *prometheus.CounterVec

	// EventsDroppedTotal counts events dropped on slow subscribers.
	EventsDroppedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of BackendMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *BackendMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *BackendMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *BackendMetrics {
	DefaultMetrics = &BackendMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "requests_total",
				Help:      "Total number of API requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "request_duration_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"endpoint"},
		),

		ScansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "scans_total",
				Help:      "Total scans by trigger and status",
			},
			[]string{"trigger", "status"},
		),

		ScanDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "scan_duration_seconds",
				Help:      "Scan wall time in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"trigger"},
		),

		FilesSeenTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "files_seen_total",
				Help:      "Total files reconciled by bucket",
			},
			[]string{"bucket"},
		),

		JoinsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "joins_total",
				Help:      "Total join executions by type and status",
			},
			[]string{"join_type", "status"},
		),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "query_duration_seconds",
				Help:      "Query pipeline latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),

		LinkResolutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "link_resolutions_total",
				Help:      "Total link resolutions by resolver and outcome",
			},
			[]string{"resolver", "outcome"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "active_sessions",
				Help:      "Number of live websocket sessions",
			},
		),

		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "events_published_total",
				Help:      "Total bus events published by topic",
			},
			[]string{"topic"},
		),

		EventsDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: backendSubsystem,
				Name:      "events_dropped_total",
				Help:      "Total events dropped on slow subscribers",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents an API endpoint group for metrics labeling.
type Endpoint string

const (
	// EndpointProjects covers project CRUD routes.
	EndpointProjects Endpoint = "projects"

	// EndpointScan covers scan trigger routes.
	EndpointScan Endpoint = "scan"

	// EndpointProcess covers delta materialization routes.
	EndpointProcess Endpoint = "process"

	// EndpointJoins covers join validate/preview/execute routes.
	EndpointJoins Endpoint = "joins"

	// EndpointQuery covers the interactive query route.
	EndpointQuery Endpoint = "query"

	// EndpointLinks covers the link resolution route.
	EndpointLinks Endpoint = "links"

	// EndpointDiagnostics covers the diagnostics route.
	EndpointDiagnostics Endpoint = "diagnostics"

	// EndpointEvents covers the websocket event route.
	EndpointEvents Endpoint = "events"
)

// =============================================================================
// Scan Triggers
// =============================================================================

// ScanTrigger identifies what started a scan, for metrics labeling.
type ScanTrigger string

const (
	// TriggerAPI is a scan started by an API call.
	TriggerAPI ScanTrigger = "api"

	// TriggerScheduled is a scan started by the cron scheduler.
	TriggerScheduled ScanTrigger = "scheduled"

	// TriggerWatch is a scan started by a filesystem watch event.
	TriggerWatch ScanTrigger = "watch"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed API request.
//
// # Inputs
//
//   - endpoint: The endpoint group that handled the request.
//   - success: Whether the request completed successfully.
func (m *BackendMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordRequestDuration records request latency.
//
// # Inputs
//
//   - endpoint: The endpoint group that handled the request.
//   - seconds: Request duration in seconds.
func (m *BackendMetrics) RecordRequestDuration(endpoint Endpoint, seconds float64) {
	m.RequestDurationSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordScan records a completed scan.
//
// # Inputs
//
//   - trigger: What started the scan.
//   - success: Whether the scan completed without problems.
func (m *BackendMetrics) RecordScan(trigger ScanTrigger, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ScansTotal.WithLabelValues(string(trigger), status).Inc()
}

// RecordScanDuration records scan wall time.
//
// # Inputs
//
//   - trigger: What started the scan.
//   - seconds: Scan duration in seconds.
func (m *BackendMetrics) RecordScanDuration(trigger ScanTrigger, seconds float64) {
	m.ScanDurationSeconds.WithLabelValues(string(trigger)).Observe(seconds)
}

// RecordFileBuckets records file reconciliation counts from a scan.
//
// # Inputs
//
//   - added: Files seen for the first time.
//   - updated: Files whose content hash changed.
//   - removed: Files no longer present on disk.
//   - unchanged: Files skipped as identical.
func (m *BackendMetrics) RecordFileBuckets(added, updated, removed, unchanged int) {
	m.FilesSeenTotal.WithLabelValues("added").Add(float64(added))
	m.FilesSeenTotal.WithLabelValues("updated").Add(float64(updated))
	m.FilesSeenTotal.WithLabelValues("removed").Add(float64(removed))
	m.FilesSeenTotal.WithLabelValues("unchanged").Add(float64(unchanged))
}

// RecordJoin records a join execution.
//
// # Inputs
//
//   - joinType: The join type (inner, left, right, outer).
//   - success: Whether the join completed successfully.
func (m *BackendMetrics) RecordJoin(joinType string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.JoinsTotal.WithLabelValues(joinType, status).Inc()
}

// RecordQueryDuration records query pipeline latency.
//
// # Inputs
//
//   - seconds: Query duration in seconds.
//   - success: Whether the query completed successfully.
func (m *BackendMetrics) RecordQueryDuration(seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.QueryDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordLinkResolution records a link resolution.
//
// # Inputs
//
//   - resolver: The resolver kind that handled the request.
//   - found: Whether a link matched (false means passthrough).
func (m *BackendMetrics) RecordLinkResolution(resolver string, found bool) {
	outcome := "found"
	if !found {
		outcome = "passthrough"
	}
	m.LinkResolutionsTotal.WithLabelValues(resolver, outcome).Inc()
}

// SessionStarted increments the live session gauge.
func (m *BackendMetrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the live session gauge.
func (m *BackendMetrics) SessionEnded() {
	m.ActiveSessions.Dec()
}

// RecordEventPublished increments the published event counter for a topic.
//
// # Inputs
//
//   - topic: The bus topic the event was published to.
func (m *BackendMetrics) RecordEventPublished(topic string) {
	m.EventsPublishedTotal.WithLabelValues(topic).Inc()
}

// RecordEventsDropped adds to the dropped event counter.
//
// # Inputs
//
//   - n: Number of events dropped.
func (m *BackendMetrics) RecordEventsDropped(n int) {
	if n <= 0 {
		return
	}
	m.EventsDroppedTotal.Add(float64(n))
}
