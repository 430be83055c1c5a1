// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create isolated metrics for testing
// ============================================================================

// newTestMetrics creates a BackendMetrics instance with a custom registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) *BackendMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "requests_total",
			Help:      "Total number of API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	requestDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"endpoint"},
	)

	scansTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "scans_total",
			Help:      "Total scans by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	scanDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "scan_duration_seconds",
			Help:      "Scan wall time in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"trigger"},
	)

	filesSeenTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "files_seen_total",
			Help:      "Total files reconciled by bucket",
		},
		[]string{"bucket"},
	)

	joinsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "joins_total",
			Help:      "Total join executions by type and status",
		},
		[]string{"join_type", "status"},
	)

	queryDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "query_duration_seconds",
			Help:      "Query pipeline latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)

	linkResolutionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "link_resolutions_total",
			Help:      "Total link resolutions by resolver and outcome",
		},
		[]string{"resolver", "outcome"},
	)

	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "active_sessions",
			Help:      "Number of live websocket sessions",
		},
	)

	eventsPublishedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "events_published_total",
			Help:      "Total bus events published by topic",
		},
		[]string{"topic"},
	)

	eventsDroppedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: backendSubsystem,
			Name:      "events_dropped_total",
			Help:      "Total events dropped on slow subscribers",
		},
	)

	// Register all metrics with the test registry
	reg.MustRegister(
		requestsTotal,
		requestDurationSeconds,
		scansTotal,
		scanDurationSeconds,
		filesSeenTotal,
		joinsTotal,
		queryDurationSeconds,
		linkResolutionsTotal,
		activeSessions,
		eventsPublishedTotal,
		eventsDroppedTotal,
	)

	return &BackendMetrics{
		RequestsTotal:          requestsTotal,
		RequestDurationSeconds: requestDurationSeconds,
		ScansTotal:             scansTotal,
		ScanDurationSeconds:    scanDurationSeconds,
		FilesSeenTotal:         filesSeenTotal,
		JoinsTotal:             joinsTotal,
		QueryDurationSeconds:   queryDurationSeconds,
		LinkResolutionsTotal:   linkResolutionsTotal,
		ActiveSessions:         activeSessions,
		EventsPublishedTotal:   eventsPublishedTotal,
		EventsDroppedTotal:     eventsDroppedTotal,
	}
}

// ============================================================================
// InitMetrics Tests
// ============================================================================

// Note: InitMetrics uses promauto which registers with the default Prometheus
// registry. This test must only run once per test binary execution since
// duplicate registration will panic.
var initMetricsTestOnce bool

func TestInitMetrics(t *testing.T) {
	if initMetricsTestOnce {
		t.Skip("InitMetrics can only be called once per test run (promauto restriction)")
	}
	initMetricsTestOnce = true

	result := InitMetrics()

	if result == nil {
		t.Fatal("InitMetrics() returned nil")
	}

	if DefaultMetrics == nil {
		t.Fatal("DefaultMetrics should be set after InitMetrics()")
	}

	if DefaultMetrics != result {
		t.Error("DefaultMetrics should equal the returned value")
	}

	if result.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if result.RequestDurationSeconds == nil {
		t.Error("RequestDurationSeconds should not be nil")
	}
	if result.ScansTotal == nil {
		t.Error("ScansTotal should not be nil")
	}
	if result.ScanDurationSeconds == nil {
		t.Error("ScanDurationSeconds should not be nil")
	}
	if result.FilesSeenTotal == nil {
		t.Error("FilesSeenTotal should not be nil")
	}
	if result.JoinsTotal == nil {
		t.Error("JoinsTotal should not be nil")
	}
	if result.QueryDurationSeconds == nil {
		t.Error("QueryDurationSeconds should not be nil")
	}
	if result.LinkResolutionsTotal == nil {
		t.Error("LinkResolutionsTotal should not be nil")
	}
	if result.ActiveSessions == nil {
		t.Error("ActiveSessions should not be nil")
	}
	if result.EventsPublishedTotal == nil {
		t.Error("EventsPublishedTotal should not be nil")
	}
	if result.EventsDroppedTotal == nil {
		t.Error("EventsDroppedTotal should not be nil")
	}

	// Verify metrics can be used
	result.RecordRequest(EndpointProjects, true)
	result.RecordScan(TriggerAPI, true)
	result.RecordJoin("inner", true)
	result.SessionStarted()
	result.SessionEnded()
}

// ============================================================================
// Constants Tests
// ============================================================================

func TestConstants(t *testing.T) {
	if metricsNamespace != "depictio" {
		t.Errorf("metricsNamespace = %q, want %q", metricsNamespace, "depictio")
	}
	if backendSubsystem != "backend" {
		t.Errorf("backendSubsystem = %q, want %q", backendSubsystem, "backend")
	}
}

func TestEndpointConstants(t *testing.T) {
	tests := []struct {
		endpoint Endpoint
		want     string
	}{
		{EndpointProjects, "projects"},
		{EndpointScan, "scan"},
		{EndpointProcess, "process"},
		{EndpointJoins, "joins"},
		{EndpointQuery, "query"},
		{EndpointLinks, "links"},
		{EndpointDiagnostics, "diagnostics"},
		{EndpointEvents, "events"},
	}

	for _, tt := range tests {
		if string(tt.endpoint) != tt.want {
			t.Errorf("Endpoint = %q, want %q", tt.endpoint, tt.want)
		}
	}
}

func TestScanTriggerConstants(t *testing.T) {
	tests := []struct {
		trigger ScanTrigger
		want    string
	}{
		{TriggerAPI, "api"},
		{TriggerScheduled, "scheduled"},
		{TriggerWatch, "watch"},
	}

	for _, tt := range tests {
		if string(tt.trigger) != tt.want {
			t.Errorf("ScanTrigger = %q, want %q", tt.trigger, tt.want)
		}
	}
}

// ============================================================================
// RecordRequest Tests
// ============================================================================

func TestBackendMetrics_RecordRequest_Success(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointProjects, true)

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("projects", "success"))
	if val != 1 {
		t.Errorf("RequestsTotal[projects,success] = %f, want 1", val)
	}
}

func TestBackendMetrics_RecordRequest_Error(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointQuery, false)

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query", "error"))
	if val != 1 {
		t.Errorf("RequestsTotal[query,error] = %f, want 1", val)
	}
}

func TestBackendMetrics_RecordRequest_Multiple(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest(EndpointProjects, true)
	m.RecordRequest(EndpointProjects, true)
	m.RecordRequest(EndpointProjects, false)
	m.RecordRequest(EndpointScan, true)

	successVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("projects", "success"))
	if successVal != 2 {
		t.Errorf("RequestsTotal[projects,success] = %f, want 2", successVal)
	}

	errorVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("projects", "error"))
	if errorVal != 1 {
		t.Errorf("RequestsTotal[projects,error] = %f, want 1", errorVal)
	}

	scanVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("scan", "success"))
	if scanVal != 1 {
		t.Errorf("RequestsTotal[scan,success] = %f, want 1", scanVal)
	}
}

// ============================================================================
// RecordRequestDuration Tests
// ============================================================================

func TestBackendMetrics_RecordRequestDuration(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequestDuration(EndpointQuery, 0.05)

	count := testutil.CollectAndCount(m.RequestDurationSeconds)
	if count == 0 {
		t.Error("Expected at least one metric to be collected")
	}
}

// ============================================================================
// RecordScan Tests
// ============================================================================

func TestBackendMetrics_RecordScan(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordScan(TriggerAPI, true)
	m.RecordScan(TriggerScheduled, false)
	m.RecordScan(TriggerWatch, true)

	apiVal := testutil.ToFloat64(m.ScansTotal.WithLabelValues("api", "success"))
	if apiVal != 1 {
		t.Errorf("ScansTotal[api,success] = %f, want 1", apiVal)
	}

	schedVal := testutil.ToFloat64(m.ScansTotal.WithLabelValues("scheduled", "error"))
	if schedVal != 1 {
		t.Errorf("ScansTotal[scheduled,error] = %f, want 1", schedVal)
	}

	watchVal := testutil.ToFloat64(m.ScansTotal.WithLabelValues("watch", "success"))
	if watchVal != 1 {
		t.Errorf("ScansTotal[watch,success] = %f, want 1", watchVal)
	}
}

func TestBackendMetrics_RecordScanDuration(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordScanDuration(TriggerAPI, 2.5)
	m.RecordScanDuration(TriggerWatch, 0.3)

	count := testutil.CollectAndCount(m.ScanDurationSeconds)
	if count == 0 {
		t.Error("Expected at least one metric to be collected")
	}
}

// ============================================================================
// RecordFileBuckets Tests
// ============================================================================

func TestBackendMetrics_RecordFileBuckets(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordFileBuckets(5, 2, 1, 10)

	addedVal := testutil.ToFloat64(m.FilesSeenTotal.WithLabelValues("added"))
	if addedVal != 5 {
		t.Errorf("FilesSeenTotal[added] = %f, want 5", addedVal)
	}

	updatedVal := testutil.ToFloat64(m.FilesSeenTotal.WithLabelValues("updated"))
	if updatedVal != 2 {
		t.Errorf("FilesSeenTotal[updated] = %f, want 2", updatedVal)
	}

	removedVal := testutil.ToFloat64(m.FilesSeenTotal.WithLabelValues("removed"))
	if removedVal != 1 {
		t.Errorf("FilesSeenTotal[removed] = %f, want 1", removedVal)
	}

	unchangedVal := testutil.ToFloat64(m.FilesSeenTotal.WithLabelValues("unchanged"))
	if unchangedVal != 10 {
		t.Errorf("FilesSeenTotal[unchanged] = %f, want 10", unchangedVal)
	}
}

func TestBackendMetrics_RecordFileBuckets_Accumulates(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordFileBuckets(3, 0, 0, 0)
	m.RecordFileBuckets(4, 0, 0, 0)

	val := testutil.ToFloat64(m.FilesSeenTotal.WithLabelValues("added"))
	if val != 7 {
		t.Errorf("FilesSeenTotal[added] = %f, want 7", val)
	}
}

// ============================================================================
// RecordJoin Tests
// ============================================================================

func TestBackendMetrics_RecordJoin(t *testing.T) {
	m := newTestMetrics(t)

	tests := []struct {
		joinType string
		success  bool
		status   string
	}{
		{"inner", true, "success"},
		{"left", true, "success"},
		{"outer", false, "error"},
	}

	for _, tt := range tests {
		m.RecordJoin(tt.joinType, tt.success)

		val := testutil.ToFloat64(m.JoinsTotal.WithLabelValues(tt.joinType, tt.status))
		if val != 1 {
			t.Errorf("JoinsTotal[%s,%s] = %f, want 1", tt.joinType, tt.status, val)
		}
	}
}

// ============================================================================
// RecordQueryDuration Tests
// ============================================================================

func TestBackendMetrics_RecordQueryDuration(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordQueryDuration(0.12, true)
	m.RecordQueryDuration(1.5, false)

	count := testutil.CollectAndCount(m.QueryDurationSeconds)
	if count == 0 {
		t.Error("Expected at least one metric to be collected")
	}
}

// ============================================================================
// RecordLinkResolution Tests
// ============================================================================

func TestBackendMetrics_RecordLinkResolution_Found(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLinkResolution("column_map", true)

	val := testutil.ToFloat64(m.LinkResolutionsTotal.WithLabelValues("column_map", "found"))
	if val != 1 {
		t.Errorf("LinkResolutionsTotal[column_map,found] = %f, want 1", val)
	}
}

func TestBackendMetrics_RecordLinkResolution_Passthrough(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLinkResolution("identity", false)

	val := testutil.ToFloat64(m.LinkResolutionsTotal.WithLabelValues("identity", "passthrough"))
	if val != 1 {
		t.Errorf("LinkResolutionsTotal[identity,passthrough] = %f, want 1", val)
	}
}

// ============================================================================
// Session Gauge Tests
// ============================================================================

func TestBackendMetrics_SessionLifecycle(t *testing.T) {
	m := newTestMetrics(t)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionStarted()

	val := testutil.ToFloat64(m.ActiveSessions)
	if val != 3 {
		t.Errorf("After 3 starts: ActiveSessions = %f, want 3", val)
	}

	m.SessionEnded()

	val = testutil.ToFloat64(m.ActiveSessions)
	if val != 2 {
		t.Errorf("After 1 end: ActiveSessions = %f, want 2", val)
	}

	m.SessionEnded()
	m.SessionEnded()

	val = testutil.ToFloat64(m.ActiveSessions)
	if val != 0 {
		t.Errorf("After all ends: ActiveSessions = %f, want 0", val)
	}
}

// ============================================================================
// Event Counter Tests
// ============================================================================

func TestBackendMetrics_RecordEventPublished(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEventPublished("data_collection_updated")
	m.RecordEventPublished("data_collection_updated")
	m.RecordEventPublished("join_completed")

	updatedVal := testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("data_collection_updated"))
	if updatedVal != 2 {
		t.Errorf("EventsPublishedTotal[data_collection_updated] = %f, want 2", updatedVal)
	}

	joinVal := testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("join_completed"))
	if joinVal != 1 {
		t.Errorf("EventsPublishedTotal[join_completed] = %f, want 1", joinVal)
	}
}

func TestBackendMetrics_RecordEventsDropped(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEventsDropped(3)
	m.RecordEventsDropped(2)

	val := testutil.ToFloat64(m.EventsDroppedTotal)
	if val != 5 {
		t.Errorf("EventsDroppedTotal = %f, want 5", val)
	}
}

func TestBackendMetrics_RecordEventsDropped_IgnoresNonPositive(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordEventsDropped(0)
	m.RecordEventsDropped(-1)

	val := testutil.ToFloat64(m.EventsDroppedTotal)
	if val != 0 {
		t.Errorf("EventsDroppedTotal = %f, want 0", val)
	}
}

// ============================================================================
// Integration / Scenario Tests
// ============================================================================

func TestBackendMetrics_CompleteScanScenario(t *testing.T) {
	m := newTestMetrics(t)

	// Simulate a scan triggered over the API
	m.RecordScanDuration(TriggerAPI, 4.2)
	m.RecordFileBuckets(12, 3, 0, 40)
	m.RecordScan(TriggerAPI, true)
	m.RecordRequest(EndpointScan, true)
	m.RecordEventPublished("data_collection_updated")

	scanVal := testutil.ToFloat64(m.ScansTotal.WithLabelValues("api", "success"))
	if scanVal != 1 {
		t.Errorf("ScansTotal[api,success] should be 1, got %f", scanVal)
	}

	addedVal := testutil.ToFloat64(m.FilesSeenTotal.WithLabelValues("added"))
	if addedVal != 12 {
		t.Errorf("FilesSeenTotal[added] should be 12, got %f", addedVal)
	}

	reqVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("scan", "success"))
	if reqVal != 1 {
		t.Errorf("RequestsTotal[scan,success] should be 1, got %f", reqVal)
	}
}

func TestBackendMetrics_FailedQueryScenario(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordQueryDuration(0.8, false)
	m.RecordRequest(EndpointQuery, false)

	reqVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("query", "error"))
	if reqVal != 1 {
		t.Errorf("RequestsTotal[query,error] should be 1, got %f", reqVal)
	}
}

// ============================================================================
// Concurrent Safety Tests
// ============================================================================

func TestBackendMetrics_ConcurrentSafety(t *testing.T) {
	m := newTestMetrics(t)

	done := make(chan bool, 100)

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordRequest(EndpointProjects, true)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordScan(TriggerWatch, true)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordFileBuckets(1, 1, 0, 2)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.SessionStarted()
			m.SessionEnded()
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		go func() {
			m.RecordQueryDuration(0.1, true)
			m.RecordJoin("inner", true)
			m.RecordLinkResolution("column_map", true)
			m.RecordEventPublished("join_completed")
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}

	reqVal := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("projects", "success"))
	if reqVal != 20 {
		t.Errorf("RequestsTotal[projects,success] = %f, want 20", reqVal)
	}

	scanVal := testutil.ToFloat64(m.ScansTotal.WithLabelValues("watch", "success"))
	if scanVal != 20 {
		t.Errorf("ScansTotal[watch,success] = %f, want 20", scanVal)
	}

	addedVal := testutil.ToFloat64(m.FilesSeenTotal.WithLabelValues("added"))
	if addedVal != 20 {
		t.Errorf("FilesSeenTotal[added] = %f, want 20", addedVal)
	}
}
