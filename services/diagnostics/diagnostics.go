// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostics collects a point-in-time health report for a
// deployment: name resolution and round-trip latency for the platform's
// internal services, process resource counters, container limits when
// the process runs under one, and a small scratch write/read/delete
// probe that characterizes local I/O.
//
// Collection never mutates application state and never fails as a
// whole. Each probe records its own failure inside the report, so a
// dead endpoint produces a report line, not an error.
package diagnostics

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report is the JSON-serializable outcome of one collection run.
type Report struct {
	CollectedAt string          `json:"collected_at"`
	DurationMS  float64         `json:"duration_ms"`
	DNS         []DNSProbe      `json:"dns,omitempty"`
	TCP         []EndpointProbe `json:"tcp,omitempty"`
	HTTP        []EndpointProbe `json:"http,omitempty"`
	Resources   *Resources      `json:"resources,omitempty"`
	Cgroup      *CgroupLimits   `json:"cgroup,omitempty"`
	Scratch     *ScratchProbe   `json:"scratch,omitempty"`
}

// DNSProbe records one hostname resolution attempt.
type DNSProbe struct {
	Host      string   `json:"host"`
	Addresses []string `json:"addresses,omitempty"`
	LatencyMS float64  `json:"latency_ms"`
	Error     string   `json:"error,omitempty"`
}

// EndpointProbe summarizes repeated round-trips to one endpoint.
// Latency statistics cover successful samples only; when every sample
// failed they stay zero and Error holds the last failure.
type EndpointProbe struct {
	Target     string  `json:"target"`
	Samples    int     `json:"samples"`
	Failures   int     `json:"failures"`
	MinMS      float64 `json:"min_ms"`
	AvgMS      float64 `json:"avg_ms"`
	MaxMS      float64 `json:"max_ms"`
	StatusCode int     `json:"status_code,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Resources reports process-visible capacity counters.
type Resources struct {
	CPUCount        int      `json:"cpu_count"`
	GoMaxProcs      int      `json:"gomaxprocs"`
	MemoryTotal     uint64   `json:"memory_total_bytes"`
	MemoryAvailable uint64   `json:"memory_available_bytes"`
	MemoryUsedPct   float64  `json:"memory_used_percent"`
	DiskPath        string   `json:"disk_path"`
	DiskTotal       uint64   `json:"disk_total_bytes"`
	DiskFree        uint64   `json:"disk_free_bytes"`
	Errors          []string `json:"errors,omitempty"`
}

// CgroupLimits carries cgroup v2 limits when the process is confined.
// Zero values mean "no limit set".
type CgroupLimits struct {
	MemoryMaxBytes int64   `json:"memory_max_bytes,omitempty"`
	CPUQuota       float64 `json:"cpu_quota,omitempty"`
	Source         string  `json:"source"`
}

// ScratchProbe times a write, read-back, and delete of a small file.
type ScratchProbe struct {
	Path      string  `json:"path"`
	SizeBytes int     `json:"size_bytes"`
	WriteMS   float64 `json:"write_ms"`
	ReadMS    float64 `json:"read_ms"`
	DeleteMS  float64 `json:"delete_ms"`
	Error     string  `json:"error,omitempty"`
}

// Config controls what a Collector probes.
type Config struct {
	// DNSHosts are internal hostnames to resolve.
	DNSHosts []string

	// TCPEndpoints are host:port addresses probed with dial round-trips.
	TCPEndpoints []string

	// HTTPEndpoints are URLs probed with GET round-trips.
	HTTPEndpoints []string

	// Samples is the round-trip count per endpoint.
	// Default: 5
	Samples int

	// Timeout bounds each individual probe call.
	// Default: 2s
	Timeout time.Duration

	// ScratchDir hosts the write/read/delete probe file.
	// Default: os.TempDir()
	ScratchDir string

	// ScratchSize is the probe file size in bytes.
	// Default: 256 KiB
	ScratchSize int

	// DiskPath is the filesystem whose capacity is reported.
	// Default: "/"
	DiskPath string

	// CgroupRoot is where cgroup v2 limit files are looked up.
	// Default: /sys/fs/cgroup
	CgroupRoot string

	// Resolver performs DNS lookups.
	// Default: net.DefaultResolver
	Resolver *net.Resolver

	// HTTPClient performs HTTP probes; per-call deadlines come from
	// Timeout, so the client needs none of its own.
	// Default: a fresh http.Client
	HTTPClient *http.Client

	// Logger receives structured logs.
	// Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Samples <= 0 {
		c.Samples = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
	}
	if c.ScratchSize <= 0 {
		c.ScratchSize = 256 * 1024
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.CgroupRoot == "" {
		c.CgroupRoot = "/sys/fs/cgroup"
	}
	if c.Resolver == nil {
		c.Resolver = net.DefaultResolver
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Collector runs the configured probes.
//
// Thread Safety: safe for concurrent use.
type Collector struct {
	cfg Config
}

// NewCollector builds a Collector from cfg.
func NewCollector(cfg Config) *Collector {
	cfg.applyDefaults()
	return &Collector{cfg: cfg}
}

// Collect runs every configured probe and assembles the report.
// Endpoints are probed in parallel; the samples against one endpoint
// stay sequential so the latency numbers are honest.
func (c *Collector) Collect(ctx context.Context) *Report {
	start := time.Now()
	report := &Report{
		CollectedAt: start.UTC().Format(time.RFC3339),
		DNS:         make([]DNSProbe, len(c.cfg.DNSHosts)),
		TCP:         make([]EndpointProbe, len(c.cfg.TCPEndpoints)),
		HTTP:        make([]EndpointProbe, len(c.cfg.HTTPEndpoints)),
	}

	var g errgroup.Group
	g.SetLimit(8)
	for i, host := range c.cfg.DNSHosts {
		g.Go(func() error {
			report.DNS[i] = c.probeDNS(ctx, host)
			return nil
		})
	}
	for i, addr := range c.cfg.TCPEndpoints {
		g.Go(func() error {
			report.TCP[i] = c.probeTCP(ctx, addr)
			return nil
		})
	}
	for i, url := range c.cfg.HTTPEndpoints {
		g.Go(func() error {
			report.HTTP[i] = c.probeHTTP(ctx, url)
			return nil
		})
	}
	g.Go(func() error {
		report.Resources = c.collectResources(ctx)
		return nil
	})
	g.Go(func() error {
		report.Cgroup = c.collectCgroup()
		return nil
	})
	g.Go(func() error {
		report.Scratch = c.probeScratch()
		return nil
	})
	_ = g.Wait()

	report.DurationMS = msSince(start)
	c.cfg.Logger.Info("diagnostics collected",
		"duration_ms", report.DurationMS,
		"dns", len(report.DNS), "tcp", len(report.TCP), "http", len(report.HTTP))
	return report
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
