// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCollector(t *testing.T, mut func(*Config)) *Collector {
	t.Helper()
	cfg := Config{
		Samples:    3,
		Timeout:    2 * time.Second,
		ScratchDir: t.TempDir(),
		DiskPath:   t.TempDir(),
		CgroupRoot: filepath.Join(t.TempDir(), "no-cgroup"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mut != nil {
		mut(&cfg)
	}
	return NewCollector(cfg)
}

// tcpListener accepts and immediately closes connections until the test ends.
func tcpListener(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l
}

func TestProbeDNS(t *testing.T) {
	t.Run("resolves known host", func(t *testing.T) {
		c := newCollector(t, func(cfg *Config) { cfg.DNSHosts = []string{"localhost"} })
		report := c.Collect(context.Background())
		require.Len(t, report.DNS, 1)
		probe := report.DNS[0]
		assert.Equal(t, "localhost", probe.Host)
		assert.Empty(t, probe.Error)
		assert.NotEmpty(t, probe.Addresses)
		assert.GreaterOrEqual(t, probe.LatencyMS, 0.0)
	})

	t.Run("records resolution failure", func(t *testing.T) {
		c := newCollector(t, func(cfg *Config) { cfg.DNSHosts = []string{"depictio-missing.invalid"} })
		report := c.Collect(context.Background())
		require.Len(t, report.DNS, 1)
		assert.NotEmpty(t, report.DNS[0].Error)
		assert.Empty(t, report.DNS[0].Addresses)
	})
}

func TestProbeTCP(t *testing.T) {
	t.Run("round trips", func(t *testing.T) {
		l := tcpListener(t)
		c := newCollector(t, func(cfg *Config) { cfg.TCPEndpoints = []string{l.Addr().String()} })
		report := c.Collect(context.Background())
		require.Len(t, report.TCP, 1)
		probe := report.TCP[0]
		assert.Equal(t, 3, probe.Samples)
		assert.Zero(t, probe.Failures)
		assert.Empty(t, probe.Error)
		assert.LessOrEqual(t, probe.MinMS, probe.AvgMS)
		assert.LessOrEqual(t, probe.AvgMS, probe.MaxMS)
	})

	t.Run("counts refused dials", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		require.NoError(t, l.Close())

		c := newCollector(t, func(cfg *Config) { cfg.TCPEndpoints = []string{addr} })
		report := c.Collect(context.Background())
		require.Len(t, report.TCP, 1)
		probe := report.TCP[0]
		assert.Equal(t, 3, probe.Failures)
		assert.NotEmpty(t, probe.Error)
		assert.Zero(t, probe.MaxMS)
	})
}

func TestProbeHTTP(t *testing.T) {
	t.Run("round trips with status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}))
		t.Cleanup(srv.Close)

		c := newCollector(t, func(cfg *Config) { cfg.HTTPEndpoints = []string{srv.URL} })
		report := c.Collect(context.Background())
		require.Len(t, report.HTTP, 1)
		probe := report.HTTP[0]
		assert.Zero(t, probe.Failures)
		assert.Equal(t, http.StatusOK, probe.StatusCode)
		assert.LessOrEqual(t, probe.MinMS, probe.MaxMS)
	})

	t.Run("error status is a completed round trip", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		c := newCollector(t, func(cfg *Config) { cfg.HTTPEndpoints = []string{srv.URL} })
		report := c.Collect(context.Background())
		require.Len(t, report.HTTP, 1)
		assert.Zero(t, report.HTTP[0].Failures)
		assert.Equal(t, http.StatusServiceUnavailable, report.HTTP[0].StatusCode)
	})

	t.Run("transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := newCollector(t, func(cfg *Config) { cfg.HTTPEndpoints = []string{url} })
		report := c.Collect(context.Background())
		require.Len(t, report.HTTP, 1)
		probe := report.HTTP[0]
		assert.Equal(t, 3, probe.Failures)
		assert.Zero(t, probe.StatusCode)
		assert.NotEmpty(t, probe.Error)
	})

	t.Run("default sample count", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(srv.Close)

		c := newCollector(t, func(cfg *Config) {
			cfg.Samples = 0
			cfg.HTTPEndpoints = []string{srv.URL}
		})
		report := c.Collect(context.Background())
		require.Len(t, report.HTTP, 1)
		assert.Equal(t, 5, report.HTTP[0].Samples)
	})
}

func TestCollectResources(t *testing.T) {
	c := newCollector(t, nil)
	report := c.Collect(context.Background())
	res := report.Resources
	require.NotNil(t, res)
	assert.Empty(t, res.Errors)
	assert.GreaterOrEqual(t, res.CPUCount, 1)
	assert.GreaterOrEqual(t, res.GoMaxProcs, 1)
	assert.Greater(t, res.MemoryTotal, uint64(0))
	assert.Greater(t, res.DiskTotal, uint64(0))
}

func TestCollectCgroup(t *testing.T) {
	t.Run("limits parsed", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "memory.max"), []byte("1073741824\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "cpu.max"), []byte("200000 100000\n"), 0o644))

		c := newCollector(t, func(cfg *Config) { cfg.CgroupRoot = root })
		report := c.Collect(context.Background())
		require.NotNil(t, report.Cgroup)
		assert.Equal(t, int64(1<<30), report.Cgroup.MemoryMaxBytes)
		assert.Equal(t, 2.0, report.Cgroup.CPUQuota)
		assert.Equal(t, root, report.Cgroup.Source)
	})

	t.Run("max means unlimited", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "memory.max"), []byte("max\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "cpu.max"), []byte("max 100000\n"), 0o644))

		c := newCollector(t, func(cfg *Config) { cfg.CgroupRoot = root })
		report := c.Collect(context.Background())
		require.NotNil(t, report.Cgroup)
		assert.Zero(t, report.Cgroup.MemoryMaxBytes)
		assert.Zero(t, report.Cgroup.CPUQuota)
	})

	t.Run("absent hierarchy", func(t *testing.T) {
		c := newCollector(t, nil)
		report := c.Collect(context.Background())
		assert.Nil(t, report.Cgroup)
	})
}

func TestProbeScratch(t *testing.T) {
	t.Run("write read delete", func(t *testing.T) {
		dir := t.TempDir()
		c := newCollector(t, func(cfg *Config) {
			cfg.ScratchDir = dir
			cfg.ScratchSize = 4096
		})
		report := c.Collect(context.Background())
		probe := report.Scratch
		require.NotNil(t, probe)
		assert.Empty(t, probe.Error)
		assert.Equal(t, 4096, probe.SizeBytes)
		assert.GreaterOrEqual(t, probe.WriteMS, 0.0)
		assert.GreaterOrEqual(t, probe.ReadMS, 0.0)
		assert.GreaterOrEqual(t, probe.DeleteMS, 0.0)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "scratch file must be removed")
	})

	t.Run("unwritable directory", func(t *testing.T) {
		c := newCollector(t, func(cfg *Config) {
			cfg.ScratchDir = filepath.Join(t.TempDir(), "does-not-exist")
		})
		report := c.Collect(context.Background())
		require.NotNil(t, report.Scratch)
		assert.Contains(t, report.Scratch.Error, "write:")
	})
}

func TestCollectReportShape(t *testing.T) {
	l := tcpListener(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	c := newCollector(t, func(cfg *Config) {
		cfg.DNSHosts = []string{"localhost"}
		cfg.TCPEndpoints = []string{l.Addr().String()}
		cfg.HTTPEndpoints = []string{srv.URL}
	})
	report := c.Collect(context.Background())

	_, err := time.Parse(time.RFC3339, report.CollectedAt)
	require.NoError(t, err)
	assert.Greater(t, report.DurationMS, 0.0)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"collected_at", "dns", "tcp", "http", "resources", "scratch"} {
		assert.Contains(t, decoded, key)
	}
}
