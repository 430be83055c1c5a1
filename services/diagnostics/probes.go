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
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

func (c *Collector) probeDNS(ctx context.Context, host string) DNSProbe {
	probe := DNSProbe{Host: host}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	addrs, err := c.cfg.Resolver.LookupHost(callCtx, host)
	probe.LatencyMS = msSince(start)
	if err != nil {
		probe.Error = err.Error()
		return probe
	}
	probe.Addresses = addrs
	return probe
}

func (c *Collector) probeTCP(ctx context.Context, addr string) EndpointProbe {
	var dialer net.Dialer
	return c.sampleEndpoint(ctx, addr, func(callCtx context.Context) (int, error) {
		conn, err := dialer.DialContext(callCtx, "tcp", addr)
		if err != nil {
			return 0, err
		}
		return 0, conn.Close()
	})
}

// probeHTTP counts transport errors as failures; a response with any
// status code is a completed round-trip and the code is reported.
func (c *Collector) probeHTTP(ctx context.Context, url string) EndpointProbe {
	return c.sampleEndpoint(ctx, url, func(callCtx context.Context) (int, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	})
}

func (c *Collector) sampleEndpoint(ctx context.Context, target string, roundTrip func(context.Context) (int, error)) EndpointProbe {
	probe := EndpointProbe{Target: target, Samples: c.cfg.Samples}
	var latencies []float64
	for i := 0; i < c.cfg.Samples; i++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		start := time.Now()
		status, err := roundTrip(callCtx)
		elapsed := msSince(start)
		cancel()
		if err != nil {
			probe.Failures++
			probe.Error = err.Error()
			continue
		}
		latencies = append(latencies, elapsed)
		if status != 0 {
			probe.StatusCode = status
		}
	}
	if len(latencies) == 0 {
		return probe
	}
	probe.MinMS, probe.MaxMS = latencies[0], latencies[0]
	var sum float64
	for _, l := range latencies {
		sum += l
		if l < probe.MinMS {
			probe.MinMS = l
		}
		if l > probe.MaxMS {
			probe.MaxMS = l
		}
	}
	probe.AvgMS = sum / float64(len(latencies))
	return probe
}

func (c *Collector) collectResources(ctx context.Context) *Resources {
	res := &Resources{GoMaxProcs: runtime.GOMAXPROCS(0), DiskPath: c.cfg.DiskPath}

	if count, err := cpu.CountsWithContext(ctx, true); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("cpu: %v", err))
	} else {
		res.CPUCount = count
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("memory: %v", err))
	} else {
		res.MemoryTotal = vm.Total
		res.MemoryAvailable = vm.Available
		res.MemoryUsedPct = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, c.cfg.DiskPath); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("disk: %v", err))
	} else {
		res.DiskTotal = usage.Total
		res.DiskFree = usage.Free
	}
	return res
}

// collectCgroup reads cgroup v2 limit files. It returns nil when the
// process does not appear to run under a cgroup v2 hierarchy.
func (c *Collector) collectCgroup() *CgroupLimits {
	memRaw, memErr := os.ReadFile(filepath.Join(c.cfg.CgroupRoot, "memory.max"))
	cpuRaw, cpuErr := os.ReadFile(filepath.Join(c.cfg.CgroupRoot, "cpu.max"))
	if memErr != nil && cpuErr != nil {
		return nil
	}

	limits := &CgroupLimits{Source: c.cfg.CgroupRoot}
	if memErr == nil {
		if v := strings.TrimSpace(string(memRaw)); v != "max" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				limits.MemoryMaxBytes = n
			}
		}
	}
	if cpuErr == nil {
		limits.CPUQuota = parseCPUMax(string(cpuRaw))
	}
	return limits
}

// parseCPUMax turns a cpu.max line ("quota period" or "max period")
// into a core count. Zero means no quota.
func parseCPUMax(raw string) float64 {
	fields := strings.Fields(raw)
	if len(fields) == 0 || fields[0] == "max" {
		return 0
	}
	quota, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || quota <= 0 {
		return 0
	}
	period := 100000.0
	if len(fields) > 1 {
		if p, err := strconv.ParseFloat(fields[1], 64); err == nil && p > 0 {
			period = p
		}
	}
	return quota / period
}

func (c *Collector) probeScratch() *ScratchProbe {
	probe := &ScratchProbe{
		Path:      filepath.Join(c.cfg.ScratchDir, "depictio-scratch-"+uuid.NewString()+".bin"),
		SizeBytes: c.cfg.ScratchSize,
	}
	payload := make([]byte, c.cfg.ScratchSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	start := time.Now()
	if err := os.WriteFile(probe.Path, payload, 0o600); err != nil {
		probe.Error = fmt.Sprintf("write: %v", err)
		return probe
	}
	probe.WriteMS = msSince(start)

	start = time.Now()
	got, err := os.ReadFile(probe.Path)
	if err != nil {
		probe.Error = fmt.Sprintf("read: %v", err)
		_ = os.Remove(probe.Path)
		return probe
	}
	probe.ReadMS = msSince(start)
	if len(got) != len(payload) {
		probe.Error = fmt.Sprintf("read: got %d bytes, wrote %d", len(got), len(payload))
		_ = os.Remove(probe.Path)
		return probe
	}

	start = time.Now()
	if err := os.Remove(probe.Path); err != nil {
		probe.Error = fmt.Sprintf("delete: %v", err)
		return probe
	}
	probe.DeleteMS = msSince(start)
	return probe
}
