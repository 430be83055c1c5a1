// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/depictio/depictio/services/diagnostics"
)

// runDiagnose probes the local environment and prints the report.
//
// # Description
//
// Always probes process resources, cgroup limits, and scratch IO.
// Network probes cover only the dependencies the CLI is configured to
// reach: the MongoDB host when one is set, and Redis when
// DEPICTIO_REDIS_ADDR is set. With neither, the report is fully
// offline. Diagnose never fails; unreachable targets are part of the
// report.
func runDiagnose(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	cfg := diagnostics.Config{}
	if uri := envOr(mongoURI, "DEPICTIO_MONGO_URI"); uri != "" {
		if u, err := url.Parse(uri); err == nil && u.Host != "" {
			cfg.TCPEndpoints = append(cfg.TCPEndpoints, u.Host)
		}
	}
	if addr := os.Getenv("DEPICTIO_REDIS_ADDR"); addr != "" {
		cfg.TCPEndpoints = append(cfg.TCPEndpoints, addr)
	}

	report := diagnostics.NewCollector(cfg).Collect(ctx)
	if diagJSON {
		printJSON(report)
		return
	}
	printDiagnoseReport(report)
}

// =============================================================================
// OUTPUT FORMATTING
// =============================================================================

// printDiagnoseReport renders the report for humans.
func printDiagnoseReport(report *diagnostics.Report) {
	fmt.Printf("Diagnostics collected at %s in %.0fms\n", report.CollectedAt, report.DurationMS)

	if res := report.Resources; res != nil {
		fmt.Printf("\nResources:\n")
		fmt.Printf("  CPUs: %d (GOMAXPROCS %d)\n", res.CPUCount, res.GoMaxProcs)
		fmt.Printf("  Memory: %s available of %s (%.0f%% used)\n",
			formatBytes(res.MemoryAvailable), formatBytes(res.MemoryTotal), res.MemoryUsedPct)
		fmt.Printf("  Disk %s: %s free of %s\n",
			res.DiskPath, formatBytes(res.DiskFree), formatBytes(res.DiskTotal))
		for _, e := range res.Errors {
			fmt.Printf("  warning: %s\n", e)
		}
	}

	if cg := report.Cgroup; cg != nil {
		fmt.Printf("\nCgroup limits (%s):\n", cg.Source)
		if cg.MemoryMaxBytes > 0 {
			fmt.Printf("  Memory: %s\n", formatBytes(uint64(cg.MemoryMaxBytes)))
		}
		if cg.CPUQuota > 0 {
			fmt.Printf("  CPU quota: %.2f cores\n", cg.CPUQuota)
		}
	}

	if sp := report.Scratch; sp != nil {
		fmt.Printf("\nScratch IO (%d KiB at %s):\n", sp.SizeBytes/1024, sp.Path)
		if sp.Error != "" {
			fmt.Printf("  failed: %s\n", sp.Error)
		} else {
			fmt.Printf("  write %.2fms, read %.2fms, delete %.2fms\n",
				sp.WriteMS, sp.ReadMS, sp.DeleteMS)
		}
	}

	if len(report.DNS) > 0 {
		fmt.Printf("\nDNS:\n")
		for _, p := range report.DNS {
			if p.Error != "" {
				fmt.Printf("  %-30s failed: %s\n", p.Host, p.Error)
				continue
			}
			fmt.Printf("  %-30s %v (%.1fms)\n", p.Host, p.Addresses, p.LatencyMS)
		}
	}

	printEndpointProbes("TCP probes", report.TCP)
	printEndpointProbes("HTTP probes", report.HTTP)
}

func printEndpointProbes(title string, probes []diagnostics.EndpointProbe) {
	if len(probes) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, p := range probes {
		if p.Failures == p.Samples {
			fmt.Printf("  %-30s unreachable: %s\n", p.Target, p.Error)
			continue
		}
		fmt.Printf("  %-30s min %.1fms avg %.1fms max %.1fms (%d/%d ok)\n",
			p.Target, p.MinMS, p.AvgMS, p.MaxMS, p.Samples-p.Failures, p.Samples)
	}
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
