// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command depictio is the operator CLI for the Depictio data platform.
//
// It drives the scan, process, and project engines directly against the
// configured metadata store, so it works with or without a running
// backend service. Typical usage:
//
//	depictio project apply project.yaml
//	depictio scan project --project-id 662f...d1 --sync
//	depictio process --project-id 662f...d1
//	depictio scan watch --project-id 662f...d1 --interval 10m
//	depictio diagnose --json
//
// Exit codes: 0 success, 1 configuration or lookup error, 2 IO or store
// error, 3 scan or materialization completed with problems.
package main

import (
	"log"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
