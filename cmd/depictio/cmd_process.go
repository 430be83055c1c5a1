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
	"os"

	"github.com/spf13/cobra"

	"github.com/depictio/depictio/pkg/ux"
	"github.com/depictio/depictio/services/process"
)

// runProcess materializes the project's table collections into Delta
// tables and prints a per-collection summary.
//
// # Description
//
// Per-collection failures do not abort the run: the remaining
// collections still materialize, the failures are listed on stderr,
// and the exit code turns to 3. Collections whose files all failed to
// read are reported as "no data".
func runProcess(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to open metadata store: %v", err)
	}
	defer store.Close(ctx)

	bucket, err := openBucket(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to open object bucket: %v", err)
	}

	project, err := loadProject(ctx, store, processProjectID)
	if err != nil {
		fail(exitCodeFor(err), "failed to load project: %v", err)
	}

	processor, err := process.NewProcessor(process.Config{Store: store, Bucket: bucket})
	if err != nil {
		fail(exitIO, "failed to build processor: %v", err)
	}

	spin := ux.NewSpinner(fmt.Sprintf("materializing tables for project %q", project.Name))
	spin.Start()
	results, err := processor.MaterializeProject(ctx, project, processDCTag)
	spin.Stop()
	if err != nil {
		fail(exitCodeFor(err), "processing failed: %v", err)
	}
	if len(results) == 0 {
		ux.Info(fmt.Sprintf("project %q has no table collections to materialize", project.Name))
		return
	}

	partial := false
	for _, res := range results {
		switch {
		case res.Written:
			ux.CollectionStatus(res.Tag, ux.IconSuccess,
				fmt.Sprintf("v%d: %d rows, %d columns, %d bytes (%d files read, %d skipped)",
					res.Version, res.RowCount, res.ColumnCount, res.SizeBytes,
					res.FilesRead, res.FilesSkipped))
		default:
			ux.CollectionStatus(res.Tag, ux.IconPending, "no data")
		}
		if len(res.Problems) > 0 {
			partial = true
			for _, p := range res.Problems {
				ux.Warning(fmt.Sprintf("%s: %v", res.Tag, p))
			}
		}
	}
	if partial {
		os.Exit(exitPartial)
	}
}
