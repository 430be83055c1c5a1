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
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/pkg/ux"
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/locks"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/scan"
)

// watchDebounce is how long the watch loop waits after the last
// filesystem event before rescanning, so one workflow writing many
// files triggers one scan instead of hundreds.
const watchDebounce = 2 * time.Second

// =============================================================================
// ONE-SHOT SCANS
// =============================================================================

// runScanProject scans one project end to end and prints the report.
//
// # Description
//
// Opens the metadata store, loads the project, and runs the scan with
// the workflow and tag filters from the flags. Localized problems
// (unreadable locations, bad collection configs) do not abort the scan;
// they are listed on stderr and turn the exit code to 3.
func runScanProject(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to open metadata store: %v", err)
	}
	defer store.Close(ctx)

	project, err := loadProject(ctx, store, scanProjectID)
	if err != nil {
		fail(exitCodeFor(err), "failed to load project: %v", err)
	}

	engine, err := scan.NewEngine(scan.Config{Store: store})
	if err != nil {
		fail(exitIO, "failed to build scan engine: %v", err)
	}

	report, err := engine.ScanProject(ctx, project, scan.Params{
		WorkflowFilter: scanWorkflow,
		DCTagFilter:    scanDCTag,
		Rescan:         scanRescan,
		Sync:           scanSync,
	})
	if err != nil {
		fail(exitCodeFor(err), "scan failed: %v", err)
	}
	finishScan(report)
}

// runScanDC scans a single data collection by id.
func runScanDC(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	dcID, err := datamodel.ParseID(scanDCID)
	if err != nil {
		fail(exitConfig, "invalid --dc-id: %v", err)
	}

	store, err := openStore(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to open metadata store: %v", err)
	}
	defer store.Close(ctx)

	engine, err := scan.NewEngine(scan.Config{Store: store})
	if err != nil {
		fail(exitIO, "failed to build scan engine: %v", err)
	}

	report, err := engine.ScanDC(ctx, dcID, scanSync)
	if err != nil {
		fail(exitCodeFor(err), "scan failed: %v", err)
	}
	finishScan(report)
}

// finishScan prints the report and exits with the partial code when any
// location or collection was skipped over a problem.
func finishScan(report *scan.Report) {
	ux.Title(fmt.Sprintf("Scan %s", report.ScanID))
	for i := range report.PerDC {
		dc := &report.PerDC[i]
		icon := ux.IconSuccess
		if dc.Counts.Failed > 0 {
			icon = ux.IconWarning
		}
		ux.CollectionStatus(dc.DataCollTag, icon,
			fmt.Sprintf("%d new, %d updated, %d skipped, %d missing",
				dc.Counts.New, dc.Counts.Updated, dc.Counts.Skipped, dc.Counts.Missing))
	}
	ux.Info(fmt.Sprintf("%d runs scanned, %d skipped, %d deleted",
		report.RunsScanned, report.RunsSkipped, report.RunsDeleted))
	if report.Totals.Missing > 0 {
		ux.Warning(fmt.Sprintf("%d previously seen files are missing on disk", report.Totals.Missing))
	}
	ux.ScanSummary(report.Totals.New, report.Totals.Updated, report.Totals.Skipped, report.Totals.Failed)
	if report.Partial() {
		for _, p := range report.ProblemStrings() {
			ux.Warning(p)
		}
		os.Exit(exitPartial)
	}
}

// =============================================================================
// WATCH MODE
// =============================================================================

// runScanWatch watches the project's data locations and rescans on
// changes, with a scheduled rescan as a safety net.
//
// # Description
//
// Filesystem events are debounced so a workflow writing a run's worth
// of files triggers one scan. Every trigger reloads the project
// definition from the store, so edits to the project take effect on
// the next scan without restarting the watch. With --redis, each
// rescan is wrapped in a shared lock so only one replica runs it.
//
// # Limitations
//
//   - Directory watches are not recursive. New run directories are
//     noticed immediately; writes deep inside existing ones surface on
//     the next scheduled rescan.
func runScanWatch(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to open metadata store: %v", err)
	}
	defer store.Close(context.WithoutCancel(ctx))

	project, err := loadProject(ctx, store, scanProjectID)
	if err != nil {
		fail(exitCodeFor(err), "failed to load project: %v", err)
	}

	engine, err := scan.NewEngine(scan.Config{Store: store})
	if err != nil {
		fail(exitIO, "failed to build scan engine: %v", err)
	}

	var mgr *locks.Manager
	if addr := envOr(watchRedis, "DEPICTIO_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer client.Close()
		mgr, err = locks.NewManager(locks.Config{Client: client})
		if err != nil {
			fail(exitConfig, "failed to set up scan locking: %v", err)
		}
		ux.Info(fmt.Sprintf("coordinating rescans through redis at %s", addr))
	}

	trigger := makeScanTrigger(ctx, store, engine, mgr, project.ID)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fail(exitIO, "failed to create filesystem watcher: %v", err)
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range watchTargets(project) {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("cannot watch data location", "path", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fail(exitConfig, "project %q has no watchable data locations", project.Name)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		fail(exitIO, "failed to create scheduler: %v", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(watchInterval),
		gocron.NewTask(trigger, "scheduled"),
		gocron.WithName("rescan"),
	); err != nil {
		fail(exitIO, "failed to schedule rescan job: %v", err)
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	// Baseline scan before the watch begins, so events only have to
	// cover the delta.
	trigger("startup")

	ux.Success(fmt.Sprintf("watching %d locations of project %q (rescan every %v, Ctrl-C to stop)",
		watched, project.Name, watchInterval))

	var debounce <-chan time.Time
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("filesystem event", "path", event.Name, "op", event.Op.String())
			debounce = time.After(watchDebounce)

		case <-debounce:
			debounce = nil
			trigger("filesystem change")

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("filesystem watcher error", "error", err)

		case <-ctx.Done():
			fmt.Println()
			ux.Muted("stopping watch")
			return
		}
	}
}

// makeScanTrigger builds the rescan closure shared by the watch,
// scheduler, and startup paths. The project definition is reloaded on
// every trigger so edits take effect without restarting the watch.
func makeScanTrigger(ctx context.Context, store metastore.Store, engine *scan.Engine, mgr *locks.Manager, projectID primitive.ObjectID) func(reason string) {
	lockKey := locks.LockKey("scan-watch:"+projectID.Hex(), 0)
	runScan := func(ctx context.Context) error {
		project, err := store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		report, err := engine.ScanProject(ctx, project, scan.Params{Rescan: true, Sync: scanSync})
		if err != nil {
			return err
		}
		ux.Info(fmt.Sprintf("[%s] rescan: %d new, %d updated, %d missing, %d problems",
			time.Now().Format("15:04:05"),
			report.Totals.New, report.Totals.Updated, report.Totals.Missing,
			len(report.Problems)))
		return nil
	}

	return func(reason string) {
		slog.Debug("rescan triggered", "reason", reason)
		if mgr == nil {
			if err := runScan(ctx); err != nil {
				ux.Error(fmt.Sprintf("rescan failed: %v", err))
			}
			return
		}
		ran, err := mgr.Do(ctx, lockKey, runScan)
		if err != nil {
			ux.Error(fmt.Sprintf("rescan failed: %v", err))
			return
		}
		if !ran {
			slog.Debug("rescan skipped, lock held elsewhere")
		}
	}
}

// watchTargets collects the directories a project's scans read from:
// every workflow data location plus the parent directory of each
// project-level single file.
func watchTargets(project *datamodel.Project) []string {
	seen := make(map[string]struct{})
	var targets []string
	add := func(dir string) {
		if dir == "" {
			return
		}
		if _, dup := seen[dir]; dup {
			return
		}
		seen[dir] = struct{}{}
		targets = append(targets, dir)
	}

	for i := range project.Workflows {
		for _, loc := range project.Workflows[i].DataLocation.Locations {
			add(loc)
		}
	}
	for i := range project.DataCollections {
		dc := &project.DataCollections[i]
		if dc.Config.Scan == nil || dc.Config.Scan.Single == nil {
			continue
		}
		add(filepath.Dir(dc.Config.Scan.Single.Filename))
	}
	return targets
}
