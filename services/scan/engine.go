// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/depictio/depictio/services/datamodel"
)

// dcScope is one collection in scan scope: its compiled matcher plus the
// prior file set keyed by file_location.
type dcScope struct {
	dc       *datamodel.DataCollection
	perms    datamodel.Permissions
	mode     datamodel.ScanMode
	re       *regexp.Regexp
	filename string
	prior    map[string]datamodel.File
}

func newDCScope(dc *datamodel.DataCollection, perms datamodel.Permissions) (*dcScope, error) {
	sc := &dcScope{dc: dc, perms: perms, mode: dc.Config.Scan.Mode}
	switch sc.mode {
	case datamodel.ScanModeSingle:
		if dc.Config.Scan.Single == nil || dc.Config.Scan.Single.Filename == "" {
			return nil, datamodel.NewError(datamodel.KindConfigInvalid, "single scan requires a filename").
				With("data_collection_tag", dc.Tag)
		}
		sc.filename = dc.Config.Scan.Single.Filename
	case datamodel.ScanModeRecursive:
		if dc.Config.Scan.Recursive == nil {
			return nil, datamodel.NewError(datamodel.KindConfigInvalid, "recursive scan requires a regex_config").
				With("data_collection_tag", dc.Tag)
		}
		re, err := dc.Config.Scan.Recursive.Regex.Compile()
		if err != nil {
			var de *datamodel.Error
			if errors.As(err, &de) {
				de.With("data_collection_tag", dc.Tag)
			}
			return nil, err
		}
		sc.re = re
	default:
		return nil, datamodel.NewErrorf(datamodel.KindConfigInvalid, "unknown scan mode %q", sc.mode).
			With("data_collection_tag", dc.Tag)
	}
	return sc, nil
}

// runTask is one run directory scheduled for processing.
type runTask struct {
	candidate runCandidate
	runID     primitive.ObjectID
	existing  *datamodel.WorkflowRun
}

// dcRunResult is one collection's outcome within one run.
type dcRunResult struct {
	files      []datamodel.File
	upserts    []datamodel.File
	newIDs     []primitive.ObjectID
	updatedIDs []primitive.ObjectID
	skippedIDs []primitive.ObjectID
	failed     int
}

// runOutcome is one processed run.
type runOutcome struct {
	task     runTask
	ctime    string
	mtime    string
	perDC    map[primitive.ObjectID]*dcRunResult
	problems []error
}

// ScanProject scans every workflow of the project (optionally filtered)
// plus the project-level collections of basic projects, reconciles the
// results against the store, and returns the per-collection report.
//
// Localized failures (unreadable locations, malformed collection
// configs) land in Report.Problems; only store and context errors abort
// the scan.
func (e *Engine) ScanProject(ctx context.Context, project *datamodel.Project, params Params) (*Report, error) {
	report := &Report{
		ScanID:    newScanID(),
		ScannedAt: datamodel.FormatTimestamp(e.now().UTC()),
	}
	agg := make(map[primitive.ObjectID]*datamodel.DCScanStats)

	e.logger.Info("scan started",
		slog.String("scan_id", report.ScanID),
		slog.String("project", project.Name),
		slog.Bool("rescan", params.Rescan),
		slog.Bool("sync", params.Sync))

	scopedDCs := 0
	matchedWorkflow := false
	for wi := range project.Workflows {
		wf := &project.Workflows[wi]
		if params.WorkflowFilter != "" && wf.Name != params.WorkflowFilter {
			continue
		}
		matchedWorkflow = true
		n, err := e.scanWorkflow(ctx, project, wf, params, report, agg)
		if err != nil {
			return nil, err
		}
		scopedDCs += n
	}
	if params.WorkflowFilter != "" && !matchedWorkflow {
		return nil, datamodel.NewError(datamodel.KindNotFound, "workflow not found").
			With("workflow", params.WorkflowFilter).
			With("project", project.Name)
	}

	if params.WorkflowFilter == "" {
		for di := range project.DataCollections {
			dc := &project.DataCollections[di]
			if params.DCTagFilter != "" && dc.Tag != params.DCTagFilter {
				continue
			}
			if dc.Config.Scan == nil || dc.Config.Joined() {
				continue
			}
			scopedDCs++
			if err := e.scanProjectLevelDC(ctx, project, dc, params, report, agg); err != nil {
				return nil, err
			}
		}
	}

	if params.DCTagFilter != "" && scopedDCs == 0 {
		return nil, datamodel.NewError(datamodel.KindDCNotFound, "no collection matches tag").
			With("data_collection_tag", params.DCTagFilter).
			With("project", project.Name)
	}

	finishReport(report, agg)
	e.notify(ctx, report, params)

	e.logger.Info("scan finished",
		slog.String("scan_id", report.ScanID),
		slog.Int("runs_scanned", report.RunsScanned),
		slog.Int("runs_skipped", report.RunsSkipped),
		slog.Int("new", report.Totals.New),
		slog.Int("updated", report.Totals.Updated),
		slog.Int("skipped", report.Totals.Skipped),
		slog.Int("missing", report.Totals.Missing),
		slog.Int("failed", report.Totals.Failed),
		slog.Int("problems", len(report.Problems)))
	return report, nil
}

// ScanDC scans exactly one collection. Workflow-level collections rescan
// through their workflow; project-level single-file collections scan
// standalone. The collection's project is resolved from the store.
func (e *Engine) ScanDC(ctx context.Context, dcID primitive.ObjectID, sync bool) (*Report, error) {
	project, err := e.store.FindProjectByDC(ctx, dcID)
	if err != nil {
		return nil, err
	}
	dc, wf, ok := project.DCByID(dcID)
	if !ok {
		return nil, datamodel.NewError(datamodel.KindDCNotFound, "data collection not found").
			With("dc_id", dcID.Hex())
	}
	params := Params{DCTagFilter: dc.Tag, Rescan: true, Sync: sync}
	if wf != nil {
		params.WorkflowFilter = wf.Name
	}
	return e.ScanProject(ctx, project, params)
}

// scanWorkflow runs the full reconcile pipeline for one workflow and
// returns how many collections were in scope.
func (e *Engine) scanWorkflow(ctx context.Context, project *datamodel.Project, wf *datamodel.Workflow, params Params, report *Report, agg map[primitive.ObjectID]*datamodel.DCScanStats) (int, error) {
	scopes := make([]*dcScope, 0, len(wf.DataCollections))
	for di := range wf.DataCollections {
		dc := &wf.DataCollections[di]
		if params.DCTagFilter != "" && dc.Tag != params.DCTagFilter {
			continue
		}
		if dc.Config.Scan == nil || dc.Config.Joined() {
			continue
		}
		sc, err := newDCScope(dc, project.Permissions)
		if err != nil {
			// Malformed config aborts this collection only.
			report.Problems = append(report.Problems, err)
			continue
		}
		scopes = append(scopes, sc)
	}
	if len(scopes) == 0 {
		return 0, nil
	}

	for _, sc := range scopes {
		files, err := e.store.ListFilesByDC(ctx, sc.dc.ID)
		if err != nil {
			return len(scopes), err
		}
		sc.prior = make(map[string]datamodel.File, len(files))
		for _, f := range files {
			sc.prior[f.FileLocation] = f
		}
	}

	storedRuns, err := e.store.ListRunsByWorkflow(ctx, wf.ID)
	if err != nil {
		return len(scopes), err
	}
	runsByTag := make(map[string]*datamodel.WorkflowRun, len(storedRuns))
	for i := range storedRuns {
		runsByTag[storedRuns[i].RunTag] = &storedRuns[i]
	}

	enum := enumerateRuns(wf)
	report.Problems = append(report.Problems, enum.problems...)

	seen := make(map[string]bool, len(enum.candidates))
	tasks := make([]runTask, 0, len(enum.candidates))
	for _, cand := range enum.candidates {
		seen[cand.tag] = true
		existing := runsByTag[cand.tag]
		if existing != nil && !params.Rescan {
			report.RunsSkipped++
			continue
		}
		task := runTask{candidate: cand, existing: existing}
		if existing != nil {
			task.runID = existing.ID
		} else {
			task.runID = datamodel.NewID()
		}
		tasks = append(tasks, task)
	}

	outcomes := make([]*runOutcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range tasks {
		g.Go(func() error {
			outcomes[i] = e.processRun(tasks[i], scopes, params)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return len(scopes), err
	}

	return len(scopes), e.commit(ctx, commitInput{
		project:         project,
		workflowID:      wf.ID,
		scopes:          scopes,
		outcomes:        outcomes,
		storedRuns:      runsByTag,
		seenTags:        seen,
		failedLocations: enum.failed,
		skipRunRemoval:  enum.unresolved,
		params:          params,
		report:          report,
		agg:             agg,
	})
}

// scanProjectLevelDC scans one basic-project collection: a single file at
// an absolute path, wrapped in a synthetic run tagged with the
// collection tag.
func (e *Engine) scanProjectLevelDC(ctx context.Context, project *datamodel.Project, dc *datamodel.DataCollection, params Params, report *Report, agg map[primitive.ObjectID]*datamodel.DCScanStats) error {
	if dc.Config.Scan.Mode != datamodel.ScanModeSingle {
		report.Problems = append(report.Problems,
			datamodel.NewError(datamodel.KindConfigInvalid, "project-level collections support single mode only").
				With("data_collection_tag", dc.Tag))
		return nil
	}
	sc, err := newDCScope(dc, project.Permissions)
	if err != nil {
		report.Problems = append(report.Problems, err)
		return nil
	}
	path, err := datamodel.ExpandAbsolutePath(sc.filename)
	if err != nil {
		var de *datamodel.Error
		if errors.As(err, &de) {
			de.With("data_collection_tag", dc.Tag)
		}
		report.Problems = append(report.Problems, err)
		return nil
	}
	sc.filename = path

	files, err := e.store.ListFilesByDC(ctx, dc.ID)
	if err != nil {
		return err
	}
	sc.prior = make(map[string]datamodel.File, len(files))
	for _, f := range files {
		sc.prior[f.FileLocation] = f
	}

	task := runTask{candidate: runCandidate{tag: dc.Tag, location: filepath.Dir(path)}}
	existing, err := e.store.FindRunByTag(ctx, primitive.NilObjectID, dc.Tag)
	switch {
	case err == nil:
		task.existing = existing
		task.runID = existing.ID
	case datamodel.IsKind(err, datamodel.KindNotFound):
		task.runID = datamodel.NewID()
	default:
		return err
	}

	outcome := e.processRun(task, []*dcScope{sc}, params)
	return e.commit(ctx, commitInput{
		project:    project,
		workflowID: primitive.NilObjectID,
		scopes:     []*dcScope{sc},
		outcomes:   []*runOutcome{outcome},
		storedRuns: map[string]*datamodel.WorkflowRun{},
		seenTags:   map[string]bool{dc.Tag: true},
		params:     params,
		report:     report,
		agg:        agg,
	})
}

// processRun walks one run directory against every in-scope collection
// and buckets each discovered file. Walk failures abort that collection
// for this run only.
func (e *Engine) processRun(task runTask, scopes []*dcScope, params Params) *runOutcome {
	oc := &runOutcome{
		task:  task,
		perDC: make(map[primitive.ObjectID]*dcRunResult, len(scopes)),
	}

	if fi, err := os.Stat(task.candidate.location); err == nil {
		oc.ctime, oc.mtime = fileTimes(fi)
	} else {
		now := datamodel.FormatTimestamp(e.now().UTC())
		oc.ctime, oc.mtime = now, now
	}

	for _, sc := range scopes {
		res := &dcRunResult{}
		oc.perDC[sc.dc.ID] = res

		var paths []string
		var err error
		switch sc.mode {
		case datamodel.ScanModeSingle:
			paths, err = discoverSingle(task.candidate.location, sc.filename)
		case datamodel.ScanModeRecursive:
			paths, err = discoverRecursive(task.candidate.location, sc.re)
		}
		if err != nil {
			oc.problems = append(oc.problems, err)
			continue
		}

		for _, path := range paths {
			fi, err := os.Stat(path)
			if err != nil {
				res.failed++
				oc.problems = append(oc.problems,
					datamodel.WrapError(datamodel.KindScanIOError, "stat file", err).
						With("file_location", path))
				continue
			}
			entity, err := newFileEntity(path, fi, task.runID, sc.dc.ID)
			if err != nil {
				res.failed++
				oc.problems = append(oc.problems, err)
				continue
			}
			entity.Permissions = sc.perms

			prior, known := sc.prior[path]
			switch {
			case known && prior.FileHash == entity.FileHash:
				entity.ID = prior.ID
				res.skippedIDs = append(res.skippedIDs, entity.ID)
				res.files = append(res.files, entity)
				if params.Sync {
					// Refresh the stored document; content is identical
					// so the write changes nothing.
					res.upserts = append(res.upserts, entity)
				}
			case known:
				entity.ID = prior.ID
				res.updatedIDs = append(res.updatedIDs, entity.ID)
				res.files = append(res.files, entity)
				res.upserts = append(res.upserts, entity)
			default:
				res.newIDs = append(res.newIDs, entity.ID)
				res.files = append(res.files, entity)
				res.upserts = append(res.upserts, entity)
			}
		}
	}
	return oc
}

type commitInput struct {
	project         *datamodel.Project
	workflowID      primitive.ObjectID
	scopes          []*dcScope
	outcomes        []*runOutcome
	storedRuns      map[string]*datamodel.WorkflowRun
	seenTags        map[string]bool
	failedLocations []string
	skipRunRemoval  bool
	params          Params
	report          *Report
	agg             map[primitive.ObjectID]*datamodel.DCScanStats
}

// commit merges run outcomes, applies missing-file and missing-run
// policy, and persists files, runs, and per-run scan results in batches.
func (e *Engine) commit(ctx context.Context, in commitInput) error {
	discovered := make(map[primitive.ObjectID]map[string]bool, len(in.scopes))
	processedRuns := make(map[primitive.ObjectID]bool, len(in.outcomes))
	var upserts []datamodel.File

	for _, oc := range in.outcomes {
		processedRuns[oc.task.runID] = true
		in.report.Problems = append(in.report.Problems, oc.problems...)
		for dcID, res := range oc.perDC {
			set := discovered[dcID]
			if set == nil {
				set = make(map[string]bool)
				discovered[dcID] = set
			}
			for i := range res.files {
				set[res.files[i].FileLocation] = true
			}
			upserts = append(upserts, res.upserts...)
		}
	}

	// Runs recorded before but absent from this enumeration go away,
	// files included, whenever the caller asked for a rescan. Runs under
	// a location that failed to enumerate are exempt, and an unresolved
	// location suppresses removal entirely.
	if in.params.Rescan && !in.skipRunRemoval {
		for tag, run := range in.storedRuns {
			if in.seenTags[tag] || underAny(run.RunLocation, in.failedLocations) {
				continue
			}
			files, err := e.store.ListFilesByRun(ctx, run.ID)
			if err != nil {
				return err
			}
			ids := make([]primitive.ObjectID, len(files))
			for i := range files {
				ids[i] = files[i].ID
				stats := aggFor(in.agg, files[i].DataCollectionID, dcTag(in.scopes, files[i].DataCollectionID))
				stats.Counts.Missing++
				stats.MissingIDs = append(stats.MissingIDs, files[i].ID)
			}
			if err := e.store.DeleteFiles(ctx, ids); err != nil {
				return err
			}
			if err := e.store.DeleteRun(ctx, run.ID); err != nil {
				return err
			}
			in.report.RunsDeleted++
			e.logger.Info("run removed",
				slog.String("run_tag", tag),
				slog.Int("files_deleted", len(ids)))
		}
	}

	// Missing files: prior entries of processed runs that were not
	// rediscovered on disk.
	missingByRun := make(map[primitive.ObjectID][]primitive.ObjectID)
	var missingIDs []primitive.ObjectID
	for _, sc := range in.scopes {
		set := discovered[sc.dc.ID]
		for loc, f := range sc.prior {
			if set[loc] || !processedRuns[f.RunID] {
				continue
			}
			missingIDs = append(missingIDs, f.ID)
			missingByRun[f.RunID] = append(missingByRun[f.RunID], f.ID)
			stats := aggFor(in.agg, sc.dc.ID, sc.dc.Tag)
			stats.Counts.Missing++
			stats.MissingIDs = append(stats.MissingIDs, f.ID)
		}
	}
	if in.params.Sync && len(missingIDs) > 0 {
		if err := e.store.DeleteFiles(ctx, missingIDs); err != nil {
			return err
		}
	}

	if err := e.store.UpsertFiles(ctx, upserts); err != nil {
		return err
	}

	for _, oc := range in.outcomes {
		run, result := e.assembleRun(in.project, in.workflowID, oc, in.scopes, missingByRun[oc.task.runID], in.params)
		e.logRunDiff(oc, run)
		if err := e.store.UpsertRun(ctx, run); err != nil {
			return err
		}
		in.report.RunsScanned++
		mergeStats(in.agg, result)
	}
	return nil
}

// assembleRun builds the run document and its per-scan result from one
// outcome. File ids from collections outside the scan scope are carried
// over untouched.
func (e *Engine) assembleRun(project *datamodel.Project, workflowID primitive.ObjectID, oc *runOutcome, scopes []*dcScope, missingHere []primitive.ObjectID, params Params) (*datamodel.WorkflowRun, datamodel.ScanResult) {
	var currentIDs []primitive.ObjectID
	var hashes []string
	perDC := make([]datamodel.DCScanStats, 0, len(scopes))
	totals := datamodel.ScanCounts{}

	for _, sc := range scopes {
		res := oc.perDC[sc.dc.ID]
		if res == nil {
			continue
		}
		for i := range res.files {
			currentIDs = append(currentIDs, res.files[i].ID)
			hashes = append(hashes, res.files[i].FileHash)
		}
		counts := datamodel.ScanCounts{
			New:     len(res.newIDs),
			Updated: len(res.updatedIDs),
			Skipped: len(res.skippedIDs),
			Failed:  res.failed,
		}
		totals.Add(counts)
		perDC = append(perDC, datamodel.DCScanStats{
			DataCollectionID: sc.dc.ID,
			DataCollTag:      sc.dc.Tag,
			Counts:           counts,
			NewIDs:           res.newIDs,
			UpdatedIDs:       res.updatedIDs,
			SkippedIDs:       res.skippedIDs,
		})
	}

	fileIDs := currentIDs
	if oc.task.existing != nil {
		scopedPrior := make(map[primitive.ObjectID]bool)
		for _, sc := range scopes {
			for _, f := range sc.prior {
				if f.RunID == oc.task.runID {
					scopedPrior[f.ID] = true
				}
			}
		}
		merged := make([]primitive.ObjectID, 0, len(currentIDs))
		seen := make(map[primitive.ObjectID]bool, len(currentIDs))
		for _, id := range oc.task.existing.FileIDs {
			if scopedPrior[id] || seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, id)
		}
		for _, id := range currentIDs {
			if !seen[id] {
				seen[id] = true
				merged = append(merged, id)
			}
		}
		if !params.Sync {
			// Missing files stay in the store, so the run keeps them.
			for _, id := range missingHere {
				if !seen[id] {
					seen[id] = true
					merged = append(merged, id)
				}
			}
		}
		fileIDs = merged
	}

	run := &datamodel.WorkflowRun{
		ID:                   oc.task.runID,
		ProjectID:            project.ID,
		WorkflowID:           workflowID,
		RunTag:               oc.task.candidate.tag,
		RunLocation:          oc.task.candidate.location,
		CreationTime:         oc.ctime,
		LastModificationTime: oc.mtime,
		FileIDs:              fileIDs,
		RunHash:              datamodel.RunHash(oc.task.candidate.location, oc.ctime, oc.mtime, hashes),
		Permissions:          project.Permissions,
	}
	if oc.task.existing != nil {
		run.ScanResults = oc.task.existing.ScanResults
		if oc.task.existing.CreationTime != "" {
			// First observation stands in for the directory's birth time.
			run.CreationTime = oc.task.existing.CreationTime
			run.RunHash = datamodel.RunHash(run.RunLocation, run.CreationTime, run.LastModificationTime, hashes)
		}
	}

	result := datamodel.ScanResult{
		ScanID:    newScanID(),
		ScannedAt: datamodel.FormatTimestamp(e.now().UTC()),
		Totals:    totals,
		PerDC:     perDC,
	}
	run.ScanResults = append(run.ScanResults, result)
	return run, result
}

// logRunDiff reports what changed on a rescanned run, field by field.
func (e *Engine) logRunDiff(oc *runOutcome, run *datamodel.WorkflowRun) {
	prev := oc.task.existing
	if prev == nil {
		e.logger.Info("run added",
			slog.String("run_tag", run.RunTag),
			slog.Int("files", len(run.FileIDs)))
		return
	}
	if prev.RunHash == run.RunHash {
		e.logger.Debug("run unchanged", slog.String("run_tag", run.RunTag))
		return
	}
	var changed []string
	if prev.RunLocation != run.RunLocation {
		changed = append(changed, "run_location")
	}
	if prev.CreationTime != run.CreationTime {
		changed = append(changed, "creation_time")
	}
	if prev.LastModificationTime != run.LastModificationTime {
		changed = append(changed, "last_modification_time")
	}
	if !equalIDSets(prev.FileIDs, run.FileIDs) {
		changed = append(changed, "files")
	}
	e.logger.Info("run changed",
		slog.String("run_tag", run.RunTag),
		slog.Any("fields", changed))
}

// notify publishes one change event per collection per non-empty bucket.
func (e *Engine) notify(ctx context.Context, report *Report, params Params) {
	if e.notifier == nil {
		return
	}
	for _, stats := range report.PerDC {
		if stats.Counts.New > 0 {
			e.notifier.DataCollectionChanged(ctx, stats.DataCollectionID, stats.DataCollTag, datamodel.OpAdded)
		}
		if stats.Counts.Updated > 0 {
			e.notifier.DataCollectionChanged(ctx, stats.DataCollectionID, stats.DataCollTag, datamodel.OpUpdated)
		}
		if params.Sync && stats.Counts.Missing > 0 {
			e.notifier.DataCollectionChanged(ctx, stats.DataCollectionID, stats.DataCollTag, datamodel.OpDeleted)
		}
	}
}

// ---- helpers ----

func aggFor(agg map[primitive.ObjectID]*datamodel.DCScanStats, dcID primitive.ObjectID, tag string) *datamodel.DCScanStats {
	if s, ok := agg[dcID]; ok {
		if s.DataCollTag == "" {
			s.DataCollTag = tag
		}
		return s
	}
	s := &datamodel.DCScanStats{DataCollectionID: dcID, DataCollTag: tag}
	agg[dcID] = s
	return s
}

func dcTag(scopes []*dcScope, dcID primitive.ObjectID) string {
	for _, sc := range scopes {
		if sc.dc.ID == dcID {
			return sc.dc.Tag
		}
	}
	return ""
}

func mergeStats(agg map[primitive.ObjectID]*datamodel.DCScanStats, result datamodel.ScanResult) {
	for _, per := range result.PerDC {
		stats := aggFor(agg, per.DataCollectionID, per.DataCollTag)
		stats.Counts.Add(per.Counts)
		stats.NewIDs = append(stats.NewIDs, per.NewIDs...)
		stats.UpdatedIDs = append(stats.UpdatedIDs, per.UpdatedIDs...)
		stats.SkippedIDs = append(stats.SkippedIDs, per.SkippedIDs...)
	}
}

func finishReport(report *Report, agg map[primitive.ObjectID]*datamodel.DCScanStats) {
	ids := make([]primitive.ObjectID, 0, len(agg))
	for id := range agg {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	for _, id := range ids {
		stats := agg[id]
		report.Totals.Add(stats.Counts)
		report.PerDC = append(report.PerDC, *stats)
	}
}

func equalIDSets(a, b []primitive.ObjectID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[primitive.ObjectID]int, len(a))
	for _, id := range a {
		set[id]++
	}
	for _, id := range b {
		if set[id] == 0 {
			return false
		}
		set[id]--
	}
	return true
}

// underAny reports whether path sits at or below any of the roots.
func underAny(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
