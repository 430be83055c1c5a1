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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/metastore"
)

var fixedTime = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *metastore.BadgerStore {
	t.Helper()
	s, err := metastore.NewBadgerStore(metastore.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func newTestEngine(t *testing.T, store metastore.Store, n Notifier) *Engine {
	t.Helper()
	eng, err := NewEngine(Config{
		Store:    store,
		Notifier: n,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return eng
}

func writeDataFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func singleScan(filename string) *datamodel.ScanConfig {
	return &datamodel.ScanConfig{
		Mode:   datamodel.ScanModeSingle,
		Single: &datamodel.SingleScan{Filename: filename},
	}
}

func recursiveScan(pattern string, wildcards ...datamodel.Wildcard) *datamodel.ScanConfig {
	return &datamodel.ScanConfig{
		Mode:      datamodel.ScanModeRecursive,
		Recursive: &datamodel.RecursiveScan{Regex: datamodel.RegexConfig{Pattern: pattern, Wildcards: wildcards}},
	}
}

func tableDC(tag string, scanCfg *datamodel.ScanConfig) datamodel.DataCollection {
	return datamodel.DataCollection{
		ID:  datamodel.NewID(),
		Tag: tag,
		Config: datamodel.DCConfig{
			Type:  datamodel.DCTypeTable,
			Scan:  scanCfg,
			Table: &datamodel.TableConfig{Format: datamodel.FormatCSV},
		},
	}
}

func workflowProject(structure datamodel.DataStructure, runsRegex string, locations []string, dcs ...datamodel.DataCollection) *datamodel.Project {
	return &datamodel.Project{
		ID:          datamodel.NewID(),
		Name:        "reference-atlas",
		ProjectType: datamodel.ProjectTypeAdvanced,
		Workflows: []datamodel.Workflow{{
			ID:     datamodel.NewID(),
			Name:   "rnaseq",
			Engine: datamodel.WorkflowEngine{Name: "snakemake"},
			DataLocation: datamodel.DataLocation{
				Structure: structure,
				Locations: locations,
				RunsRegex: runsRegex,
			},
			DataCollections: dcs,
		}},
	}
}

type capturedEvent struct {
	dcID primitive.ObjectID
	tag  string
	op   datamodel.ChangeOp
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (n *recordingNotifier) DataCollectionChanged(_ context.Context, dcID primitive.ObjectID, tag string, op datamodel.ChangeOp) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, capturedEvent{dcID: dcID, tag: tag, op: op})
}

func (n *recordingNotifier) ops() []datamodel.ChangeOp {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]datamodel.ChangeOp, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.op
	}
	return out
}

func TestScanFlatSingleFile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := filepath.Join(t.TempDir(), "run_2025")
	writeDataFile(t, filepath.Join(location, "a.csv"), "0123456789", fixedTime)

	project := workflowProject(datamodel.StructureFlat, "", []string{location}, tableDC("metrics", singleScan("a.csv")))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	report, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Totals.New)
	assert.Equal(t, 1, report.RunsScanned)
	assert.False(t, report.Partial())
	require.Len(t, report.PerDC, 1)
	assert.Equal(t, "metrics", report.PerDC[0].DataCollTag)
	assert.Len(t, report.PerDC[0].NewIDs, 1)

	files, err := store.ListFilesByDC(ctx, dcID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.csv", files[0].Filename)
	assert.Equal(t, int64(10), files[0].Filesize)
	assert.Equal(t, datamodel.FormatTimestamp(fixedTime), files[0].ModificationTime)
	assert.Equal(t,
		"99168e3c08765fd6ce1b9a8a8302602e483422875f570345956a1efa79184b70",
		files[0].FileHash)

	runs, err := store.ListRunsByWorkflow(ctx, project.Workflows[0].ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_2025", runs[0].RunTag)
	assert.Equal(t, location, runs[0].RunLocation)
	assert.Equal(t, []primitive.ObjectID{files[0].ID}, runs[0].FileIDs)
	assert.True(t, datamodel.ValidHash(runs[0].RunHash))
	require.Len(t, runs[0].ScanResults, 1)
	assert.Equal(t, 1, runs[0].ScanResults[0].Totals.New)
}

func TestScanRecursiveWildcards(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "run_A", "metrics_alpha.csv"), "a,b\n1,2\n", fixedTime)
	writeDataFile(t, filepath.Join(location, "run_A", "metrics_beta.csv"), "a,b\n3,4\n", fixedTime)
	writeDataFile(t, filepath.Join(location, "run_A", "notes.txt"), "ignore", fixedTime)
	writeDataFile(t, filepath.Join(location, "run_B", "metrics_gamma.csv"), "a,b\n5,6\n", fixedTime)
	writeDataFile(t, filepath.Join(location, "archive", "metrics_old.csv"), "a,b\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("metrics", recursiveScan("metrics_{sample}.csv", datamodel.Wildcard{Name: "sample", Expr: "[a-z]+"})))
	require.NoError(t, store.UpsertProject(ctx, project))

	report, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Totals.New)
	assert.Equal(t, 2, report.RunsScanned)
	assert.False(t, report.Partial())

	runs, err := store.ListRunsByWorkflow(ctx, project.Workflows[0].ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	byTag := map[string]int{}
	for _, run := range runs {
		byTag[run.RunTag] = len(run.FileIDs)
	}
	assert.Equal(t, map[string]int{"run_A": 2, "run_B": 1}, byTag)
}

func TestScanSkipsRecordedRunsWithoutRescan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "run_A", "summary.csv"), "x\n1\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("summaries", singleScan("summary.csv")))
	require.NoError(t, store.UpsertProject(ctx, project))

	first, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Totals.New)

	writeDataFile(t, filepath.Join(location, "run_B", "summary.csv"), "x\n2\n", fixedTime)

	second, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.RunsSkipped)
	assert.Equal(t, 1, second.RunsScanned)
	assert.Equal(t, 1, second.Totals.New)
	assert.Equal(t, 0, second.Totals.Missing)
	assert.Equal(t, 0, second.Totals.Skipped)
}

func TestScanUnchangedRescanSyncIsClean(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "run_A", "metrics_one.csv"), "a\n1\n", fixedTime)
	writeDataFile(t, filepath.Join(location, "run_A", "metrics_two.csv"), "a\n2\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("metrics", recursiveScan("metrics_{name}.csv", datamodel.Wildcard{Name: "name", Expr: "[a-z]+"})))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	_, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	before, err := store.ListFilesByDC(ctx, dcID)
	require.NoError(t, err)
	require.Len(t, before, 2)

	for i := 0; i < 2; i++ {
		report, err := eng.ScanProject(ctx, project, Params{Rescan: true, Sync: true})
		require.NoError(t, err)
		assert.True(t, report.Clean())
		assert.Equal(t, 2, report.Totals.Skipped)
		assert.Equal(t, 0, report.RunsDeleted)
	}

	after, err := store.ListFilesByDC(ctx, dcID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	beforeIDs := map[primitive.ObjectID]bool{before[0].ID: true, before[1].ID: true}
	for _, f := range after {
		assert.True(t, beforeIDs[f.ID], "file identity must survive rescans")
	}
}

func TestScanUpdatedFilePreservesID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	path := filepath.Join(location, "run_A", "summary.csv")
	writeDataFile(t, path, "x\n1\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("summaries", singleScan("summary.csv")))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	_, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	before, err := store.ListFilesByDC(ctx, dcID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	writeDataFile(t, path, "x\n1\n2\n3\n", fixedTime.Add(time.Hour))

	report, err := eng.ScanProject(ctx, project, Params{Rescan: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.Updated)
	assert.Equal(t, 0, report.Totals.New)

	after, err := store.ListFilesByDC(ctx, dcID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.NotEqual(t, before[0].FileHash, after[0].FileHash)
	assert.Equal(t, datamodel.FormatTimestamp(fixedTime.Add(time.Hour)), after[0].ModificationTime)
}

func TestScanMissingFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	keep := filepath.Join(location, "run_A", "metrics_keep.csv")
	gone := filepath.Join(location, "run_A", "metrics_gone.csv")
	writeDataFile(t, keep, "a\n1\n", fixedTime)
	writeDataFile(t, gone, "a\n2\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("metrics", recursiveScan("metrics_{name}.csv", datamodel.Wildcard{Name: "name", Expr: "[a-z]+"})))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	_, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	t.Run("without sync the record survives", func(t *testing.T) {
		report, err := eng.ScanProject(ctx, project, Params{Rescan: true})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Totals.Missing)
		assert.Equal(t, 1, report.Totals.Skipped)

		files, err := store.ListFilesByDC(ctx, dcID)
		require.NoError(t, err)
		assert.Len(t, files, 2)
	})

	t.Run("with sync the record is deleted", func(t *testing.T) {
		report, err := eng.ScanProject(ctx, project, Params{Rescan: true, Sync: true})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Totals.Missing)

		files, err := store.ListFilesByDC(ctx, dcID)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "metrics_keep.csv", files[0].Filename)

		runs, err := store.ListRunsByWorkflow(ctx, project.Workflows[0].ID)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, []primitive.ObjectID{files[0].ID}, runs[0].FileIDs)
	})

	t.Run("next rescan is clean", func(t *testing.T) {
		report, err := eng.ScanProject(ctx, project, Params{Rescan: true, Sync: true})
		require.NoError(t, err)
		assert.True(t, report.Clean())
	})
}

func TestScanRemovedRunCleanup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "run_A", "summary.csv"), "x\n1\n", fixedTime)
	writeDataFile(t, filepath.Join(location, "run_B", "summary.csv"), "x\n2\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("summaries", singleScan("summary.csv")))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	_, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(location, "run_B")))

	report, err := eng.ScanProject(ctx, project, Params{Rescan: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.RunsDeleted)
	assert.Equal(t, 1, report.Totals.Missing)

	runs, err := store.ListRunsByWorkflow(ctx, project.Workflows[0].ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_A", runs[0].RunTag)

	files, err := store.ListFilesByDC(ctx, dcID)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestScanUnreachableLocationKeepsRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	base := t.TempDir()
	loc1 := filepath.Join(base, "batch1")
	loc2 := filepath.Join(base, "batch2")
	writeDataFile(t, filepath.Join(loc1, "summary.csv"), "x\n1\n", fixedTime)
	writeDataFile(t, filepath.Join(loc2, "summary.csv"), "x\n2\n", fixedTime)

	project := workflowProject(datamodel.StructureFlat, "", []string{loc1, loc2},
		tableDC("summaries", singleScan("summary.csv")))
	require.NoError(t, store.UpsertProject(ctx, project))

	_, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(loc2))

	report, err := eng.ScanProject(ctx, project, Params{Rescan: true, Sync: true})
	require.NoError(t, err)
	assert.True(t, report.Partial())
	assert.Equal(t, 0, report.RunsDeleted)

	runs, err := store.ListRunsByWorkflow(ctx, project.Workflows[0].ID)
	require.NoError(t, err)
	assert.Len(t, runs, 2, "runs under an unreachable location must survive")
}

func TestScanDuplicateWildcardIsConfigInvalid(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "run_A", "m_a_b.csv"), "x\n1\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("bad", recursiveScan("m_{x}_{x}.csv",
			datamodel.Wildcard{Name: "x", Expr: "[a-z]"},
			datamodel.Wildcard{Name: "x", Expr: "[a-z]"})),
		tableDC("good", singleScan("m_a_b.csv")))
	require.NoError(t, store.UpsertProject(ctx, project))

	report, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	assert.True(t, report.Partial())
	require.NotEmpty(t, report.Problems)
	assert.True(t, datamodel.IsKind(report.Problems[0], datamodel.KindConfigInvalid))

	// The well-formed collection still scanned.
	assert.Equal(t, 1, report.Totals.New)
}

func TestScanZeroSizeFileFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "run_A", "summary.csv"), "", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("summaries", singleScan("summary.csv")))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	report, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.Failed)
	assert.Equal(t, 0, report.Totals.New)
	assert.True(t, report.Partial())

	files, err := store.ListFilesByDC(ctx, dcID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "summary.csv"), "x\n1\n", fixedTime)
	project := workflowProject(datamodel.StructureFlat, "", []string{location},
		tableDC("summaries", singleScan("summary.csv")))
	require.NoError(t, store.UpsertProject(ctx, project))

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := eng.ScanProject(ctx, project, Params{WorkflowFilter: "atac"})
		require.Error(t, err)
		assert.True(t, datamodel.IsKind(err, datamodel.KindNotFound))
	})

	t.Run("unknown collection tag", func(t *testing.T) {
		_, err := eng.ScanProject(ctx, project, Params{DCTagFilter: "nope"})
		require.Error(t, err)
		assert.True(t, datamodel.IsKind(err, datamodel.KindDCNotFound))
	})

	t.Run("matching filters scan", func(t *testing.T) {
		report, err := eng.ScanProject(ctx, project, Params{WorkflowFilter: "rnaseq", DCTagFilter: "summaries"})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Totals.New)
	})
}

func TestScanDC(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	location := t.TempDir()
	writeDataFile(t, filepath.Join(location, "summary.csv"), "x\n1\n", fixedTime)
	project := workflowProject(datamodel.StructureFlat, "", []string{location},
		tableDC("summaries", singleScan("summary.csv")))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	t.Run("scans the owning workflow", func(t *testing.T) {
		report, err := eng.ScanDC(ctx, dcID, false)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Totals.New)
	})

	t.Run("rescans implicitly", func(t *testing.T) {
		report, err := eng.ScanDC(ctx, dcID, false)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Totals.Skipped)
		assert.Equal(t, 1, report.RunsScanned)
	})

	t.Run("unknown collection", func(t *testing.T) {
		_, err := eng.ScanDC(ctx, datamodel.NewID(), false)
		require.Error(t, err)
		assert.True(t, datamodel.IsKind(err, datamodel.KindDCNotFound))
	})
}

func TestScanProjectLevelCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	eng := newTestEngine(t, store, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "cohort.csv")
	writeDataFile(t, path, "id\n1\n", fixedTime)

	dc := tableDC("cohort", singleScan(path))
	project := &datamodel.Project{
		ID:              datamodel.NewID(),
		Name:            "cohort-study",
		ProjectType:     datamodel.ProjectTypeBasic,
		DataCollections: []datamodel.DataCollection{dc},
	}
	require.NoError(t, store.UpsertProject(ctx, project))

	report, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.New)
	assert.Equal(t, 1, report.RunsScanned)

	files, err := store.ListFilesByDC(ctx, dc.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].FileLocation)

	// The synthetic run is tagged with the collection tag.
	run, err := store.FindRunByTag(ctx, primitive.NilObjectID, "cohort")
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(path), run.RunLocation)

	t.Run("relative path is rejected", func(t *testing.T) {
		bad := tableDC("relative", singleScan("cohort.csv"))
		p2 := &datamodel.Project{
			ID:              datamodel.NewID(),
			Name:            "cohort-study-2",
			ProjectType:     datamodel.ProjectTypeBasic,
			DataCollections: []datamodel.DataCollection{bad},
		}
		require.NoError(t, store.UpsertProject(ctx, p2))
		report, err := eng.ScanProject(ctx, p2, Params{})
		require.NoError(t, err)
		assert.True(t, report.Partial())
		require.NotEmpty(t, report.Problems)
		assert.True(t, datamodel.IsKind(report.Problems[0], datamodel.KindConfigInvalid))
	})
}

func TestScanNotifier(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	eng := newTestEngine(t, store, notifier)

	location := t.TempDir()
	path := filepath.Join(location, "run_A", "summary.csv")
	writeDataFile(t, path, "x\n1\n", fixedTime)

	project := workflowProject(datamodel.StructureSequencingRuns, "run_.*", []string{location},
		tableDC("summaries", singleScan("summary.csv")))
	dcID := project.Workflows[0].DataCollections[0].ID
	require.NoError(t, store.UpsertProject(ctx, project))

	_, err := eng.ScanProject(ctx, project, Params{})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, capturedEvent{dcID: dcID, tag: "summaries", op: datamodel.OpAdded}, notifier.events[0])

	writeDataFile(t, path, "x\n1\n2\n", fixedTime.Add(time.Hour))
	_, err = eng.ScanProject(ctx, project, Params{Rescan: true})
	require.NoError(t, err)
	assert.Contains(t, notifier.ops(), datamodel.OpUpdated)

	require.NoError(t, os.Remove(path))
	_, err = eng.ScanProject(ctx, project, Params{Rescan: true, Sync: true})
	require.NoError(t, err)
	assert.Contains(t, notifier.ops(), datamodel.OpDeleted)
}
