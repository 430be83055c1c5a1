// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metastore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func testProject(dcID primitive.ObjectID) *datamodel.Project {
	return &datamodel.Project{
		ID:          datamodel.NewID(),
		Name:        "reference-atlas",
		ProjectType: datamodel.ProjectTypeAdvanced,
		Workflows: []datamodel.Workflow{
			{
				ID:     datamodel.NewID(),
				Name:   "rnaseq",
				Engine: datamodel.WorkflowEngine{Name: "snakemake"},
				DataLocation: datamodel.DataLocation{
					Structure: datamodel.StructureFlat,
					Locations: []string{"/data/rnaseq"},
				},
				DataCollections: []datamodel.DataCollection{
					{ID: dcID, Tag: "metrics"},
				},
			},
		},
	}
}

func testFile(dcID, runID primitive.ObjectID, name string) datamodel.File {
	return datamodel.File{
		ID:               datamodel.NewID(),
		FileLocation:     "/data/rnaseq/" + name,
		Filename:         name,
		CreationTime:     "2025-01-01 10:00:00",
		ModificationTime: "2025-01-01 10:00:00",
		Filesize:         42,
		FileHash:         datamodel.FileHash(name, 42, "2025-01-01 10:00:00", "2025-01-01 10:00:00"),
		RunID:            runID,
		DataCollectionID: dcID,
	}
}

func TestBadgerStoreProjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dcID := datamodel.NewID()
	p := testProject(dcID)

	t.Run("upsert and get round-trip", func(t *testing.T) {
		require.NoError(t, s.UpsertProject(ctx, p))
		got, err := s.GetProject(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Name, got.Name)
		require.Len(t, got.Workflows, 1)
		assert.Equal(t, dcID, got.Workflows[0].DataCollections[0].ID)
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		p.Description = "second write"
		require.NoError(t, s.UpsertProject(ctx, p))
		all, err := s.ListProjects(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "second write", all[0].Description)
	})

	t.Run("find by workflow-level dc", func(t *testing.T) {
		got, err := s.FindProjectByDC(ctx, dcID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("unknown dc is dc-not-found", func(t *testing.T) {
		_, err := s.FindProjectByDC(ctx, datamodel.NewID())
		require.Error(t, err)
		assert.Equal(t, datamodel.KindDCNotFound, datamodel.KindOf(err))
	})

	t.Run("missing project is not-found", func(t *testing.T) {
		_, err := s.GetProject(ctx, datamodel.NewID())
		require.Error(t, err)
		assert.Equal(t, datamodel.KindNotFound, datamodel.KindOf(err))
	})

	t.Run("delete removes", func(t *testing.T) {
		require.NoError(t, s.DeleteProject(ctx, p.ID))
		_, err := s.GetProject(ctx, p.ID)
		require.Error(t, err)
	})
}

func TestBadgerStoreRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	wfID := datamodel.NewID()
	run := &datamodel.WorkflowRun{
		ID:          datamodel.NewID(),
		ProjectID:   datamodel.NewID(),
		WorkflowID:  wfID,
		RunTag:      "run_2025_01",
		RunLocation: "/data/rnaseq/run_2025_01",
	}
	require.NoError(t, s.UpsertRun(ctx, run))

	t.Run("get and find by tag", func(t *testing.T) {
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "run_2025_01", got.RunTag)

		byTag, err := s.FindRunByTag(ctx, wfID, "run_2025_01")
		require.NoError(t, err)
		assert.Equal(t, run.ID, byTag.ID)
	})

	t.Run("re-upsert same id passes", func(t *testing.T) {
		run.RunHash = "deadbeef"
		require.NoError(t, s.UpsertRun(ctx, run))
	})

	t.Run("same tag different id conflicts", func(t *testing.T) {
		dup := &datamodel.WorkflowRun{
			ID:         datamodel.NewID(),
			WorkflowID: wfID,
			RunTag:     "run_2025_01",
		}
		err := s.UpsertRun(ctx, dup)
		require.Error(t, err)
		assert.Equal(t, datamodel.KindConflict, datamodel.KindOf(err))
	})

	t.Run("list by workflow", func(t *testing.T) {
		other := &datamodel.WorkflowRun{
			ID:         datamodel.NewID(),
			WorkflowID: datamodel.NewID(),
			RunTag:     "run_other",
		}
		require.NoError(t, s.UpsertRun(ctx, other))

		runs, err := s.ListRunsByWorkflow(ctx, wfID)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, run.ID, runs[0].ID)
	})

	t.Run("delete removes", func(t *testing.T) {
		require.NoError(t, s.DeleteRun(ctx, run.ID))
		_, err := s.GetRun(ctx, run.ID)
		require.Error(t, err)
		assert.Equal(t, datamodel.KindNotFound, datamodel.KindOf(err))
	})
}

func TestBadgerStoreFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dcID := datamodel.NewID()
	otherDC := datamodel.NewID()
	runID := datamodel.NewID()

	batch := make([]datamodel.File, 0, 10)
	for i := 0; i < 8; i++ {
		batch = append(batch, testFile(dcID, runID, fmt.Sprintf("sample_%d.csv", i)))
	}
	batch = append(batch, testFile(otherDC, runID, "other_a.csv"))
	batch = append(batch, testFile(otherDC, datamodel.NewID(), "other_b.csv"))
	require.NoError(t, s.UpsertFiles(ctx, batch))

	t.Run("list by dc", func(t *testing.T) {
		files, err := s.ListFilesByDC(ctx, dcID)
		require.NoError(t, err)
		assert.Len(t, files, 8)
	})

	t.Run("list by run spans collections", func(t *testing.T) {
		files, err := s.ListFilesByRun(ctx, runID)
		require.NoError(t, err)
		assert.Len(t, files, 9)
	})

	t.Run("batch upsert is idempotent", func(t *testing.T) {
		require.NoError(t, s.UpsertFiles(ctx, batch))
		files, err := s.ListFilesByDC(ctx, dcID)
		require.NoError(t, err)
		assert.Len(t, files, 8)
	})

	t.Run("delete ids", func(t *testing.T) {
		require.NoError(t, s.DeleteFiles(ctx, []primitive.ObjectID{batch[0].ID, batch[1].ID}))
		files, err := s.ListFilesByDC(ctx, dcID)
		require.NoError(t, err)
		assert.Len(t, files, 6)
	})

	t.Run("delete by dc reports count", func(t *testing.T) {
		n, err := s.DeleteFilesByDC(ctx, dcID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)

		remaining, err := s.ListFilesByDC(ctx, otherDC)
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("empty batches are no-ops", func(t *testing.T) {
		require.NoError(t, s.UpsertFiles(ctx, nil))
		require.NoError(t, s.DeleteFiles(ctx, nil))
	})
}

func TestBadgerStoreDeltas(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	projectID := datamodel.NewID()
	dcID := datamodel.NewID()

	t.Run("unmaterialized dc is dc-not-processed", func(t *testing.T) {
		_, err := s.GetDeltaTable(ctx, dcID)
		require.Error(t, err)
		assert.Equal(t, datamodel.KindDCNotProcessed, datamodel.KindOf(err))
	})

	rec := &datamodel.DeltaTableRecord{
		ID:               dcID,
		ProjectID:        projectID,
		DataCollectionID: dcID,
		Location:         "deltalake/" + dcID.Hex(),
		Version:          0,
		RowCount:         120,
		ColumnCount:      5,
	}

	t.Run("save and get", func(t *testing.T) {
		require.NoError(t, s.SaveDeltaTable(ctx, rec))
		got, err := s.GetDeltaTable(ctx, dcID)
		require.NoError(t, err)
		assert.Equal(t, rec.Location, got.Location)
		assert.Nil(t, got.Join)
	})

	t.Run("invalid record rejected", func(t *testing.T) {
		err := s.SaveDeltaTable(ctx, &datamodel.DeltaTableRecord{ID: dcID})
		require.Error(t, err)
		assert.Equal(t, datamodel.KindConfigInvalid, datamodel.KindOf(err))
	})

	t.Run("join metadata attaches to record", func(t *testing.T) {
		meta := &datamodel.JoinedTableMetadata{
			ProjectID:     projectID,
			JoinName:      "metrics_with_stats",
			ResultDCID:    dcID,
			DeltaLocation: rec.Location,
			RowCount:      120,
		}
		require.NoError(t, s.SaveJoinMetadata(ctx, meta))

		got, err := s.GetJoinMetadata(ctx, dcID)
		require.NoError(t, err)
		assert.Equal(t, "metrics_with_stats", got.JoinName)

		// The underlying record keeps its registration fields.
		tbl, err := s.GetDeltaTable(ctx, dcID)
		require.NoError(t, err)
		assert.Equal(t, int64(120), tbl.RowCount)
	})

	t.Run("join metadata before registration creates skeleton", func(t *testing.T) {
		resultID := datamodel.NewID()
		meta := &datamodel.JoinedTableMetadata{
			ProjectID:     projectID,
			JoinName:      "early_join",
			ResultDCID:    resultID,
			DeltaLocation: "deltalake/" + resultID.Hex(),
		}
		require.NoError(t, s.SaveJoinMetadata(ctx, meta))

		tbl, err := s.GetDeltaTable(ctx, resultID)
		require.NoError(t, err)
		assert.Equal(t, meta.DeltaLocation, tbl.Location)
		require.NotNil(t, tbl.Join)
	})

	t.Run("list join metadata scoped to project", func(t *testing.T) {
		foreignDC := datamodel.NewID()
		require.NoError(t, s.SaveJoinMetadata(ctx, &datamodel.JoinedTableMetadata{
			ProjectID:     datamodel.NewID(),
			JoinName:      "foreign",
			ResultDCID:    foreignDC,
			DeltaLocation: "deltalake/" + foreignDC.Hex(),
		}))

		joins, err := s.ListJoinMetadata(ctx, projectID)
		require.NoError(t, err)
		assert.Len(t, joins, 2)
	})

	t.Run("non-join dc has no metadata", func(t *testing.T) {
		plainDC := datamodel.NewID()
		require.NoError(t, s.SaveDeltaTable(ctx, &datamodel.DeltaTableRecord{
			ID:               plainDC,
			ProjectID:        projectID,
			DataCollectionID: plainDC,
			Location:         "deltalake/" + plainDC.Hex(),
		}))
		_, err := s.GetJoinMetadata(ctx, plainDC)
		require.Error(t, err)
		assert.Equal(t, datamodel.KindNotFound, datamodel.KindOf(err))
	})

	t.Run("delete removes registration", func(t *testing.T) {
		require.NoError(t, s.DeleteDeltaTable(ctx, dcID))
		_, err := s.GetDeltaTable(ctx, dcID)
		require.Error(t, err)
	})
}
