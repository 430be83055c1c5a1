// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metastore defines the metadata store contract and its backends.
//
// The store holds the platform's control-plane state: projects with their
// workflow and data-collection definitions, discovered workflow runs, the
// per-file scan ledger, and the registry of materialized Delta tables with
// join lineage. Two backends implement the contract:
//
//   - MongoStore: the production backend (replica-set friendly, batched
//     writes via BulkWrite).
//   - BadgerStore: an embedded backend for standalone deployments and
//     tests (JSON documents under <collection>/<hex-id> keys).
//
// All mutating operations are idempotent upserts keyed by ObjectID, so a
// retried scan or join never duplicates state.
package metastore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
)

// Collection names shared by every backend.
const (
	CollProjects    = "projects"
	CollRuns        = "runs"
	CollFiles       = "files"
	CollDeltaTables = "deltatables"
)

// Projects manages project documents.
//
// # Description
//
// A project document embeds its workflows, data collections, join
// definitions and links, so loading one project is enough to resolve any
// reference inside it.
type Projects interface {
	// UpsertProject inserts or replaces the project by id.
	UpsertProject(ctx context.Context, p *datamodel.Project) error

	// GetProject returns the project, or a not-found error.
	GetProject(ctx context.Context, id primitive.ObjectID) (*datamodel.Project, error)

	// FindProjectByDC returns the project that declares the data
	// collection, searching both project-level and workflow-level
	// collections.
	FindProjectByDC(ctx context.Context, dcID primitive.ObjectID) (*datamodel.Project, error)

	// ListProjects returns every project.
	ListProjects(ctx context.Context) ([]datamodel.Project, error)

	// DeleteProject removes the project. Missing ids are not an error.
	DeleteProject(ctx context.Context, id primitive.ObjectID) error
}

// Runs manages workflow-run documents.
type Runs interface {
	// UpsertRun inserts or replaces the run by id. When another run
	// already holds the same (workflow, tag) pair the existing document
	// wins and a conflict error naming it is returned.
	UpsertRun(ctx context.Context, run *datamodel.WorkflowRun) error

	// GetRun returns the run, or a not-found error.
	GetRun(ctx context.Context, id primitive.ObjectID) (*datamodel.WorkflowRun, error)

	// FindRunByTag returns the run with the tag inside the workflow, or a
	// not-found error.
	FindRunByTag(ctx context.Context, workflowID primitive.ObjectID, runTag string) (*datamodel.WorkflowRun, error)

	// ListRunsByWorkflow returns all runs of the workflow.
	ListRunsByWorkflow(ctx context.Context, workflowID primitive.ObjectID) ([]datamodel.WorkflowRun, error)

	// DeleteRun removes the run document only; the caller deletes its
	// files explicitly.
	DeleteRun(ctx context.Context, id primitive.ObjectID) error
}

// Files manages the per-file scan ledger. Writes are batched because a
// single scan can touch tens of thousands of files.
type Files interface {
	// UpsertFiles inserts or replaces every file by id in one batch.
	UpsertFiles(ctx context.Context, files []datamodel.File) error

	// ListFilesByDC returns every file recorded for the data collection.
	ListFilesByDC(ctx context.Context, dcID primitive.ObjectID) ([]datamodel.File, error)

	// ListFilesByRun returns every file recorded for the run.
	ListFilesByRun(ctx context.Context, runID primitive.ObjectID) ([]datamodel.File, error)

	// DeleteFiles removes the files by id in one batch. Missing ids are
	// not an error.
	DeleteFiles(ctx context.Context, ids []primitive.ObjectID) error

	// DeleteFilesByDC removes every file of the data collection and
	// returns how many were deleted.
	DeleteFilesByDC(ctx context.Context, dcID primitive.ObjectID) (int64, error)
}

// Deltas manages the registry of materialized Delta tables and the join
// lineage attached to joined collections.
type Deltas interface {
	// SaveDeltaTable inserts or replaces the registry record by data
	// collection id.
	SaveDeltaTable(ctx context.Context, rec *datamodel.DeltaTableRecord) error

	// GetDeltaTable returns the registry record for the data collection,
	// or a not-found error for collections never materialized.
	GetDeltaTable(ctx context.Context, dcID primitive.ObjectID) (*datamodel.DeltaTableRecord, error)

	// DeleteDeltaTable removes the registry record. Missing ids are not
	// an error.
	DeleteDeltaTable(ctx context.Context, dcID primitive.ObjectID) error

	// SaveJoinMetadata attaches join lineage to the result collection's
	// registry record, creating a skeleton record when the join ran
	// before the table registration.
	SaveJoinMetadata(ctx context.Context, meta *datamodel.JoinedTableMetadata) error

	// GetJoinMetadata returns the join lineage of the result collection,
	// or a not-found error.
	GetJoinMetadata(ctx context.Context, resultDCID primitive.ObjectID) (*datamodel.JoinedTableMetadata, error)

	// ListJoinMetadata returns the join lineage rows of a project.
	ListJoinMetadata(ctx context.Context, projectID primitive.ObjectID) ([]datamodel.JoinedTableMetadata, error)
}

// Store is the full metadata store contract.
//
// Thread Safety: implementations are safe for concurrent use.
type Store interface {
	Projects
	Runs
	Files
	Deltas

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend. The store is unusable afterwards.
	Close(ctx context.Context) error
}
