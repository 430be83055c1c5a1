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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// BadgerConfig configures the embedded backend.
type BadgerConfig struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory keeps all data in RAM. Useful for tests and one-shot CLI
	// runs that don't need persistence.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for a given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests: in-memory, no
// sync, no internal logging.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// BadgerStore implements Store on an embedded BadgerDB. Documents are
// JSON-encoded under "<collection>/<hex-id>" keys; secondary lookups are
// prefix scans with an in-process filter, which is fine at the document
// counts a standalone deployment sees.
//
// Thread Safety: safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens the embedded database, creating the directory when
// needed.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, datamodel.NewError(datamodel.KindConfigInvalid, "badger path is required for persistent mode")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, datamodel.WrapError(datamodel.KindIOError, "create badger directory", err).
				With("path", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "open badger database", err).
			With("path", cfg.Path)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

func badgerKey(collection string, id primitive.ObjectID) []byte {
	return []byte(collection + "/" + id.Hex())
}

func badgerPrefix(collection string) []byte {
	return []byte(collection + "/")
}

// putDoc JSON-encodes doc under the collection key.
func (s *BadgerStore) putDoc(collection string, id primitive.ObjectID, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "encode document", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(collection, id), raw)
	})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "write document", err).
			With("collection", collection)
	}
	return nil
}

// getDoc decodes the document into out; a missing key surfaces
// badger.ErrKeyNotFound for the caller to translate.
func (s *BadgerStore) getDoc(collection string, id primitive.ObjectID, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(collection, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// scanDocs walks every document in the collection, passing each raw JSON
// value to visit. Returning false from visit stops the scan.
func (s *BadgerStore) scanDocs(ctx context.Context, collection string, visit func(raw []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerPrefix(collection)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var cont bool
			err := it.Item().Value(func(val []byte) error {
				var verr error
				cont, verr = visit(val)
				return verr
			})
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

func (s *BadgerStore) deleteDoc(collection string, id primitive.ObjectID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(collection, id))
	})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "delete document", err).
			With("collection", collection)
	}
	return nil
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return datamodel.NewError(datamodel.KindIOError, "badger database is closed")
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// -----------------------------------------------------------------------------
// Projects
// -----------------------------------------------------------------------------

func (s *BadgerStore) UpsertProject(ctx context.Context, p *datamodel.Project) error {
	return s.putDoc(CollProjects, p.ID, p)
}

func (s *BadgerStore) GetProject(ctx context.Context, id primitive.ObjectID) (*datamodel.Project, error) {
	var p datamodel.Project
	err := s.getDoc(CollProjects, id, &p)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datamodel.NewError(datamodel.KindNotFound, "project not found").
			With("project_id", id.Hex())
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "get project", err)
	}
	return &p, nil
}

func (s *BadgerStore) FindProjectByDC(ctx context.Context, dcID primitive.ObjectID) (*datamodel.Project, error) {
	var found *datamodel.Project
	err := s.scanDocs(ctx, CollProjects, func(raw []byte) (bool, error) {
		var p datamodel.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return false, err
		}
		if _, _, ok := p.DCByID(dcID); ok {
			found = &p
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "find project by dc", err)
	}
	if found == nil {
		return nil, datamodel.NewError(datamodel.KindDCNotFound, "no project declares data collection").
			With("dc_id", dcID.Hex())
	}
	return found, nil
}

func (s *BadgerStore) ListProjects(ctx context.Context) ([]datamodel.Project, error) {
	var out []datamodel.Project
	err := s.scanDocs(ctx, CollProjects, func(raw []byte) (bool, error) {
		var p datamodel.Project
		if err := json.Unmarshal(raw, &p); err != nil {
			return false, err
		}
		out = append(out, p)
		return true, nil
	})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list projects", err)
	}
	return out, nil
}

func (s *BadgerStore) DeleteProject(ctx context.Context, id primitive.ObjectID) error {
	return s.deleteDoc(CollProjects, id)
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

func (s *BadgerStore) UpsertRun(ctx context.Context, run *datamodel.WorkflowRun) error {
	// Enforce the (workflow, tag) uniqueness the Mongo backend gets from
	// its index.
	existing, err := s.FindRunByTag(ctx, run.WorkflowID, run.RunTag)
	if err == nil && existing.ID != run.ID {
		return datamodel.NewError(datamodel.KindConflict, "run tag already registered").
			With("run_tag", run.RunTag).
			With("existing_id", existing.ID.Hex())
	}
	if err != nil && !datamodel.IsKind(err, datamodel.KindNotFound) {
		return err
	}
	return s.putDoc(CollRuns, run.ID, run)
}

func (s *BadgerStore) GetRun(ctx context.Context, id primitive.ObjectID) (*datamodel.WorkflowRun, error) {
	var run datamodel.WorkflowRun
	err := s.getDoc(CollRuns, id, &run)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datamodel.NewError(datamodel.KindNotFound, "run not found").
			With("run_id", id.Hex())
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "get run", err)
	}
	return &run, nil
}

func (s *BadgerStore) FindRunByTag(ctx context.Context, workflowID primitive.ObjectID, runTag string) (*datamodel.WorkflowRun, error) {
	var found *datamodel.WorkflowRun
	err := s.scanDocs(ctx, CollRuns, func(raw []byte) (bool, error) {
		var run datamodel.WorkflowRun
		if err := json.Unmarshal(raw, &run); err != nil {
			return false, err
		}
		if run.WorkflowID == workflowID && run.RunTag == runTag {
			found = &run
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "find run by tag", err)
	}
	if found == nil {
		return nil, datamodel.NewError(datamodel.KindNotFound, "run not found").
			With("run_tag", runTag)
	}
	return found, nil
}

func (s *BadgerStore) ListRunsByWorkflow(ctx context.Context, workflowID primitive.ObjectID) ([]datamodel.WorkflowRun, error) {
	var out []datamodel.WorkflowRun
	err := s.scanDocs(ctx, CollRuns, func(raw []byte) (bool, error) {
		var run datamodel.WorkflowRun
		if err := json.Unmarshal(raw, &run); err != nil {
			return false, err
		}
		if run.WorkflowID == workflowID {
			out = append(out, run)
		}
		return true, nil
	})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list runs", err)
	}
	return out, nil
}

func (s *BadgerStore) DeleteRun(ctx context.Context, id primitive.ObjectID) error {
	return s.deleteDoc(CollRuns, id)
}

// -----------------------------------------------------------------------------
// Files
// -----------------------------------------------------------------------------

func (s *BadgerStore) UpsertFiles(ctx context.Context, files []datamodel.File) error {
	if len(files) == 0 {
		return nil
	}
	// WriteBatch splits transparently when a batch exceeds transaction
	// limits, which single Update transactions do not.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i := range files {
		raw, err := json.Marshal(&files[i])
		if err != nil {
			return datamodel.WrapError(datamodel.KindIOError, "encode file", err)
		}
		if err := wb.Set(badgerKey(CollFiles, files[i].ID), raw); err != nil {
			return datamodel.WrapError(datamodel.KindIOError, "batch file write", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "flush file batch", err).
			With("count", fmt.Sprintf("%d", len(files)))
	}
	return nil
}

func (s *BadgerStore) ListFilesByDC(ctx context.Context, dcID primitive.ObjectID) ([]datamodel.File, error) {
	return s.listFiles(ctx, func(f *datamodel.File) bool { return f.DataCollectionID == dcID })
}

func (s *BadgerStore) ListFilesByRun(ctx context.Context, runID primitive.ObjectID) ([]datamodel.File, error) {
	return s.listFiles(ctx, func(f *datamodel.File) bool { return f.RunID == runID })
}

func (s *BadgerStore) listFiles(ctx context.Context, match func(*datamodel.File) bool) ([]datamodel.File, error) {
	var out []datamodel.File
	err := s.scanDocs(ctx, CollFiles, func(raw []byte) (bool, error) {
		var f datamodel.File
		if err := json.Unmarshal(raw, &f); err != nil {
			return false, err
		}
		if match(&f) {
			out = append(out, f)
		}
		return true, nil
	})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list files", err)
	}
	return out, nil
}

func (s *BadgerStore) DeleteFiles(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete(badgerKey(CollFiles, id)); err != nil {
			return datamodel.WrapError(datamodel.KindIOError, "batch file delete", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "flush file deletes", err)
	}
	return nil
}

func (s *BadgerStore) DeleteFilesByDC(ctx context.Context, dcID primitive.ObjectID) (int64, error) {
	files, err := s.ListFilesByDC(ctx, dcID)
	if err != nil {
		return 0, err
	}
	ids := make([]primitive.ObjectID, len(files))
	for i := range files {
		ids[i] = files[i].ID
	}
	if err := s.DeleteFiles(ctx, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// -----------------------------------------------------------------------------
// Delta tables
// -----------------------------------------------------------------------------

func (s *BadgerStore) SaveDeltaTable(ctx context.Context, rec *datamodel.DeltaTableRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.putDoc(CollDeltaTables, rec.ID, rec)
}

func (s *BadgerStore) GetDeltaTable(ctx context.Context, dcID primitive.ObjectID) (*datamodel.DeltaTableRecord, error) {
	var rec datamodel.DeltaTableRecord
	err := s.getDoc(CollDeltaTables, dcID, &rec)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datamodel.NewError(datamodel.KindDCNotProcessed, "data collection has no delta table").
			With("dc_id", dcID.Hex())
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "get delta table", err)
	}
	return &rec, nil
}

func (s *BadgerStore) DeleteDeltaTable(ctx context.Context, dcID primitive.ObjectID) error {
	return s.deleteDoc(CollDeltaTables, dcID)
}

func (s *BadgerStore) SaveJoinMetadata(ctx context.Context, meta *datamodel.JoinedTableMetadata) error {
	rec, err := s.GetDeltaTable(ctx, meta.ResultDCID)
	if err != nil {
		if !datamodel.IsKind(err, datamodel.KindDCNotProcessed) {
			return err
		}
		rec = &datamodel.DeltaTableRecord{
			ID:               meta.ResultDCID,
			ProjectID:        meta.ProjectID,
			DataCollectionID: meta.ResultDCID,
			Location:         meta.DeltaLocation,
		}
	}
	rec.Join = meta
	return s.putDoc(CollDeltaTables, rec.ID, rec)
}

func (s *BadgerStore) GetJoinMetadata(ctx context.Context, resultDCID primitive.ObjectID) (*datamodel.JoinedTableMetadata, error) {
	rec, err := s.GetDeltaTable(ctx, resultDCID)
	if err != nil {
		return nil, err
	}
	if rec.Join == nil {
		return nil, datamodel.NewError(datamodel.KindNotFound, "data collection is not a join result").
			With("dc_id", resultDCID.Hex())
	}
	return rec.Join, nil
}

func (s *BadgerStore) ListJoinMetadata(ctx context.Context, projectID primitive.ObjectID) ([]datamodel.JoinedTableMetadata, error) {
	var out []datamodel.JoinedTableMetadata
	err := s.scanDocs(ctx, CollDeltaTables, func(raw []byte) (bool, error) {
		var rec datamodel.DeltaTableRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return false, err
		}
		if rec.ProjectID == projectID && rec.Join != nil {
			out = append(out, *rec.Join)
		}
		return true, nil
	})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list join metadata", err)
	}
	return out, nil
}
