// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process materializes table data collections: it reads every
// scanned file of a collection, stamps rows with the run they came from,
// stacks the frames with schema unification, and writes the collection's
// Delta table.
//
// Per-file failures (unreadable, malformed, wrong width) skip that file
// and are reported on the result; only store and object-store errors
// abort a materialization.
package process

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/delta"
	"github.com/depictio/depictio/services/frame"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/objstore"
)

// Config configures the processor.
type Config struct {
	// Store is the metadata store. Required.
	Store metastore.Store

	// Bucket holds the Delta tables. Required.
	Bucket objstore.Bucket

	// BasePrefix is the bucket prefix under which tables live, one
	// subdirectory per data collection id.
	// Default: "tables"
	BasePrefix string

	// Logger for materialization progress.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now supplies timestamps; tests override it.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.BasePrefix == "" {
		c.BasePrefix = "tables"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Processor materializes data collections into Delta tables.
//
// Thread Safety: safe for concurrent use.
type Processor struct {
	store      metastore.Store
	bucket     objstore.Bucket
	basePrefix string
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor validates the configuration and returns a processor.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.Bucket == nil {
		return nil, errors.New("bucket must not be nil")
	}
	cfg.applyDefaults()
	return &Processor{
		store:      cfg.Store,
		bucket:     cfg.Bucket,
		basePrefix: cfg.BasePrefix,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// Result summarizes one materialization.
type Result struct {
	DataCollectionID primitive.ObjectID `json:"data_collection_id"`
	Tag              string             `json:"data_collection_tag"`

	// Written is false when no file contributed data and no table was
	// produced.
	Written     bool   `json:"written"`
	Location    string `json:"delta_table_location,omitempty"`
	Version     int64  `json:"version"`
	RowCount    int64  `json:"row_count"`
	ColumnCount int    `json:"column_count"`
	SizeBytes   int64  `json:"size_bytes"`

	FilesRead    int `json:"files_read"`
	FilesSkipped int `json:"files_skipped"`

	// Problems collects the per-file failures that did not stop the
	// materialization.
	Problems []error `json:"-"`
}

// Materialize builds the Delta table for one table collection from its
// scanned files. Collections with no readable files are skipped with
// Written=false; later stages report them as dc-not-processed.
func (p *Processor) Materialize(ctx context.Context, project *datamodel.Project, dc *datamodel.DataCollection) (*Result, error) {
	if dc.Config.Type != datamodel.DCTypeTable || dc.Config.Table == nil {
		return nil, datamodel.NewErrorf(datamodel.KindConfigInvalid, "collection type %q is not materializable", dc.Config.Type).
			With("data_collection_tag", dc.Tag)
	}
	if dc.Config.Joined() {
		return nil, datamodel.NewError(datamodel.KindConfigInvalid, "joined collections are materialized by the join engine").
			With("data_collection_tag", dc.Tag)
	}

	res := &Result{DataCollectionID: dc.ID, Tag: dc.Tag}

	files, err := p.store.ListFilesByDC(ctx, dc.ID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		p.logger.Warn("no files to materialize",
			slog.String("data_collection_tag", dc.Tag))
		return res, nil
	}

	runTags, err := p.runTags(ctx, files)
	if err != nil {
		return nil, err
	}

	frames := make([]*frame.Frame, 0, len(files))
	for i := range files {
		file := &files[i]
		fr, err := readTableFile(file.FileLocation, dc.Config.Table)
		if err != nil {
			res.FilesSkipped++
			res.Problems = append(res.Problems, err)
			p.logger.Warn("file skipped",
				slog.String("data_collection_tag", dc.Tag),
				slog.String("file_location", file.FileLocation),
				slog.String("error", err.Error()))
			continue
		}
		fr, err = applyKeepColumns(fr, dc.Config.Table.KeepColumns)
		if err != nil {
			res.FilesSkipped++
			res.Problems = append(res.Problems, err)
			continue
		}
		if fr.NumCols() == 0 {
			res.FilesSkipped++
			res.Problems = append(res.Problems,
				datamodel.NewError(datamodel.KindTypeError, "no usable columns").
					With("file_location", file.FileLocation))
			continue
		}
		fr, err = tagRunColumn(fr, runTags[file.RunID])
		if err != nil {
			return nil, err
		}
		frames = append(frames, fr)
		res.FilesRead++
	}

	if len(frames) == 0 {
		p.logger.Warn("no readable files, table not written",
			slog.String("data_collection_tag", dc.Tag),
			slog.Int("files_skipped", res.FilesSkipped))
		return res, nil
	}

	combined, err := frame.Concat(frames...)
	if err != nil {
		return nil, err
	}

	table := delta.Open(p.bucket, delta.TableURI(p.basePrefix, dc.ID))
	snap, err := table.Write(ctx, combined)
	if err != nil {
		return nil, err
	}

	rec := &datamodel.DeltaTableRecord{
		ID:               dc.ID,
		ProjectID:        project.ID,
		DataCollectionID: dc.ID,
		Location:         snap.Location,
		Version:          snap.Version,
		RowCount:         snap.RowCount,
		ColumnCount:      snap.ColumnCount,
		SizeBytes:        snap.SizeBytes,
		UpdatedAt:        datamodel.FormatTimestamp(p.now().UTC()),
	}
	if prev, err := p.store.GetDeltaTable(ctx, dc.ID); err == nil {
		rec.Join = prev.Join
	} else if !datamodel.IsKind(err, datamodel.KindDCNotProcessed) {
		return nil, err
	}
	if err := p.store.SaveDeltaTable(ctx, rec); err != nil {
		return nil, err
	}

	res.Written = true
	res.Location = snap.Location
	res.Version = snap.Version
	res.RowCount = snap.RowCount
	res.ColumnCount = snap.ColumnCount
	res.SizeBytes = snap.SizeBytes

	p.logger.Info("collection materialized",
		slog.String("data_collection_tag", dc.Tag),
		slog.Int64("version", snap.Version),
		slog.Int64("rows", snap.RowCount),
		slog.Int("columns", snap.ColumnCount),
		slog.Int("files_read", res.FilesRead),
		slog.Int("files_skipped", res.FilesSkipped))
	return res, nil
}

// MaterializeProject materializes every scanned table collection of the
// project, optionally narrowed by tag. Per-collection failures are
// attached to that collection's result; the rest continue.
func (p *Processor) MaterializeProject(ctx context.Context, project *datamodel.Project, tagFilter string) ([]*Result, error) {
	var results []*Result
	matched := false
	for _, ref := range project.AllDataCollections() {
		dc := ref.DC
		if tagFilter != "" && dc.Tag != tagFilter {
			continue
		}
		if dc.Config.Type != datamodel.DCTypeTable || dc.Config.Joined() {
			continue
		}
		matched = true
		res, err := p.Materialize(ctx, project, dc)
		if err != nil {
			res = &Result{DataCollectionID: dc.ID, Tag: dc.Tag, Problems: []error{err}}
		}
		results = append(results, res)
	}
	if tagFilter != "" && !matched {
		return nil, datamodel.NewError(datamodel.KindDCNotFound, "no table collection matches tag").
			With("data_collection_tag", tagFilter).
			With("project", project.Name)
	}
	return results, nil
}

// runTags resolves the run tag for every distinct run id among files.
// Orphaned files (run deleted underneath them) are tagged empty.
func (p *Processor) runTags(ctx context.Context, files []datamodel.File) (map[primitive.ObjectID]string, error) {
	tags := make(map[primitive.ObjectID]string)
	for i := range files {
		runID := files[i].RunID
		if _, ok := tags[runID]; ok {
			continue
		}
		run, err := p.store.GetRun(ctx, runID)
		switch {
		case err == nil:
			tags[runID] = run.RunTag
		case datamodel.IsKind(err, datamodel.KindNotFound):
			p.logger.Warn("file references missing run",
				slog.String("run_id", runID.Hex()),
				slog.String("file_location", files[i].FileLocation))
			tags[runID] = ""
		default:
			return nil, err
		}
	}
	return tags, nil
}

// tagRunColumn stamps every row with the run tag. A column already named
// depictio_run_id is preserved as-is.
func tagRunColumn(fr *frame.Frame, tag string) (*frame.Frame, error) {
	if fr.HasColumn(datamodel.RunIDColumn) {
		return fr, nil
	}
	vals := make([]string, fr.NumRows())
	for i := range vals {
		vals[i] = tag
	}
	return fr.WithColumn(frame.NewStringSeries(datamodel.RunIDColumn, vals, nil))
}

// applyKeepColumns projects the frame to the configured columns. Names
// absent from this file are ignored so heterogeneous files still load.
func applyKeepColumns(fr *frame.Frame, keep []string) (*frame.Frame, error) {
	if len(keep) == 0 {
		return fr, nil
	}
	present := make([]string, 0, len(keep))
	for _, name := range keep {
		if fr.HasColumn(name) {
			present = append(present, name)
		}
	}
	return fr.Select(present...)
}
