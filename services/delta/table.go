// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package delta persists frames as versioned tables in the object store.
//
// Layout per table, under its prefix:
//
//	<prefix>/_delta_log/0000000000.json   commit for version 0
//	<prefix>/_delta_log/0000000001.json   commit for version 1
//	<prefix>/part-00001-00000.ndjson      data part 0 of version 1
//
// A commit document names the schema and the full part list of its version,
// so each version completely replaces the table content. Writers stage every
// part first and publish the commit last: a failed write leaves orphan parts
// behind but never a half-visible version, and readers always resolve the
// latest complete commit.
package delta

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/frame"
	"github.com/depictio/depictio/services/objstore"
)

const (
	logDir        = "_delta_log"
	commitPadding = 10
	partExt       = ".ndjson"
)

// DefaultRowsPerPart bounds part-file size; large results split across
// parts so no single object grows unbounded.
const DefaultRowsPerPart = 50000

// ColumnSchema describes one column in a commit document.
type ColumnSchema struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
}

// Commit is the per-version manifest stored in the log.
type Commit struct {
	Version   int64          `json:"version"`
	Timestamp string         `json:"timestamp"`
	Schema    []ColumnSchema `json:"schema"`
	Parts     []string       `json:"parts"`
	RowCount  int64          `json:"row_count"`
	SizeBytes int64          `json:"size_bytes"`
}

// Snapshot summarizes the latest version of a table.
type Snapshot struct {
	Location    string `json:"location"`
	Version     int64  `json:"version"`
	RowCount    int64  `json:"row_count"`
	ColumnCount int    `json:"column_count"`
	SizeBytes   int64  `json:"size_bytes"`
	ModifiedAt  string `json:"modified_at"`
}

// Table reads and writes one versioned table under a prefix.
type Table struct {
	bucket      objstore.Bucket
	prefix      string
	rowsPerPart int
}

// Open binds a table to its prefix. The table need not exist yet.
func Open(bucket objstore.Bucket, prefix string) *Table {
	return &Table{bucket: bucket, prefix: strings.TrimSuffix(prefix, "/"), rowsPerPart: DefaultRowsPerPart}
}

// TableURI derives the canonical table prefix for a data collection. The
// URI is assigned once per DC id and never rewritten.
func TableURI(basePrefix string, dcID primitive.ObjectID) string {
	return path.Join(basePrefix, dcID.Hex())
}

// Location returns the table prefix.
func (t *Table) Location() string { return t.prefix }

func (t *Table) commitKey(version int64) string {
	return fmt.Sprintf("%s/%s/%0*d.json", t.prefix, logDir, commitPadding, version)
}

func (t *Table) partKey(version int64, part int) string {
	return fmt.Sprintf("%s/part-%05d-%05d%s", t.prefix, version, part, partExt)
}

// latestCommit resolves the newest commit, or ErrNotExist when the table
// has never been written.
func (t *Table) latestCommit(ctx context.Context) (*Commit, error) {
	keys, err := t.bucket.List(ctx, t.prefix+"/"+logDir+"/")
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list delta log", err).
			With("location", t.prefix)
	}
	var latest int64 = -1
	var latestKey string
	for _, key := range keys {
		base := path.Base(key)
		if !strings.HasSuffix(base, ".json") {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSuffix(base, ".json"), 10, 64)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
			latestKey = key
		}
	}
	if latest < 0 {
		return nil, objstore.ErrNotExist
	}

	raw, err := objstore.ReadAll(ctx, t.bucket, latestKey)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "read delta commit", err).
			With("location", t.prefix)
	}
	var c Commit
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "decode delta commit", err).
			With("location", t.prefix)
	}
	return &c, nil
}

// Exists reports whether the table has at least one committed version.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	_, err := t.latestCommit(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, objstore.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Write persists the frame as the next version of the table.
//
// Parts are uploaded before the commit; the commit upload is the single
// publish point. On any failure the previous version stays intact and
// readable.
func (t *Table) Write(ctx context.Context, f *frame.Frame) (*Snapshot, error) {
	version := int64(0)
	if prev, err := t.latestCommit(ctx); err == nil {
		version = prev.Version + 1
	} else if !errors.Is(err, objstore.ErrNotExist) {
		return nil, err
	}

	schema := make([]ColumnSchema, f.NumCols())
	for i := 0; i < f.NumCols(); i++ {
		s := f.Series(i)
		schema[i] = ColumnSchema{Name: s.Name(), DType: s.DType().String()}
	}

	var parts []string
	var sizeBytes int64
	rows := f.NumRows()
	for start, partIdx := 0, 0; start < rows || (rows == 0 && partIdx == 0); partIdx++ {
		end := start + t.rowsPerPart
		if end > rows {
			end = rows
		}
		chunk, err := f.Slice(start, end)
		if err != nil {
			return nil, datamodel.WrapError(datamodel.KindIOError, "slice part", err)
		}
		data, err := encodePart(chunk)
		if err != nil {
			return nil, err
		}
		key := t.partKey(version, partIdx)
		if err := t.bucket.Upload(ctx, key, bytes.NewReader(data)); err != nil {
			return nil, datamodel.WrapError(datamodel.KindIOError, "upload delta part", err).
				With("location", t.prefix)
		}
		parts = append(parts, path.Base(key))
		sizeBytes += int64(len(data))
		start = end
		if rows == 0 {
			break
		}
	}

	commit := Commit{
		Version:   version,
		Timestamp: datamodel.FormatTimestamp(time.Now().UTC()),
		Schema:    schema,
		Parts:     parts,
		RowCount:  int64(rows),
		SizeBytes: sizeBytes,
	}
	raw, err := json.Marshal(commit)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "encode delta commit", err)
	}
	if err := t.bucket.Upload(ctx, t.commitKey(version), bytes.NewReader(raw)); err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "publish delta commit", err).
			With("location", t.prefix)
	}

	return &Snapshot{
		Location:    t.prefix,
		Version:     version,
		RowCount:    commit.RowCount,
		ColumnCount: len(schema),
		SizeBytes:   sizeBytes,
		ModifiedAt:  commit.Timestamp,
	}, nil
}

// encodePart renders rows as newline-delimited JSON objects.
func encodePart(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := 0; i < f.NumRows(); i++ {
		if err := enc.Encode(f.RowMap(i)); err != nil {
			return nil, datamodel.WrapError(datamodel.KindIOError, "encode delta row", err)
		}
	}
	return buf.Bytes(), nil
}

// Read loads the full latest version. A table with no commits yields
// dc-not-processed.
func (t *Table) Read(ctx context.Context) (*frame.Frame, error) {
	return t.ReadColumns(ctx, nil)
}

// ReadColumns loads the latest version restricted to the named columns
// (nil loads everything). Unknown requested columns are ignored so callers
// can prune speculatively.
func (t *Table) ReadColumns(ctx context.Context, columns []string) (*frame.Frame, error) {
	commit, err := t.latestCommit(ctx)
	if errors.Is(err, objstore.ErrNotExist) {
		return nil, datamodel.NewError(datamodel.KindDCNotProcessed, "delta table has no commits").
			With("location", t.prefix)
	}
	if err != nil {
		return nil, err
	}

	schema := commit.Schema
	if columns != nil {
		want := make(map[string]struct{}, len(columns))
		for _, c := range columns {
			want[c] = struct{}{}
		}
		pruned := schema[:0]
		for _, cs := range schema {
			if _, ok := want[cs.Name]; ok {
				pruned = append(pruned, cs)
			}
		}
		schema = pruned
	}

	cells := make(map[string][]any, len(schema))
	for _, cs := range schema {
		cells[cs.Name] = make([]any, 0, commit.RowCount)
	}

	for _, part := range commit.Parts {
		key := t.prefix + "/" + part
		rc, err := t.bucket.Download(ctx, key)
		if err != nil {
			return nil, datamodel.WrapError(datamodel.KindIOError, "read delta part", err).
				With("location", t.prefix)
		}
		scanner := bufio.NewScanner(rc)
		scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var row map[string]any
			if err := json.Unmarshal(line, &row); err != nil {
				rc.Close()
				return nil, datamodel.WrapError(datamodel.KindIOError, "decode delta row", err).
					With("location", t.prefix)
			}
			for _, cs := range schema {
				cells[cs.Name] = append(cells[cs.Name], row[cs.Name])
			}
		}
		if err := scanner.Err(); err != nil {
			rc.Close()
			return nil, datamodel.WrapError(datamodel.KindIOError, "scan delta part", err).
				With("location", t.prefix)
		}
		rc.Close()
	}

	series := make([]*frame.Series, 0, len(schema))
	for _, cs := range schema {
		dtype, err := frame.ParseDType(cs.DType)
		if err != nil {
			return nil, err
		}
		s, err := frame.FromValues(cs.Name, dtype, cells[cs.Name])
		if err != nil {
			return nil, err
		}
		series = append(series, s)
	}
	out, err := frame.New(series...)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "assemble frame", err)
	}
	return out, nil
}

// Snapshot returns the latest version summary without loading data.
func (t *Table) Snapshot(ctx context.Context) (*Snapshot, error) {
	commit, err := t.latestCommit(ctx)
	if errors.Is(err, objstore.ErrNotExist) {
		return nil, datamodel.NewError(datamodel.KindDCNotProcessed, "delta table has no commits").
			With("location", t.prefix)
	}
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Location:    t.prefix,
		Version:     commit.Version,
		RowCount:    commit.RowCount,
		ColumnCount: len(commit.Schema),
		SizeBytes:   commit.SizeBytes,
		ModifiedAt:  commit.Timestamp,
	}, nil
}

// Schema returns the column schema of the latest version without loading
// data. A table with no commits yields dc-not-processed.
func (t *Table) Schema(ctx context.Context) ([]ColumnSchema, error) {
	commit, err := t.latestCommit(ctx)
	if errors.Is(err, objstore.ErrNotExist) {
		return nil, datamodel.NewError(datamodel.KindDCNotProcessed, "delta table has no commits").
			With("location", t.prefix)
	}
	if err != nil {
		return nil, err
	}
	return commit.Schema, nil
}

// Versions lists all committed versions in ascending order.
func (t *Table) Versions(ctx context.Context) ([]int64, error) {
	keys, err := t.bucket.List(ctx, t.prefix+"/"+logDir+"/")
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list delta log", err).
			With("location", t.prefix)
	}
	var versions []int64
	for _, key := range keys {
		base := path.Base(key)
		v, err := strconv.ParseInt(strings.TrimSuffix(base, ".json"), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}
