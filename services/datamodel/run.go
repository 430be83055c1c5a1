// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datamodel

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RunIDColumn is the column stamped on every materialized row naming the run
// the row came from. When both sides of a join carry it, it is added to the
// join keys so rows from different runs never combine.
const RunIDColumn = "depictio_run_id"

// File records one observed physical data file.
type File struct {
	ID               primitive.ObjectID `bson:"_id" json:"id"`
	FileLocation     string             `bson:"file_location" json:"file_location" validate:"required"`
	Filename         string             `bson:"filename" json:"filename" validate:"required"`
	CreationTime     string             `bson:"creation_time" json:"creation_time"`
	ModificationTime string             `bson:"modification_time" json:"modification_time"`
	Filesize         int64              `bson:"filesize" json:"filesize"`
	FileHash         string             `bson:"file_hash" json:"file_hash"`
	RunID            primitive.ObjectID `bson:"run_id" json:"run_id"`
	DataCollectionID primitive.ObjectID `bson:"data_collection_id" json:"data_collection_id"`
	Permissions      Permissions        `bson:"permissions" json:"permissions"`
}

// Validate enforces the file invariants: positive size (invalid-file),
// well-formed hash, and normalized timestamps (invalid-time).
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return WrapError(KindInvalidFile, "file fields", err).With("file_location", f.FileLocation)
	}
	if f.Filesize <= 0 {
		return NewErrorf(KindInvalidFile, "filesize must be > 0, got %d", f.Filesize).
			With("file_location", f.FileLocation)
	}
	if !ValidHash(f.FileHash) {
		return NewError(KindInvalidFile, "file_hash is not 64 lowercase hex").
			With("file_location", f.FileLocation)
	}
	for _, ts := range []string{f.CreationTime, f.ModificationTime} {
		if _, err := ParseFlexibleTime(ts); err != nil {
			var de *Error
			if asDomain(err, &de) {
				de.With("file_location", f.FileLocation)
			}
			return err
		}
	}
	return nil
}

// WorkflowRun records one observed instance of a workflow's data.
type WorkflowRun struct {
	ID                   primitive.ObjectID   `bson:"_id" json:"id"`
	ProjectID            primitive.ObjectID   `bson:"project_id" json:"project_id"`
	WorkflowID           primitive.ObjectID   `bson:"workflow_id" json:"workflow_id"`
	RunTag               string               `bson:"run_tag" json:"run_tag" validate:"required"`
	RunLocation          string               `bson:"run_location" json:"run_location"`
	CreationTime         string               `bson:"creation_time" json:"creation_time"`
	LastModificationTime string               `bson:"last_modification_time" json:"last_modification_time"`
	FileIDs              []primitive.ObjectID `bson:"file_ids" json:"file_ids"`
	RunHash              string               `bson:"run_hash" json:"run_hash"`
	ScanResults          []ScanResult         `bson:"scan_results,omitempty" json:"scan_results,omitempty"`
	Permissions          Permissions          `bson:"permissions" json:"permissions"`
}

// ScanCounts aggregates per-bucket file counts for one scan.
type ScanCounts struct {
	New     int `bson:"new" json:"new"`
	Updated int `bson:"updated" json:"updated"`
	Skipped int `bson:"skipped" json:"skipped"`
	Missing int `bson:"missing" json:"missing"`
	Failed  int `bson:"failed" json:"failed"`
}

// Add accumulates other into the receiver.
func (c *ScanCounts) Add(other ScanCounts) {
	c.New += other.New
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Missing += other.Missing
	c.Failed += other.Failed
}

// Total returns the number of files touched by the scan in any bucket.
func (c ScanCounts) Total() int {
	return c.New + c.Updated + c.Skipped + c.Missing + c.Failed
}

// DCScanStats holds one collection's reconciliation outcome: counts plus the
// file-id set per bucket.
type DCScanStats struct {
	DataCollectionID primitive.ObjectID   `bson:"data_collection_id" json:"data_collection_id"`
	DataCollTag      string               `bson:"data_collection_tag" json:"data_collection_tag"`
	Counts           ScanCounts           `bson:"counts" json:"counts"`
	NewIDs           []primitive.ObjectID `bson:"new_ids,omitempty" json:"new_ids,omitempty"`
	UpdatedIDs       []primitive.ObjectID `bson:"updated_ids,omitempty" json:"updated_ids,omitempty"`
	SkippedIDs       []primitive.ObjectID `bson:"skipped_ids,omitempty" json:"skipped_ids,omitempty"`
	MissingIDs       []primitive.ObjectID `bson:"missing_ids,omitempty" json:"missing_ids,omitempty"`
}

// ScanResult is the per-scan record appended to a run.
type ScanResult struct {
	ScanID    string        `bson:"scan_id" json:"scan_id"`
	ScannedAt string        `bson:"scanned_at" json:"scanned_at"`
	Totals    ScanCounts    `bson:"totals" json:"totals"`
	PerDC     []DCScanStats `bson:"per_dc,omitempty" json:"per_dc,omitempty"`
}

// Clean reports whether the scan observed no changes at all.
func (r ScanResult) Clean() bool {
	return r.Totals.New == 0 && r.Totals.Updated == 0 && r.Totals.Missing == 0 && r.Totals.Failed == 0
}
