// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan discovers workflow runs and files on disk and reconciles
// them against the metadata store.
//
// A scan walks each workflow's configured locations, enumerates run
// directories (one per location for flat layouts, one per matching
// subdirectory for sequencing-runs layouts), matches files per data
// collection, and sorts every file into one of the reconciliation
// buckets: new, updated, skipped, missing, failed. File identity is the
// content hash over (name, size, creation time, modification time), so
// an unchanged tree reconciles to a clean result no matter how often it
// is rescanned.
//
// Failures stay local: an unreadable location aborts that location only,
// a malformed collection config aborts that collection only, and the
// scan reports a partial result instead of failing outright.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/metastore"
)

// Notifier receives data-collection change notifications after a scan
// persists its result. Implementations must not block.
type Notifier interface {
	DataCollectionChanged(ctx context.Context, dcID primitive.ObjectID, tag string, op datamodel.ChangeOp)
}

// Params controls one scan invocation.
type Params struct {
	// WorkflowFilter restricts the scan to the named workflow.
	WorkflowFilter string

	// DCTagFilter restricts the scan to collections with this tag.
	DCTagFilter string

	// Rescan revisits runs that are already recorded. Without it, only
	// run directories never seen before are scanned.
	Rescan bool

	// Sync deletes store records for files that disappeared from disk
	// and rewrites unchanged ones. Without it, disappeared files are
	// only reported as missing.
	Sync bool
}

// Config configures the engine.
type Config struct {
	// Store is the metadata store. Required.
	Store metastore.Store

	// Notifier receives change events. Optional.
	Notifier Notifier

	// Logger for scan progress.
	// Default: slog.Default()
	Logger *slog.Logger

	// Workers bounds how many runs are walked concurrently.
	// Default: 4
	Workers int

	// Now supplies timestamps; tests override it.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine runs scans.
//
// Thread Safety: safe for concurrent use; per-scan state lives on the
// stack of each call.
type Engine struct {
	store    metastore.Store
	notifier Notifier
	logger   *slog.Logger
	workers  int
	now      func() time.Time
}

// NewEngine validates the configuration and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	cfg.applyDefaults()
	return &Engine{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		workers:  cfg.Workers,
		now:      cfg.Now,
	}, nil
}

// Report is the outcome of one scan invocation.
type Report struct {
	ScanID    string                  `json:"scan_id"`
	ScannedAt string                  `json:"scanned_at"`
	Totals    datamodel.ScanCounts    `json:"totals"`
	PerDC     []datamodel.DCScanStats `json:"per_dc,omitempty"`

	RunsScanned int `json:"runs_scanned"`
	RunsSkipped int `json:"runs_skipped"`
	RunsDeleted int `json:"runs_deleted"`

	// Problems collects the localized failures (scan-io-error per
	// location, config-invalid per collection) that did not stop the
	// scan.
	Problems []error `json:"-"`
}

// Partial reports whether any location or collection was skipped over a
// localized failure.
func (r *Report) Partial() bool { return len(r.Problems) > 0 }

// ProblemStrings renders the localized failures for serialization.
func (r *Report) ProblemStrings() []string {
	out := make([]string, len(r.Problems))
	for i, err := range r.Problems {
		out[i] = err.Error()
	}
	return out
}

func newScanID() string { return uuid.NewString() }

// Clean reports whether the scan observed no changes.
func (r *Report) Clean() bool {
	return r.Totals.New == 0 && r.Totals.Updated == 0 && r.Totals.Missing == 0 && r.Totals.Failed == 0
}
