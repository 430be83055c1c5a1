// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package join executes join definitions against materialized Delta tables.
//
// The engine resolves both sides of a definition to data collections,
// reconciles key dtypes, optionally aggregates the finer-grained side to
// one row per group, and performs the declared join. Results can be
// persisted as new Delta tables with a lineage record tracing them back to
// the configuration and input sizes that produced them.
//
// Three entry points cover the lifecycle: Validate checks a definition
// against schemas without loading data, Preview runs the join in memory and
// reports counts plus sample rows, and Execute produces the full result and
// persists it when the definition asks for that.
package join

import (
	"errors"
	"log/slog"
	"time"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/objstore"
)

// Side identifies which input of a join was aggregated.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideNone  Side = "none"
)

// Config configures the engine.
type Config struct {
	// Store is the metadata store. Required.
	Store metastore.Store

	// Bucket holds the Delta tables. Required.
	Bucket objstore.Bucket

	// BasePrefix is the bucket prefix under which persisted join results
	// live, one subdirectory per result collection id.
	// Default: "tables"
	BasePrefix string

	// MaxSampleRows caps the sample returned by Preview regardless of the
	// requested limit.
	// Default: 100
	MaxSampleRows int

	// Logger for execution progress.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now supplies timestamps; tests override it.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.BasePrefix == "" {
		c.BasePrefix = "tables"
	}
	if c.MaxSampleRows <= 0 {
		c.MaxSampleRows = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine validates, previews, and executes join definitions.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	store      metastore.Store
	bucket     objstore.Bucket
	basePrefix string
	maxSample  int
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine validates the configuration and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store must not be nil")
	}
	if cfg.Bucket == nil {
		return nil, errors.New("bucket must not be nil")
	}
	cfg.applyDefaults()
	return &Engine{
		store:      cfg.Store,
		bucket:     cfg.Bucket,
		basePrefix: cfg.BasePrefix,
		maxSample:  cfg.MaxSampleRows,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// ValidationResult reports whether a definition can execute against the
// current state of the project and its tables.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	LeftExists     bool `json:"left_exists"`
	RightExists    bool `json:"right_exists"`
	LeftProcessed  bool `json:"left_processed"`
	RightProcessed bool `json:"right_processed"`

	MissingJoinColumnsLeft  []string `json:"missing_join_columns_left,omitempty"`
	MissingJoinColumnsRight []string `json:"missing_join_columns_right,omitempty"`
}

// PreviewResult summarizes an in-memory dry run of a join.
type PreviewResult struct {
	LeftRows   int64 `json:"left_rows"`
	RightRows  int64 `json:"right_rows"`
	JoinedRows int64 `json:"joined_rows"`

	JoinedColumns []string `json:"joined_columns"`

	// MatchedKeys counts the distinct key tuples present on both sides.
	MatchedKeys int64 `json:"matched_keys"`

	SampleRows []map[string]any `json:"sample_rows"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// Metadata describes one execution of a join.
type Metadata struct {
	JoinedRows         int64             `json:"joined_rows"`
	JoinType           datamodel.JoinHow `json:"join_type"`
	JoinColumns        []string          `json:"join_columns"`
	AggregationApplied bool              `json:"aggregation_applied"`
	AggregatedSide     Side              `json:"aggregated_side"`
	Warnings           []string          `json:"warnings,omitempty"`

	// Lineage is set when the result was persisted.
	Lineage *datamodel.JoinedTableMetadata `json:"lineage,omitempty"`
}
