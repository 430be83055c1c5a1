// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query serves dashboard table requests against materialized Delta
// tables. A request names one target data collection plus the dashboard's
// active filter state; the pipeline decides how each filter reaches the
// target (directly, through a declared link, or through the project's join
// graph), applies grid filters and sorting, and returns one page of rows.
//
// Cross-collection filters never multiply target rows: a single-collection
// target is narrowed by semi-join on the shared join columns, so each
// target row keeps at most its original multiplicity. Only a target that is
// itself a join result is widened by iterative joins.
package query

import (
	"errors"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/links"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/objstore"
)

// Config bundles the pipeline's dependencies.
type Config struct {
	// Store resolves data collections to their Delta table locations and
	// join results to their lineage. Required.
	Store metastore.Store

	// Bucket holds the Delta tables. Required.
	Bucket objstore.Bucket

	// Links resolves cross-collection value mappings.
	// Default: a fresh engine with the built-in resolvers.
	Links *links.Engine

	// Logger receives structured pipeline logs.
	// Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Links == nil {
		c.Links = links.NewEngine(links.Config{Logger: c.Logger})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline answers dashboard queries.
//
// Thread Safety: safe for concurrent use.
type Pipeline struct {
	store  metastore.Store
	bucket objstore.Bucket
	links  *links.Engine
	logger *slog.Logger
}

// NewPipeline builds a query pipeline from cfg.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("query: Config.Store is required")
	}
	if cfg.Bucket == nil {
		return nil, errors.New("query: Config.Bucket is required")
	}
	cfg.applyDefaults()
	return &Pipeline{
		store:  cfg.Store,
		bucket: cfg.Bucket,
		links:  cfg.Links,
		logger: cfg.Logger,
	}, nil
}

// ComponentMeta identifies where a filter component draws its values from.
type ComponentMeta struct {
	// DCID is the data collection the component filters on. A zero id is
	// treated as the target collection itself.
	DCID primitive.ObjectID `json:"dc_id"`

	// ColumnName is the filtered column within that collection.
	ColumnName string `json:"column_name"`

	// InteractiveComponentType names the dashboard widget (Select,
	// MultiSelect, TextInput, Slider, RangeSlider, DateRange). It decides
	// how Value is interpreted.
	InteractiveComponentType string `json:"interactive_component_type"`

	// ColumnType is the client's view of the column dtype. Only consulted
	// to tell date ranges from numeric ranges.
	ColumnType string `json:"column_type"`
}

// FilterComponent is one active dashboard filter.
//
// Value carries the widget state as decoded JSON: a scalar for text inputs
// and sliders, a list for multi-selects, a two-element list for ranges.
// Nil and empty values deactivate the component.
type FilterComponent struct {
	Index    int           `json:"index"`
	Value    any           `json:"value"`
	Metadata ComponentMeta `json:"metadata"`
}

// SortSpec orders one column. Order is ascending unless set to "desc".
type SortSpec struct {
	Column string `json:"column"`
	Order  string `json:"order,omitempty"`
}

// Request is the dashboard's view of one table fetch.
type Request struct {
	FilterComponents []FilterComponent `json:"filter_components,omitempty"`

	// Page and PageSize select the returned window. PageSize <= 0 returns
	// all rows.
	Page     int `json:"page"`
	PageSize int `json:"page_size"`

	Sort []SortSpec `json:"sort,omitempty"`

	// ClientFilterModel holds per-column grid filters, keyed by column
	// name as the client sees it (dots rewritten to underscores).
	ClientFilterModel map[string]FilterEntry `json:"client_filter_model,omitempty"`
}

// Result is one page of rows plus the pre-pagination total.
type Result struct {
	Rows []map[string]any `json:"rows"`

	// RowCount is the number of rows after filtering and before the page
	// slice.
	RowCount int64 `json:"row_count"`

	// Columns lists the presented column names in order, ID first.
	Columns []string `json:"columns"`

	// ColumnOrigins maps presented names back to stored names for columns
	// that were rewritten for presentation.
	ColumnOrigins map[string]string `json:"column_origins,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// IDColumn is attached to every result page and carries the absolute row
// offset within the filtered, sorted dataset.
const IDColumn = "ID"
