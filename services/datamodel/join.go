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

// JoinHow enumerates join directions.
type JoinHow string

const (
	JoinInner JoinHow = "inner"
	JoinLeft  JoinHow = "left"
	JoinRight JoinHow = "right"
	JoinOuter JoinHow = "outer"
)

// AggregateOp enumerates granularity aggregation rules. Numeric defaults use
// the arithmetic ops; categorical columns fall back to positional or modal
// ops.
type AggregateOp string

const (
	AggMean   AggregateOp = "mean"
	AggSum    AggregateOp = "sum"
	AggMin    AggregateOp = "min"
	AggMax    AggregateOp = "max"
	AggMedian AggregateOp = "median"
	AggFirst  AggregateOp = "first"
	AggLast   AggregateOp = "last"
	AggCount  AggregateOp = "count"
	AggMode   AggregateOp = "mode"
	AggNUniq  AggregateOp = "n_unique"
)

var validAggregateOps = map[AggregateOp]struct{}{
	AggMean: {}, AggSum: {}, AggMin: {}, AggMax: {}, AggMedian: {},
	AggFirst: {}, AggLast: {}, AggCount: {}, AggMode: {}, AggNUniq: {},
}

// GranularityConfig reconciles tables joined at different grouping levels.
// The finer side is aggregated to one row per AggregateTo value using, in
// precedence order: the per-column override, the numeric default for numeric
// dtypes, the categorical default otherwise.
type GranularityConfig struct {
	AggregateTo        string                 `bson:"aggregate_to" json:"aggregate_to" validate:"required"`
	NumericDefault     AggregateOp            `bson:"numeric_default" json:"numeric_default"`
	CategoricalDefault AggregateOp            `bson:"categorical_default" json:"categorical_default"`
	Overrides          map[string]AggregateOp `bson:"overrides,omitempty" json:"overrides,omitempty"`
}

// Validate checks the aggregation ops are known.
func (g *GranularityConfig) Validate() error {
	if g.AggregateTo == "" {
		return NewError(KindConfigInvalid, "granularity requires aggregate_to")
	}
	ops := []AggregateOp{g.NumericDefault, g.CategoricalDefault}
	for _, op := range g.Overrides {
		ops = append(ops, op)
	}
	for _, op := range ops {
		if op == "" {
			continue
		}
		if _, ok := validAggregateOps[op]; !ok {
			return NewErrorf(KindConfigInvalid, "unknown aggregation op %q", op)
		}
	}
	return nil
}

// NumericOp resolves the effective aggregation for a numeric column.
func (g *GranularityConfig) NumericOp(column string) AggregateOp {
	if op, ok := g.Overrides[column]; ok {
		return op
	}
	if g.NumericDefault != "" {
		return g.NumericDefault
	}
	return AggMean
}

// CategoricalOp resolves the effective aggregation for a non-numeric column.
func (g *GranularityConfig) CategoricalOp(column string) AggregateOp {
	if op, ok := g.Overrides[column]; ok {
		return op
	}
	if g.CategoricalDefault != "" {
		return g.CategoricalDefault
	}
	return AggFirst
}

// JoinDefinition declares a join between two data collections.
//
// LeftDC/RightDC are display references ("tag" or "workflow.tag");
// LeftDCID/RightDCID are the canonical at-rest references, filled on
// ingestion. WorkflowName scopes bare-tag resolution.
type JoinDefinition struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name         string             `bson:"name" json:"name" validate:"required"`
	WorkflowName string             `bson:"workflow_name,omitempty" json:"workflow_name,omitempty"`
	LeftDC       string             `bson:"left_dc" json:"left_dc" validate:"required"`
	RightDC      string             `bson:"right_dc" json:"right_dc" validate:"required"`
	LeftDCID     primitive.ObjectID `bson:"left_dc_id,omitempty" json:"left_dc_id,omitempty"`
	RightDCID    primitive.ObjectID `bson:"right_dc_id,omitempty" json:"right_dc_id,omitempty"`
	OnColumns    []string           `bson:"on_columns" json:"on_columns" validate:"required,min=1,unique"`
	How          JoinHow            `bson:"how" json:"how" validate:"required,oneof=inner left right outer"`
	Granularity  *GranularityConfig `bson:"granularity,omitempty" json:"granularity,omitempty"`
	Persist      bool               `bson:"persist" json:"persist"`
	ResultDCID   primitive.ObjectID `bson:"result_dc_id,omitempty" json:"result_dc_id,omitempty"`

	// Populated by execution.
	DeltaLocation string `bson:"delta_location,omitempty" json:"delta_location,omitempty"`
	RowCount      int64  `bson:"row_count,omitempty" json:"row_count,omitempty"`
	ColumnCount   int    `bson:"column_count,omitempty" json:"column_count,omitempty"`
	ExecutedAt    string `bson:"executed_at,omitempty" json:"executed_at,omitempty"`
}

// Validate enforces the declarative invariants: distinct sides, non-empty
// unique on_columns, known how, and a well-formed granularity block.
func (j *JoinDefinition) Validate() error {
	if err := validate.Struct(j); err != nil {
		return WrapError(KindConfigInvalid, "join fields", err).With("join", j.Name)
	}
	if j.LeftDC == j.RightDC {
		return NewError(KindConfigInvalid, "left_dc and right_dc must differ").With("join", j.Name)
	}
	if !j.LeftDCID.IsZero() && j.LeftDCID == j.RightDCID {
		return NewError(KindConfigInvalid, "left and right resolve to the same collection").
			With("join", j.Name)
	}
	if j.Granularity != nil {
		if err := j.Granularity.Validate(); err != nil {
			var de *Error
			if asDomain(err, &de) {
				de.With("join", j.Name)
			}
			return err
		}
	}
	return nil
}

// JoinedTableMetadata is the lineage record persisted per join execution.
// It snapshots the join configuration and input sizes so a result table can
// always be traced back to what produced it.
type JoinedTableMetadata struct {
	ID            primitive.ObjectID `bson:"_id" json:"id"`
	ProjectID     primitive.ObjectID `bson:"project_id" json:"project_id"`
	JoinID        primitive.ObjectID `bson:"join_id,omitempty" json:"join_id,omitempty"`
	JoinName      string             `bson:"join_name" json:"join_name"`
	ResultDCID    primitive.ObjectID `bson:"result_dc_id" json:"result_dc_id"`
	DeltaLocation string             `bson:"delta_location" json:"delta_location"`
	RowCount      int64              `bson:"row_count" json:"row_count"`
	ColumnCount   int                `bson:"column_count" json:"column_count"`
	SizeBytes     int64              `bson:"size_bytes" json:"size_bytes"`
	LeftRowCount  int64              `bson:"left_row_count" json:"left_row_count"`
	RightRowCount int64              `bson:"right_row_count" json:"right_row_count"`
	Config        JoinDefinition     `bson:"config" json:"config"`
	ExecutedAt    string             `bson:"executed_at" json:"executed_at"`
}
