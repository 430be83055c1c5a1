// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package join

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/delta"
	"github.com/depictio/depictio/services/frame"
)

const defaultSampleRows = 10

// Validate checks a definition against the project and the current table
// schemas without loading any data.
//
// # Description
//
// Configuration problems, unresolvable collections, unmaterialized tables,
// and absent join columns are reported as error strings; dtype mismatches
// and granularity mismatches that execution can work around are reported as
// warnings. The returned error is reserved for store failures.
func (e *Engine) Validate(ctx context.Context, jd *datamodel.JoinDefinition, project *datamodel.Project) (*ValidationResult, error) {
	res := &ValidationResult{}
	if err := jd.Validate(); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	left, errs, err := e.checkSide(ctx, project, jd, jd.LeftDC, jd.LeftDCID, "left")
	if err != nil {
		return nil, err
	}
	res.Errors = append(res.Errors, errs...)
	right, errs, err := e.checkSide(ctx, project, jd, jd.RightDC, jd.RightDCID, "right")
	if err != nil {
		return nil, err
	}
	res.Errors = append(res.Errors, errs...)

	res.LeftExists, res.LeftProcessed = left.exists, left.processed
	res.RightExists, res.RightProcessed = right.exists, right.processed
	res.MissingJoinColumnsLeft = left.missing
	res.MissingJoinColumnsRight = right.missing

	if left.dc != nil && right.dc != nil && left.dc.ID == right.dc.ID {
		res.Errors = append(res.Errors, "left and right resolve to the same collection")
	}

	if left.schema != nil && right.schema != nil {
		for _, c := range jd.OnColumns {
			lt, lok := left.schema[c]
			rt, rok := right.schema[c]
			if lok && rok && lt != rt {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"join column %q dtypes differ (left %s, right %s); both sides will be cast to string", c, lt, rt))
			}
		}
		_, lrun := left.schema[datamodel.RunIDColumn]
		_, rrun := right.schema[datamodel.RunIDColumn]
		if lrun != rrun {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"only one side carries %s; rows may combine across runs", datamodel.RunIDColumn))
		}
		if g := jd.Granularity; g != nil {
			_, lg := left.schema[g.AggregateTo]
			_, rg := right.schema[g.AggregateTo]
			if !lg && !rg {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"aggregate_to %q not present on either side; granularity will not apply", g.AggregateTo))
			}
		}
	}

	res.Valid = len(res.Errors) == 0
	return res, nil
}

// Preview runs the join in memory, granularity included, and reports
// counts plus up to sampleLimit result rows. Nothing is persisted.
func (e *Engine) Preview(ctx context.Context, jd *datamodel.JoinDefinition, project *datamodel.Project, sampleLimit int) (*PreviewResult, error) {
	st, err := e.run(ctx, jd, project, true)
	if err != nil {
		return nil, err
	}
	matched, err := matchedKeyCount(st.left, st.right, st.on)
	if err != nil {
		return nil, err
	}

	limit := sampleLimit
	if limit <= 0 {
		limit = defaultSampleRows
	}
	if limit > e.maxSample {
		limit = e.maxSample
	}

	e.logger.Debug("join previewed",
		"join", jd.Name,
		"joined_rows", st.meta.JoinedRows,
		"matched_keys", matched)
	return &PreviewResult{
		LeftRows:      st.leftRows,
		RightRows:     st.rightRows,
		JoinedRows:    st.meta.JoinedRows,
		JoinedColumns: st.joined.Columns(),
		MatchedKeys:   matched,
		SampleRows:    st.joined.Head(limit).RowMaps(),
		Warnings:      st.meta.Warnings,
	}, nil
}

// Execute performs the join and returns the result frame plus its
// metadata. When the definition asks for persistence the frame is written
// as the next version of the result Delta table and a lineage record is
// saved; the previous version stays readable until the new commit lands.
func (e *Engine) Execute(ctx context.Context, jd *datamodel.JoinDefinition, project *datamodel.Project, applyGranularity bool) (*frame.Frame, *Metadata, error) {
	st, err := e.run(ctx, jd, project, applyGranularity)
	if err != nil {
		return nil, nil, err
	}
	if jd.Persist {
		lineage, err := e.persist(ctx, jd, project, st)
		if err != nil {
			return nil, nil, err
		}
		st.meta.Lineage = lineage
	}
	e.logger.Info("join executed",
		"join", jd.Name,
		"how", string(jd.How),
		"joined_rows", st.meta.JoinedRows,
		"joined_columns", st.joined.NumCols(),
		"aggregated_side", string(st.meta.AggregatedSide),
		"persisted", jd.Persist)
	return st.joined, st.meta, nil
}

// runState carries one execution through the pipeline. left and right hold
// the frames as they enter the join, after key normalization and any
// granularity aggregation.
type runState struct {
	left, right         *frame.Frame
	leftRows, rightRows int64
	on                  []string
	joined              *frame.Frame
	meta                *Metadata
}

func (e *Engine) run(ctx context.Context, jd *datamodel.JoinDefinition, project *datamodel.Project, applyGranularity bool) (*runState, error) {
	if err := jd.Validate(); err != nil {
		return nil, err
	}

	leftDC, err := e.resolveDC(project, jd.LeftDC, jd.LeftDCID, jd.WorkflowName)
	if err != nil {
		return nil, sideErr(err, "left")
	}
	rightDC, err := e.resolveDC(project, jd.RightDC, jd.RightDCID, jd.WorkflowName)
	if err != nil {
		return nil, sideErr(err, "right")
	}
	if leftDC.ID == rightDC.ID {
		return nil, datamodel.NewError(datamodel.KindConfigInvalid,
			"left and right resolve to the same collection").
			With("join", jd.Name).With("data_collection_tag", leftDC.Tag)
	}

	left, err := e.readTable(ctx, leftDC)
	if err != nil {
		return nil, sideErr(err, "left")
	}
	right, err := e.readTable(ctx, rightDC)
	if err != nil {
		return nil, sideErr(err, "right")
	}
	st := &runState{leftRows: int64(left.NumRows()), rightRows: int64(right.NumRows())}

	// Rows from different runs must not combine on user keys alone.
	on := slices.Clone(jd.OnColumns)
	if left.HasColumn(datamodel.RunIDColumn) && right.HasColumn(datamodel.RunIDColumn) &&
		!slices.Contains(on, datamodel.RunIDColumn) {
		on = append(on, datamodel.RunIDColumn)
	}
	st.on = on

	var missingLeft, missingRight []string
	for _, c := range on {
		if !left.HasColumn(c) {
			missingLeft = append(missingLeft, c)
		}
		if !right.HasColumn(c) {
			missingRight = append(missingRight, c)
		}
	}
	if len(missingLeft) > 0 || len(missingRight) > 0 {
		derr := datamodel.NewError(datamodel.KindMissingJoinColumn,
			"join columns missing from input tables").With("join", jd.Name)
		if len(missingLeft) > 0 {
			derr.With("missing_left", strings.Join(missingLeft, ","))
		}
		if len(missingRight) > 0 {
			derr.With("missing_right", strings.Join(missingRight, ","))
		}
		return nil, derr
	}

	left, right, coerced, err := frame.NormalizeJoinKeys(left, right, on)
	if err != nil {
		return nil, err
	}
	var warnings []string
	if coerced {
		warnings = append(warnings, "join key dtypes differ; both sides cast to string")
	}

	side := SideNone
	if applyGranularity && jd.Granularity != nil {
		left, right, side, warnings, err = applyGranularityStep(jd.Granularity, left, right, warnings)
		if err != nil {
			return nil, err
		}
	}
	st.left, st.right = left, right

	st.joined, err = frame.Join(left, right, on, jd.How)
	if err != nil {
		return nil, err
	}

	st.meta = &Metadata{
		JoinedRows:         int64(st.joined.NumRows()),
		JoinType:           jd.How,
		JoinColumns:        on,
		AggregationApplied: side != SideNone,
		AggregatedSide:     side,
		Warnings:           warnings,
	}
	return st, nil
}

// applyGranularityStep collapses whichever side is non-unique over the
// grouping column. A side that lacks the column, or already has one row per
// group value, is left alone. When both sides would qualify the right one
// is aggregated, with a warning, so the left side keeps its row identity.
func applyGranularityStep(g *datamodel.GranularityConfig, left, right *frame.Frame, warnings []string) (*frame.Frame, *frame.Frame, Side, []string, error) {
	leftFiner := nonUniqueOver(left, g.AggregateTo)
	rightFiner := nonUniqueOver(right, g.AggregateTo)
	switch {
	case leftFiner && rightFiner:
		warnings = append(warnings, fmt.Sprintf(
			"both sides are non-unique over %q; aggregating the right side", g.AggregateTo))
		agg, err := aggregateSide(right, g)
		if err != nil {
			return nil, nil, SideNone, warnings, err
		}
		return left, agg, SideRight, warnings, nil
	case leftFiner:
		agg, err := aggregateSide(left, g)
		if err != nil {
			return nil, nil, SideNone, warnings, err
		}
		return agg, right, SideLeft, warnings, nil
	case rightFiner:
		agg, err := aggregateSide(right, g)
		if err != nil {
			return nil, nil, SideNone, warnings, err
		}
		return left, agg, SideRight, warnings, nil
	default:
		return left, right, SideNone, warnings, nil
	}
}

// nonUniqueOver reports whether the frame has more than one row for some
// value of the column. Frames without the column never qualify.
func nonUniqueOver(f *frame.Frame, column string) bool {
	s, ok := f.Column(column)
	if !ok {
		return false
	}
	seen := make(map[string]struct{}, s.Len())
	for i := 0; i < s.Len(); i++ {
		k := s.KeyString(i)
		if _, dup := seen[k]; dup {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}

// aggregateSide collapses a frame to one row per grouping value, choosing
// each column's op by precedence: explicit override, then the numeric
// default for numeric dtypes, then the categorical default.
func aggregateSide(f *frame.Frame, g *datamodel.GranularityConfig) (*frame.Frame, error) {
	rules := make([]frame.AggregateRule, 0, f.NumCols())
	for i := 0; i < f.NumCols(); i++ {
		s := f.Series(i)
		if s.Name() == g.AggregateTo {
			continue
		}
		var op datamodel.AggregateOp
		if s.DType().Numeric() {
			op = g.NumericOp(s.Name())
		} else {
			op = g.CategoricalOp(s.Name())
		}
		rules = append(rules, frame.AggregateRule{Column: s.Name(), Op: op})
	}
	return frame.GroupByAggregate(f, g.AggregateTo, rules)
}

func (e *Engine) persist(ctx context.Context, jd *datamodel.JoinDefinition, project *datamodel.Project, st *runState) (*datamodel.JoinedTableMetadata, error) {
	if jd.ResultDCID.IsZero() {
		return nil, datamodel.NewError(datamodel.KindConfigInvalid,
			"persist requires result_dc_id").With("join", jd.Name)
	}
	table := delta.Open(e.bucket, delta.TableURI(e.basePrefix, jd.ResultDCID))
	snap, err := table.Write(ctx, st.joined)
	if err != nil {
		return nil, err
	}
	executedAt := datamodel.FormatTimestamp(e.now())

	cfg := *jd
	cfg.DeltaLocation = snap.Location
	cfg.RowCount = snap.RowCount
	cfg.ColumnCount = snap.ColumnCount
	cfg.ExecutedAt = executedAt

	rec := &datamodel.DeltaTableRecord{
		ID:               jd.ResultDCID,
		ProjectID:        project.ID,
		DataCollectionID: jd.ResultDCID,
		Location:         snap.Location,
		Version:          snap.Version,
		RowCount:         snap.RowCount,
		ColumnCount:      snap.ColumnCount,
		SizeBytes:        snap.SizeBytes,
		UpdatedAt:        executedAt,
	}
	if err := e.store.SaveDeltaTable(ctx, rec); err != nil {
		return nil, err
	}

	meta := &datamodel.JoinedTableMetadata{
		ID:            datamodel.NewID(),
		ProjectID:     project.ID,
		JoinID:        jd.ID,
		JoinName:      jd.Name,
		ResultDCID:    jd.ResultDCID,
		DeltaLocation: snap.Location,
		RowCount:      snap.RowCount,
		ColumnCount:   snap.ColumnCount,
		SizeBytes:     snap.SizeBytes,
		LeftRowCount:  st.leftRows,
		RightRowCount: st.rightRows,
		Config:        cfg,
		ExecutedAt:    executedAt,
	}
	if err := e.store.SaveJoinMetadata(ctx, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// sideReport carries per-side findings for Validate.
type sideReport struct {
	exists    bool
	processed bool
	dc        *datamodel.DataCollection
	schema    map[string]string
	missing   []string
}

func (e *Engine) checkSide(ctx context.Context, project *datamodel.Project, jd *datamodel.JoinDefinition, ref string, id primitive.ObjectID, label string) (*sideReport, []string, error) {
	rep := &sideReport{}
	dc, err := e.resolveDC(project, ref, id, jd.WorkflowName)
	if err != nil {
		return rep, []string{fmt.Sprintf("%s side: %v", label, err)}, nil
	}
	rep.exists, rep.dc = true, dc

	var errs []string
	schema, err := e.tableSchema(ctx, dc.ID)
	switch {
	case err == nil:
		rep.processed = true
		rep.schema = schema
	case datamodel.IsKind(err, datamodel.KindDCNotProcessed):
		errs = append(errs, fmt.Sprintf("%s side: collection %q has no materialized table", label, dc.Tag))
	default:
		return nil, nil, err
	}

	if rep.schema != nil {
		for _, c := range jd.OnColumns {
			if _, ok := rep.schema[c]; !ok {
				rep.missing = append(rep.missing, c)
				errs = append(errs, fmt.Sprintf("%s side: join column %q not present", label, c))
			}
		}
	}
	return rep, errs, nil
}

// resolveDC maps one side of a definition to its collection. A stable id
// wins over the display reference; bare tags resolve within the join's
// workflow scope.
func (e *Engine) resolveDC(project *datamodel.Project, ref string, id primitive.ObjectID, scope string) (*datamodel.DataCollection, error) {
	if !id.IsZero() {
		dc, _, ok := project.DCByID(id)
		if !ok {
			return nil, datamodel.NewErrorf(datamodel.KindDCNotFound,
				"data collection %s not found", id.Hex()).With("project", project.Name)
		}
		return dc, nil
	}
	dc, _, err := project.ResolveDC(ref, scope)
	return dc, err
}

func (e *Engine) openTable(ctx context.Context, dcID primitive.ObjectID) (*delta.Table, error) {
	rec, err := e.store.GetDeltaTable(ctx, dcID)
	if err != nil {
		return nil, err
	}
	return delta.Open(e.bucket, rec.Location), nil
}

func (e *Engine) readTable(ctx context.Context, dc *datamodel.DataCollection) (*frame.Frame, error) {
	table, err := e.openTable(ctx, dc.ID)
	if err != nil {
		return nil, tagErr(err, dc)
	}
	f, err := table.Read(ctx)
	if err != nil {
		return nil, tagErr(err, dc)
	}
	return f, nil
}

func (e *Engine) tableSchema(ctx context.Context, dcID primitive.ObjectID) (map[string]string, error) {
	table, err := e.openTable(ctx, dcID)
	if err != nil {
		return nil, err
	}
	cols, err := table.Schema(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cols))
	for _, c := range cols {
		out[c.Name] = c.DType
	}
	return out, nil
}

// matchedKeyCount counts the distinct key tuples present on both sides,
// using the same composite keys the join hashes on.
func matchedKeyCount(left, right *frame.Frame, on []string) (int64, error) {
	leftKeys, err := keyTuples(left, on)
	if err != nil {
		return 0, err
	}
	rightKeys, err := keyTuples(right, on)
	if err != nil {
		return 0, err
	}
	var n int64
	for k := range leftKeys {
		if _, ok := rightKeys[k]; ok {
			n++
		}
	}
	return n, nil
}

func keyTuples(f *frame.Frame, on []string) (map[string]struct{}, error) {
	cols := make([]*frame.Series, len(on))
	for i, name := range on {
		s, ok := f.Column(name)
		if !ok {
			return nil, datamodel.NewErrorf(datamodel.KindMissingJoinColumn,
				"column %q missing", name)
		}
		cols[i] = s
	}
	out := make(map[string]struct{}, f.NumRows())
	parts := make([]string, len(cols))
	for row := 0; row < f.NumRows(); row++ {
		for i, s := range cols {
			parts[i] = s.KeyString(row)
		}
		out[strings.Join(parts, "\x1f")] = struct{}{}
	}
	return out, nil
}

// tagErr adds the collection tag to a load failure.
func tagErr(err error, dc *datamodel.DataCollection) error {
	var de *datamodel.Error
	if errors.As(err, &de) {
		de.With("data_collection_tag", dc.Tag)
	}
	return err
}

// sideErr marks which input of the join an error came from.
func sideErr(err error, label string) error {
	var de *datamodel.Error
	if errors.As(err, &de) {
		de.With("side", label)
	}
	return err
}
