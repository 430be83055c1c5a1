// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package frame

import (
	"fmt"
	"sort"

	"github.com/depictio/depictio/services/datamodel"
)

// AggregateRule binds one column to its aggregation op.
type AggregateRule struct {
	Column string
	Op     datamodel.AggregateOp
}

// GroupByAggregate collapses the frame to one row per distinct value of
// groupColumn, applying one rule per remaining column. Groups appear in
// first-seen row order. Null group keys form their own group.
//
// Numeric ops (mean, median) yield float64; sum/min/max keep the input
// dtype; count and n_unique yield int64; first/last/mode keep the dtype.
func GroupByAggregate(f *Frame, groupColumn string, rules []AggregateRule) (*Frame, error) {
	groupSeries, ok := f.Column(groupColumn)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, groupColumn)
	}

	var groupOrder []string
	groupRows := make(map[string][]int, f.NumRows())
	for row := 0; row < f.NumRows(); row++ {
		k := groupSeries.KeyString(row)
		if _, seen := groupRows[k]; !seen {
			groupOrder = append(groupOrder, k)
		}
		groupRows[k] = append(groupRows[k], row)
	}

	firstRows := make([]int, len(groupOrder))
	for i, k := range groupOrder {
		firstRows[i] = groupRows[k][0]
	}

	cols := make([]*Series, 0, 1+len(rules))
	cols = append(cols, groupSeries.take(firstRows))

	for _, rule := range rules {
		if rule.Column == groupColumn {
			continue
		}
		s, ok := f.Column(rule.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoColumn, rule.Column)
		}
		agg, err := aggregateColumn(s, groupOrder, groupRows, rule.Op)
		if err != nil {
			return nil, err
		}
		cols = append(cols, agg)
	}
	return New(cols...)
}

func aggregateColumn(s *Series, order []string, groups map[string][]int, op datamodel.AggregateOp) (*Series, error) {
	cells := make([]any, len(order))
	for gi, key := range order {
		rows := groups[key]
		v, err := aggregateCells(s, rows, op)
		if err != nil {
			return nil, err
		}
		cells[gi] = v
	}
	return seriesFromValues(s.name, aggregateDType(s.dtype, op), cells)
}

func aggregateDType(in DType, op datamodel.AggregateOp) DType {
	switch op {
	case datamodel.AggMean, datamodel.AggMedian:
		return Float
	case datamodel.AggCount, datamodel.AggNUniq:
		return Int
	case datamodel.AggSum:
		return in
	default:
		return in
	}
}

func aggregateCells(s *Series, rows []int, op datamodel.AggregateOp) (any, error) {
	switch op {
	case datamodel.AggFirst:
		return s.Value(rows[0]), nil
	case datamodel.AggLast:
		return s.Value(rows[len(rows)-1]), nil
	case datamodel.AggCount:
		var n int64
		for _, r := range rows {
			if !s.IsNull(r) {
				n++
			}
		}
		return n, nil
	case datamodel.AggNUniq:
		seen := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			if !s.IsNull(r) {
				seen[s.KeyString(r)] = struct{}{}
			}
		}
		return int64(len(seen)), nil
	case datamodel.AggMode:
		counts := make(map[string]int, len(rows))
		firstRow := make(map[string]int, len(rows))
		for _, r := range rows {
			if s.IsNull(r) {
				continue
			}
			k := s.KeyString(r)
			if _, seen := counts[k]; !seen {
				firstRow[k] = r
			}
			counts[k]++
		}
		bestRow, bestN := -1, 0
		for _, r := range rows {
			if s.IsNull(r) {
				continue
			}
			k := s.KeyString(r)
			// Ties resolve to the first-seen value.
			if counts[k] > bestN {
				bestN = counts[k]
				bestRow = firstRow[k]
			}
		}
		if bestRow < 0 {
			return nil, nil
		}
		return s.Value(bestRow), nil
	}

	// Arithmetic ops need numeric cells.
	if !s.dtype.Numeric() {
		return nil, datamodel.NewErrorf(datamodel.KindTypeError,
			"aggregation %q requires a numeric column, %q is %s", op, s.name, s.dtype)
	}
	vals := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := s.Float64(r); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil, nil
	}

	switch op {
	case datamodel.AggMean:
		return sum(vals) / float64(len(vals)), nil
	case datamodel.AggMedian:
		sorted := make([]float64, len(vals))
		copy(sorted, vals)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid], nil
		}
		return (sorted[mid-1] + sorted[mid]) / 2, nil
	case datamodel.AggSum:
		if s.dtype == Int {
			var total int64
			for _, r := range rows {
				if v, ok := s.Int64(r); ok {
					total += v
				}
			}
			return total, nil
		}
		return sum(vals), nil
	case datamodel.AggMin:
		if s.dtype == Int {
			return int64(minFloat(vals)), nil
		}
		return minFloat(vals), nil
	case datamodel.AggMax:
		if s.dtype == Int {
			return int64(maxFloat(vals)), nil
		}
		return maxFloat(vals), nil
	default:
		return nil, datamodel.NewErrorf(datamodel.KindConfigInvalid, "unknown aggregation op %q", op)
	}
}

func sum(vals []float64) float64 {
	var t float64
	for _, v := range vals {
		t += v
	}
	return t
}

func minFloat(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
