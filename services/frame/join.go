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
	"github.com/depictio/depictio/services/datamodel"
)

// Join combines two frames on equality of the named key columns.
//
// # Description
//
// Hash join, left side driving. The output carries every left column, then
// the right columns minus the keys and minus any name already present on the
// left (the left value wins on collision; the right duplicate is dropped).
// Unmatched rows contribute nulls on the other side according to how; for a
// right/outer join the key cells of right-only rows are taken from the right
// frame so keys are never null unless they were null in the input.
//
// # Inputs
//
//   - on: key columns; must exist on both sides with identical dtypes.
//     Callers reconcile dtype mismatches first (cast both sides to string).
//   - how: one of the four datamodel.JoinHow directions.
//
// # Limitations
//
//   - Many-to-many keys produce the full pairwise combination, as in any
//     relational join.
func Join(left, right *Frame, on []string, how datamodel.JoinHow) (*Frame, error) {
	if len(on) == 0 {
		return nil, datamodel.NewError(datamodel.KindMissingJoinColumn, "join requires at least one key column")
	}
	leftKeys := make([]*Series, len(on))
	rightKeys := make([]*Series, len(on))
	for i, name := range on {
		ls, ok := left.Column(name)
		if !ok {
			return nil, datamodel.NewErrorf(datamodel.KindMissingJoinColumn,
				"column %q missing on left side", name)
		}
		rs, ok := right.Column(name)
		if !ok {
			return nil, datamodel.NewErrorf(datamodel.KindMissingJoinColumn,
				"column %q missing on right side", name)
		}
		if ls.DType() != rs.DType() {
			return nil, datamodel.NewErrorf(datamodel.KindTypeError,
				"column %q dtypes differ: left %s, right %s", name, ls.DType(), rs.DType())
		}
		leftKeys[i] = ls
		rightKeys[i] = rs
	}

	index := make(map[string][]int, right.NumRows())
	for row := 0; row < right.NumRows(); row++ {
		k := rowKey(rightKeys, row)
		index[k] = append(index[k], row)
	}

	var leftIdx, rightIdx []int
	matchedRight := make([]bool, right.NumRows())
	for lrow := 0; lrow < left.NumRows(); lrow++ {
		k := rowKey(leftKeys, lrow)
		matches := index[k]
		if len(matches) == 0 {
			if how == datamodel.JoinLeft || how == datamodel.JoinOuter {
				leftIdx = append(leftIdx, lrow)
				rightIdx = append(rightIdx, -1)
			}
			continue
		}
		for _, rrow := range matches {
			matchedRight[rrow] = true
			leftIdx = append(leftIdx, lrow)
			rightIdx = append(rightIdx, rrow)
		}
	}
	if how == datamodel.JoinRight || how == datamodel.JoinOuter {
		for rrow := 0; rrow < right.NumRows(); rrow++ {
			if !matchedRight[rrow] {
				leftIdx = append(leftIdx, -1)
				rightIdx = append(rightIdx, rrow)
			}
		}
	}

	onSet := make(map[string]struct{}, len(on))
	for _, name := range on {
		onSet[name] = struct{}{}
	}

	cols := make([]*Series, 0, left.NumCols()+right.NumCols())
	for _, s := range left.cols {
		if _, isKey := onSet[s.name]; isKey {
			cols = append(cols, takeKey(s, mustColumn(right, s.name), leftIdx, rightIdx))
			continue
		}
		cols = append(cols, s.take(leftIdx))
	}
	for _, s := range right.cols {
		if _, isKey := onSet[s.name]; isKey {
			continue
		}
		if left.HasColumn(s.name) {
			// Left wins on non-key collisions.
			continue
		}
		cols = append(cols, s.take(rightIdx))
	}
	return New(cols...)
}

func mustColumn(f *Frame, name string) *Series {
	s, _ := f.Column(name)
	return s
}

// takeKey gathers a key column: matched and left-only rows take the left
// cell, right-only rows take the right cell.
func takeKey(ls, rs *Series, leftIdx, rightIdx []int) *Series {
	cells := make([]any, len(leftIdx))
	for out := range leftIdx {
		if leftIdx[out] >= 0 {
			cells[out] = ls.Value(leftIdx[out])
		} else {
			cells[out] = rs.Value(rightIdx[out])
		}
	}
	s, err := seriesFromValues(ls.name, ls.dtype, cells)
	if err != nil {
		// Dtypes were checked equal above; cells came from those series.
		panic(err)
	}
	return s
}

// NormalizeJoinKeys casts mismatched key columns to string on both sides,
// returning the adjusted frames and whether any cast happened. Matching
// dtypes are preserved.
func NormalizeJoinKeys(left, right *Frame, on []string) (*Frame, *Frame, bool, error) {
	coerced := false
	for _, name := range on {
		ls, ok := left.Column(name)
		if !ok {
			return nil, nil, false, datamodel.NewErrorf(datamodel.KindMissingJoinColumn,
				"column %q missing on left side", name)
		}
		rs, ok := right.Column(name)
		if !ok {
			return nil, nil, false, datamodel.NewErrorf(datamodel.KindMissingJoinColumn,
				"column %q missing on right side", name)
		}
		if ls.DType() == rs.DType() {
			continue
		}
		var err error
		left, err = left.WithColumn(ls.CastString())
		if err != nil {
			return nil, nil, false, datamodel.WrapError(datamodel.KindTypeError, "cast left key", err)
		}
		right, err = right.WithColumn(rs.CastString())
		if err != nil {
			return nil, nil, false, datamodel.WrapError(datamodel.KindTypeError, "cast right key", err)
		}
		coerced = true
	}
	return left, right, coerced, nil
}
