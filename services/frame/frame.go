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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ---- Errors ----

var (
	ErrLengthMismatch  = errors.New("series lengths differ")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrNoColumn        = errors.New("no such column")
	ErrBadSlice        = errors.New("slice bounds out of range")
)

// Frame is an ordered, immutable set of equal-length series.
type Frame struct {
	cols   []*Series
	byName map[string]int
}

// New constructs a frame from series. All series must have equal length and
// unique names. A frame with zero columns is legal and has zero rows.
func New(cols ...*Series) (*Frame, error) {
	f := &Frame{cols: cols, byName: make(map[string]int, len(cols))}
	n := -1
	for i, s := range cols {
		if _, dup := f.byName[s.name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, s.name)
		}
		f.byName[s.name] = i
		if n == -1 {
			n = s.Len()
		} else if s.Len() != n {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, s.name, s.Len(), n)
		}
	}
	return f, nil
}

// mustNew is used internally where invariants are already established.
func mustNew(cols ...*Series) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

// Empty returns a zero-column, zero-row frame.
func Empty() *Frame { return mustNew() }

// NumRows returns the row count.
func (f *Frame) NumRows() int {
	if len(f.cols) == 0 {
		return 0
	}
	return f.cols[0].Len()
}

// NumCols returns the column count.
func (f *Frame) NumCols() int { return len(f.cols) }

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	names := make([]string, len(f.cols))
	for i, s := range f.cols {
		names[i] = s.name
	}
	return names
}

// Column returns the named series.
func (f *Frame) Column(name string) (*Series, bool) {
	i, ok := f.byName[name]
	if !ok {
		return nil, false
	}
	return f.cols[i], true
}

// HasColumn reports whether the frame carries the named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.byName[name]
	return ok
}

// Series returns the column at position i.
func (f *Frame) Series(i int) *Series { return f.cols[i] }

// Select projects the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]*Series, 0, len(names))
	for _, name := range names {
		s, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoColumn, name)
		}
		cols = append(cols, s)
	}
	return New(cols...)
}

// WithColumn returns a frame with s appended, or replacing an existing
// column of the same name in place.
func (f *Frame) WithColumn(s *Series) (*Frame, error) {
	if f.NumCols() > 0 && s.Len() != f.NumRows() {
		return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, s.name, s.Len(), f.NumRows())
	}
	cols := make([]*Series, len(f.cols))
	copy(cols, f.cols)
	if i, ok := f.byName[s.name]; ok {
		cols[i] = s
	} else {
		cols = append(cols, s)
	}
	return New(cols...)
}

// Drop returns a frame without the named columns. Unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	cols := make([]*Series, 0, len(f.cols))
	for _, s := range f.cols {
		if _, skip := drop[s.name]; !skip {
			cols = append(cols, s)
		}
	}
	return mustNew(cols...)
}

// RenameColumn returns a frame with one column renamed.
func (f *Frame) RenameColumn(old, new string) (*Frame, error) {
	i, ok := f.byName[old]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, old)
	}
	cols := make([]*Series, len(f.cols))
	copy(cols, f.cols)
	cols[i] = cols[i].Rename(new)
	return New(cols...)
}

// FilterRows keeps rows where mask is true.
func (f *Frame) FilterRows(mask []bool) *Frame {
	idx := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			idx = append(idx, i)
		}
	}
	return f.takeRows(idx)
}

// Slice returns rows [lo, hi). Bounds are clamped to the row count, so
// pagination past the end yields an empty frame rather than an error.
func (f *Frame) Slice(lo, hi int) (*Frame, error) {
	if lo < 0 || hi < lo {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrBadSlice, lo, hi)
	}
	n := f.NumRows()
	if lo > n {
		lo = n
	}
	if hi > n {
		hi = n
	}
	idx := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		idx = append(idx, i)
	}
	return f.takeRows(idx), nil
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame {
	out, _ := f.Slice(0, n)
	return out
}

func (f *Frame) takeRows(idx []int) *Frame {
	cols := make([]*Series, len(f.cols))
	for i, s := range f.cols {
		cols[i] = s.take(idx)
	}
	return mustNew(cols...)
}

// SortKey orders one column.
type SortKey struct {
	Column     string
	Descending bool
}

// Sort returns the frame ordered by the given keys. The sort is stable:
// equal rows keep their prior relative order. Unknown columns error.
func (f *Frame) Sort(keys []SortKey) (*Frame, error) {
	series := make([]*Series, len(keys))
	for i, k := range keys {
		s, ok := f.Column(k.Column)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoColumn, k.Column)
		}
		series[i] = s
	}
	idx := make([]int, f.NumRows())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for i, s := range series {
			c := s.compare(idx[a], idx[b])
			if c == 0 {
				continue
			}
			if keys[i].Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return f.takeRows(idx), nil
}

// rowKey renders the composite key of a row over the given columns. The unit
// separator keeps multi-column keys unambiguous.
func rowKey(cols []*Series, row int) string {
	if len(cols) == 1 {
		return cols[0].KeyString(row)
	}
	parts := make([]string, len(cols))
	for i, s := range cols {
		parts[i] = s.KeyString(row)
	}
	return strings.Join(parts, "\x1f")
}

// Unique keeps the first row per distinct combination of the named columns.
func (f *Frame) Unique(columns []string) (*Frame, error) {
	keyCols := make([]*Series, len(columns))
	for i, name := range columns {
		s, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoColumn, name)
		}
		keyCols[i] = s
	}
	seen := make(map[string]struct{}, f.NumRows())
	idx := make([]int, 0, f.NumRows())
	for row := 0; row < f.NumRows(); row++ {
		k := rowKey(keyCols, row)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		idx = append(idx, row)
	}
	return f.takeRows(idx), nil
}

// KeySet collects the distinct canonical key strings of one column,
// excluding nulls. Used for semi-join filtering.
func (f *Frame) KeySet(column string) (map[string]struct{}, error) {
	s, ok := f.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, column)
	}
	out := make(map[string]struct{})
	for i := 0; i < s.Len(); i++ {
		if s.IsNull(i) {
			continue
		}
		out[s.KeyString(i)] = struct{}{}
	}
	return out, nil
}

// FilterIn keeps rows whose column value, in canonical key form, appears in
// values. Null cells never match.
func (f *Frame) FilterIn(column string, values map[string]struct{}) (*Frame, error) {
	s, ok := f.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, column)
	}
	mask := make([]bool, f.NumRows())
	for i := range mask {
		if s.IsNull(i) {
			continue
		}
		_, mask[i] = values[s.KeyString(i)]
	}
	return f.FilterRows(mask), nil
}

// RowMap renders row i as a column-name → value map. Nulls are nil.
func (f *Frame) RowMap(i int) map[string]any {
	out := make(map[string]any, len(f.cols))
	for _, s := range f.cols {
		out[s.name] = s.Value(i)
	}
	return out
}

// RowMaps renders every row; the backing order is row order.
func (f *Frame) RowMaps() []map[string]any {
	out := make([]map[string]any, f.NumRows())
	for i := range out {
		out[i] = f.RowMap(i)
	}
	return out
}

// Concat vertically stacks frames with schema unification: the output
// carries the union of columns in first-seen order; columns absent from a
// frame contribute nulls; columns whose dtypes disagree are cast to string.
func Concat(frames ...*Frame) (*Frame, error) {
	frames = nonEmpty(frames)
	if len(frames) == 0 {
		return Empty(), nil
	}

	type colInfo struct {
		name  string
		dtype DType
		mixed bool
	}
	var order []colInfo
	pos := make(map[string]int)
	for _, fr := range frames {
		for _, s := range fr.cols {
			if i, ok := pos[s.name]; ok {
				if order[i].dtype != s.dtype {
					order[i].mixed = true
				}
				continue
			}
			pos[s.name] = len(order)
			order = append(order, colInfo{name: s.name, dtype: s.dtype})
		}
	}

	total := 0
	for _, fr := range frames {
		total += fr.NumRows()
	}

	cols := make([]*Series, 0, len(order))
	for _, info := range order {
		dtype := info.dtype
		if info.mixed {
			dtype = String
		}
		cells := make([]any, 0, total)
		for _, fr := range frames {
			s, ok := fr.Column(info.name)
			if !ok {
				for i := 0; i < fr.NumRows(); i++ {
					cells = append(cells, nil)
				}
				continue
			}
			if info.mixed {
				s = s.CastString()
			}
			for i := 0; i < s.Len(); i++ {
				cells = append(cells, s.Value(i))
			}
		}
		built, err := seriesFromValues(info.name, dtype, cells)
		if err != nil {
			return nil, err
		}
		cols = append(cols, built)
	}
	return New(cols...)
}

func nonEmpty(frames []*Frame) []*Frame {
	out := make([]*Frame, 0, len(frames))
	for _, fr := range frames {
		if fr != nil && fr.NumCols() > 0 {
			out = append(out, fr)
		}
	}
	return out
}
