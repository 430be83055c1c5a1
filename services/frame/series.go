// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package frame implements the in-memory columnar table the join and query
// engines operate on.
//
// A Frame is an ordered set of equal-length Series. Four dtypes cover the
// ingestible formats: string, int64, float64, bool. Every cell can be null;
// nulls are tracked in a per-series mask rather than with sentinel values.
//
// Thread Safety: frames are immutable after construction; all operations
// return new frames. Concurrent reads need no synchronization.
package frame

import (
	"strconv"
	"strings"

	"github.com/depictio/depictio/services/datamodel"
)

// DType identifies a series element type.
type DType int

const (
	String DType = iota
	Int
	Float
	Bool
)

func (d DType) String() string {
	switch d {
	case String:
		return "string"
	case Int:
		return "int64"
	case Float:
		return "float64"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Numeric reports whether the dtype participates in arithmetic aggregation.
func (d DType) Numeric() bool { return d == Int || d == Float }

// ParseDType maps a dtype name back to its DType, for schema decoding.
func ParseDType(s string) (DType, error) {
	switch s {
	case "string":
		return String, nil
	case "int64":
		return Int, nil
	case "float64":
		return Float, nil
	case "bool":
		return Bool, nil
	default:
		return String, datamodel.NewErrorf(datamodel.KindTypeError, "unknown dtype %q", s)
	}
}

// nullKey is the canonical key form of a null cell. Nulls compare equal to
// each other in joins and grouping, matching the dataframe semantics the
// rest of the platform assumes.
const nullKey = "\x00null"

// Series is one named, typed column.
type Series struct {
	name  string
	dtype DType

	strs   []string
	ints   []int64
	floats []float64
	bools  []bool
	nulls  []bool
}

// NewStringSeries builds a string column. nulls may be nil for all-valid.
func NewStringSeries(name string, vals []string, nulls []bool) *Series {
	return &Series{name: name, dtype: String, strs: vals, nulls: normalizeMask(nulls, len(vals))}
}

// NewIntSeries builds an int64 column.
func NewIntSeries(name string, vals []int64, nulls []bool) *Series {
	return &Series{name: name, dtype: Int, ints: vals, nulls: normalizeMask(nulls, len(vals))}
}

// NewFloatSeries builds a float64 column.
func NewFloatSeries(name string, vals []float64, nulls []bool) *Series {
	return &Series{name: name, dtype: Float, floats: vals, nulls: normalizeMask(nulls, len(vals))}
}

// NewBoolSeries builds a bool column.
func NewBoolSeries(name string, vals []bool, nulls []bool) *Series {
	return &Series{name: name, dtype: Bool, bools: vals, nulls: normalizeMask(nulls, len(vals))}
}

func normalizeMask(nulls []bool, n int) []bool {
	if nulls == nil {
		return make([]bool, n)
	}
	return nulls
}

// Name returns the column name.
func (s *Series) Name() string { return s.name }

// DType returns the element type.
func (s *Series) DType() DType { return s.dtype }

// Len returns the number of cells.
func (s *Series) Len() int { return len(s.nulls) }

// IsNull reports whether cell i is null.
func (s *Series) IsNull(i int) bool { return s.nulls[i] }

// Value returns cell i as a dynamically typed value, or nil for null.
func (s *Series) Value(i int) any {
	if s.nulls[i] {
		return nil
	}
	switch s.dtype {
	case String:
		return s.strs[i]
	case Int:
		return s.ints[i]
	case Float:
		return s.floats[i]
	case Bool:
		return s.bools[i]
	}
	return nil
}

// Int64 returns cell i as int64; ok is false for null or non-int cells.
func (s *Series) Int64(i int) (int64, bool) {
	if s.nulls[i] || s.dtype != Int {
		return 0, false
	}
	return s.ints[i], true
}

// Float64 returns cell i coerced to float64; ok covers Int and Float cells.
func (s *Series) Float64(i int) (float64, bool) {
	if s.nulls[i] {
		return 0, false
	}
	switch s.dtype {
	case Float:
		return s.floats[i], true
	case Int:
		return float64(s.ints[i]), true
	}
	return 0, false
}

// KeyString renders cell i in canonical comparable form: equal values of
// the same dtype always produce the same key, and numeric renderings match
// their shortest decimal form so "10", int 10, and float 10.0 coincide.
func (s *Series) KeyString(i int) string {
	if s.nulls[i] {
		return nullKey
	}
	switch s.dtype {
	case String:
		return s.strs[i]
	case Int:
		return strconv.FormatInt(s.ints[i], 10)
	case Float:
		return strconv.FormatFloat(s.floats[i], 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(s.bools[i])
	}
	return nullKey
}

// Rename returns a copy of the series under a new name. Backing storage is
// shared; series are immutable.
func (s *Series) Rename(name string) *Series {
	c := *s
	c.name = name
	return &c
}

// CastString converts the series to dtype String using canonical renderings.
// Nulls stay null. String series are returned unchanged.
func (s *Series) CastString() *Series {
	if s.dtype == String {
		return s
	}
	vals := make([]string, s.Len())
	for i := range vals {
		if !s.nulls[i] {
			vals[i] = s.KeyString(i)
		}
	}
	return NewStringSeries(s.name, vals, s.nulls)
}

// take builds a new series from the given row indices; index -1 produces a
// null cell.
func (s *Series) take(idx []int) *Series {
	nulls := make([]bool, len(idx))
	switch s.dtype {
	case String:
		vals := make([]string, len(idx))
		for out, i := range idx {
			if i < 0 || s.nulls[i] {
				nulls[out] = true
				continue
			}
			vals[out] = s.strs[i]
		}
		return NewStringSeries(s.name, vals, nulls)
	case Int:
		vals := make([]int64, len(idx))
		for out, i := range idx {
			if i < 0 || s.nulls[i] {
				nulls[out] = true
				continue
			}
			vals[out] = s.ints[i]
		}
		return NewIntSeries(s.name, vals, nulls)
	case Float:
		vals := make([]float64, len(idx))
		for out, i := range idx {
			if i < 0 || s.nulls[i] {
				nulls[out] = true
				continue
			}
			vals[out] = s.floats[i]
		}
		return NewFloatSeries(s.name, vals, nulls)
	default:
		vals := make([]bool, len(idx))
		for out, i := range idx {
			if i < 0 || s.nulls[i] {
				nulls[out] = true
				continue
			}
			vals[out] = s.bools[i]
		}
		return NewBoolSeries(s.name, vals, nulls)
	}
}

// compare orders cells a and b: nulls sort first, numerics numerically,
// strings lexicographically. Returns -1, 0, or 1.
func (s *Series) compare(a, b int) int {
	an, bn := s.nulls[a], s.nulls[b]
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	switch s.dtype {
	case Int:
		return compareOrdered(s.ints[a], s.ints[b])
	case Float:
		return compareOrdered(s.floats[a], s.floats[b])
	case Bool:
		av, bv := s.bools[a], s.bools[b]
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	default:
		return strings.Compare(s.strs[a], s.strs[b])
	}
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// InferSeries builds a series from raw string cells, inferring the narrowest
// dtype that parses every non-null cell: int64, then float64, then bool,
// falling back to string. Empty cells are null.
func InferSeries(name string, raw []string) *Series {
	nulls := make([]bool, len(raw))
	nonNull := 0
	for i, v := range raw {
		if v == "" {
			nulls[i] = true
			continue
		}
		nonNull++
	}
	if nonNull == 0 {
		return NewStringSeries(name, make([]string, len(raw)), nulls)
	}

	ints := make([]int64, len(raw))
	allInt := true
	for i, v := range raw {
		if nulls[i] {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			allInt = false
			break
		}
		ints[i] = n
	}
	if allInt {
		return NewIntSeries(name, ints, nulls)
	}

	floats := make([]float64, len(raw))
	allFloat := true
	for i, v := range raw {
		if nulls[i] {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			allFloat = false
			break
		}
		floats[i] = f
	}
	if allFloat {
		return NewFloatSeries(name, floats, nulls)
	}

	bools := make([]bool, len(raw))
	allBool := true
	for i, v := range raw {
		if nulls[i] {
			continue
		}
		switch strings.ToLower(v) {
		case "true":
			bools[i] = true
		case "false":
			bools[i] = false
		default:
			allBool = false
		}
		if !allBool {
			break
		}
	}
	if allBool {
		return NewBoolSeries(name, bools, nulls)
	}

	vals := make([]string, len(raw))
	copy(vals, raw)
	return NewStringSeries(name, vals, nulls)
}

// FromValues rebuilds a typed series from dynamically typed cells, as
// produced by RowMaps or decoded JSON. Nil cells are null; unconvertible
// cells yield type-error. JSON numbers (float64) are accepted for Int
// columns when they carry no fractional part.
func FromValues(name string, dtype DType, cells []any) (*Series, error) {
	return seriesFromValues(name, dtype, cells)
}

// seriesFromValues rebuilds a typed series from dynamically typed cells, as
// produced by RowMaps or decoded JSON. Unconvertible cells yield type-error.
func seriesFromValues(name string, dtype DType, cells []any) (*Series, error) {
	nulls := make([]bool, len(cells))
	switch dtype {
	case String:
		vals := make([]string, len(cells))
		for i, c := range cells {
			if c == nil {
				nulls[i] = true
				continue
			}
			s, ok := c.(string)
			if !ok {
				return nil, datamodel.NewErrorf(datamodel.KindTypeError,
					"column %q: cell %d is %T, want string", name, i, c)
			}
			vals[i] = s
		}
		return NewStringSeries(name, vals, nulls), nil
	case Int:
		vals := make([]int64, len(cells))
		for i, c := range cells {
			if c == nil {
				nulls[i] = true
				continue
			}
			switch v := c.(type) {
			case int64:
				vals[i] = v
			case int:
				vals[i] = int64(v)
			case float64:
				// JSON numbers decode as float64; accept exact integers.
				if v != float64(int64(v)) {
					return nil, datamodel.NewErrorf(datamodel.KindTypeError,
						"column %q: cell %d is fractional, want int64", name, i)
				}
				vals[i] = int64(v)
			default:
				return nil, datamodel.NewErrorf(datamodel.KindTypeError,
					"column %q: cell %d is %T, want int64", name, i, c)
			}
		}
		return NewIntSeries(name, vals, nulls), nil
	case Float:
		vals := make([]float64, len(cells))
		for i, c := range cells {
			if c == nil {
				nulls[i] = true
				continue
			}
			switch v := c.(type) {
			case float64:
				vals[i] = v
			case int64:
				vals[i] = float64(v)
			case int:
				vals[i] = float64(v)
			default:
				return nil, datamodel.NewErrorf(datamodel.KindTypeError,
					"column %q: cell %d is %T, want float64", name, i, c)
			}
		}
		return NewFloatSeries(name, vals, nulls), nil
	default:
		vals := make([]bool, len(cells))
		for i, c := range cells {
			if c == nil {
				nulls[i] = true
				continue
			}
			b, ok := c.(bool)
			if !ok {
				return nil, datamodel.NewErrorf(datamodel.KindTypeError,
					"column %q: cell %d is %T, want bool", name, i, c)
			}
			vals[i] = b
		}
		return NewBoolSeries(name, vals, nulls), nil
	}
}
