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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/services/datamodel"
)

func joinFixtures(t *testing.T) (*Frame, *Frame) {
	t.Helper()
	left, err := New(
		NewIntSeries("id", []int64{1, 2, 3}, nil),
		NewStringSeries("name", []string{"A", "B", "C"}, nil),
	)
	require.NoError(t, err)
	right, err := New(
		NewIntSeries("id", []int64{2, 3, 4}, nil),
		NewIntSeries("score", []int64{100, 200, 300}, nil),
	)
	require.NoError(t, err)
	return left, right
}

func TestJoin(t *testing.T) {
	left, right := joinFixtures(t)

	t.Run("inner keeps the intersection", func(t *testing.T) {
		out, err := Join(left, right, []string{"id"}, datamodel.JoinInner)
		require.NoError(t, err)
		assert.Equal(t, 2, out.NumRows())
		assert.Equal(t, []string{"id", "name", "score"}, out.Columns())
	})

	t.Run("left preserves unmatched left rows", func(t *testing.T) {
		out, err := Join(left, right, []string{"id"}, datamodel.JoinLeft)
		require.NoError(t, err)
		require.Equal(t, 3, out.NumRows())
		score, _ := out.Column("score")
		assert.True(t, score.IsNull(0)) // id=1 has no right match
	})

	t.Run("right preserves unmatched right rows with keys intact", func(t *testing.T) {
		out, err := Join(left, right, []string{"id"}, datamodel.JoinRight)
		require.NoError(t, err)
		require.Equal(t, 3, out.NumRows())
		id, _ := out.Column("id")
		name, _ := out.Column("name")
		// The right-only row id=4 keeps its key and nulls the left columns.
		assert.Equal(t, int64(4), id.Value(2))
		assert.True(t, name.IsNull(2))
	})

	t.Run("outer is the union", func(t *testing.T) {
		out, err := Join(left, right, []string{"id"}, datamodel.JoinOuter)
		require.NoError(t, err)
		assert.Equal(t, 4, out.NumRows())
	})

	t.Run("many-to-many expands pairwise", func(t *testing.T) {
		l, _ := New(NewIntSeries("k", []int64{1, 1}, nil))
		r, _ := New(
			NewIntSeries("k", []int64{1, 1, 1}, nil),
			NewIntSeries("v", []int64{10, 20, 30}, nil),
		)
		out, err := Join(l, r, []string{"k"}, datamodel.JoinInner)
		require.NoError(t, err)
		assert.Equal(t, 6, out.NumRows())
	})

	t.Run("left wins duplicate non-key columns", func(t *testing.T) {
		l, _ := New(
			NewIntSeries("id", []int64{1}, nil),
			NewStringSeries("label", []string{"left"}, nil),
		)
		r, _ := New(
			NewIntSeries("id", []int64{1}, nil),
			NewStringSeries("label", []string{"right"}, nil),
		)
		out, err := Join(l, r, []string{"id"}, datamodel.JoinInner)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "label"}, out.Columns())
		label, _ := out.Column("label")
		assert.Equal(t, "left", label.Value(0))
	})

	t.Run("missing key column", func(t *testing.T) {
		_, err := Join(left, right, []string{"absent"}, datamodel.JoinInner)
		require.Error(t, err)
		assert.Equal(t, datamodel.KindMissingJoinColumn, datamodel.KindOf(err))
	})

	t.Run("dtype mismatch without normalization", func(t *testing.T) {
		l, _ := New(NewIntSeries("k", []int64{1}, nil))
		r, _ := New(NewStringSeries("k", []string{"1"}, nil))
		_, err := Join(l, r, []string{"k"}, datamodel.JoinInner)
		require.Error(t, err)
		assert.Equal(t, datamodel.KindTypeError, datamodel.KindOf(err))
	})
}

func TestNormalizeJoinKeys(t *testing.T) {
	t.Run("mismatched keys cast both sides to string", func(t *testing.T) {
		l, _ := New(NewIntSeries("k", []int64{10, 20}, nil))
		r, _ := New(
			NewStringSeries("k", []string{"10", "30"}, nil),
			NewIntSeries("v", []int64{1, 2}, nil),
		)
		nl, nr, coerced, err := NormalizeJoinKeys(l, r, []string{"k"})
		require.NoError(t, err)
		assert.True(t, coerced)

		out, err := Join(nl, nr, []string{"k"}, datamodel.JoinInner)
		require.NoError(t, err)
		// Lexicographically equal values intersect after coercion.
		assert.Equal(t, 1, out.NumRows())
		k, _ := out.Column("k")
		assert.Equal(t, String, k.DType())
	})

	t.Run("matching dtypes untouched", func(t *testing.T) {
		l, r := joinFixtures(t)
		nl, nr, coerced, err := NormalizeJoinKeys(l, r, []string{"id"})
		require.NoError(t, err)
		assert.False(t, coerced)
		k, _ := nl.Column("id")
		assert.Equal(t, Int, k.DType())
		k, _ = nr.Column("id")
		assert.Equal(t, Int, k.DType())
	})
}
