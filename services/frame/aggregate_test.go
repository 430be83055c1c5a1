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

func TestGroupByAggregate(t *testing.T) {
	f, err := New(
		NewIntSeries("id", []int64{2, 2, 3, 3}, nil),
		NewIntSeries("score", []int64{100, 150, 200, 250}, nil),
	)
	require.NoError(t, err)

	t.Run("mean over groups", func(t *testing.T) {
		out, err := GroupByAggregate(f, "id", []AggregateRule{{Column: "score", Op: datamodel.AggMean}})
		require.NoError(t, err)
		require.Equal(t, 2, out.NumRows())

		id, _ := out.Column("id")
		score, _ := out.Column("score")
		assert.Equal(t, int64(2), id.Value(0))
		assert.Equal(t, 125.0, score.Value(0))
		assert.Equal(t, int64(3), id.Value(1))
		assert.Equal(t, 225.0, score.Value(1))
		assert.Equal(t, Float, score.DType())
	})

	t.Run("sum keeps int dtype", func(t *testing.T) {
		out, err := GroupByAggregate(f, "id", []AggregateRule{{Column: "score", Op: datamodel.AggSum}})
		require.NoError(t, err)
		score, _ := out.Column("score")
		assert.Equal(t, Int, score.DType())
		assert.Equal(t, int64(250), score.Value(0))
		assert.Equal(t, int64(450), score.Value(1))
	})

	t.Run("median", func(t *testing.T) {
		g, _ := New(
			NewIntSeries("k", []int64{1, 1, 1}, nil),
			NewIntSeries("v", []int64{5, 1, 9}, nil),
		)
		out, err := GroupByAggregate(g, "k", []AggregateRule{{Column: "v", Op: datamodel.AggMedian}})
		require.NoError(t, err)
		v, _ := out.Column("v")
		assert.Equal(t, 5.0, v.Value(0))
	})

	t.Run("count and n_unique ignore nulls", func(t *testing.T) {
		g, _ := New(
			NewIntSeries("k", []int64{1, 1, 1}, nil),
			NewStringSeries("v", []string{"a", "", "a"}, []bool{false, true, false}),
		)
		out, err := GroupByAggregate(g, "k", []AggregateRule{
			{Column: "v", Op: datamodel.AggCount},
		})
		require.NoError(t, err)
		v, _ := out.Column("v")
		assert.Equal(t, int64(2), v.Value(0))

		out, err = GroupByAggregate(g, "k", []AggregateRule{
			{Column: "v", Op: datamodel.AggNUniq},
		})
		require.NoError(t, err)
		v, _ = out.Column("v")
		assert.Equal(t, int64(1), v.Value(0))
	})

	t.Run("mode picks most frequent with first-seen ties", func(t *testing.T) {
		g, _ := New(
			NewIntSeries("k", []int64{1, 1, 1, 1}, nil),
			NewStringSeries("v", []string{"x", "y", "y", "x"}, nil),
		)
		out, err := GroupByAggregate(g, "k", []AggregateRule{{Column: "v", Op: datamodel.AggMode}})
		require.NoError(t, err)
		v, _ := out.Column("v")
		assert.Equal(t, "x", v.Value(0))
	})

	t.Run("first and last on categoricals", func(t *testing.T) {
		g, _ := New(
			NewIntSeries("k", []int64{7, 7}, nil),
			NewStringSeries("name", []string{"first", "second"}, nil),
		)
		out, err := GroupByAggregate(g, "k", []AggregateRule{{Column: "name", Op: datamodel.AggFirst}})
		require.NoError(t, err)
		name, _ := out.Column("name")
		assert.Equal(t, "first", name.Value(0))

		out, err = GroupByAggregate(g, "k", []AggregateRule{{Column: "name", Op: datamodel.AggLast}})
		require.NoError(t, err)
		name, _ = out.Column("name")
		assert.Equal(t, "second", name.Value(0))
	})

	t.Run("arithmetic on categorical is type-error", func(t *testing.T) {
		g, _ := New(
			NewIntSeries("k", []int64{1}, nil),
			NewStringSeries("v", []string{"x"}, nil),
		)
		_, err := GroupByAggregate(g, "k", []AggregateRule{{Column: "v", Op: datamodel.AggMean}})
		require.Error(t, err)
		assert.Equal(t, datamodel.KindTypeError, datamodel.KindOf(err))
	})

	t.Run("groups keep first-seen order", func(t *testing.T) {
		g, _ := New(
			NewStringSeries("k", []string{"z", "a", "z"}, nil),
			NewIntSeries("v", []int64{1, 2, 3}, nil),
		)
		out, err := GroupByAggregate(g, "k", []AggregateRule{{Column: "v", Op: datamodel.AggSum}})
		require.NoError(t, err)
		k, _ := out.Column("k")
		assert.Equal(t, "z", k.Value(0))
		assert.Equal(t, "a", k.Value(1))
	})
}
