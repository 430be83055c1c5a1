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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHash(t *testing.T) {
	t.Run("known vector", func(t *testing.T) {
		h := FileHash("a.csv", 10, "2025-01-01 10:00:00", "2025-01-01 10:00:00")
		assert.Equal(t, "99168e3c08765fd6ce1b9a8a8302602e483422875f570345956a1efa79184b70", h)
	})

	t.Run("deterministic and well formed", func(t *testing.T) {
		a := FileHash("sample.parquet", 123456, "2024-06-01 00:00:00", "2024-06-02 12:30:00")
		b := FileHash("sample.parquet", 123456, "2024-06-01 00:00:00", "2024-06-02 12:30:00")
		assert.Equal(t, a, b)
		assert.True(t, ValidHash(a))
	})

	t.Run("sensitive to every field", func(t *testing.T) {
		base := FileHash("f", 1, "2024-01-01 00:00:00", "2024-01-01 00:00:00")
		assert.NotEqual(t, base, FileHash("g", 1, "2024-01-01 00:00:00", "2024-01-01 00:00:00"))
		assert.NotEqual(t, base, FileHash("f", 2, "2024-01-01 00:00:00", "2024-01-01 00:00:00"))
		assert.NotEqual(t, base, FileHash("f", 1, "2024-01-01 00:00:01", "2024-01-01 00:00:00"))
		assert.NotEqual(t, base, FileHash("f", 1, "2024-01-01 00:00:00", "2024-01-01 00:00:01"))
	})
}

func TestRunHash(t *testing.T) {
	ct := "2025-01-01 10:00:00"
	mt := "2025-01-01 10:00:00"
	fh := FileHash("a.csv", 10, ct, mt)

	t.Run("known vector", func(t *testing.T) {
		h := RunHash("/data/rn", ct, mt, []string{fh})
		assert.Equal(t, "36d76f44a0435f2a9591dc5c11edc0e1bd4da77b4591a84b344e8f026f4c9d0c", h)
	})

	t.Run("order independent over files", func(t *testing.T) {
		hashes := []string{
			FileHash("a.csv", 1, ct, mt),
			FileHash("b.csv", 2, ct, mt),
			FileHash("c.csv", 3, ct, mt),
		}
		permuted := []string{hashes[2], hashes[0], hashes[1]}
		assert.Equal(t, RunHash("/data/x", ct, mt, hashes), RunHash("/data/x", ct, mt, permuted))
	})

	t.Run("does not mutate input slice", func(t *testing.T) {
		hashes := []string{"bbb", "aaa"}
		_ = RunHash("/data/x", ct, mt, hashes)
		require.Equal(t, []string{"bbb", "aaa"}, hashes)
	})

	t.Run("empty file set is legal", func(t *testing.T) {
		h := RunHash("/data/empty", ct, mt, nil)
		assert.True(t, ValidHash(h))
	})
}
