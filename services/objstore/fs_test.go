// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T) *FSBucket {
	t.Helper()
	b, err := NewFSBucket(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestFSBucketRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t)

	require.NoError(t, b.Upload(ctx, "tables/t1/part-0.json", strings.NewReader("hello world")))

	t.Run("download", func(t *testing.T) {
		rc, err := b.Download(ctx, "tables/t1/part-0.json")
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("size", func(t *testing.T) {
		n, err := b.Size(ctx, "tables/t1/part-0.json")
		require.NoError(t, err)
		assert.Equal(t, int64(11), n)
	})

	t.Run("exists", func(t *testing.T) {
		ok, err := b.Exists(ctx, "tables/t1/part-0.json")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.Exists(ctx, "tables/t1/absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("byte range", func(t *testing.T) {
		rc, err := b.DownloadRange(ctx, "tables/t1/part-0.json", 6, 5)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "world", string(data))
	})

	t.Run("open range to end", func(t *testing.T) {
		rc, err := b.DownloadRange(ctx, "tables/t1/part-0.json", 6, -1)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "world", string(data))
	})
}

func TestFSBucketMissingObject(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t)

	_, err := b.Download(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotExist)

	_, err = b.Size(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotExist)

	// Deleting a missing key is not an error.
	assert.NoError(t, b.Delete(ctx, "nope"))
}

func TestFSBucketList(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t)

	require.NoError(t, b.Upload(ctx, "t1/_delta_log/0000000000.json", strings.NewReader("{}")))
	require.NoError(t, b.Upload(ctx, "t1/_delta_log/0000000001.json", strings.NewReader("{}")))
	require.NoError(t, b.Upload(ctx, "t1/part-00000.json", strings.NewReader("{}")))
	require.NoError(t, b.Upload(ctx, "t2/part-00000.json", strings.NewReader("{}")))

	keys, err := b.List(ctx, "t1/_delta_log/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"t1/_delta_log/0000000000.json",
		"t1/_delta_log/0000000001.json",
	}, keys)

	keys, err = b.List(ctx, "t1/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	keys, err = b.List(ctx, "absent/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFSBucketOverwrite(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t)

	require.NoError(t, b.Upload(ctx, "k", strings.NewReader("v1")))
	require.NoError(t, b.Upload(ctx, "k", strings.NewReader("v2")))

	data, err := ReadAll(ctx, b, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
