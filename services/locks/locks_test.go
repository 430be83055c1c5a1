// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, mut func(*Config)) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := Config{
		Client: client,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mut != nil {
		mut(&cfg)
	}
	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	return mgr, mr
}

func TestNewManagerRequiresClient(t *testing.T) {
	_, err := NewManager(Config{})
	assert.ErrorContains(t, err, "Client")
}

func TestAcquireMutualExclusion(t *testing.T) {
	mgr, _ := newManager(t, nil)
	ctx := context.Background()
	key := LockKey("update-graph", 3)

	assert.True(t, mgr.Acquire(ctx, key, "worker-a", time.Minute))
	assert.False(t, mgr.Acquire(ctx, key, "worker-b", time.Minute))

	// An unrelated key is not affected.
	assert.True(t, mgr.Acquire(ctx, LockKey("update-graph", 4), "worker-b", time.Minute))
}

func TestAcquireExpiry(t *testing.T) {
	mgr, mr := newManager(t, nil)
	ctx := context.Background()
	key := LockKey("update-table", 0)

	require.True(t, mgr.Acquire(ctx, key, "worker-a", time.Second))
	require.False(t, mgr.Acquire(ctx, key, "worker-b", time.Second))

	mr.FastForward(1100 * time.Millisecond)
	assert.True(t, mgr.Acquire(ctx, key, "worker-b", time.Second))
}

func TestAcquireDefaultTTL(t *testing.T) {
	mgr, mr := newManager(t, func(c *Config) { c.TTL = 5 * time.Second })
	ctx := context.Background()
	key := LockKey("update-card", 1)

	require.True(t, mgr.Acquire(ctx, key, "worker-a", 0))
	assert.Equal(t, 5*time.Second, mr.TTL(key))
}

func TestReleaseOnlyHolder(t *testing.T) {
	mgr, _ := newManager(t, nil)
	ctx := context.Background()
	key := LockKey("update-graph", 0)

	require.True(t, mgr.Acquire(ctx, key, "worker-a", time.Minute))

	t.Run("stranger cannot release", func(t *testing.T) {
		assert.False(t, mgr.Release(ctx, key, "worker-b"))
		assert.False(t, mgr.Acquire(ctx, key, "worker-b", time.Minute))
	})

	t.Run("holder releases", func(t *testing.T) {
		assert.True(t, mgr.Release(ctx, key, "worker-a"))
		assert.True(t, mgr.Acquire(ctx, key, "worker-b", time.Minute))
	})

	t.Run("release without lock", func(t *testing.T) {
		assert.False(t, mgr.Release(ctx, LockKey("never-held", 0), "worker-a"))
	})
}

func TestAcquireFailsOpen(t *testing.T) {
	mgr, mr := newManager(t, nil)
	ctx := context.Background()
	mr.Close()

	assert.True(t, mgr.Acquire(ctx, "depictio:lock:down", "worker-a", time.Minute))
	assert.False(t, mgr.Release(ctx, "depictio:lock:down", "worker-a"))
}

func TestDo(t *testing.T) {
	mgr, _ := newManager(t, nil)
	ctx := context.Background()
	key := LockKey("render", 7)

	t.Run("runs and releases", func(t *testing.T) {
		ran, err := mgr.Do(ctx, key, func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.True(t, ran)
		assert.True(t, mgr.Acquire(ctx, key, "worker-b", time.Minute))
		require.True(t, mgr.Release(ctx, key, "worker-b"))
	})

	t.Run("propagates fn error", func(t *testing.T) {
		wantErr := errors.New("render failed")
		ran, err := mgr.Do(ctx, key, func(context.Context) error { return wantErr })
		assert.ErrorIs(t, err, wantErr)
		assert.True(t, ran)
	})

	t.Run("skips when held", func(t *testing.T) {
		require.True(t, mgr.Acquire(ctx, key, "worker-a", time.Minute))
		called := false
		ran, err := mgr.Do(ctx, key, func(context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, ran)
		assert.False(t, called)
	})

	t.Run("releases after cancellation", func(t *testing.T) {
		key := LockKey("render", 8)
		cancelCtx, cancel := context.WithCancel(ctx)
		ran, err := mgr.Do(cancelCtx, key, func(inner context.Context) error {
			cancel()
			return inner.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, ran)
		assert.True(t, mgr.Acquire(ctx, key, "worker-b", time.Minute))
	})
}

func TestLockKey(t *testing.T) {
	k := LockKey("update-graph", 3)
	assert.True(t, strings.HasPrefix(k, "depictio:lock:"))
	assert.Len(t, k, len("depictio:lock:")+16)
	assert.Equal(t, k, LockKey("update-graph", 3))
	assert.NotEqual(t, k, LockKey("update-graph", 4))
	assert.NotEqual(t, k, LockKey("update-table", 3))
}
