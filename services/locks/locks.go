// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package locks provides named, TTL-bounded mutual exclusion over Redis
// for background work that must not run twice across process replicas,
// such as a dashboard callback fanning out from several matching inputs.
//
// The lock is best-effort deduplication, not a correctness mechanism:
// writes to the metadata store are idempotent, so when the store is
// unreachable Acquire fails open and lets the work proceed. The TTL
// bounds how long a crashed holder can stall its peers.
package locks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "depictio:lock:"

// releaseScript deletes the key only when the caller still holds it, so
// a worker whose lock expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Config controls lock manager construction.
type Config struct {
	// Client is the Redis client locks are coordinated through.
	// Required.
	Client redis.UniversalClient

	// TTL is the lock lifetime used when Acquire is called without one.
	// Default: 30s
	TTL time.Duration

	// Logger receives structured logs.
	// Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager hands out named locks backed by a shared Redis store.
//
// Thread Safety: safe for concurrent use.
type Manager struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errors.New("locks: Config.Client is required")
	}
	cfg.applyDefaults()
	return &Manager{client: cfg.Client, ttl: cfg.TTL, logger: cfg.Logger}, nil
}

// Acquire claims key for workerID, reporting whether the claim won. A
// ttl of zero or less falls back to the configured default. When the
// store cannot be reached the claim succeeds so work is never blocked
// on a lock outage.
func (m *Manager) Acquire(ctx context.Context, key, workerID string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = m.ttl
	}
	won, err := m.client.SetNX(ctx, key, workerID, ttl).Result()
	if err != nil {
		m.logger.Warn("lock store unreachable, failing open",
			"key", key, "worker_id", workerID, "error", err)
		return true
	}
	if !won {
		m.logger.Debug("lock held elsewhere", "key", key, "worker_id", workerID)
	}
	return won
}

// Release gives key back if workerID still holds it. It reports false
// when the lock expired, was never held, or belongs to another worker.
func (m *Manager) Release(ctx context.Context, key, workerID string) bool {
	deleted, err := releaseScript.Run(ctx, m.client, []string{key}, workerID).Int()
	if err != nil {
		m.logger.Warn("lock release failed",
			"key", key, "worker_id", workerID, "error", err)
		return false
	}
	return deleted == 1
}

// Do runs fn under the named lock and reports whether it ran. When the
// lock is held elsewhere, fn is skipped and Do returns (false, nil).
// The lock is released when fn returns, including when fn's context was
// cancelled, which is why the release uses a detached context.
func (m *Manager) Do(ctx context.Context, key string, fn func(context.Context) error) (bool, error) {
	workerID := uuid.NewString()
	if !m.Acquire(ctx, key, workerID, 0) {
		return false, nil
	}
	defer m.Release(context.WithoutCancel(ctx), key, workerID)
	return true, fn(ctx)
}

// LockKey derives a bounded-length key from a callback name and the
// index of the component that triggered it.
func LockKey(callbackName string, componentIndex int) string {
	sum := sha256.Sum256([]byte(callbackName + ":" + strconv.Itoa(componentIndex)))
	return keyPrefix + hex.EncodeToString(sum[:8])
}
