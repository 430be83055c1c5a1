// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateStoreConfig controls OAuth state store construction.
type StateStoreConfig struct {
	// TTL is how long an issued state stays redeemable.
	// Default: 10m
	TTL time.Duration

	// SweepInterval is how often expired states are purged.
	// Default: 1m
	SweepInterval time.Duration

	// Logger receives structured logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

func (c *StateStoreConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// StateStore tracks short-lived OAuth login states in process memory.
//
// A state is issued when the login redirect is built and consumed
// exactly once when the provider calls back; anything else is a forged
// or replayed callback. A background sweeper purges states whose TTL
// passed without a callback.
//
// Thread Safety: safe for concurrent use.
type StateStore struct {
	mu     sync.Mutex
	states map[string]time.Time

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewStateStore builds a StateStore and starts its sweeper.
func NewStateStore(cfg StateStoreConfig) *StateStore {
	cfg.applyDefaults()
	s := &StateStore{
		states: make(map[string]time.Time),
		ttl:    cfg.TTL,
		now:    cfg.Now,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
	go s.sweepLoop(cfg.SweepInterval)
	return s
}

// Issue registers and returns a fresh state value.
func (s *StateStore) Issue() string {
	state := uuid.NewString()
	s.mu.Lock()
	s.states[state] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return state
}

// Consume redeems a state, reporting whether it was valid. A state can
// be consumed at most once; expired and unknown states report false.
func (s *StateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return s.now().Before(expiry)
}

// Len returns the number of outstanding states.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Close stops the sweeper. Outstanding states stay consumable until
// their expiry is checked by Consume.
func (s *StateStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *StateStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *StateStore) sweep() {
	now := s.now()
	s.mu.Lock()
	removed := 0
	for state, expiry := range s.states {
		if !now.Before(expiry) {
			delete(s.states, state)
			removed++
		}
	}
	remaining := len(s.states)
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Debug("swept expired oauth states",
			"removed", removed, "remaining", remaining)
	}
}
