// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub routes events to subscribers.
//
// Thread Safety: safe for concurrent use.
type Hub struct {
	queueSize int
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// NewHub builds a hub from cfg.
func NewHub(cfg Config) *Hub {
	cfg.applyDefaults()
	return &Hub{
		queueSize: cfg.QueueSize,
		logger:    cfg.Logger,
		now:       cfg.Now,
		subs:      make(map[string]*Subscription),
	}
}

// Subscription is one session's view of the hub. Events arrive on the
// channel in publish order; when the queue overflows, the oldest queued
// events are dropped and counted.
type Subscription struct {
	// ID uniquely names the subscription.
	ID string

	// Key is the session identity the subscription was opened with.
	Key SubscriberKey

	hub     *Hub
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int64
}

// Events is the delivery channel. It closes when the subscription or the
// hub closes.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped reports how many events were discarded because the queue was
// full.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() { s.hub.unsubscribe(s) }

// Subscribe attaches a session. Subscribing to a closed hub yields an
// already-closed subscription.
func (h *Hub) Subscribe(key SubscriberKey) *Subscription {
	sub := &Subscription{
		ID:  uuid.NewString(),
		Key: key,
		hub: h,
		ch:  make(chan Event, h.queueSize),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.closed = true
		close(sub.ch)
		return sub
	}
	h.subs[sub.ID] = sub
	active := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("subscriber attached",
		"subscription", sub.ID,
		"user", key.UserID,
		"dashboard", key.DashboardID,
		"active", active)
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, present := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	h.mu.Unlock()

	sub.mu.Lock()
	already := sub.closed
	if !already {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()

	if present && !already {
		h.logger.Debug("subscriber detached", "subscription", sub.ID)
	}
}

// SubscriberCount reports the number of attached sessions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish stamps the envelope and hands it to every matching subscriber.
// It never blocks on slow consumers.
func (h *Hub) Publish(ev Event) {
	if ev.TimestampISO == "" {
		ev.TimestampISO = h.now().UTC().Format(time.RFC3339)
	}
	h.mu.RLock()
	matched := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.wants(ev) {
			matched = append(matched, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range matched {
		s.deliver(ev)
	}
	h.logger.Debug("event published",
		"event_type", ev.EventType,
		"dashboard", ev.DashboardID,
		"delivered", len(matched))
}

// Close detaches every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
		s.mu.Unlock()
	}
	h.logger.Debug("event hub closed", "detached", len(subs))
}

// wants applies the dashboard filter: dashboard-scoped events reach the
// matching dashboard's sessions plus unfiltered sessions; events without
// a dashboard reach everyone.
func (s *Subscription) wants(ev Event) bool {
	if ev.DashboardID == "" || s.Key.DashboardID == "" {
		return true
	}
	return ev.DashboardID == s.Key.DashboardID
}

// deliver enqueues without blocking. The subscription lock serializes
// producers so the queue stays FIFO; a full queue sheds its oldest entry
// to make room.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}
