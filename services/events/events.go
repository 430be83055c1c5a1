// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans platform notifications out to dashboard sessions.
// Publishers hand the hub an envelope and return immediately; each
// subscriber owns a bounded FIFO queue, and when a slow consumer falls
// behind the oldest undelivered events are dropped and counted rather
// than ever blocking a publisher.
package events

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
)

// Topic names carried in the envelope's event_type.
const (
	TopicDataCollectionCreated = "data_collection_created"
	TopicDataCollectionUpdated = "data_collection_updated"
	TopicJoinCompleted         = "join_completed"
)

// Event is the wire envelope delivered to websocket sessions.
type Event struct {
	EventType        string         `json:"event_type"`
	TimestampISO     string         `json:"timestamp_iso"`
	DashboardID      string         `json:"dashboard_id,omitempty"`
	DataCollectionID string         `json:"data_collection_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
}

// SubscriberKey identifies a websocket session. An empty DashboardID
// subscribes to events for every dashboard.
type SubscriberKey struct {
	UserID      string
	DashboardID string
}

// Config tunes the hub.
type Config struct {
	// QueueSize bounds each subscriber's undelivered backlog.
	// Default: 64.
	QueueSize int

	// Logger receives structured hub logs.
	// Default: slog.Default().
	Logger *slog.Logger

	// Now stamps outgoing envelopes.
	// Default: time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// DataCollectionChanged publishes a data_collection_updated event for one
// collection's content change.
func (h *Hub) DataCollectionChanged(dcID primitive.ObjectID, tag string, op datamodel.ChangeOp) {
	h.Publish(Event{
		EventType:        TopicDataCollectionUpdated,
		DataCollectionID: dcID.Hex(),
		Payload: map[string]any{
			"dc_id":               dcID.Hex(),
			"data_collection_tag": tag,
			"operation":           string(op),
		},
	})
}

// DataCollectionCreated publishes a data_collection_created event for a
// newly declared collection.
func (h *Hub) DataCollectionCreated(dcID primitive.ObjectID, tag string) {
	h.Publish(Event{
		EventType:        TopicDataCollectionCreated,
		DataCollectionID: dcID.Hex(),
		Payload: map[string]any{
			"dc_id":               dcID.Hex(),
			"data_collection_tag": tag,
		},
	})
}

// JoinCompleted announces a persisted join result.
func (h *Hub) JoinCompleted(joinName string, resultDCID primitive.ObjectID) {
	h.Publish(Event{
		EventType:        TopicJoinCompleted,
		DataCollectionID: resultDCID.Hex(),
		Payload: map[string]any{
			"join_name":    joinName,
			"result_dc_id": resultDCID.Hex(),
		},
	})
}

// Notifier adapts the hub to the scan engine's notification seam.
type Notifier struct {
	hub *Hub
}

// NewNotifier wraps hub for use as a scan notifier.
func NewNotifier(hub *Hub) *Notifier { return &Notifier{hub: hub} }

// DataCollectionChanged forwards a scan-detected change to the hub. The
// context is unused; publishing never blocks.
func (n *Notifier) DataCollectionChanged(_ context.Context, dcID primitive.ObjectID, tag string, op datamodel.ChangeOp) {
	n.hub.DataCollectionChanged(dcID, tag, op)
}
