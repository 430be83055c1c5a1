// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/events"
)

func dialEvents(t *testing.T, hub *events.Hub, query string) (*websocket.Conn, *events.Hub) {
	t.Helper()
	router := gin.New()
	router.GET("/v1/events/ws", HandleEventsWebSocket(hub))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	target := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws, hub
}

func readEnvelope(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, ws.ReadJSON(&out))
	return out
}

func TestHandleEventsWebSocket_SessionCreated(t *testing.T) {
	hub := events.NewHub(events.Config{Logger: discardLogger()})
	defer hub.Close()
	ws, _ := dialEvents(t, hub, "?user_id=u1")

	created := readEnvelope(t, ws)

	assert.Equal(t, "session_created", created["action"])
	assert.NotEmpty(t, created["session_id"])
	assert.Equal(t, 1, hub.SubscriberCount())
}

func TestHandleEventsWebSocket_DeliversEvents(t *testing.T) {
	hub := events.NewHub(events.Config{Logger: discardLogger()})
	defer hub.Close()
	ws, _ := dialEvents(t, hub, "?user_id=u1")
	readEnvelope(t, ws)

	resultDC := datamodel.NewID()
	hub.JoinCompleted("samples--metrics", resultDC)

	ev := readEnvelope(t, ws)
	assert.Equal(t, events.TopicJoinCompleted, ev["event_type"])
	assert.Equal(t, resultDC.Hex(), ev["data_collection_id"])
	payload := ev["payload"].(map[string]any)
	assert.Equal(t, "samples--metrics", payload["join_name"])
}

func TestHandleEventsWebSocket_DashboardFilter(t *testing.T) {
	hub := events.NewHub(events.Config{Logger: discardLogger()})
	defer hub.Close()
	ws, _ := dialEvents(t, hub, "?user_id=u1&dashboard_id=dash-a")
	readEnvelope(t, ws)

	// Another dashboard's event must not reach this session.
	hub.Publish(events.Event{EventType: "other", DashboardID: "dash-b"})
	hub.Publish(events.Event{EventType: "mine", DashboardID: "dash-a"})

	ev := readEnvelope(t, ws)
	assert.Equal(t, "mine", ev["event_type"])
}

func TestHandleEventsWebSocket_ClientDisconnectDetaches(t *testing.T) {
	hub := events.NewHub(events.Config{Logger: discardLogger()})
	defer hub.Close()
	ws, _ := dialEvents(t, hub, "?user_id=u1")
	readEnvelope(t, ws)
	require.Equal(t, 1, hub.SubscriberCount())

	ws.Close()

	assert.Eventually(t, func() bool { return hub.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHandleEventsWebSocket_HubCloseNotifiesClient(t *testing.T) {
	hub := events.NewHub(events.Config{Logger: discardLogger()})
	ws, _ := dialEvents(t, hub, "?user_id=u1")
	readEnvelope(t, ws)

	hub.Close()

	ev := readEnvelope(t, ws)
	assert.Equal(t, "server_closing", ev["action"])
}
