package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/depictio/depictio/services/backend/middleware"
	"github.com/depictio/depictio/services/backend/observability"
	"github.com/depictio/depictio/services/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
}

const (
	// eventsPingInterval paces keepalive pings to the client.
	eventsPingInterval = 30 * time.Second

	// eventsWriteTimeout bounds every outbound write.
	eventsWriteTimeout = 10 * time.Second
)

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleEventsWebSocket upgrades the connection and streams bus events
// to the session. The dashboard_id query param narrows the feed to one
// dashboard; without it the session receives every event. The user
// identity comes from the authenticated request, overridable via the
// user_id query param for service tokens acting on a user's behalf.
func HandleEventsWebSocket(hub *events.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			if info := middleware.GetAuthInfo(c); info != nil {
				userID = info.UserID
			}
		}
		dashboardID := c.Query("dashboard_id")

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sub := hub.Subscribe(events.SubscriberKey{UserID: userID, DashboardID: dashboardID})
		defer sub.Close()

		if m := observability.DefaultMetrics; m != nil {
			m.SessionStarted()
			defer m.SessionEnded()
		}

		slog.Info("Event session connected",
			"subscription", sub.ID, "user", userID, "dashboard", dashboardID)

		if err := sendJSON(ws, map[string]any{
			"action":     "session_created",
			"session_id": sub.ID,
		}); err != nil {
			return
		}

		// The client sends nothing meaningful; the read loop exists to
		// notice the disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(eventsPingInterval)
		defer ticker.Stop()

		var reportedDrops int64
		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					// Hub closed; tell the client before hanging up.
					ws.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
					sendJSON(ws, map[string]any{"action": "server_closing"})
					return
				}
				ws.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
				if err := sendJSON(ws, ev); err != nil {
					return
				}

			case <-ticker.C:
				ws.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					slog.Info("Event session disconnected", "subscription", sub.ID, "error", err.Error())
					return
				}
				if m := observability.DefaultMetrics; m != nil {
					if d := sub.Dropped(); d > reportedDrops {
						m.RecordEventsDropped(int(d - reportedDrops))
						reportedDrops = d
					}
				}

			case <-done:
				slog.Info("Event session disconnected", "subscription", sub.ID)
				return
			}
		}
	}
}
