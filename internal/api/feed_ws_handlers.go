package api

import (
	"log/slog"
	"net/http"

	"github.com/bdbt/analytics/internal/feed"
	"github.com/bdbt/analytics/internal/middleware"
	"github.com/gorilla/websocket"
)

// FeedWebSocketHandlers streams the live activity feed.
type FeedWebSocketHandlers struct {
	hub      *feed.Hub
	upgrader websocket.Upgrader
}

// NewFeedWebSocketHandlers creates the live feed handler. With no allowed
// origins the upgrader only accepts same-host requests.
func NewFeedWebSocketHandlers(hub *feed.Hub, allowedOrigins []string) *FeedWebSocketHandlers {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = true
		}
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	return &FeedWebSocketHandlers{hub: hub, upgrader: upgrader}
}

// Register mounts the live feed route on mux.
func (h *FeedWebSocketHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /analytics/feed/live", h.Subscribe)
}

// Subscribe handles GET /analytics/feed/live.
// The connection receives one JSON message per new feed item until the
// client disconnects.
func (h *FeedWebSocketHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.WarnContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}

	h.hub.Subscribe(conn)
	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to activity feed",
		"request_id", requestID,
		"subscribers", h.hub.ClientCount(),
	)

	defer func() {
		h.hub.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed", "request_id", requestID)
	}()

	// Clients do not send messages; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly", "error", err)
			}
			return
		}
	}
}
