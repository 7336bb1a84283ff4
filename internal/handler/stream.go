package handler

import (
	"net/http"
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamSession handles GET /api/v1/map-sessions/:id/stream
//
// Upgrades to a WebSocket. The first message is the current snapshot; after
// that every snapshot and notice of the session is pushed as
// {"type":"snapshot"|"notice","sessionId":"...","data":{...}}. The socket
// closes when the session is deleted.
func (h *Handler) StreamSession(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming is not enabled"})
		return
	}

	id := c.Param("id")
	client, ok := h.attachViewer(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "map session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.hub.Unregister(client)
		h.log.Debug("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}

	log := h.log.With(zap.String("session_id", id))
	log.Debug("viewer connected")

	if snap, err := h.sessions.Get(id); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(stream.Event{Type: stream.EventSnapshot, SessionID: id, Data: snap}); err != nil {
			h.hub.Unregister(client)
			_ = conn.Close()
			return
		}
	}

	go h.readPump(conn, client, log)
	h.writePump(conn, client, log)
}

// attachViewer registers a viewer for id, then confirms the session is
// live. Unmount removes the session before closing its viewers, so a
// viewer that passes the check is always closed with the session.
func (h *Handler) attachViewer(id string) (*stream.Client, bool) {
	client := h.hub.Register(id)
	if !h.sessions.Exists(id) {
		h.hub.Unregister(client)
		return nil, false
	}
	return client, true
}

// readPump drains the socket so control frames are processed, and
// unregisters the viewer once the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, client *stream.Client, log *zap.Logger) {
	defer h.hub.Unregister(client)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("viewer read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *stream.Client, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		log.Debug("viewer disconnected")
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.hub.Unregister(client)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Unregister(client)
				return
			}
		}
	}
}
