package handlers

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"shadow-sync/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Native app instances send no Origin header; browsers get the
		// localhost allowance the HTTP middleware also grants.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

type WSHandler struct {
	hub *hub.Hub
}

func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// HandleWebSocket upgrades the connection and validates the handshake. A
// missing client identifier closes the channel immediately with no record
// created and no diagnostic sent to the peer; it is logged server-side only.
// Admin consoles may instead declare role=admin: they hold no identifier and
// never appear in the registry, but still have to send the join message to
// enter the broadcast group.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}

	clientID := c.Query("clientId")
	if clientID == "" && c.Query("role") != "admin" {
		slog.Warn("Rejecting connection without client identifier", "remote", c.ClientIP())
		conn.Close()
		return
	}

	h.hub.ServeWS(conn, clientID)
}
