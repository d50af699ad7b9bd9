package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"shadow-sync/internal/hub"
	"shadow-sync/pkg/response"
)

type StatusHandler struct {
	hub *hub.Hub
}

func NewStatusHandler(h *hub.Hub) *StatusHandler {
	return &StatusHandler{hub: h}
}

// Healthz reports process liveness and the connected-client count.
func (h *StatusHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": h.hub.Registry().OnlineCount(),
	})
}

// ListRegistry returns the current registry as a list, read-only.
func (h *StatusHandler) ListRegistry(c *gin.Context) {
	response.OK(c, http.StatusOK, h.hub.Registry().List())
}
