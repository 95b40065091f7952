package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/chat-realtime/internal/presence"
)

// ConnectionCounter is the registry slice the health surface needs.
type ConnectionCounter interface {
	ActiveConnectionCount() int
}

type HealthHandler struct {
	Store presence.Store
	Conns ConnectionCounter
}

func NewHealthHandler(store presence.Store, conns ConnectionCounter) *HealthHandler {
	return &HealthHandler{Store: store, Conns: conns}
}

// Health reports liveness plus the store mode. Fallback mode is healthy
// but degraded; callers decide what to do with that.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"storeMode": h.Store.Mode().String(),
		"storeUp":   h.Store.Healthy(c.Request.Context()),
	})
}

// Connections reports the live connection count of this process.
func (h *HealthHandler) Connections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.Conns.ActiveConnectionCount()})
}
