package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-core/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, hub *ws.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/ws", func(c *gin.Context) {
		if hub == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "hub not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"hub": hub.Stats(), "request_id": requestIDFromContext(c)})
	})
}
