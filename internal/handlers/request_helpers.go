package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-core/internal/middleware"
	"chat-core/internal/service"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) int64 {
	return c.GetInt64(middleware.UserIDKey)
}

func parseRoomID(c *gin.Context) (int64, bool) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id", "code": service.CodeUnknownRoom})
		return 0, false
	}
	return roomID, true
}

// parseCursor reads an optional int64 query parameter.
func parseCursor(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": service.CodeInvalidCursor})
		return nil, false
	}
	return &v, true
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	if ve, ok := service.AsValidation(err); ok {
		status := http.StatusBadRequest
		switch ve.Code {
		case service.CodeUnknownRoom:
			status = http.StatusNotFound
		case service.CodeNotParticipant:
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": ve.Message, "code": ve.Code})
		return
	}
	if _, ok := service.AsDurability(err); ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable", "code": "unavailable", "request_id": requestIDFromContext(c)})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal", "request_id": requestIDFromContext(c)})
}
