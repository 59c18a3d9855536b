package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-core/internal/service"
	"chat-core/pkg/protocol"
)

// RoomHandler is the non-realtime fallback surface.
type RoomHandler struct {
	rooms    *service.RoomService
	messages *service.MessageService
	history  *service.HistoryService
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms *service.RoomService, messages *service.MessageService, history *service.HistoryService) *RoomHandler {
	return &RoomHandler{rooms: rooms, messages: messages, history: history}
}

// RegisterRoutes mounts the user-facing routes on an authenticated group.
func (h *RoomHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/rooms", h.ListRooms)
	r.GET("/rooms/:room_id/messages", h.GetMessages)
	r.POST("/rooms/:room_id/messages", h.PostMessage)
	r.POST("/rooms/:room_id/read", h.MarkRead)
}

// ListRooms returns the rooms of the authenticated user, most recently active first.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetMessages returns one page of history and marks it read.
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	before, ok := parseCursor(c, "before")
	if !ok {
		return
	}
	after, ok := parseCursor(c, "after")
	if !ok {
		return
	}
	limit, ok := parseCursor(c, "limit")
	if !ok {
		return
	}

	req := service.PageRequest{BeforeID: before, AfterID: after}
	if limit != nil {
		req.Limit = int(*limit)
	}

	page, _, err := h.history.GetMessages(c.Request.Context(), userIDFromContext(c), roomID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type postMessageRequest struct {
	Content string `json:"content"`
	TempID  string `json:"temp_id"`
	RetryOf string `json:"retry_of"`
}

// PostMessage persists a message. Live subscribers get it over the realtime connection.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "code": protocol.CodeBadFrame})
		return
	}

	res, err := h.messages.Send(c.Request.Context(), service.SendInput{
		RoomID:   roomID,
		SenderID: userIDFromContext(c),
		Content:  req.Content,
		TempID:   req.TempID,
		RetryOf:  req.RetryOf,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	msg := res.Message
	msg.TempID = res.TempID
	c.JSON(http.StatusCreated, gin.H{"message": msg, "duplicate": res.Duplicate})
}

// MarkRead moves the caller's read watermark.
func (h *RoomHandler) MarkRead(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	var req struct {
		UpToID int64 `json:"up_to_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "up_to_id is required", "code": service.CodeInvalidCursor})
		return
	}

	state, err := h.history.MarkRead(c.Request.Context(), userIDFromContext(c), roomID, req.UpToID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, protocol.ReadState{RoomID: roomID, UpToID: state.LastReadID, UnreadCount: state.UnreadCount})
}

type ensureRoomRequest struct {
	Type         string  `json:"type"`
	ContextRef   string  `json:"context_ref"`
	Participants []int64 `json:"participants" binding:"required,len=2"`
}

// EnsureRoom is the provisioning endpoint for the collaborator that owns room contexts.
func (h *RoomHandler) EnsureRoom(c *gin.Context) {
	var req ensureRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participants must name two users", "code": service.CodeInvalidParticipants})
		return
	}

	room, err := h.rooms.EnsureRoom(c.Request.Context(), req.Type, req.ContextRef, req.Participants[0], req.Participants[1])
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room_id":      room.ID,
		"type":         room.Type,
		"context_ref":  room.ContextRef,
		"participants": room.Participants(),
	})
}
