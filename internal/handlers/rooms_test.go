package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-core/internal/middleware"
	"chat-core/internal/mocks"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/internal/service"
	"chat-core/internal/ws"
	"chat-core/pkg/protocol"
)

type roomFixture struct {
	router *gin.Engine
	store  *repositories.MemoryStore
	room   models.Room
}

func setupRoomRouter(t *testing.T, userID int64) *roomFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	store := repositories.NewMemoryStore()
	room, err := store.EnsureRoom(context.Background(), "job", "job:1", 1, 2)
	require.NoError(t, err)

	rooms := service.NewRoomService(store, 200)
	messages := service.NewMessageService(store, ws.NewRouter(ws.NewHub(), log), nil, service.MessageOptions{MaxContentRunes: 4000, DedupeWindow: 10 * time.Minute}, log)
	handler := NewRoomHandler(rooms, messages, service.NewHistoryService(rooms, store, 50, 100, log))

	r := gin.New()
	r.POST("/internal/rooms", middleware.InternalToken("tok"), handler.EnsureRoom)
	authed := r.Group("/")
	authed.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	handler.RegisterRoutes(authed)
	return &roomFixture{router: r, store: store, room: room}
}

func (f *roomFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-Internal-Token", "tok")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func roomPath(id int64, suffix string) string {
	return "/rooms/" + strconv.FormatInt(id, 10) + suffix
}

func TestPostAndListMessages(t *testing.T) {
	f := setupRoomRouter(t, 1)

	rec := f.do(t, http.MethodPost, roomPath(f.room.ID, "/messages"), `{"content":" hi ","temp_id":"t1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Message   protocol.Message `json:"message"`
		Duplicate bool             `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "hi", created.Message.Content)
	assert.Equal(t, "t1", created.Message.TempID)
	assert.False(t, created.Duplicate)

	rec = f.do(t, http.MethodPost, roomPath(f.room.ID, "/messages"), `{"content":"hi","temp_id":"t2","retry_of":"t1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Duplicate)

	rec = f.do(t, http.MethodGet, roomPath(f.room.ID, "/messages?limit=10"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page protocol.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Count)
	assert.False(t, page.HasMore)
	require.NotNil(t, page.NewestID)
	assert.Equal(t, int64(1), *page.NewestID)

	rec = f.do(t, http.MethodGet, "/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rooms []protocol.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Rooms, 1)
	require.NotNil(t, list.Rooms[0].LastMessage)
	assert.Equal(t, "hi", list.Rooms[0].LastMessage.Content)
}

func TestEmptyRoomPage(t *testing.T) {
	f := setupRoomRouter(t, 2)

	rec := f.do(t, http.MethodGet, roomPath(f.room.ID, "/messages"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[],"has_more":false,"count":0,"oldest_id":null,"newest_id":null}`, rec.Body.String())
}

func TestMessageErrorsMapToStatuses(t *testing.T) {
	f := setupRoomRouter(t, 3)

	rec := f.do(t, http.MethodGet, roomPath(f.room.ID, "/messages"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), service.CodeNotParticipant)

	rec = f.do(t, http.MethodGet, roomPath(999, "/messages"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/rooms/abc/messages", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f = setupRoomRouter(t, 1)
	rec = f.do(t, http.MethodGet, roomPath(f.room.ID, "/messages?before=5&after=1"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), service.CodeInvalidCursor)

	rec = f.do(t, http.MethodGet, roomPath(f.room.ID, "/messages?before=x"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, roomPath(f.room.ID, "/messages"), `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), service.CodeEmptyContent)
}

func TestMarkReadEndpoint(t *testing.T) {
	f := setupRoomRouter(t, 2)
	for _, content := range []string{"a", "b"} {
		_, err := f.store.Persist(context.Background(), models.NewMessage{RoomID: f.room.ID, SenderID: 1, Content: content})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodPost, roomPath(f.room.ID, "/read"), `{"up_to_id":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"room_id":`+strconv.FormatInt(f.room.ID, 10)+`,"up_to_id":2,"unread_count":0}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, roomPath(f.room.ID, "/read"), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnsureRoomEndpoint(t *testing.T) {
	f := setupRoomRouter(t, 1)

	rec := f.do(t, http.MethodPost, "/internal/rooms", `{"type":"job","context_ref":"job:1","participants":[2,1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		RoomID       int64   `json:"room_id"`
		Participants []int64 `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.room.ID, resp.RoomID)
	assert.Equal(t, []int64{1, 2}, resp.Participants)

	rec = f.do(t, http.MethodPost, "/internal/rooms", `{"context_ref":"job:1","participants":[2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/internal/rooms", `{"context_ref":"job:1","participants":[2,2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), service.CodeInvalidParticipants)
}

func TestListRoomsStorageFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := new(mocks.RoomRepositoryMock)
	repo.On("ListRoomsForUser", mock.Anything, int64(1), 200).Return(nil, assert.AnError).Once()
	handler := NewRoomHandler(service.NewRoomService(repo, 200), nil, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.UserIDKey, int64(1)); c.Next() })
	r.GET("/rooms", handler.ListRooms)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	repo.AssertExpectations(t)
}
