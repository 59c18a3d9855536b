package chatclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/identity"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/internal/service"
	"chat-core/internal/ws"
	"chat-core/pkg/chatclient"
)

type server struct {
	url      string
	store    *repositories.MemoryStore
	hub      *ws.Hub
	messages *service.MessageService
	room     models.Room
}

func startServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zerolog.Nop()

	store := repositories.NewMemoryStore()
	room, err := store.EnsureRoom(context.Background(), "job", "job:42", 1, 2)
	require.NoError(t, err)

	hub := ws.NewHub()
	router := ws.NewRouter(hub, log)
	rooms := service.NewRoomService(store, 200)
	messages := service.NewMessageService(store, router, nil, service.MessageOptions{MaxContentRunes: 4000, DedupeWindow: 10 * time.Minute}, log)
	gw := ws.NewGateway(ws.GatewayDeps{
		Hub:      hub,
		Router:   router,
		Typing:   ws.NewTypingOverlay(time.Second),
		Limiter:  ws.NewMemoryFrameLimiter(100, time.Second),
		Resolver: identity.HeaderResolver{},
		Rooms:    rooms,
		Messages: messages,
		History:  service.NewHistoryService(rooms, store, 50, 100, log),
	}, ws.GatewayOptions{SendQueueSize: 64}, log)

	engine := gin.New()
	engine.GET("/ws", gw.Handle)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &server{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		store:    store,
		hub:      hub,
		messages: messages,
		room:     room,
	}
}

func startClient(t *testing.T, s *server, userID string) *chatclient.Client {
	t.Helper()
	header := http.Header{}
	header.Set(identity.HeaderUserID, userID)
	c := chatclient.New(1, chatclient.Options{
		URL:         s.url,
		Header:      header,
		SendTimeout: 2 * time.Second,
		MinBackoff:  10 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, c.Subscribe(context.Background(), s.room.ID))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
	return c
}

func contents(entries []chatclient.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Content)
	}
	return out
}

func TestClientSendAndReceive(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	_, err := s.store.Persist(ctx, models.NewMessage{RoomID: s.room.ID, SenderID: 2, Content: "earlier"})
	require.NoError(t, err)

	c := startClient(t, s, "1")
	rec := c.Reconciler()
	require.Eventually(t, func() bool { return len(rec.Messages(s.room.ID)) == 1 }, 2*time.Second, 10*time.Millisecond)

	entry, err := c.Send(ctx, s.room.ID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, chatclient.StatusPending, entry.Status)

	require.Eventually(t, func() bool {
		msgs := rec.Messages(s.room.ID)
		return len(msgs) == 2 && msgs[1].Status == chatclient.StatusSent
	}, 2*time.Second, 10*time.Millisecond)
	msgs := rec.Messages(s.room.ID)
	assert.Equal(t, int64(2), msgs[1].ID)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, entry.TempID, msgs[1].TempID)

	_, err = s.messages.Send(ctx, service.SendInput{RoomID: s.room.ID, SenderID: 2, Content: "reply"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.Messages(s.room.ID)) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"earlier", "hello", "reply"}, contents(rec.Messages(s.room.ID)))
}

func TestClientReconnectCatchesUp(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	c := startClient(t, s, "1")
	rec := c.Reconciler()
	require.Eventually(t, func() bool { return s.hub.SessionForUser(1) != nil }, 2*time.Second, 10*time.Millisecond)

	_, err := s.messages.Send(ctx, service.SendInput{RoomID: s.room.ID, SenderID: 2, Content: "live"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.LastKnownID(s.room.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	// Written straight to the store, so only the catch-up after reconnect can see them.
	for _, text := range []string{"missed 1", "missed 2", "missed 3"} {
		_, err := s.store.Persist(ctx, models.NewMessage{RoomID: s.room.ID, SenderID: 2, Content: text})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.hub.CloseAll(ws.ReasonShutdown))

	require.Eventually(t, func() bool { return rec.LastKnownID(s.room.ID) == 4 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"live", "missed 1", "missed 2", "missed 3"}, contents(rec.Messages(s.room.ID)))
	assert.True(t, c.Connected())
}

func TestClientWriteWhileDisconnected(t *testing.T) {
	c := chatclient.New(1, chatclient.Options{URL: "ws://127.0.0.1:1/ws", Logger: zerolog.Nop()})

	entry, err := c.Send(context.Background(), 5, "offline")
	assert.ErrorIs(t, err, chatclient.ErrNotConnected)
	assert.Equal(t, chatclient.StatusFailed, entry.Status)

	msgs := c.Reconciler().Messages(5)
	require.Len(t, msgs, 1)
	assert.Equal(t, chatclient.StatusFailed, msgs[0].Status)

	_, err = c.Retry(context.Background(), 5, entry.TempID)
	assert.ErrorIs(t, err, chatclient.ErrNotConnected)
	assert.NoError(t, c.Subscribe(context.Background(), 5))
	assert.False(t, c.Connected())
}
