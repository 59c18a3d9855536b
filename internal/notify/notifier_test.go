package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-core/internal/mocks"
	"chat-core/pkg/protocol"
)

func TestNotifierPublishesPreview(t *testing.T) {
	pub := new(mocks.PublisherMock)
	n := NewNotifier(pub, Options{RoutingKey: "notifications.chat_message", Service: "chat-core", PreviewRunes: 5}, zerolog.Nop())

	published := make(chan Envelope, 1)
	pub.On("Publish", mock.Anything, "notifications.chat_message", mock.AnythingOfType("notify.Envelope"), map[string]string{"recipient_id": "2"}).
		Run(func(args mock.Arguments) { published <- args.Get(2).(Envelope) }).
		Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	n.Notify(2, protocol.Message{ID: 3, RoomID: 7, SenderID: 1, Content: "héllo world"})

	select {
	case env := <-published:
		assert.Equal(t, "chat_message_notification", env.EventType)
		assert.Equal(t, int64(2), env.RecipientID)
		assert.Equal(t, "héllo", env.Payload.Text)
		assert.True(t, env.Payload.Truncated)
		assert.Equal(t, int64(7), env.Payload.RoomID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not published")
	}

	cancel()
	require.NoError(t, <-done)
	pub.AssertExpectations(t)
}

func TestNotifierDropsWhenQueueIsFull(t *testing.T) {
	pub := new(mocks.PublisherMock)
	n := NewNotifier(pub, Options{QueueSize: 1}, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 5; i++ {
		n.Notify(2, protocol.Message{ID: int64(i + 1), Content: "x"})
	}
	assert.Less(t, time.Since(start), time.Second, "notify never blocks")
	assert.Len(t, n.queue, 1)
}

func TestNotifierFlushesOnShutdown(t *testing.T) {
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Twice()
	n := NewNotifier(pub, Options{QueueSize: 4}, zerolog.Nop())

	n.Notify(2, protocol.Message{ID: 1, Content: "a"})
	n.Notify(3, protocol.Message{ID: 2, Content: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, n.Run(ctx))
	pub.AssertExpectations(t)

	n.Notify(4, protocol.Message{ID: 3, Content: "c"})
	assert.Empty(t, n.queue, "notifications after shutdown are ignored")
}

func TestPreview(t *testing.T) {
	text, truncated := preview("short", 10)
	assert.Equal(t, "short", text)
	assert.False(t, truncated)

	text, truncated = preview(strings.Repeat("a", 12), 10)
	assert.Len(t, text, 10)
	assert.True(t, truncated)
}
