package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAddsTypeDiscriminator(t *testing.T) {
	data, err := Encode(&Subscribed{RoomID: 7})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "subscribed", raw["type"])
	assert.Equal(t, float64(7), raw["room_id"])
}

func TestEncodeEmptyFrame(t *testing.T) {
	data, err := Encode(&GetRoomList{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"get_room_list"}`, string(data))
}

func TestEncodeMessagesFlattensPage(t *testing.T) {
	oldest, newest := int64(3), int64(4)
	data, err := Encode(&Messages{
		RoomID: 1,
		Page: Page{
			Messages: []Message{{ID: 3, RoomID: 1}, {ID: 4, RoomID: 1}},
			HasMore:  true,
			Count:    2,
			OldestID: &oldest,
			NewestID: &newest,
		},
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "messages", raw["type"])
	assert.Equal(t, true, raw["has_more"])
	assert.Equal(t, float64(2), raw["count"])
	assert.Equal(t, float64(3), raw["oldest_id"])
	assert.Len(t, raw["messages"], 2)
}

func TestEmptyPageEncodesNullCursors(t *testing.T) {
	data, err := Encode(&Messages{RoomID: 1, Page: Page{Messages: []Message{}}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["oldest_id"])
	assert.Nil(t, raw["newest_id"])
	assert.Contains(t, raw, "oldest_id")
	assert.Equal(t, false, raw["has_more"])
}

func TestDecodeClientFrames(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ClientFrame
	}{
		{"subscribe", `{"type":"subscribe_room","room_id":7}`, &SubscribeRoom{RoomID: 7}},
		{"unsubscribe", `{"type":"unsubscribe_room","room_id":7}`, &UnsubscribeRoom{RoomID: 7}},
		{"send", `{"type":"send_message","room_id":7,"content":"Hi","temp_id":"tmp-1"}`, &SendMessage{RoomID: 7, Content: "Hi", TempID: "tmp-1"}},
		{"mark read", `{"type":"mark_read","room_id":7,"up_to_id":12}`, &MarkRead{RoomID: 7, UpToID: 12}},
		{"room list", `{"type":"get_room_list"}`, &GetRoomList{}},
		{"typing", `{"type":"typing","room_id":7}`, &Typing{RoomID: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClient([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeClientGetMessagesCursor(t *testing.T) {
	got, err := DecodeClient([]byte(`{"type":"get_messages","room_id":2,"after_id":40,"limit":10}`))
	require.NoError(t, err)

	frame, ok := got.(*GetMessages)
	require.True(t, ok)
	require.NotNil(t, frame.AfterID)
	assert.Equal(t, int64(40), *frame.AfterID)
	assert.Nil(t, frame.BeforeID)
	assert.Equal(t, 10, frame.Limit)
}

func TestTypingActiveDefaultsToTrue(t *testing.T) {
	f := &Typing{RoomID: 1}
	assert.True(t, f.Active())

	stop := false
	f.IsTyping = &stop
	assert.False(t, f.Active())
}

func TestDecodeClientErrors(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"launch_rockets"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = DecodeClient([]byte(`{"room_id":1}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = DecodeClient([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeClient([]byte(`{"type":"subscribe_room","room_id":"seven"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeClientRejectsServerOnlyType(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"new_message","room_id":1}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestServerFrameRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := &NewMessage{
		RoomID:  7,
		TempID:  "tmp-abc",
		Message: Message{ID: 12, RoomID: 7, SenderID: 1, Content: "Hi", CreatedAt: created},
	}

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeServer(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeServerTypingIsTypingEvent(t *testing.T) {
	out, err := DecodeServer([]byte(`{"type":"typing","room_id":7,"user_id":2,"is_typing":true}`))
	require.NoError(t, err)
	assert.Equal(t, &TypingEvent{RoomID: 7, UserID: 2, IsTyping: true}, out)
}
