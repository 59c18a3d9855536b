// Package protocol defines the JSON frames exchanged over the realtime chat connection.
//
// Every frame is a JSON object with a "type" discriminator. The set of frames is closed:
// Decode only ever returns one of the concrete types declared here.
package protocol

import "time"

// Client to server frame types.
const (
	TypeSubscribeRoom   = "subscribe_room"
	TypeUnsubscribeRoom = "unsubscribe_room"
	TypeSendMessage     = "send_message"
	TypeTyping          = "typing"
	TypeMarkRead        = "mark_read"
	TypeGetRoomList     = "get_room_list"
	TypeGetMessages     = "get_messages"
)

// Server to client frame types. TypeTyping is shared by both directions.
const (
	TypeConnectionEstablished = "connection_established"
	TypeRoomList              = "room_list"
	TypeSubscribed            = "subscribed"
	TypeUnsubscribed          = "unsubscribed"
	TypeNewMessage            = "new_message"
	TypeMessages              = "messages"
	TypeReadState             = "read_state"
	TypeError                 = "error"
)

// Error codes carried by Error frames.
const (
	CodeBadFrame      = "bad_frame"
	CodeUnknownType   = "unknown_type"
	CodeRateLimited   = "rate_limited"
	CodePersistFailed = "persist_failed"
	CodeInternal      = "internal"
	CodeNotSubscribed = "not_subscribed"
)

// Frame is implemented by every frame in this package.
type Frame interface {
	FrameType() string
	isFrame()
}

// ClientFrame is a frame a client may send to the server.
type ClientFrame interface {
	Frame
	isClientFrame()
}

// ServerFrame is a frame the server may send to a client.
type ServerFrame interface {
	Frame
	isServerFrame()
}

// Message is the wire form of a persisted message.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
	TempID    string    `json:"temp_id,omitempty"`
}

// LastMessage is the denormalized preview of the newest message in a room.
type LastMessage struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	SenderID  int64     `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSummary is one entry of a room list.
type RoomSummary struct {
	ID           int64        `json:"id"`
	Type         string       `json:"type"`
	ContextRef   string       `json:"context_ref"`
	Participants []int64      `json:"participants"`
	LastMessage  *LastMessage `json:"last_message"`
	UnreadCount  int          `json:"unread_count"`
	LastSeenAt   *time.Time   `json:"last_seen_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Page is a bounded slice of room history.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	Count    int       `json:"count"`
	OldestID *int64    `json:"oldest_id"`
	NewestID *int64    `json:"newest_id"`
}

type SubscribeRoom struct {
	RoomID int64 `json:"room_id"`
}

type UnsubscribeRoom struct {
	RoomID int64 `json:"room_id"`
}

// SendMessage asks the server to persist content in a room. TempID is echoed back on the
// resulting NewMessage. RetryOf names the temp id of a failed attempt this one replaces.
type SendMessage struct {
	RoomID  int64  `json:"room_id"`
	Content string `json:"content"`
	TempID  string `json:"temp_id,omitempty"`
	RetryOf string `json:"retry_of,omitempty"`
}

// Typing signals typing activity. A nil IsTyping means true.
type Typing struct {
	RoomID   int64 `json:"room_id"`
	IsTyping *bool `json:"is_typing,omitempty"`
}

// Active reports whether the frame starts or renews typing.
func (f *Typing) Active() bool {
	return f.IsTyping == nil || *f.IsTyping
}

type MarkRead struct {
	RoomID int64 `json:"room_id"`
	UpToID int64 `json:"up_to_id"`
}

type GetRoomList struct{}

type GetMessages struct {
	RoomID   int64  `json:"room_id"`
	BeforeID *int64 `json:"before_id,omitempty"`
	AfterID  *int64 `json:"after_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type ConnectionEstablished struct {
	UserID    int64  `json:"user_id"`
	SessionID string `json:"session_id"`
}

type RoomList struct {
	Rooms []RoomSummary `json:"rooms"`
}

type Subscribed struct {
	RoomID int64 `json:"room_id"`
}

type Unsubscribed struct {
	RoomID int64 `json:"room_id"`
}

type NewMessage struct {
	RoomID  int64   `json:"room_id"`
	Message Message `json:"message"`
	TempID  string  `json:"temp_id,omitempty"`
}

// TypingEvent is the server side typing frame. It shares the "typing" type with Typing.
type TypingEvent struct {
	RoomID   int64 `json:"room_id"`
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

// Messages answers GetMessages. The cursor fields echo the request.
type Messages struct {
	RoomID   int64  `json:"room_id"`
	BeforeID *int64 `json:"before_id,omitempty"`
	AfterID  *int64 `json:"after_id,omitempty"`
	Page
}

type ReadState struct {
	RoomID      int64 `json:"room_id"`
	UpToID      int64 `json:"up_to_id"`
	UnreadCount int   `json:"unread_count"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RoomID  int64  `json:"room_id,omitempty"`
	TempID  string `json:"temp_id,omitempty"`
}

func (*SubscribeRoom) FrameType() string         { return TypeSubscribeRoom }
func (*UnsubscribeRoom) FrameType() string       { return TypeUnsubscribeRoom }
func (*SendMessage) FrameType() string           { return TypeSendMessage }
func (*Typing) FrameType() string                { return TypeTyping }
func (*MarkRead) FrameType() string              { return TypeMarkRead }
func (*GetRoomList) FrameType() string           { return TypeGetRoomList }
func (*GetMessages) FrameType() string           { return TypeGetMessages }
func (*ConnectionEstablished) FrameType() string { return TypeConnectionEstablished }
func (*RoomList) FrameType() string              { return TypeRoomList }
func (*Subscribed) FrameType() string            { return TypeSubscribed }
func (*Unsubscribed) FrameType() string          { return TypeUnsubscribed }
func (*NewMessage) FrameType() string            { return TypeNewMessage }
func (*TypingEvent) FrameType() string           { return TypeTyping }
func (*Messages) FrameType() string              { return TypeMessages }
func (*ReadState) FrameType() string             { return TypeReadState }
func (*Error) FrameType() string                 { return TypeError }

func (*SubscribeRoom) isFrame()         {}
func (*UnsubscribeRoom) isFrame()       {}
func (*SendMessage) isFrame()           {}
func (*Typing) isFrame()                {}
func (*MarkRead) isFrame()              {}
func (*GetRoomList) isFrame()           {}
func (*GetMessages) isFrame()           {}
func (*ConnectionEstablished) isFrame() {}
func (*RoomList) isFrame()              {}
func (*Subscribed) isFrame()            {}
func (*Unsubscribed) isFrame()          {}
func (*NewMessage) isFrame()            {}
func (*TypingEvent) isFrame()           {}
func (*Messages) isFrame()              {}
func (*ReadState) isFrame()             {}
func (*Error) isFrame()                 {}

func (*SubscribeRoom) isClientFrame()   {}
func (*UnsubscribeRoom) isClientFrame() {}
func (*SendMessage) isClientFrame()     {}
func (*Typing) isClientFrame()          {}
func (*MarkRead) isClientFrame()        {}
func (*GetRoomList) isClientFrame()     {}
func (*GetMessages) isClientFrame()     {}

func (*ConnectionEstablished) isServerFrame() {}
func (*RoomList) isServerFrame()              {}
func (*Subscribed) isServerFrame()            {}
func (*Unsubscribed) isServerFrame()          {}
func (*NewMessage) isServerFrame()            {}
func (*TypingEvent) isServerFrame()           {}
func (*Messages) isServerFrame()              {}
func (*ReadState) isServerFrame()             {}
func (*Error) isServerFrame()                 {}
