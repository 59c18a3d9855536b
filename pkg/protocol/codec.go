package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a frame is not a JSON object or its body does not match its type.
	ErrMalformed = errors.New("malformed frame")
	// ErrMissingType is returned when a frame has no "type" field.
	ErrMissingType = errors.New("frame type is missing")
	// ErrUnknownType is returned for a well-formed frame whose type is not recognized.
	ErrUnknownType = errors.New("unknown frame type")
)

type typeProbe struct {
	Type string `json:"type"`
}

// Encode renders a frame as a JSON object carrying its "type" discriminator.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.FrameType(), err)
	}
	typeField, _ := json.Marshal(f.FrameType())

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typeField) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typeField)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MustEncode is Encode for frames that cannot fail to marshal.
func MustEncode(f Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeClient parses a frame sent by a client.
func DecodeClient(data []byte) (ClientFrame, error) {
	frameType, err := probe(data)
	if err != nil {
		return nil, err
	}

	var f ClientFrame
	switch frameType {
	case TypeSubscribeRoom:
		f = &SubscribeRoom{}
	case TypeUnsubscribeRoom:
		f = &UnsubscribeRoom{}
	case TypeSendMessage:
		f = &SendMessage{}
	case TypeTyping:
		f = &Typing{}
	case TypeMarkRead:
		f = &MarkRead{}
	case TypeGetRoomList:
		f = &GetRoomList{}
	case TypeGetMessages:
		f = &GetMessages{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, frameType)
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, frameType, err)
	}
	return f, nil
}

// DecodeServer parses a frame sent by the server.
func DecodeServer(data []byte) (ServerFrame, error) {
	frameType, err := probe(data)
	if err != nil {
		return nil, err
	}

	var f ServerFrame
	switch frameType {
	case TypeConnectionEstablished:
		f = &ConnectionEstablished{}
	case TypeRoomList:
		f = &RoomList{}
	case TypeSubscribed:
		f = &Subscribed{}
	case TypeUnsubscribed:
		f = &Unsubscribed{}
	case TypeNewMessage:
		f = &NewMessage{}
	case TypeTyping:
		f = &TypingEvent{}
	case TypeMessages:
		f = &Messages{}
	case TypeReadState:
		f = &ReadState{}
	case TypeError:
		f = &Error{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, frameType)
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, frameType, err)
	}
	return f, nil
}

func probe(data []byte) (string, error) {
	var p typeProbe
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Type == "" {
		return "", ErrMissingType
	}
	return p.Type, nil
}
