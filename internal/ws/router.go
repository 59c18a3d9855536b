package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"chat-core/internal/observability"
	"chat-core/pkg/protocol"
)

// Envelope kinds carried across instances.
const (
	KindRoom = "room"
	KindUser = "user"
)

// Envelope is one delivery as relayed between instances.
type Envelope struct {
	Origin      string          `json:"origin"`
	Kind        string          `json:"kind"`
	RoomID      int64           `json:"room_id,omitempty"`
	UserID      int64           `json:"user_id,omitempty"`
	EchoTo      int64           `json:"echo_to,omitempty"`
	ExcludeUser int64           `json:"exclude_user,omitempty"`
	Frame       json.RawMessage `json:"frame"`
	// EchoFrame replaces Frame for the EchoTo user. It carries the sender's temp id.
	EchoFrame json.RawMessage `json:"echo_frame,omitempty"`
}

// Relay forwards deliveries to other instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

// Router fans frames out to local sessions and, when a relay is configured, to other instances.
type Router struct {
	hub        *Hub
	relay      Relay
	instanceID string
	log        zerolog.Logger
}

func NewRouter(hub *Hub, log zerolog.Logger) *Router {
	return &Router{
		hub:        hub,
		instanceID: newConnID(),
		log:        log.With().Str("component", "router").Logger(),
	}
}

// WithRelay enables cross-instance delivery.
func (r *Router) WithRelay(relay Relay) *Router {
	r.relay = relay
	return r
}

func (r *Router) InstanceID() string {
	return r.instanceID
}

// Broadcast delivers a new message to the room's subscribers. The sender's session gets
// the frame even if it is not subscribed to the room. Only the sender sees the temp id.
func (r *Router) Broadcast(ctx context.Context, roomID, senderID int64, frame *protocol.NewMessage) {
	public := *frame
	public.TempID = ""
	data, err := protocol.Encode(&public)
	if err != nil {
		r.log.Error().Err(err).Int64("room_id", roomID).Msg("encode new_message failed")
		return
	}
	env := Envelope{Origin: r.instanceID, Kind: KindRoom, RoomID: roomID, EchoTo: senderID, Frame: data}
	if frame.TempID != "" {
		if env.EchoFrame, err = protocol.Encode(frame); err != nil {
			r.log.Error().Err(err).Int64("room_id", roomID).Msg("encode new_message failed")
			return
		}
	}
	r.deliver(env)
	r.publish(ctx, env)
}

// Echo delivers a frame only to the user's session.
func (r *Router) Echo(ctx context.Context, userID int64, frame *protocol.NewMessage) {
	data, err := protocol.Encode(frame)
	if err != nil {
		r.log.Error().Err(err).Int64("user_id", userID).Msg("encode new_message failed")
		return
	}
	env := Envelope{Origin: r.instanceID, Kind: KindUser, UserID: userID, RoomID: frame.RoomID, Frame: data}
	r.deliver(env)
	r.publish(ctx, env)
}

// Typing delivers a typing frame to every subscriber except the typist.
func (r *Router) Typing(ctx context.Context, frame *protocol.TypingEvent) {
	data, err := protocol.Encode(frame)
	if err != nil {
		r.log.Error().Err(err).Int64("room_id", frame.RoomID).Msg("encode typing failed")
		return
	}
	env := Envelope{Origin: r.instanceID, Kind: KindRoom, RoomID: frame.RoomID, ExcludeUser: frame.UserID, Frame: data}
	r.deliver(env)
	r.publish(ctx, env)
}

// HandleRelayed delivers an envelope received from another instance.
func (r *Router) HandleRelayed(env Envelope) {
	if env.Origin == r.instanceID {
		return
	}
	r.deliver(env)
}

func (r *Router) deliver(env Envelope) {
	switch env.Kind {
	case KindRoom:
		echoFrame := env.Frame
		if len(env.EchoFrame) > 0 {
			echoFrame = env.EchoFrame
		}
		echoed := false
		for _, s := range r.hub.Subscribers(env.RoomID) {
			if env.ExcludeUser != 0 && s.UserID == env.ExcludeUser {
				continue
			}
			if env.EchoTo != 0 && s.UserID == env.EchoTo {
				echoed = true
				r.enqueue(s, env.RoomID, echoFrame)
				continue
			}
			r.enqueue(s, env.RoomID, env.Frame)
		}
		if env.EchoTo != 0 && !echoed {
			if s := r.hub.SessionForUser(env.EchoTo); s != nil {
				r.enqueue(s, env.RoomID, echoFrame)
			}
		}
	case KindUser:
		if s := r.hub.SessionForUser(env.UserID); s != nil {
			r.enqueue(s, env.RoomID, env.Frame)
		}
	default:
		r.log.Warn().Str("kind", env.Kind).Msg("unknown envelope kind")
	}
}

func (r *Router) enqueue(s *Session, roomID int64, data []byte) {
	if s.Enqueue(data) {
		observability.IncBroadcastDelivery("delivered")
		return
	}
	observability.IncBroadcastDelivery("dropped")
	r.log.Warn().Str("session_id", s.ID).Int64("user_id", s.UserID).Int64("room_id", roomID).Msg("delivery dropped, closing session")
	s.Close(ReasonQueueFull)
}

func (r *Router) publish(ctx context.Context, env Envelope) {
	if r.relay == nil {
		return
	}
	if err := r.relay.Publish(ctx, env); err != nil {
		observability.IncRelayError()
		r.log.Error().Err(err).Str("kind", env.Kind).Int64("room_id", env.RoomID).Msg("relay publish failed")
	}
}
