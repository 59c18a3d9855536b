package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-core/internal/identity"
	"chat-core/internal/observability"
	"chat-core/internal/service"
	"chat-core/pkg/protocol"
)

type GatewayOptions struct {
	SendQueueSize    int
	MaxFrameBytes    int64
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	EventsRoutingKey string
}

type GatewayDeps struct {
	Hub      *Hub
	Router   *Router
	Typing   *TypingOverlay
	Limiter  FrameLimiter
	Resolver identity.Resolver
	Rooms    *service.RoomService
	Messages *service.MessageService
	History  *service.HistoryService
}

// Gateway accepts websocket connections and dispatches their frames.
type Gateway struct {
	GatewayDeps
	opts     GatewayOptions
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewGateway(deps GatewayDeps, opts GatewayOptions, log zerolog.Logger) *Gateway {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = opts.PingInterval * 2
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 64 << 10
	}
	return &Gateway{
		GatewayDeps: deps,
		opts:        opts,
		log:         log.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the connection and runs the session until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-core/ws").Start(c.Request.Context(), "ws.handshake")

	userID, err := g.Resolver.UserID(c.Request)
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.Int64("chat.user_id", userID))

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	// The session outlives the handshake request; keep its values but not its cancellation.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	s := newSession(conn, info, g.opts.SendQueueSize, g.log)
	if prev := g.Hub.Register(s); prev != nil {
		s.log.Info().Str("previous_session_id", prev.ID).Msg("session superseded")
		prev.Close(ReasonSuperseded)
	}
	go s.writePump(g.opts.PingInterval, g.opts.WriteWait)

	observability.IncWSActive("chat")
	publishWSEvent(ctx, g.opts.EventsRoutingKey, eventConnect, info, "")
	s.log.Info().Str("ip", info.IP).Msg("session connected")

	s.Send(&protocol.ConnectionEstablished{UserID: userID, SessionID: s.ID})
	g.sendRoomList(ctx, s)

	reason := g.readLoop(ctx, s)

	g.release(s)
	s.Close(reason)
	observability.DecWSActive("chat")
	publishWSEvent(ctx, g.opts.EventsRoutingKey, eventDisconnect, info, s.CloseReason())
	s.log.Info().Str("reason", s.CloseReason()).Msg("session disconnected")
}

// release drops the session from the hub and its limiter window. Typing state is per user,
// so it is kept when a newer session for the same user has taken over.
func (g *Gateway) release(s *Session) {
	g.Hub.Unregister(s)
	if g.Hub.SessionForUser(s.UserID) == nil {
		g.Typing.Forget(s.UserID)
	}
	g.Limiter.Forget(s.ID)
}

func (g *Gateway) readLoop(ctx context.Context, s *Session) string {
	conn := s.conn
	conn.SetReadLimit(g.opts.MaxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.Closed() {
				return s.CloseReason()
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, g.opts.EventsRoutingKey, eventError, s.Info, err.Error())
			}
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
		g.dispatch(ctx, s, data)
	}
}

// dispatch handles one frame. Frames of a session are handled strictly in arrival order.
func (g *Gateway) dispatch(ctx context.Context, s *Session, data []byte) {
	allowed, err := g.Limiter.Allow(ctx, s.ID)
	if err != nil {
		s.log.Warn().Err(err).Msg("frame limiter unavailable")
	} else if !allowed {
		observability.IncFrame("any", "rate_limited")
		s.Send(&protocol.Error{Code: protocol.CodeRateLimited, Message: "too many frames"})
		return
	}

	frame, err := protocol.DecodeClient(data)
	if err != nil {
		code := protocol.CodeBadFrame
		if errors.Is(err, protocol.ErrUnknownType) {
			code = protocol.CodeUnknownType
		}
		observability.IncFrame("invalid", code)
		s.Send(&protocol.Error{Code: code, Message: err.Error()})
		return
	}

	switch f := frame.(type) {
	case *protocol.SubscribeRoom:
		err = g.subscribe(ctx, s, f)
	case *protocol.UnsubscribeRoom:
		g.Hub.Unsubscribe(s, f.RoomID)
		s.Send(&protocol.Unsubscribed{RoomID: f.RoomID})
	case *protocol.SendMessage:
		err = g.sendMessage(ctx, s, f)
	case *protocol.Typing:
		err = g.typing(ctx, s, f)
	case *protocol.MarkRead:
		err = g.markRead(ctx, s, f)
	case *protocol.GetRoomList:
		err = g.sendRoomList(ctx, s)
	case *protocol.GetMessages:
		err = g.getMessages(ctx, s, f)
	default:
		err = protocol.ErrUnknownType
		s.Send(&protocol.Error{Code: protocol.CodeUnknownType, Message: "unsupported frame"})
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.IncFrame(frame.FrameType(), result)
}

func (g *Gateway) subscribe(ctx context.Context, s *Session, f *protocol.SubscribeRoom) error {
	if _, err := g.Rooms.Authorize(ctx, f.RoomID, s.UserID); err != nil {
		g.reportError(s, f.RoomID, "", err)
		return err
	}
	g.Hub.Subscribe(s, f.RoomID)
	s.Send(&protocol.Subscribed{RoomID: f.RoomID})
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, s *Session, f *protocol.SendMessage) error {
	_, err := g.Messages.Send(ctx, service.SendInput{
		RoomID:   f.RoomID,
		SenderID: s.UserID,
		Content:  f.Content,
		TempID:   f.TempID,
		RetryOf:  f.RetryOf,
	})
	if err != nil {
		g.reportError(s, f.RoomID, f.TempID, err)
	}
	return err
}

func (g *Gateway) typing(ctx context.Context, s *Session, f *protocol.Typing) error {
	if !g.Hub.IsSubscribed(s, f.RoomID) {
		s.Send(&protocol.Error{Code: protocol.CodeNotSubscribed, Message: "subscribe to the room first", RoomID: f.RoomID})
		return errors.New("typing without subscription")
	}
	active := f.Active()
	if !g.Typing.Allow(s.UserID, f.RoomID, active) {
		return nil
	}
	g.Router.Typing(ctx, &protocol.TypingEvent{RoomID: f.RoomID, UserID: s.UserID, IsTyping: active})
	return nil
}

func (g *Gateway) markRead(ctx context.Context, s *Session, f *protocol.MarkRead) error {
	state, err := g.History.MarkRead(ctx, s.UserID, f.RoomID, f.UpToID)
	if err != nil {
		g.reportError(s, f.RoomID, "", err)
		return err
	}
	s.Send(&protocol.ReadState{RoomID: f.RoomID, UpToID: state.LastReadID, UnreadCount: state.UnreadCount})
	return nil
}

func (g *Gateway) sendRoomList(ctx context.Context, s *Session) error {
	rooms, err := g.Rooms.ListRooms(ctx, s.UserID)
	if err != nil {
		g.reportError(s, 0, "", err)
		return err
	}
	s.Send(&protocol.RoomList{Rooms: rooms})
	return nil
}

func (g *Gateway) getMessages(ctx context.Context, s *Session, f *protocol.GetMessages) error {
	page, state, err := g.History.GetMessages(ctx, s.UserID, f.RoomID, service.PageRequest{
		BeforeID: f.BeforeID,
		AfterID:  f.AfterID,
		Limit:    f.Limit,
	})
	if err != nil {
		g.reportError(s, f.RoomID, "", err)
		return err
	}
	s.Send(&protocol.Messages{RoomID: f.RoomID, BeforeID: f.BeforeID, AfterID: f.AfterID, Page: page})
	if state != nil {
		s.Send(&protocol.ReadState{RoomID: f.RoomID, UpToID: state.LastReadID, UnreadCount: state.UnreadCount})
	}
	return nil
}

// reportError turns a service error into an error frame. The connection stays open.
func (g *Gateway) reportError(s *Session, roomID int64, tempID string, err error) {
	frame := &protocol.Error{RoomID: roomID, TempID: tempID}
	if ve, ok := service.AsValidation(err); ok {
		frame.Code, frame.Message = ve.Code, ve.Message
	} else if de, ok := service.AsDurability(err); ok {
		s.log.Error().Err(de.Err).Str("op", de.Op).Int64("room_id", roomID).Msg("durable operation failed")
		frame.Code, frame.Message = protocol.CodeInternal, "temporarily unavailable"
		if de.Op == service.OpPersist {
			frame.Code, frame.Message = protocol.CodePersistFailed, "message was not saved"
		}
	} else {
		s.log.Error().Err(err).Int64("room_id", roomID).Msg("frame failed")
		frame.Code, frame.Message = protocol.CodeInternal, "internal error"
	}
	s.Send(frame)
}
