package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-core/pkg/protocol"
)

// Close reasons reported in lifecycle events.
const (
	ReasonSuperseded = "superseded"
	ReasonQueueFull  = "send queue full"
	ReasonShutdown   = "server shutdown"
	ReasonWriteError = "write error"
)

// Session is one authenticated websocket connection. Writes go through a bounded queue
// drained by writePump, so producers never block on a slow socket.
type Session struct {
	ID     string
	UserID int64
	Info   ConnInfo

	conn *websocket.Conn
	log  zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
	reason string
	done   chan struct{}
}

func newSession(conn *websocket.Conn, info ConnInfo, queueSize int, log zerolog.Logger) *Session {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Session{
		ID:     info.ConnID,
		UserID: info.UserID,
		Info:   info,
		conn:   conn,
		log:    log.With().Str("session_id", info.ConnID).Int64("user_id", info.UserID).Logger(),
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue queues an encoded frame. It returns false when the session is closed or its
// queue is full.
func (s *Session) Enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Send encodes and queues a frame.
func (s *Session) Send(f protocol.ServerFrame) bool {
	data, err := protocol.Encode(f)
	if err != nil {
		s.log.Error().Err(err).Str("frame", f.FrameType()).Msg("encode frame failed")
		return false
	}
	return s.Enqueue(data)
}

// Close marks the session closed. It is safe to call more than once; the first reason wins.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.done)
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) writePump(pingInterval, writeWait time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data, writeWait); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				s.Close(ReasonWriteError)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close(ReasonWriteError)
				return
			}
		case <-s.done:
			s.drain(writeWait)
			code := websocket.CloseNormalClosure
			if s.CloseReason() != ReasonSuperseded && s.CloseReason() != ReasonShutdown {
				code = websocket.ClosePolicyViolation
			}
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, s.CloseReason()), time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes frames queued before Close, so a final error frame still reaches the client.
func (s *Session) drain(writeWait time.Duration) {
	for {
		select {
		case data := <-s.send:
			if err := s.write(websocket.TextMessage, data, writeWait); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte, writeWait time.Duration) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}
