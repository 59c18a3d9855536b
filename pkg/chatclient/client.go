package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"chat-core/pkg/protocol"
)

var ErrNotConnected = errors.New("not connected")

type Options struct {
	URL    string
	Header http.Header
	// SendTimeout is how long a placeholder may stay pending before it is marked failed.
	SendTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	TypingTTL   time.Duration
	EventBuffer int
	Logger      zerolog.Logger
}

// Client keeps one realtime connection open, reconnecting with backoff. After every
// (re)connect it resubscribes and pages through everything it missed.
type Client struct {
	opts       Options
	log        zerolog.Logger
	reconciler *Reconciler
	typing     *TypingTracker
	events     chan protocol.ServerFrame

	mu     sync.Mutex
	conn   *websocket.Conn
	userID int64
	rooms  map[int64]struct{}
}

func New(self int64, opts Options) *Client {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 15 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	log := opts.Logger.With().Str("component", "chatclient").Logger()
	return &Client{
		opts:       opts,
		log:        log,
		reconciler: NewReconciler(self, log),
		typing:     NewTypingTracker(opts.TypingTTL),
		events:     make(chan protocol.ServerFrame, opts.EventBuffer),
		userID:     self,
		rooms:      make(map[int64]struct{}),
	}
}

func (c *Client) Reconciler() *Reconciler { return c.reconciler }

func (c *Client) Typing() *TypingTracker { return c.typing }

// Events delivers every server frame after it has been applied to local state. Frames are
// dropped when the consumer falls behind.
func (c *Client) Events() <-chan protocol.ServerFrame { return c.events }

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and serves the connection until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	go c.expireLoop(ctx)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn().Err(err).Msg("connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.MinBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		cn, _, err := websocket.Dial(ctx, c.opts.URL, &websocket.DialOptions{HTTPHeader: c.opts.Header})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Dur("retry_in", wait).Msg("dial failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(1 << 20)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.typing.Reset()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	for _, roomID := range c.subscribedRooms() {
		if err := c.resume(ctx, roomID); err != nil {
			return err
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		frame, err := protocol.DecodeServer(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("undecodable frame")
			continue
		}
		c.handle(ctx, frame)
	}
}

// resume subscribes to a room and requests everything after the last id we know.
func (c *Client) resume(ctx context.Context, roomID int64) error {
	if err := c.write(ctx, &protocol.SubscribeRoom{RoomID: roomID}); err != nil {
		return err
	}
	req := &protocol.GetMessages{RoomID: roomID}
	if last := c.reconciler.LastKnownID(roomID); last > 0 {
		req.AfterID = &last
	}
	return c.write(ctx, req)
}

func (c *Client) handle(ctx context.Context, frame protocol.ServerFrame) {
	switch f := frame.(type) {
	case *protocol.NewMessage:
		c.reconciler.HandleNewMessage(f)
	case *protocol.Messages:
		c.reconciler.MergeHistory(f.RoomID, f.Messages)
		if f.AfterID != nil && f.HasMore && f.NewestID != nil {
			next := *f.NewestID
			if err := c.write(ctx, &protocol.GetMessages{RoomID: f.RoomID, AfterID: &next}); err != nil {
				c.log.Warn().Err(err).Int64("room_id", f.RoomID).Msg("catch-up request failed")
			}
		}
	case *protocol.TypingEvent:
		c.typing.Observe(f)
	case *protocol.Error:
		if f.TempID != "" && f.RoomID != 0 {
			c.reconciler.Fail(f.RoomID, f.TempID)
		}
	case *protocol.ConnectionEstablished:
		c.log.Debug().Str("session_id", f.SessionID).Msg("connected")
	case *protocol.RoomList, *protocol.Subscribed, *protocol.Unsubscribed, *protocol.ReadState:
	}

	select {
	case c.events <- frame:
	default:
		c.log.Warn().Str("frame", frame.FrameType()).Msg("event buffer full, dropping")
	}
}

func (c *Client) expireLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.SendTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tempID := range c.reconciler.ExpirePending(c.opts.SendTimeout) {
				c.log.Info().Str("temp_id", tempID).Msg("send timed out")
			}
		}
	}
}

func (c *Client) write(ctx context.Context, f protocol.ClientFrame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s: %w", f.FrameType(), err)
	}
	return nil
}

func (c *Client) subscribedRooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]int64, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// Subscribe remembers the room and, when connected, subscribes and loads its history.
func (c *Client) Subscribe(ctx context.Context, roomID int64) error {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
	err := c.resume(ctx, roomID)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (c *Client) Unsubscribe(ctx context.Context, roomID int64) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
	err := c.write(ctx, &protocol.UnsubscribeRoom{RoomID: roomID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Send appends a pending message and dispatches it. A dispatch failure marks it failed.
func (c *Client) Send(ctx context.Context, roomID int64, content string) (Entry, error) {
	frame, entry := c.reconciler.Send(roomID, content)
	if err := c.write(ctx, frame); err != nil {
		c.reconciler.Fail(roomID, frame.TempID)
		entry.Status = StatusFailed
		return entry, err
	}
	return entry, nil
}

// Retry resends a failed message under a new temp id.
func (c *Client) Retry(ctx context.Context, roomID int64, tempID string) (Entry, error) {
	frame, entry, err := c.reconciler.Retry(roomID, tempID)
	if err != nil {
		return Entry{}, err
	}
	if err := c.write(ctx, frame); err != nil {
		c.reconciler.Fail(roomID, frame.TempID)
		entry.Status = StatusFailed
		return entry, err
	}
	return entry, nil
}

func (c *Client) SendTyping(ctx context.Context, roomID int64, typing bool) error {
	return c.write(ctx, &protocol.Typing{RoomID: roomID, IsTyping: &typing})
}

func (c *Client) MarkRead(ctx context.Context, roomID, upToID int64) error {
	return c.write(ctx, &protocol.MarkRead{RoomID: roomID, UpToID: upToID})
}

func (c *Client) RequestRoomList(ctx context.Context) error {
	return c.write(ctx, &protocol.GetRoomList{})
}

// LoadOlder requests the page before the oldest message we hold.
func (c *Client) LoadOlder(ctx context.Context, roomID int64, limit int) error {
	req := &protocol.GetMessages{RoomID: roomID, Limit: limit}
	for _, e := range c.reconciler.Messages(roomID) {
		if e.ID > 0 {
			oldest := e.ID
			req.BeforeID = &oldest
			break
		}
	}
	return c.write(ctx, req)
}
