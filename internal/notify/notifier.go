package notify

import (
	"context"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"chat-core/internal/observability"
	"chat-core/pkg/protocol"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Envelope is the offline notification handed to the delivery collaborator.
type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	RecipientID   int64   `json:"recipient_id"`
	Payload       Preview `json:"payload"`
}

type Preview struct {
	RoomID    int64  `json:"room_id"`
	MessageID int64  `json:"message_id"`
	SenderID  int64  `json:"sender_id"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

func (e Envelope) Describe() string {
	return e.EventType
}

type Options struct {
	RoutingKey   string
	Service      string
	Environment  string
	QueueSize    int
	PreviewRunes int
}

// Notifier queues notifications and publishes them from a single worker. Notify never
// blocks: when the queue is full the notification is dropped.
type Notifier struct {
	publisher Publisher
	opts      Options
	queue     chan Envelope
	log       zerolog.Logger
	now       func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func NewNotifier(publisher Publisher, opts Options, log zerolog.Logger) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.PreviewRunes <= 0 {
		opts.PreviewRunes = 140
	}
	return &Notifier{
		publisher: publisher,
		opts:      opts,
		queue:     make(chan Envelope, opts.QueueSize),
		log:       log.With().Str("component", "notify").Logger(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Notify enqueues a preview of msg for recipientID.
func (n *Notifier) Notify(recipientID int64, msg protocol.Message) {
	if n == nil || n.publisher == nil {
		return
	}

	text, truncated := preview(msg.Content, n.opts.PreviewRunes)
	env := Envelope{
		SchemaVersion: 1,
		EventType:     "chat_message_notification",
		OccurredAt:    n.now().UTC().Format(time.RFC3339Nano),
		Service:       n.opts.Service,
		Environment:   n.opts.Environment,
		RecipientID:   recipientID,
		Payload: Preview{
			RoomID:    msg.RoomID,
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Text:      text,
			Truncated: truncated,
		},
	}

	select {
	case <-n.done:
		return
	default:
	}

	select {
	case n.queue <- env:
	default:
		observability.IncNotifyDropped()
		n.log.Warn().Int64("recipient_id", recipientID).Int64("room_id", msg.RoomID).Int64("message_id", msg.ID).Msg("notification queue full, dropping")
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is already queued.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case env := <-n.queue:
			n.publish(ctx, env)
		case <-ctx.Done():
			n.closeOnce.Do(func() { close(n.done) })
			n.flush()
			return nil
		}
	}
}

func (n *Notifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case env := <-n.queue:
			n.publish(ctx, env)
		default:
			return
		}
	}
}

func (n *Notifier) publish(ctx context.Context, env Envelope) {
	headers := map[string]string{"recipient_id": strconv.FormatInt(env.RecipientID, 10)}
	if err := n.publisher.Publish(ctx, n.opts.RoutingKey, env, headers); err != nil {
		n.log.Error().Err(err).Int64("recipient_id", env.RecipientID).Int64("message_id", env.Payload.MessageID).Msg("notification publish failed")
	}
}

func preview(content string, maxRunes int) (string, bool) {
	if utf8.RuneCountInString(content) <= maxRunes {
		return content, false
	}
	runes := []rune(content)
	return string(runes[:maxRunes]), true
}
