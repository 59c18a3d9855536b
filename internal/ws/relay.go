package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chat-core/internal/observability"
)

const (
	roomChannelPrefix = "chat:room:"
	userChannelPrefix = "chat:user:"
)

// RedisRelay carries deliveries between instances over Redis pub/sub.
type RedisRelay struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisRelay(client *redis.Client, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{client: client, log: log.With().Str("component", "relay").Logger()}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.client.Publish(ctx, channelFor(env), payload).Err()
}

// Run delivers relayed envelopes to handle until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, handle func(Envelope)) error {
	pubsub := r.client.PSubscribe(ctx, roomChannelPrefix+"*", userChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	r.log.Info().Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				observability.IncRelayError()
				r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad relay payload")
				continue
			}
			handle(env)
		}
	}
}

func channelFor(env Envelope) string {
	if env.Kind == KindUser {
		return fmt.Sprintf("%s%d", userChannelPrefix, env.UserID)
	}
	return fmt.Sprintf("%s%d", roomChannelPrefix, env.RoomID)
}
