package markserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPublisher publishes mark events on a per-document Redis channel so
// every server process can relay them to its own subscribers.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisPublisher publishes on channels named prefix + document id.
func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.prefix+ev.Mark.OpusUUID, payload).Err(); err != nil {
		return fmt.Errorf("publishing mark event: %w", err)
	}
	return nil
}

// ConnectRedis creates a client for addr and checks the connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

// RelayRedis forwards every event published under prefix to the hub's
// subscribers until ctx is done.
func RelayRedis(ctx context.Context, rdb *redis.Client, prefix string, hub *Hub, logger zerolog.Logger) error {
	pubsub := rdb.PSubscribe(ctx, prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before relaying
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to mark events: %w", err)
	}
	logger.Info().Str("pattern", prefix+"*").Msg("relaying mark events from redis")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			opusUUID := strings.TrimPrefix(msg.Channel, prefix)
			_ = hub.deliver(ctx, opusUUID, []byte(msg.Payload))
		}
	}
}
