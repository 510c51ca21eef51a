package bus

import (
	"context"
	"fmt"

	"redis-chat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisTransport publishes on a single pub/sub channel.
type RedisTransport struct {
	client  *redis.Client
	channel string
}

func NewRedisTransport(client *redis.Client, channel string) *RedisTransport {
	return &RedisTransport{client: client, channel: channel}
}

func (t *RedisTransport) Publish(ctx context.Context, payload []byte) error {
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", t.channel, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context) (Subscription, error) {
	ps := t.client.Subscribe(ctx, t.channel)
	// Receive blocks until the server confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", t.channel, err)
	}
	logger.Info("[bus] Subscribed to redis channel %s", t.channel)
	return &redisSubscription{ps: ps}, nil
}

// Close is a no-op; the client is owned by the caller.
func (t *RedisTransport) Close() error {
	return nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Next(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
