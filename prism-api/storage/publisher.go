package storage

import (
	"context"

	"github.com/redis/go-redis/v9"

	"prism-plan/domain"
)

// Publisher delivers change events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// RedisPublisher fans change events out over a Redis pub/sub channel, which
// stream-service relays to connected clients.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := domain.EncodeChange(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}
