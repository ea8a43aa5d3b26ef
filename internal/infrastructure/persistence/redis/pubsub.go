package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/messaging"
)

// PubSub adapts Client to messaging.RedisClient.
type PubSub struct {
	rdb *redis.Client
}

// NewPubSub creates a PubSub on c. Closing it does not close c.
func NewPubSub(c *Client) *PubSub {
	return &PubSub{rdb: c.rdb}
}

var _ messaging.RedisClient = (*PubSub)(nil)

func (p *PubSub) Publish(ctx context.Context, channel string, message any) error {
	return p.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe forwards messages until ctx is cancelled, then closes the
// returned channel.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.rdb.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %v: %w", channels, err)
	}

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *PubSub) Close() error {
	return nil
}
