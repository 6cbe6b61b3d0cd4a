package relay

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-chat-sync/internal/logger"
)

// Channel is the Redis pub/sub channel every relay instance listens on.
const Channel = "chat-events"

// Delivery is one encoded envelope plus who should get it. Exactly one of
// Room, User and All selects the audience.
type Delivery struct {
	Room    int64           `json:"room,omitempty"`
	User    int64           `json:"user,omitempty"`
	All     bool            `json:"all,omitempty"`
	Exclude int64           `json:"exclude,omitempty"` // user id skipped within the audience
	Frame   json.RawMessage `json:"frame"`
}

// Broker fans deliveries out to every relay instance, including this one.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe streams deliveries until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Delivery, error)
}

type RedisBroker struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, channel: Channel}
}

func (b *RedisBroker) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	out := make(chan Delivery, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var d Delivery
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					logger.Log.Warn("dropping malformed delivery", zap.Error(err))
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
