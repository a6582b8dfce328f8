package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// historyMaxLen is the approximate length cap of each channel's history
// stream.
const historyMaxLen int64 = 1000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live delivery
// and a capped stream per channel for recent history.
type SignalBus struct {
	rdb *redis.Client
	c   *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb, c: c}
}

// Publish sends payload to subscribers of channel and appends it to the
// channel's history stream.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	pipe := sb.rdb.TxPipeline()
	pipe.Publish(ctx, channel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.key("history", channel),
		MaxLen: historyMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. Glob
// patterns use PSUBSCRIBE. The returned channel is closed when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
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
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent returns up to n of the latest payloads published to channel, newest
// first.
func (sb *SignalBus) Recent(ctx context.Context, channel string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := sb.rdb.XRevRangeN(ctx, sb.c.key("history", channel), "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent %s: %w", channel, err)
	}
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.Values["payload"].(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
