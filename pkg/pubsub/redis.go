package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPubSub fans chat events out across instances through Redis channels.
type RedisPubSub struct {
	client   *redis.Client
	channels Channels
	buffer   int
	logger   *zap.Logger
}

// NewRedisPubSub wraps an already connected client.
func NewRedisPubSub(client *redis.Client, channels Channels, buffer int, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisPubSub{client: client, channels: channels, buffer: buffer, logger: logger}
}

// Publish publishes an event on its subject channel.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channels.Subject(event.SubjectID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe listens on every subject channel. The returned channel closes when ctx ends.
func (r *RedisPubSub) Subscribe(ctx context.Context) (<-chan *Event, error) {
	ps := r.client.PSubscribe(ctx, r.channels.Pattern())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channels.Pattern(), err)
	}

	out := make(chan *Event, r.buffer)
	go r.pump(ctx, ps, out)
	return out, nil
}

// pump never drops events: a slow consumer applies backpressure to the subscription
// so that per-subject order is kept.
func (r *RedisPubSub) pump(ctx context.Context, ps *redis.PubSub, out chan<- *Event) {
	defer close(out)
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Warn("discarding malformed chat event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			}
		}
	}
}
