// Package pubsub bridges room broadcasts across processes over Redis
// pub/sub so multiple instances can serve the same rooms.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"collabhub/internal/config"
	"collabhub/pkg/types"
)

// Bridge publishes local broadcasts to a Redis channel and replays
// broadcasts from other instances into the local fan-out path. Each
// bridge stamps its own instance ID on outgoing events and ignores its
// own echoes on the way back in.
type Bridge struct {
	client     *redis.Client
	channel    string
	instanceID string
}

func NewBridge(cfg *config.RedisConfig) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Bridge{
		client:     client,
		channel:    cfg.Channel,
		instanceID: uuid.NewString(),
	}, nil
}

// InstanceID identifies this process on the channel.
func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// Publish sends a broadcast to the channel. Failures are logged and
// dropped; local delivery already happened.
func (b *Bridge) Publish(ev *types.Event) {
	out := *ev
	out.Origin = b.instanceID
	data, err := json.Marshal(&out)
	if err != nil {
		log.Printf("pubsub marshal failed: event=%s err=%v", ev.Type, err)
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, data).Err(); err != nil {
		log.Printf("pubsub publish failed: event=%s err=%v", ev.Type, err)
	}
}

// shouldDeliver filters out this instance's own echoes.
func (b *Bridge) shouldDeliver(ev *types.Event) bool {
	return ev.Origin != b.instanceID
}

// Run subscribes to the channel and feeds remote broadcasts to deliver
// until ctx is cancelled. Malformed payloads are logged and skipped.
func (b *Bridge) Run(ctx context.Context, deliver func(*types.Event)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev types.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("pubsub received malformed event: %v", err)
				continue
			}
			if b.shouldDeliver(&ev) {
				deliver(&ev)
			}
		}
	}
}

// Close releases the Redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}
