package syncbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries events over a Redis pub/sub channel.
type RedisTransport struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisTransport wraps an existing client. The channel defaults to
// "clara:sync" when empty.
func NewRedisTransport(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisTransport {
	if channel == "" {
		channel = "clara:sync"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTransport{client: client, channel: channel, logger: logger}
}

// Publish implements Transport.
func (t *RedisTransport) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Start implements Transport. Malformed payloads are skipped with a warning.
func (t *RedisTransport) Start(ctx context.Context, sink func(Event)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub != nil {
		return nil
	}

	pubsub := t.client.Subscribe(ctx, t.channel)
	// Force the subscription to be established before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	done := make(chan struct{})
	t.pubsub = pubsub
	t.done = done

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				t.logger.Warn("dropping malformed sync event", "error", err)
				continue
			}
			sink(e)
		}
	}()
	return nil
}

// Close implements Transport.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	pubsub := t.pubsub
	done := t.done
	t.pubsub = nil
	t.done = nil
	t.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	if done != nil {
		<-done
	}
	return err
}
