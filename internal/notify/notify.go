// Package notify broadcasts event status changes to monitoring clients.
// Delivery is fire-and-forget from the engine's perspective.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Change describes one applied status transition.
type Change struct {
	EventID string    `json:"event_id"`
	Old     string    `json:"old_status"`
	New     string    `json:"new_status"`
	At      time.Time `json:"at"`
}

// Notifier is the abstraction over different backends.
type Notifier interface {
	Publish(ctx context.Context, change Change) error
}

// LogNotifier writes changes to the process log; the default when no pub/sub
// backend is configured.
type LogNotifier struct{}

// Publish logs the transition.
func (LogNotifier) Publish(_ context.Context, change Change) error {
	log.Printf("event %s: %s -> %s", change.EventID, change.Old, change.New)
	return nil
}

// InMemory is a channel-backed notifier for dev/testing.
type InMemory struct {
	ch chan Change
}

// NewInMemory creates a bounded in-memory notifier.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Change, size)}
}

// Publish enqueues a change, dropping it if the buffer is full so the
// scheduler is never blocked by a slow consumer.
func (n *InMemory) Publish(ctx context.Context, change Change) error {
	select {
	case n.ch <- change:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Changes exposes the stream for consumers.
func (n *InMemory) Changes() <-chan Change { return n.ch }

// RedisNotifier fans changes out over a Redis pub/sub channel; monitoring
// sessions subscribe through their own transport layer.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier builds a notifier publishing to the given channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "geoattend:transitions"
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Publish sends the change as JSON.
func (n *RedisNotifier) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}
