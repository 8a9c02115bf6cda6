package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

const (
	// EventQueueName is the Redis list key for domain events
	EventQueueName = "backoffice:events"
	// PendingRequestsKey is the Redis set of modification request ids awaiting a checker
	PendingRequestsKey = "backoffice:modification_requests:pending"
)

// Publisher delivers domain events once their unit of work has committed
type Publisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, model.Event) error { return nil }

// RedisPublisher appends events to a Redis list consumed by the worker
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a new RedisPublisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish appends the event to the queue
func (p *RedisPublisher) Publish(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Use RPUSH to add to the end of the list (FIFO queue)
	if err := p.client.RPush(ctx, EventQueueName, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to queue: %w", err)
	}

	return nil
}

// QueueLength returns the current number of events in the queue
func (p *RedisPublisher) QueueLength(ctx context.Context) (int64, error) {
	return p.client.LLen(ctx, EventQueueName).Result()
}
