package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// Worker consumes events from the queue and keeps the checker work-queue
// (the set of pending modification request ids) up to date
type Worker struct {
	client *redis.Client
	logger *zap.Logger
	stopCh chan struct{}
}

// NewWorker creates a new Worker
func NewWorker(client *redis.Client, logger *zap.Logger) *Worker {
	return &Worker{
		client: client,
		logger: logging.OrNop(logger).Named("worker"),
		stopCh: make(chan struct{}),
	}
}

// Start begins consuming events from the queue.
// This runs in a loop until Stop() is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("worker started", zap.String("queue", EventQueueName))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping due to context cancellation")
			return
		case <-w.stopCh:
			w.logger.Info("worker stopping due to stop signal")
			return
		default:
			// Wait up to 5 seconds for an event, then loop to check for stop signal
			result, err := w.client.BLPop(ctx, 5*time.Second, EventQueueName).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("failed to read from queue", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			// result[0] is the queue name, result[1] is the event
			if len(result) < 2 {
				continue
			}

			w.processMessage(ctx, result[1])
		}
	}
}

// Stop signals the worker to stop processing
func (w *Worker) Stop() {
	close(w.stopCh)
}

// processMessage handles a single event from the queue
func (w *Worker) processMessage(ctx context.Context, data string) {
	var event model.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		w.logger.Error("failed to unmarshal event", zap.Error(err))
		return
	}

	if err := w.Handle(ctx, event); err != nil {
		w.logger.Error("failed to handle event",
			zap.String("event_id", event.ID.String()),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

// Handle applies one event to the checker work-queue
func (w *Worker) Handle(ctx context.Context, event model.Event) error {
	logger := w.logger.With(
		zap.String("type", string(event.Type)),
		zap.String("entity_id", event.EntityID.String()),
	)

	switch event.Type {
	case model.EventModificationProposed:
		if err := w.client.SAdd(ctx, PendingRequestsKey, event.EntityID.String()).Err(); err != nil {
			return err
		}
		logger.Info("modification request awaiting review",
			zap.String("target_model", event.Attributes["target_model"]),
		)
	case model.EventModificationApproved, model.EventModificationRejected:
		if err := w.client.SRem(ctx, PendingRequestsKey, event.EntityID.String()).Err(); err != nil {
			return err
		}
		logger.Info("modification request decided")
	default:
		logger.Info("event received", zap.Any("attributes", event.Attributes))
	}
	return nil
}

// PendingRequestCount returns the number of requests awaiting a checker
func (w *Worker) PendingRequestCount(ctx context.Context) (int64, error) {
	return w.client.SCard(ctx, PendingRequestsKey).Result()
}

// ProcessOne processes a single event synchronously (useful for testing)
func (w *Worker) ProcessOne(ctx context.Context) error {
	result, err := w.client.LPop(ctx, EventQueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	w.processMessage(ctx, result)
	return nil
}
