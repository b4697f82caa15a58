package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// relaySource identifies this service in event envelopes.
const relaySource = "grocery-price-scraper"

// RedisClient is the slice of go-redis the relay publishes through.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// outboxQueue is the slice of *DB the relay drains. Faked in tests.
type outboxQueue interface {
	PendingOutboxEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, cause error) error
	UndeliveredOutboxCount(ctx context.Context) (int64, error)
	DeadLetterOutboxCount(ctx context.Context) (int64, error)
}

// Relay drains the outbox to Redis streams on a fixed poll. Delivery is
// at-least-once: consumers dedupe on the envelope id.
type Relay struct {
	queue     outboxQueue
	redis     RedisClient
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(db *DB, redisClient *redis.Client, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Relay{
		queue:     db,
		redis:     redisClient,
		logger:    logger.With("component", "outbox_relay"),
		pollEvery: cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// Start polls until the context is cancelled. Drains once immediately so
// a restart does not wait out a full interval before picking up backlog.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("relay starting",
		"poll_interval", r.pollEvery, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	if err := r.drainOnce(ctx); err != nil {
		r.logger.Error("failed to drain outbox", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.logger.Error("failed to drain outbox", "error", err)
			}
		}
	}
}

// drainOnce delivers one batch. A single event's failure is recorded on
// that event and the rest of the batch continues.
func (r *Relay) drainOnce(ctx context.Context) error {
	events, err := r.queue.PendingOutboxEvents(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to load pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("delivering events", "count", len(events))

	for _, event := range events {
		if err := r.deliver(ctx, event); err != nil {
			r.logger.Error("failed to deliver event",
				"event_id", event.ID, "aggregate_id", event.AggregateID, "error", err)
		}
	}

	return nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	if err := r.publish(ctx, event); err != nil {
		if markErr := r.queue.MarkOutboxFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to record delivery failure",
				"event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.queue.MarkOutboxProcessed(ctx, event.ID); err != nil {
		return err
	}

	r.logger.Info("event delivered",
		"event_id", event.ID, "event_type", event.EventType,
		"stream", event.TargetStream)
	return nil
}

// publish ships one event to its stream. The full envelope travels in
// the data field; the flat fields let consumers filter entries without
// parsing it.
func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	var payload map[string]interface{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	envelope := map[string]interface{}{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]interface{}{
			"source":      relaySource,
			"outbox_id":   event.ID.String(),
			"retry_count": event.RetryCount,
		},
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]interface{}{
			"data":         string(data),
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
			"enqueued_at":  strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		},
	}

	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}

// PendingCount reports undelivered queue depth for the health endpoint.
func (r *Relay) PendingCount(ctx context.Context) (int64, error) {
	return r.queue.UndeliveredOutboxCount(ctx)
}

// DeadLetterCount reports events that exhausted their retries.
func (r *Relay) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.queue.DeadLetterOutboxCount(ctx)
}
