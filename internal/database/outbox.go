package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PriceObservationStream is the Redis stream price events are delivered
// to when an event names no stream of its own.
const PriceObservationStream = "stream:price_observations"

// Outbox event lifecycle. Failed deliveries are retried with backoff
// until maxDeliveryAttempts, then parked as dead letter for operator
// review.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	maxDeliveryAttempts = 5
)

// OutboxEvent is one price event written in the same transaction as the
// observation it describes. The relay ships it to Redis afterwards, so a
// crash between reconciliation and delivery loses nothing.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	TargetStream  string
	Status        string
	RetryCount    int
	ErrorMessage  *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	NextRetryAt   *time.Time
}

// EnqueueOutboxEvent writes an event inside the caller's transaction,
// filling in id, status, stream and scheduling defaults.
func (db *DB) EnqueueOutboxEvent(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = PriceObservationStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}

	return nil
}

// PendingOutboxEvents returns events due for delivery, oldest first.
// Covers fresh events and failed ones whose retry time has arrived.
func (db *DB) PendingOutboxEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type,
		       payload, target_stream, status, retry_count,
		       error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= NOW()
		ORDER BY created_at
		LIMIT $3`

	rows, err := db.pool.Query(ctx, query, OutboxStatusPending, OutboxStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		if err := rows.Scan(
			&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox events: %w", err)
	}

	return events, nil
}

// MarkOutboxProcessed records a successful delivery.
func (db *DB) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $2, processed_at = NOW() WHERE id = $1`,
		id, OutboxStatusProcessed)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

// MarkOutboxFailed bumps the retry count and schedules the next attempt
// with exponential backoff capped at five minutes. After
// maxDeliveryAttempts the event is parked as dead letter. A single
// statement so concurrent relays cannot double-count a failure.
func (db *DB) MarkOutboxFailed(ctx context.Context, id uuid.UUID, cause error) error {
	query := `
		UPDATE outbox_event
		SET retry_count = retry_count + 1,
		    error_message = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE $5 END,
		    next_retry_at = NOW() + make_interval(secs => LEAST(POWER(2, retry_count + 1), 300))
		WHERE id = $1`

	tag, err := db.pool.Exec(ctx, query,
		id, cause.Error(), maxDeliveryAttempts, OutboxStatusDeadLetter, OutboxStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

// UndeliveredOutboxCount counts pending and retrying events, surfaced by
// the health endpoint as queue depth.
func (db *DB) UndeliveredOutboxCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status IN ($1, $2)`,
		OutboxStatusPending, OutboxStatusFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count undelivered outbox events: %w", err)
	}
	return count, nil
}

// DeadLetterOutboxCount counts events parked after exhausting retries.
func (db *DB) DeadLetterOutboxCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status = $1`,
		OutboxStatusDeadLetter).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letter outbox events: %w", err)
	}
	return count, nil
}
