package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fiscusdev/grocery-price-scraper/internal/database"
	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypePriceObserved is published for every persisted price
	// observation, availability flips included.
	EventTypePriceObserved EventType = "PRICE_OBSERVED"
)

// PriceObservedPayload is the event body for a single price observation.
type PriceObservedPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Barcode     string    `json:"barcode,omitempty"`
	StoreID     int64     `json:"store_id"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	IsAvailable bool      `json:"is_available"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Source      string    `json:"source"`
}

// Publisher writes price events through the transactional outbox. The
// relay delivers them to Redis streams; a crash between scrape and
// delivery loses nothing.
type Publisher struct {
	db     *database.DB
	logger *slog.Logger
}

// NewPublisher creates a new event publisher with database connection
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		logger: logger.With("component", "event_publisher"),
	}
}

// PriceObserved enqueues a PRICE_OBSERVED event for one persisted
// observation. Satisfies the reconciler's event sink.
func (p *Publisher) PriceObserved(ctx context.Context, product models.Product, price models.Price) error {
	payload := PriceObservedPayload{
		EventID:     uuid.New().String(),
		EventType:   string(EventTypePriceObserved),
		Timestamp:   time.Now(),
		ProductID:   product.ID,
		ProductName: product.Name,
		Barcode:     product.Barcode,
		StoreID:     price.StoreID,
		Price:       price.PriceValue,
		Currency:    "UAH",
		IsAvailable: price.IsAvailable,
		ScrapedAt:   price.ScrapedAt,
		Source:      "scraper",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: "price",
		AggregateID:   strconv.FormatInt(product.ID, 10) + ":" + strconv.FormatInt(price.StoreID, 10),
		EventType:     string(EventTypePriceObserved),
		Payload:       data,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.db.EnqueueOutboxEvent(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"event_id", payload.EventID,
		"event_type", payload.EventType,
		"product_id", product.ID,
		"store_id", price.StoreID)

	return nil
}
