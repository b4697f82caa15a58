package database

import (
	"context"
	"fmt"
)

// Schema is created in-process at startup. The statements are idempotent
// so repeated boots and multiple replicas are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS stores (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		chain_name TEXT NOT NULL,
		address TEXT NOT NULL,
		external_store_id TEXT NOT NULL UNIQUE,
		url_base TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (chain_name, address)
	)`,

	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		barcode TEXT UNIQUE,
		image_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS prices (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		store_id BIGINT NOT NULL REFERENCES stores(id),
		price_value NUMERIC(10,2) NOT NULL CHECK (price_value > 0),
		is_available BOOLEAN NOT NULL DEFAULT TRUE,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Serves the "most recent price per (product, store)" query.
	`CREATE INDEX IF NOT EXISTS idx_prices_product_store_scraped
		ON prices (product_id, store_id, scraped_at DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_prices_store_scraped
		ON prices (store_id, scraped_at DESC)`,

	`CREATE TABLE IF NOT EXISTS scrape_runs (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		trigger TEXT NOT NULL,
		summary JSONB,
		error_message TEXT,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS outbox_event (
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		target_stream TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INT NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		next_retry_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_outbox_event_pending
		ON outbox_event (status, next_retry_at)`,
}

// Migrate applies the schema.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
