package database

import (
	"context"
	"fmt"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// InsertPrice appends one immutable observation row. Price history is
// never updated in place; availability changes append too.
func (db *DB) InsertPrice(ctx context.Context, p models.Price) (models.Price, error) {
	query := `
		INSERT INTO prices (product_id, store_id, price_value, is_available, scraped_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := db.pool.QueryRow(ctx, query,
		p.ProductID, p.StoreID, p.PriceValue, p.IsAvailable, p.ScrapedAt).
		Scan(&p.ID)
	if err != nil {
		return models.Price{}, fmt.Errorf("failed to insert price: %w", err)
	}

	return p, nil
}

// LatestStorePrices returns the most recent observation per product at
// one store. This is the authoritative current-price set: the newest row
// wins regardless of availability.
func (db *DB) LatestStorePrices(ctx context.Context, storeID int64) ([]models.Price, error) {
	query := `
		SELECT DISTINCT ON (product_id)
			id, product_id, store_id, price_value, is_available, scraped_at
		FROM prices
		WHERE store_id = $1
		ORDER BY product_id, scraped_at DESC`

	rows, err := db.pool.Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}
	defer rows.Close()

	var prices []models.Price
	for rows.Next() {
		var p models.Price
		if err := rows.Scan(&p.ID, &p.ProductID, &p.StoreID, &p.PriceValue, &p.IsAvailable, &p.ScrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prices: %w", err)
	}

	return prices, nil
}

// PriceHistory returns all observations for a product at a store, newest
// first.
func (db *DB) PriceHistory(ctx context.Context, productID, storeID int64) ([]models.Price, error) {
	query := `
		SELECT id, product_id, store_id, price_value, is_available, scraped_at
		FROM prices
		WHERE product_id = $1 AND store_id = $2
		ORDER BY scraped_at DESC`

	rows, err := db.pool.Query(ctx, query, productID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var prices []models.Price
	for rows.Next() {
		var p models.Price
		if err := rows.Scan(&p.ID, &p.ProductID, &p.StoreID, &p.PriceValue, &p.IsAvailable, &p.ScrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price history: %w", err)
	}

	return prices, nil
}
