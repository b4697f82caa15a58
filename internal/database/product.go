package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// ResolveOrCreateProduct finds the catalog product for an observation or
// creates it on first sighting. Barcode match wins over name match; a
// barcode pointing at a differently named product is a reconciliation
// conflict, surfaced to the caller instead of silently merging two
// catalog entries.
func (db *DB) ResolveOrCreateProduct(ctx context.Context, name, barcode, imageURL string) (models.Product, error) {
	var p models.Product

	if barcode != "" {
		err := db.pool.QueryRow(ctx,
			`SELECT id, name, category, COALESCE(barcode, ''), image_url, created_at
			 FROM products WHERE barcode = $1`, barcode).
			Scan(&p.ID, &p.Name, &p.Category, &p.Barcode, &p.ImageURL, &p.CreatedAt)
		switch {
		case err == nil:
			if p.Name != name {
				return models.Product{}, &productConflictError{
					name: name, existing: p.Name, barcode: barcode,
				}
			}
			return db.backfillImage(ctx, p, imageURL)
		case !errors.Is(err, pgx.ErrNoRows):
			return models.Product{}, fmt.Errorf("failed to look up product by barcode: %w", err)
		}
	}

	query := `
		INSERT INTO products (name, barcode, image_url)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (name) DO UPDATE SET
			barcode = COALESCE(products.barcode, EXCLUDED.barcode)
		RETURNING id, name, category, COALESCE(barcode, ''), image_url, created_at`

	err := db.pool.QueryRow(ctx, query, name, barcode, imageURL).
		Scan(&p.ID, &p.Name, &p.Category, &p.Barcode, &p.ImageURL, &p.CreatedAt)
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to resolve product %q: %w", name, err)
	}

	return db.backfillImage(ctx, p, imageURL)
}

// backfillImage sets a product image on first sighting only; an existing
// image is never overwritten by later scrapes.
func (db *DB) backfillImage(ctx context.Context, p models.Product, imageURL string) (models.Product, error) {
	if p.ImageURL != "" || imageURL == "" {
		return p, nil
	}

	_, err := db.pool.Exec(ctx,
		`UPDATE products SET image_url = $2 WHERE id = $1 AND image_url = ''`,
		p.ID, imageURL)
	if err != nil {
		return p, fmt.Errorf("failed to backfill product image: %w", err)
	}

	p.ImageURL = imageURL
	return p, nil
}

// GetProductByName retrieves a single catalog product.
func (db *DB) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	var p models.Product
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, category, COALESCE(barcode, ''), image_url, created_at
		 FROM products WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Category, &p.Barcode, &p.ImageURL, &p.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &p, nil
}

// productConflictError wraps models.ErrProductConflict so the reconciler
// skips the record instead of aborting the run.
type productConflictError struct {
	name     string
	existing string
	barcode  string
}

func (e *productConflictError) Error() string {
	return fmt.Sprintf("barcode %s already belongs to %q, record says %q", e.barcode, e.existing, e.name)
}

func (e *productConflictError) Unwrap() error { return models.ErrProductConflict }
