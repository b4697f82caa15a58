package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

const storeColumns = `id, chain_name, address, external_store_id, url_base,
	latitude, longitude, is_active, created_at, updated_at`

// UpsertStore inserts a seeded store or refreshes its mutable fields.
// Keyed by external_store_id: retailers occasionally rename or move a
// location while keeping its identifier.
func (db *DB) UpsertStore(ctx context.Context, s *models.Store) error {
	query := `
		INSERT INTO stores (chain_name, address, external_store_id, url_base, latitude, longitude, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_store_id) DO UPDATE SET
			chain_name = EXCLUDED.chain_name,
			address = EXCLUDED.address,
			url_base = EXCLUDED.url_base,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := db.pool.QueryRow(ctx, query,
		s.ChainName, s.Address, s.ExternalStoreID, s.URLBase,
		s.Latitude, s.Longitude, s.IsActive,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert store %s: %w", s.ExternalStoreID, err)
	}

	return nil
}

// ActiveStores returns every store participating in scheduled scraping.
func (db *DB) ActiveStores(ctx context.Context) ([]models.Store, error) {
	query := `SELECT ` + storeColumns + `
		FROM stores
		WHERE is_active
		ORDER BY chain_name, address`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active stores: %w", err)
	}
	defer rows.Close()

	return scanStores(rows)
}

// StoresByID returns the requested stores, active or not, so a manual
// run can target a deactivated location for verification.
func (db *DB) StoresByID(ctx context.Context, ids []int64) ([]models.Store, error) {
	query := `SELECT ` + storeColumns + `
		FROM stores
		WHERE id = ANY($1)
		ORDER BY chain_name, address`

	rows, err := db.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores by id: %w", err)
	}
	defer rows.Close()

	return scanStores(rows)
}

// DeactivateStore removes a store from scheduled scraping without
// deleting it or its price history.
func (db *DB) DeactivateStore(ctx context.Context, externalStoreID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE stores SET is_active = FALSE, updated_at = NOW() WHERE external_store_id = $1`,
		externalStoreID)
	if err != nil {
		return fmt.Errorf("failed to deactivate store %s: %w", externalStoreID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store not found: %s", externalStoreID)
	}
	return nil
}

func scanStores(rows pgx.Rows) ([]models.Store, error) {
	var stores []models.Store
	for rows.Next() {
		var s models.Store
		err := rows.Scan(
			&s.ID, &s.ChainName, &s.Address, &s.ExternalStoreID, &s.URLBase,
			&s.Latitude, &s.Longitude, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stores: %w", err)
	}

	return stores, nil
}
