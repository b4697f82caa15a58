package models

import (
	"errors"
	"time"
)

// ErrProductConflict signals an ambiguous product resolution (e.g. a
// barcode already bound to a differently named product). Persistence
// implementations wrap it so the reconciler can skip the record without
// aborting the run.
var ErrProductConflict = errors.New("product resolution conflict")

// Store is one physical retail location of a chain. Stores are seeded
// once and deactivated, never deleted, when a retailer closes a location.
type Store struct {
	ID              int64     `json:"id"`
	ChainName       string    `json:"chain_name"`
	Address         string    `json:"address"`
	ExternalStoreID string    `json:"external_store_id"`
	URLBase         string    `json:"url_base"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Product is a chain-agnostic catalog entry, created on first sighting
// at any store and never deleted.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Barcode   string    `json:"barcode,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Price is one immutable price observation for a product at a store.
// History is append-only; the most recent row per (product, store) is
// authoritative for current-price queries.
type Price struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	StoreID     int64     `json:"store_id"`
	PriceValue  float64   `json:"price_value"`
	IsAvailable bool      `json:"is_available"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// StoreContext carries everything a chain scraper needs to select one
// physical location on the retailer's site. Transient, never persisted.
type StoreContext struct {
	ExternalStoreID string
	ChainName       string
	Address         string
	Latitude        float64
	Longitude       float64
}

// ContextFor builds the scrape-session context for a store.
func ContextFor(s Store) StoreContext {
	return StoreContext{
		ExternalStoreID: s.ExternalStoreID,
		ChainName:       s.ChainName,
		Address:         s.Address,
		Latitude:        s.Latitude,
		Longitude:       s.Longitude,
	}
}

// RawRecord is a single pre-validation observation scraped from a
// category listing page.
type RawRecord struct {
	ChainName       string  `json:"chain_name" validate:"required"`
	ExternalStoreID string  `json:"external_store_id" validate:"required"`
	Name            string  `json:"name" validate:"required,min=3"`
	Price           float64 `json:"price" validate:"required,gt=0"`
	InStock         bool    `json:"in_stock"`
	ImageURL        string  `json:"image_url,omitempty"`
	ProductURL      string  `json:"product_url,omitempty"`
	Barcode         string  `json:"barcode,omitempty"`
}

// ReconcileResult summarizes one store's reconciliation pass.
type ReconcileResult struct {
	Inserted          int `json:"inserted"`
	MarkedUnavailable int `json:"marked_unavailable"`
	Conflicts         int `json:"conflicts"`
}

// StoreFailure records why a store was skipped during a run.
type StoreFailure struct {
	StoreID   int64  `json:"store_id"`
	ChainName string `json:"chain_name"`
	Phase     string `json:"phase"`
	Reason    string `json:"reason"`
}

// RunSummary is the per-run report emitted by the orchestrator and
// persisted with the run row.
type RunSummary struct {
	StoresAttempted   int            `json:"stores_attempted"`
	StoresSucceeded   int            `json:"stores_succeeded"`
	StoresFailed      int            `json:"stores_failed"`
	Unsupported       []string       `json:"unsupported,omitempty"`
	Failures          []StoreFailure `json:"failures,omitempty"`
	RecordsValidated  int            `json:"validated"`
	RecordsRejected   int            `json:"rejected"`
	PricesInserted    int            `json:"prices_inserted"`
	MarkedUnavailable int            `json:"marked_unavailable"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
}

// Run statuses stored in scrape_runs.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one scheduled or manually triggered scraping pass.
type Run struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Trigger    string      `json:"trigger"`
	Summary    *RunSummary `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
