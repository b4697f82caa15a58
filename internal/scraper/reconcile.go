package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// PriceStore is the slice of the persistence layer the reconciler needs.
// *database.DB satisfies it; tests use an in-memory fake.
type PriceStore interface {
	// ResolveOrCreateProduct finds the catalog product for an observation
	// (by barcode when present, otherwise by exact name) or creates it.
	// imageURL is applied only when the product has none yet.
	ResolveOrCreateProduct(ctx context.Context, name, barcode, imageURL string) (models.Product, error)
	// InsertPrice appends one immutable observation row.
	InsertPrice(ctx context.Context, p models.Price) (models.Price, error)
	// LatestStorePrices returns the most recent row per product at one
	// store, the authoritative current-price set.
	LatestStorePrices(ctx context.Context, storeID int64) ([]models.Price, error)
}

// EventSink receives price observations for downstream consumers.
type EventSink interface {
	PriceObserved(ctx context.Context, product models.Product, price models.Price) error
}

// Reconciler maps validated records onto the product/price history.
// History is append-only: a product missing from a run is marked
// unavailable by appending a row, never by deleting one.
type Reconciler struct {
	store  PriceStore
	events EventSink
	logger *slog.Logger

	mu         sync.Mutex
	storeLocks map[int64]*sync.Mutex
}

func NewReconciler(store PriceStore, events EventSink, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		events:     events,
		logger:     logger.With("component", "reconciler"),
		storeLocks: make(map[int64]*sync.Mutex),
	}
}

// lockFor serializes reconciliation per store. Different stores proceed
// concurrently; the unavailable-marking pass must see the complete
// accepted set of exactly one run.
func (r *Reconciler) lockFor(storeID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.storeLocks[storeID]
	if !ok {
		lock = &sync.Mutex{}
		r.storeLocks[storeID] = lock
	}
	return lock
}

// Reconcile persists one store's full accepted set, then appends
// is_available=false rows for every product whose latest observation at
// this store predates the run. Conflicting records are skipped and
// counted, never fatal.
func (r *Reconciler) Reconcile(ctx context.Context, store models.Store, accepted []models.RawRecord, scrapedAt time.Time) (models.ReconcileResult, error) {
	lock := r.lockFor(store.ID)
	lock.Lock()
	defer lock.Unlock()

	var result models.ReconcileResult
	seen := make(map[int64]bool, len(accepted))

	for _, rec := range accepted {
		product, err := r.store.ResolveOrCreateProduct(ctx, rec.Name, rec.Barcode, rec.ImageURL)
		if err != nil {
			if errors.Is(err, models.ErrProductConflict) {
				result.Conflicts++
				r.logger.Warn("skipping conflicting record",
					"store_id", store.ID, "chain", store.ChainName, "name", rec.Name,
					"phase", "reconcile", "outcome", "conflict", "reason", err.Error())
				continue
			}
			return result, fmt.Errorf("resolve product %q: %w", rec.Name, err)
		}

		price, err := r.store.InsertPrice(ctx, models.Price{
			ProductID:   product.ID,
			StoreID:     store.ID,
			PriceValue:  rec.Price,
			IsAvailable: rec.InStock,
			ScrapedAt:   scrapedAt,
		})
		if err != nil {
			return result, fmt.Errorf("insert price for %q: %w", rec.Name, err)
		}

		seen[product.ID] = true
		result.Inserted++

		if r.events != nil {
			if err := r.events.PriceObserved(ctx, product, price); err != nil {
				r.logger.Error("failed to publish price observation",
					"store_id", store.ID, "product_id", product.ID, "error", err)
			}
		}
	}

	marked, err := r.markMissingUnavailable(ctx, store, seen, scrapedAt)
	if err != nil {
		return result, err
	}
	result.MarkedUnavailable = marked

	r.logger.Info("store reconciled",
		"store_id", store.ID, "chain", store.ChainName,
		"inserted", result.Inserted, "marked_unavailable", result.MarkedUnavailable,
		"conflicts", result.Conflicts, "phase", "reconcile", "outcome", "ok")
	return result, nil
}

// markMissingUnavailable appends an is_available=false row carrying the
// last known price for every product absent from this run's accepted set.
func (r *Reconciler) markMissingUnavailable(ctx context.Context, store models.Store, seen map[int64]bool, scrapedAt time.Time) (int, error) {
	latest, err := r.store.LatestStorePrices(ctx, store.ID)
	if err != nil {
		return 0, fmt.Errorf("load latest prices for store %d: %w", store.ID, err)
	}

	marked := 0
	for _, current := range latest {
		if seen[current.ProductID] || !current.IsAvailable {
			continue
		}

		if _, err := r.store.InsertPrice(ctx, models.Price{
			ProductID:   current.ProductID,
			StoreID:     store.ID,
			PriceValue:  current.PriceValue,
			IsAvailable: false,
			ScrapedAt:   scrapedAt,
		}); err != nil {
			return marked, fmt.Errorf("mark product %d unavailable: %w", current.ProductID, err)
		}
		marked++
	}

	return marked, nil
}
