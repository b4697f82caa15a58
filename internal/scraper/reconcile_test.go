package scraper

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// fakePriceStore is an in-memory PriceStore with append-only history.
type fakePriceStore struct {
	mu       sync.Mutex
	nextID   int64
	products map[string]models.Product
	prices   []models.Price

	conflictOn map[string]bool
}

func newFakePriceStore() *fakePriceStore {
	return &fakePriceStore{
		nextID:     1,
		products:   make(map[string]models.Product),
		conflictOn: make(map[string]bool),
	}
}

func (f *fakePriceStore) ResolveOrCreateProduct(_ context.Context, name, barcode, imageURL string) (models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conflictOn[name] {
		return models.Product{}, &ConflictError{ProductName: name}
	}

	if p, ok := f.products[name]; ok {
		if p.ImageURL == "" && imageURL != "" {
			p.ImageURL = imageURL
			f.products[name] = p
		}
		return f.products[name], nil
	}

	p := models.Product{ID: f.nextID, Name: name, Barcode: barcode, ImageURL: imageURL}
	f.nextID++
	f.products[name] = p
	return p, nil
}

func (f *fakePriceStore) InsertPrice(_ context.Context, p models.Price) (models.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.nextID
	f.nextID++
	f.prices = append(f.prices, p)
	return p, nil
}

func (f *fakePriceStore) LatestStorePrices(_ context.Context, storeID int64) ([]models.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	latest := make(map[int64]models.Price)
	for _, p := range f.prices {
		if p.StoreID != storeID {
			continue
		}
		if cur, ok := latest[p.ProductID]; !ok || p.ScrapedAt.After(cur.ScrapedAt) {
			latest[p.ProductID] = p
		}
	}

	out := make([]models.Price, 0, len(latest))
	for _, p := range latest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (f *fakePriceStore) historyFor(name string, storeID int64) []models.Price {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[name]
	if !ok {
		return nil
	}
	var out []models.Price
	for _, pr := range f.prices {
		if pr.ProductID == p.ID && pr.StoreID == storeID {
			out = append(out, pr)
		}
	}
	return out
}

func record(name string, price float64) models.RawRecord {
	return models.RawRecord{
		ChainName:       "ATB",
		ExternalStoreID: "atb-test-1",
		Name:            name,
		Price:           price,
		InStock:         true,
	}
}

var reconcileStore = models.Store{ID: 7, ChainName: "ATB", ExternalStoreID: "atb-test-1"}

func TestReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts one row per accepted record", func(t *testing.T) {
		store := newFakePriceStore()
		r := NewReconciler(store, nil, slog.Default())

		result, err := r.Reconcile(ctx, reconcileStore,
			[]models.RawRecord{record("Молоко", 39.90), record("Хліб", 26.50)}, time.Now())
		require.NoError(t, err)

		assert.Equal(t, 2, result.Inserted)
		assert.Equal(t, 0, result.MarkedUnavailable)
		assert.Equal(t, 0, result.Conflicts)
		assert.Len(t, store.prices, 2)
	})

	t.Run("missing product is marked unavailable with history kept", func(t *testing.T) {
		store := newFakePriceStore()
		r := NewReconciler(store, nil, slog.Default())

		day1 := time.Date(2026, 8, 28, 23, 50, 0, 0, time.UTC)
		day2 := day1.Add(24 * time.Hour)

		_, err := r.Reconcile(ctx, reconcileStore,
			[]models.RawRecord{record("A", 10), record("B", 20), record("C", 30)}, day1)
		require.NoError(t, err)

		result, err := r.Reconcile(ctx, reconcileStore,
			[]models.RawRecord{record("A", 11), record("B", 20)}, day2)
		require.NoError(t, err)

		assert.Equal(t, 2, result.Inserted)
		assert.Equal(t, 1, result.MarkedUnavailable)

		history := store.historyFor("C", reconcileStore.ID)
		require.Len(t, history, 2)
		assert.True(t, history[0].IsAvailable)
		assert.False(t, history[1].IsAvailable)
		// The unavailable row carries the last known price.
		assert.InDelta(t, 30, history[1].PriceValue, 0.001)
		assert.Equal(t, day2, history[1].ScrapedAt)

		// Price change for A appended, not overwritten.
		assert.Len(t, store.historyFor("A", reconcileStore.ID), 2)
	})

	t.Run("already unavailable product is not marked again", func(t *testing.T) {
		store := newFakePriceStore()
		r := NewReconciler(store, nil, slog.Default())

		day1 := time.Now()
		_, err := r.Reconcile(ctx, reconcileStore, []models.RawRecord{record("A", 10), record("B", 20)}, day1)
		require.NoError(t, err)

		_, err = r.Reconcile(ctx, reconcileStore, []models.RawRecord{record("A", 10)}, day1.Add(time.Hour))
		require.NoError(t, err)

		result, err := r.Reconcile(ctx, reconcileStore, []models.RawRecord{record("A", 10)}, day1.Add(2*time.Hour))
		require.NoError(t, err)

		assert.Equal(t, 0, result.MarkedUnavailable)
		assert.Len(t, store.historyFor("B", reconcileStore.ID), 2)
	})

	t.Run("conflicting record is skipped and counted", func(t *testing.T) {
		store := newFakePriceStore()
		store.conflictOn["Сир"] = true
		r := NewReconciler(store, nil, slog.Default())

		result, err := r.Reconcile(ctx, reconcileStore,
			[]models.RawRecord{record("Молоко", 39.90), record("Сир", 120)}, time.Now())
		require.NoError(t, err)

		assert.Equal(t, 1, result.Inserted)
		assert.Equal(t, 1, result.Conflicts)
	})

	t.Run("image set on first sighting only", func(t *testing.T) {
		store := newFakePriceStore()
		r := NewReconciler(store, nil, slog.Default())

		first := record("Молоко", 39.90)
		first.ImageURL = "https://img.example.com/1.jpg"
		_, err := r.Reconcile(ctx, reconcileStore, []models.RawRecord{first}, time.Now())
		require.NoError(t, err)

		second := record("Молоко", 41.00)
		second.ImageURL = "https://img.example.com/other.jpg"
		_, err = r.Reconcile(ctx, reconcileStore, []models.RawRecord{second}, time.Now().Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, "https://img.example.com/1.jpg", store.products["Молоко"].ImageURL)
	})
}

type recordingSink struct {
	mu     sync.Mutex
	events int
}

func (s *recordingSink) PriceObserved(context.Context, models.Product, models.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events++
	return nil
}

func TestReconciler_PublishesObservations(t *testing.T) {
	store := newFakePriceStore()
	sink := &recordingSink{}
	r := NewReconciler(store, sink, slog.Default())

	_, err := r.Reconcile(context.Background(), reconcileStore,
		[]models.RawRecord{record("A", 10), record("B", 20)}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, sink.events)
}
