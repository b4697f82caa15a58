package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// ATBScraper handles atbmarket.com. Location selection is cookie-based:
// the site is server-rendered and re-renders prices for the store carried
// in the selectedStore cookie after a reload.
type ATBScraper struct {
	maxPages int
	logger   *slog.Logger
}

const (
	atbChainName   = "ATB"
	atbBaseURL     = "https://www.atbmarket.com"
	atbCookieName  = "selectedStore"
	atbCookieScope = ".atbmarket.com"
	atbStorePrefix = "atb-"
)

var atbSelectors = listingSelectors{
	Card:       ".catalog-item, .product-catalog__item, .product-list__item, [data-product-id]",
	Name:       ".catalog-item__title, .product-catalog__title, .product-title, a[title]",
	Price:      ".product-price__top, .catalog-item__price, .price, [data-price]",
	OutOfStock: ".catalog-item--out-of-stock, .product-unavailable, .btn-disabled",
}

var atbCategories = []string{
	atbBaseURL + "/catalog/300-molochni-produkti-yaycya",
	atbBaseURL + "/catalog/302-hlibobulochni-virobi",
	atbBaseURL + "/catalog/306-m-yaso-kovbasi",
	atbBaseURL + "/catalog/303-krupi-makaroni-boroshno",
}

func NewATBScraper(maxPages int, logger *slog.Logger) *ATBScraper {
	return &ATBScraper{
		maxPages: maxPages,
		logger:   logger.With("component", "scraper", "chain", atbChainName),
	}
}

func (a *ATBScraper) ChainName() string    { return atbChainName }
func (a *ATBScraper) Categories() []string { return atbCategories }

// ApplyStoreContext sets the store cookie and reloads so server-rendered
// prices reflect the location. Setting the same cookie again is a no-op,
// which makes repeated application safe.
func (a *ATBScraper) ApplyStoreContext(ctx context.Context, s Session, sc models.StoreContext) error {
	if !strings.HasPrefix(sc.ExternalStoreID, atbStorePrefix) {
		return &StoreResolutionError{
			ChainName:       atbChainName,
			ExternalStoreID: sc.ExternalStoreID,
			Err:             fmt.Errorf("external id must start with %q", atbStorePrefix),
		}
	}

	if err := s.Navigate(ctx, atbBaseURL); err != nil {
		return Transient("context", fmt.Errorf("navigate %s: %w", atbBaseURL, err))
	}

	if err := s.SetCookie(ctx, atbCookieName, sc.ExternalStoreID, atbCookieScope); err != nil {
		return Transient("context", fmt.Errorf("set store cookie: %w", err))
	}

	if err := s.Reload(ctx); err != nil {
		return Transient("context", fmt.Errorf("reload after store cookie: %w", err))
	}

	// The site drops unknown store ids from the cookie jar on reload.
	res, err := s.Evaluate(ctx, fmt.Sprintf(
		`document.cookie.includes(%q)`, atbCookieName+"="+sc.ExternalStoreID))
	if err != nil {
		return Transient("context", fmt.Errorf("verify store cookie: %w", err))
	}
	if accepted, ok := res.(bool); !ok || !accepted {
		return &StoreResolutionError{
			ChainName:       atbChainName,
			ExternalStoreID: sc.ExternalStoreID,
			Err:             fmt.Errorf("site rejected store cookie"),
		}
	}

	a.logger.Info("store context applied",
		"external_store_id", sc.ExternalStoreID, "phase", "context", "outcome", "ok")
	return nil
}

func (a *ATBScraper) ExtractCategory(ctx context.Context, s Session, sc models.StoreContext, categoryURL string) ([]models.RawRecord, error) {
	records, err := extractPaged(ctx, s, categoryURL, a.maxPages, atbSelectors, sc, atbBaseURL, a.logger)
	if err != nil {
		return records, err
	}

	a.logger.Info("category extracted",
		"url", categoryURL, "records", len(records), "phase", "extract", "outcome", "ok")
	return records, nil
}
