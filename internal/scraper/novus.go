package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// NovusScraper handles novus.online. Server-rendered catalog; the store
// cookie decides which warehouse prices get rendered.
type NovusScraper struct {
	maxPages int
	logger   *slog.Logger
}

const (
	novusChainName   = "Novus"
	novusBaseURL     = "https://novus.online"
	novusCookieName  = "store_id"
	novusCookieScope = ".novus.online"
	novusStorePrefix = "novus-"
)

var novusSelectors = listingSelectors{
	Card:       ".product-card, .catalog-product, .product-item, [data-product]",
	Name:       ".product-card__name, .product-title, .catalog-product__name",
	Price:      ".product-card__price, .price, .product-price",
	OutOfStock: ".product-card--unavailable, .out-of-stock",
}

var novusCategories = []string{
	novusBaseURL + "/category/molocna-produkciya",
	novusBaseURL + "/category/hlibobulochni-virobi",
}

func NewNovusScraper(maxPages int, logger *slog.Logger) *NovusScraper {
	return &NovusScraper{
		maxPages: maxPages,
		logger:   logger.With("component", "scraper", "chain", novusChainName),
	}
}

func (n *NovusScraper) ChainName() string    { return novusChainName }
func (n *NovusScraper) Categories() []string { return novusCategories }

func (n *NovusScraper) ApplyStoreContext(ctx context.Context, s Session, sc models.StoreContext) error {
	if !strings.HasPrefix(sc.ExternalStoreID, novusStorePrefix) {
		return &StoreResolutionError{
			ChainName:       novusChainName,
			ExternalStoreID: sc.ExternalStoreID,
			Err:             fmt.Errorf("external id must start with %q", novusStorePrefix),
		}
	}

	if err := s.Navigate(ctx, novusBaseURL); err != nil {
		return Transient("context", fmt.Errorf("navigate %s: %w", novusBaseURL, err))
	}

	if err := s.SetCookie(ctx, novusCookieName, sc.ExternalStoreID, novusCookieScope); err != nil {
		return Transient("context", fmt.Errorf("set store cookie: %w", err))
	}

	if err := s.Reload(ctx); err != nil {
		return Transient("context", fmt.Errorf("reload after store cookie: %w", err))
	}

	n.logger.Info("store context applied",
		"external_store_id", sc.ExternalStoreID, "phase", "context", "outcome", "ok")
	return nil
}

func (n *NovusScraper) ExtractCategory(ctx context.Context, s Session, sc models.StoreContext, categoryURL string) ([]models.RawRecord, error) {
	records, err := extractPaged(ctx, s, categoryURL, n.maxPages, novusSelectors, sc, novusBaseURL, n.logger)
	if err != nil {
		return records, err
	}

	n.logger.Info("category extracted",
		"url", categoryURL, "records", len(records), "phase", "extract", "outcome", "ok")
	return records, nil
}
