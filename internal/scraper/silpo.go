package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// SilpoScraper handles silpo.ua, a React SPA. The active store lives in
// localStorage (keyed by the chain's internal numeric id) with a
// mirroring cookie for the API layer; a reload makes the app re-fetch
// prices for that store. Listings load through infinite scroll.
type SilpoScraper struct {
	maxPages int
	logger   *slog.Logger
}

const (
	silpoChainName   = "Silpo"
	silpoBaseURL     = "https://silpo.ua"
	silpoStorageKey  = "activeStore"
	silpoCookieName  = "storeId"
	silpoStorePrefix = "silpo-"
	silpoGridTimeout = 15 * time.Second
)

var silpoSelectors = listingSelectors{
	Card:       ".products-list__item, .product-card, [data-test='product-card'], .product-list-item",
	Name:       ".product-card__title, [data-test='product-title'], .product-title",
	Price:      ".product-card__price, .ft-product-price, [data-test='product-price'], .product-price__main",
	OutOfStock: ".product-card--disabled, [data-test='out-of-stock'], .sold-out",
}

var silpoCategories = []string{
	silpoBaseURL + "/category/molocni-produkti-ta-yajcya-318",
	silpoBaseURL + "/category/hlibobulochni-virobi-320",
	silpoBaseURL + "/category/myaso-ta-kovbasy-316",
}

func NewSilpoScraper(maxPages int, logger *slog.Logger) *SilpoScraper {
	return &SilpoScraper{
		maxPages: maxPages,
		logger:   logger.With("component", "scraper", "chain", silpoChainName),
	}
}

func (s *SilpoScraper) ChainName() string    { return silpoChainName }
func (s *SilpoScraper) Categories() []string { return silpoCategories }

// internalStoreID maps our external id onto the numeric id the SPA keeps
// in localStorage. External ids are minted as "silpo-<number>" by the
// store seeding process.
func internalStoreID(externalStoreID string) (string, error) {
	raw := strings.TrimPrefix(externalStoreID, silpoStorePrefix)
	if raw == externalStoreID {
		return "", fmt.Errorf("external id must start with %q", silpoStorePrefix)
	}
	if _, err := strconv.Atoi(raw); err != nil {
		return "", fmt.Errorf("external id suffix %q is not numeric", raw)
	}
	return raw, nil
}

func (s *SilpoScraper) ApplyStoreContext(ctx context.Context, sess Session, sc models.StoreContext) error {
	internalID, err := internalStoreID(sc.ExternalStoreID)
	if err != nil {
		return &StoreResolutionError{
			ChainName:       silpoChainName,
			ExternalStoreID: sc.ExternalStoreID,
			Err:             err,
		}
	}

	if err := sess.Navigate(ctx, silpoBaseURL); err != nil {
		return Transient("context", fmt.Errorf("navigate %s: %w", silpoBaseURL, err))
	}

	script := fmt.Sprintf(
		`(() => { localStorage.setItem(%q, %q); return localStorage.getItem(%q); })()`,
		silpoStorageKey, internalID, silpoStorageKey)
	res, err := sess.Evaluate(ctx, script)
	if err != nil {
		return Transient("context", fmt.Errorf("write active store to localStorage: %w", err))
	}
	if stored, ok := res.(string); !ok || stored != internalID {
		return &StoreResolutionError{
			ChainName:       silpoChainName,
			ExternalStoreID: sc.ExternalStoreID,
			Err:             fmt.Errorf("localStorage write not persisted"),
		}
	}

	if err := sess.SetCookie(ctx, silpoCookieName, internalID, ".silpo.ua"); err != nil {
		return Transient("context", fmt.Errorf("set mirror cookie: %w", err))
	}

	if err := sess.Reload(ctx); err != nil {
		return Transient("context", fmt.Errorf("reload after store selection: %w", err))
	}

	s.logger.Info("store context applied",
		"external_store_id", sc.ExternalStoreID, "internal_id", internalID,
		"phase", "context", "outcome", "ok")
	return nil
}

// ExtractCategory waits for the product grid, then scrolls until the card
// count stops growing or the scroll budget is spent.
func (s *SilpoScraper) ExtractCategory(ctx context.Context, sess Session, sc models.StoreContext, categoryURL string) ([]models.RawRecord, error) {
	if err := sess.Navigate(ctx, categoryURL); err != nil {
		return nil, Transient("extract", fmt.Errorf("navigate %s: %w", categoryURL, err))
	}

	firstCard := strings.TrimSpace(strings.Split(silpoSelectors.Card, ",")[0])
	if err := sess.WaitForSelector(ctx, firstCard, silpoGridTimeout); err != nil {
		return nil, Transient("extract", fmt.Errorf("product grid never appeared on %s: %w", categoryURL, err))
	}

	records, err := extractScrolled(ctx, sess, s.maxPages, silpoSelectors, sc, silpoBaseURL, s.logger)
	if err != nil {
		return records, err
	}

	s.logger.Info("category extracted",
		"url", categoryURL, "records", len(records), "phase", "extract", "outcome", "ok")
	return records, nil
}
