package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// MetroScraper handles metro.zakaz.ua. The zakaz.ua platform has no
// cookie or storage shortcut for location selection: the store picker is
// a modal that must be driven through the UI: open it, search by
// address, pick the matching entry, confirm.
type MetroScraper struct {
	maxPages int
	logger   *slog.Logger
}

const (
	metroChainName     = "Metro"
	metroBaseURL       = "https://metro.zakaz.ua"
	metroPickerTimeout = 12 * time.Second

	metroSelectedLabel = "[data-marker='address-header'], .AddressHeader__label"
	metroPickerButton  = "[data-marker='address-button'], .AddressHeader, .address-select__button"
	metroPickerInput   = "[data-marker='address-input'], .AddressModal input[type='text']"
	metroPickerList    = "[data-marker='address-suggestions'], .AddressModal__list"
	metroConfirmButton = "[data-marker='address-confirm'], .AddressModal__confirm, button[type='submit']"
)

var metroSelectors = listingSelectors{
	Card:       ".product-tile, .CatalogTile, [data-marker='product'], .product-card",
	Name:       ".product-tile__title, .CatalogTile__title, .product-title, h3, h4",
	Price:      ".product-tile__price, .Price, .product-price, [data-price]",
	OutOfStock: ".product-tile--unavailable, .CatalogTile--soldOut, .out-of-stock",
}

var metroCategories = []string{
	metroBaseURL + "/uk/categories/dairy/",
	metroBaseURL + "/uk/categories/bread/",
}

func NewMetroScraper(maxPages int, logger *slog.Logger) *MetroScraper {
	return &MetroScraper{
		maxPages: maxPages,
		logger:   logger.With("component", "scraper", "chain", metroChainName),
	}
}

func (m *MetroScraper) ChainName() string    { return metroChainName }
func (m *MetroScraper) Categories() []string { return metroCategories }

// ApplyStoreContext drives the location picker. Applying the same context
// twice is a no-op: when the header already shows the target address the
// picker is left untouched.
func (m *MetroScraper) ApplyStoreContext(ctx context.Context, s Session, sc models.StoreContext) error {
	if err := s.Navigate(ctx, metroBaseURL); err != nil {
		return Transient("context", fmt.Errorf("navigate %s: %w", metroBaseURL, err))
	}

	selected, err := m.currentAddress(ctx, s)
	if err == nil && selected != "" && strings.Contains(selected, sc.Address) {
		m.logger.Info("store context already applied",
			"external_store_id", sc.ExternalStoreID, "phase", "context", "outcome", "ok")
		return nil
	}

	if err := s.WaitForSelector(ctx, metroPickerButton, metroPickerTimeout); err != nil {
		return Transient("context", fmt.Errorf("address picker button never appeared: %w", err))
	}
	if err := s.Click(ctx, metroPickerButton); err != nil {
		return Transient("context", fmt.Errorf("open address picker: %w", err))
	}

	if err := s.WaitForSelector(ctx, metroPickerInput, metroPickerTimeout); err != nil {
		return Transient("context", fmt.Errorf("address input never appeared: %w", err))
	}
	if err := s.Fill(ctx, metroPickerInput, sc.Address); err != nil {
		return Transient("context", fmt.Errorf("type address: %w", err))
	}

	if err := s.WaitForSelector(ctx, metroPickerList, metroPickerTimeout); err != nil {
		return Transient("context", fmt.Errorf("suggestion list never appeared: %w", err))
	}

	// The suggestion list is virtualized, so the matching entry is located
	// and clicked in page script rather than through a CSS selector.
	script := fmt.Sprintf(`(() => {
		const list = document.querySelector(%q);
		if (!list) return false;
		const needle = %q.toLowerCase();
		for (const item of list.querySelectorAll('li, [role="option"]')) {
			if ((item.textContent || '').toLowerCase().includes(needle)) {
				item.click();
				return true;
			}
		}
		return false;
	})()`, strings.Split(metroPickerList, ",")[0], sc.Address)

	res, err := s.Evaluate(ctx, script)
	if err != nil {
		return Transient("context", fmt.Errorf("select suggestion: %w", err))
	}
	if matched, ok := res.(bool); !ok || !matched {
		return &StoreResolutionError{
			ChainName:       metroChainName,
			ExternalStoreID: sc.ExternalStoreID,
			Err:             fmt.Errorf("no suggestion matched address %q", sc.Address),
		}
	}

	if err := s.Click(ctx, metroConfirmButton); err != nil {
		return Transient("context", fmt.Errorf("confirm address: %w", err))
	}

	// The page re-renders after confirmation; wait for the header to
	// reflect the new context before extraction starts.
	if err := s.WaitForSelector(ctx, metroSelectedLabel, metroPickerTimeout); err != nil {
		return Transient("context", fmt.Errorf("address header never refreshed: %w", err))
	}

	m.logger.Info("store context applied",
		"external_store_id", sc.ExternalStoreID, "address", sc.Address,
		"phase", "context", "outcome", "ok")
	return nil
}

func (m *MetroScraper) currentAddress(ctx context.Context, s Session) (string, error) {
	res, err := s.Evaluate(ctx, fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		return el ? el.textContent : '';
	})()`, strings.Split(metroSelectedLabel, ",")[0]))
	if err != nil {
		return "", err
	}
	text, _ := res.(string)
	return strings.TrimSpace(text), nil
}

func (m *MetroScraper) ExtractCategory(ctx context.Context, s Session, sc models.StoreContext, categoryURL string) ([]models.RawRecord, error) {
	if err := s.Navigate(ctx, categoryURL); err != nil {
		return nil, Transient("extract", fmt.Errorf("navigate %s: %w", categoryURL, err))
	}

	firstCard := strings.TrimSpace(strings.Split(metroSelectors.Card, ",")[0])
	if err := s.WaitForSelector(ctx, firstCard, metroPickerTimeout); err != nil {
		return nil, Transient("extract", fmt.Errorf("product tiles never appeared on %s: %w", categoryURL, err))
	}

	records, err := extractScrolled(ctx, s, m.maxPages, metroSelectors, sc, metroBaseURL, m.logger)
	if err != nil {
		return records, err
	}

	m.logger.Info("category extracted",
		"url", categoryURL, "records", len(records), "phase", "extract", "outcome", "ok")
	return records, nil
}
