package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// listingSelectors describes how to find product cards on one chain's
// category pages. Selector lists are comma-joined CSS alternatives so a
// retailer markup change degrades instead of breaking outright.
type listingSelectors struct {
	Card       string
	Name       string
	Price      string
	OutOfStock string
}

// parseListing extracts raw records from rendered listing HTML. A card
// that cannot be parsed is skipped; the rest of the page proceeds.
func parseListing(html string, sel listingSelectors, sc models.StoreContext, baseURL string, logger *slog.Logger) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing html: %w", err)
	}

	var records []models.RawRecord

	doc.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		name := strings.TrimSpace(card.Find(sel.Name).First().Text())
		if name == "" {
			return
		}

		priceText := strings.TrimSpace(card.Find(sel.Price).First().Text())
		if priceText == "" {
			priceText, _ = card.Attr("data-price")
		}
		price, err := CleanPrice(priceText)
		if err != nil {
			logger.Debug("skipping malformed listing", "name", name, "price_text", priceText)
			return
		}

		inStock := true
		if sel.OutOfStock != "" && card.Find(sel.OutOfStock).Length() > 0 {
			inStock = false
		}

		href, _ := card.Find("a[href]").First().Attr("href")

		img := card.Find("img").First()
		src, _ := img.Attr("src")
		dataSrc, _ := img.Attr("data-src")
		dataLazy, _ := img.Attr("data-lazy")

		records = append(records, models.RawRecord{
			ChainName:       sc.ChainName,
			ExternalStoreID: sc.ExternalStoreID,
			Name:            name,
			Price:           price,
			InStock:         inStock,
			ImageURL:        CleanImageURL(src, dataSrc, dataLazy),
			ProductURL:      AbsoluteURL(baseURL, href),
		})
	})

	return records, nil
}

// extractScrolled drains an infinite-scroll listing already loaded in the
// session. Each round scrolls further and re-parses; extraction stops
// when a round adds no new cards or the round budget is spent.
func extractScrolled(ctx context.Context, s Session, maxRounds int, sel listingSelectors, sc models.StoreContext, baseURL string, logger *slog.Logger) ([]models.RawRecord, error) {
	var records []models.RawRecord

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		if err := s.Scroll(ctx, 5, 600); err != nil {
			return records, Transient("extract", fmt.Errorf("scroll round %d: %w", round+1, err))
		}

		html, err := s.Content(ctx)
		if err != nil {
			return records, Transient("extract", fmt.Errorf("content round %d: %w", round+1, err))
		}

		parsed, err := parseListing(html, sel, sc, baseURL, logger)
		if err != nil {
			return records, err
		}
		if len(parsed) <= len(records) {
			return parsed, nil
		}
		records = parsed
	}

	return records, nil
}

// pagedURL appends the page query parameter for server-paginated catalogs.
func pagedURL(categoryURL string, page int) string {
	if page <= 1 {
		return categoryURL
	}
	sep := "?"
	if strings.Contains(categoryURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", categoryURL, sep, page)
}

// extractPaged walks ?page=N pagination until a page yields no cards or
// the page cap is reached. Used by the server-rendered chains.
func extractPaged(ctx context.Context, s Session, categoryURL string, maxPages int, sel listingSelectors, sc models.StoreContext, baseURL string, logger *slog.Logger) ([]models.RawRecord, error) {
	var all []models.RawRecord

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		url := pagedURL(categoryURL, page)
		if err := s.Navigate(ctx, url); err != nil {
			return all, Transient("extract", fmt.Errorf("navigate %s: %w", url, err))
		}
		if err := s.Scroll(ctx, 3, 800); err != nil {
			return all, Transient("extract", fmt.Errorf("scroll %s: %w", url, err))
		}

		html, err := s.Content(ctx)
		if err != nil {
			return all, Transient("extract", fmt.Errorf("content %s: %w", url, err))
		}

		records, err := parseListing(html, sel, sc, baseURL, logger)
		if err != nil {
			return all, err
		}
		if len(records) == 0 {
			break
		}

		all = append(all, records...)
	}

	return all, nil
}
