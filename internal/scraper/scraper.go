package scraper

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// Session is one isolated browser surface (cookies, storage, page) owned
// by a single store scrape for its lifetime. Implemented by
// internal/browser on top of playwright; faked in tests.
type Session interface {
	// Navigate loads url and waits for the DOM to be ready.
	Navigate(ctx context.Context, url string) error
	// Reload re-fetches the current page so server-rendered content picks
	// up freshly set cookies or storage.
	Reload(ctx context.Context) error
	// SetCookie sets a cookie for the given domain.
	SetCookie(ctx context.Context, name, value, domain string) error
	// Evaluate runs a script in the page and returns its result.
	Evaluate(ctx context.Context, script string) (any, error)
	// WaitForSelector blocks until selector is present or timeout elapses.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// Fill types text into the first element matching selector.
	Fill(ctx context.Context, selector, text string) error
	// Scroll scrolls the page down to trigger lazy loading.
	Scroll(ctx context.Context, times, distance int) error
	// Content returns the current rendered HTML.
	Content(ctx context.Context) (string, error)
	Close() error
}

// SessionFactory opens fresh isolated sessions. One session per store
// scrape; state never leaks between sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// ChainScraper is the per-chain strategy: select a physical location,
// then extract raw listings from category pages.
type ChainScraper interface {
	// ChainName is the registry key, matching Store.ChainName.
	ChainName() string
	// Categories lists the category URLs scraped for this chain.
	Categories() []string
	// ApplyStoreContext establishes the selected-location state in the
	// session. Idempotent: applying the same context twice leaves the
	// resolved location unchanged. Returns *StoreResolutionError when the
	// target location does not exist on the retailer's site.
	ApplyStoreContext(ctx context.Context, s Session, sc models.StoreContext) error
	// ExtractCategory scrapes one category listing, following pagination
	// or infinite scroll up to the configured page cap. Records echo the
	// chain and external store id from sc so downstream stages can tie
	// them back without re-reading session state. Malformed listings are
	// skipped, out-of-stock items are returned with InStock=false.
	ExtractCategory(ctx context.Context, s Session, sc models.StoreContext, categoryURL string) ([]models.RawRecord, error)
}

// Registry maps chain names to their scraper strategies.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]ChainScraper
}

func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]ChainScraper)}
}

// Register adds a strategy, replacing any previous one for the chain.
func (r *Registry) Register(s ChainScraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.ChainName()] = s
}

// Get resolves the strategy for a chain.
func (r *Registry) Get(chainName string) (ChainScraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[chainName]
	return s, ok
}

// Chains returns the registered chain names, sorted.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
