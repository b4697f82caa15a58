package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
	"github.com/fiscusdev/grocery-price-scraper/internal/ratelimit"
)

// StoreSource is the slice of the persistence layer the orchestrator
// reads stores from. Failure here is the one fatal condition of a run.
type StoreSource interface {
	ActiveStores(ctx context.Context) ([]models.Store, error)
	StoresByID(ctx context.Context, ids []int64) ([]models.Store, error)
}

// Options tunes a scraping pass. Zero values fall back to defaults.
type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	ConcurrentLimit int
}

func (o Options) withDefaults() Options {
	if o.ConcurrentLimit < 1 {
		o.ConcurrentLimit = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	return o
}

// Orchestrator drives a full scraping pass: stores × chains, one
// isolated session per store, bounded concurrency, per-store failure
// isolation.
type Orchestrator struct {
	registry   *Registry
	sessions   SessionFactory
	stores     StoreSource
	reconciler *Reconciler
	limiter    ratelimit.RateLimiter
	opts       Options
	logger     *slog.Logger
}

func NewOrchestrator(registry *Registry, sessions SessionFactory, stores StoreSource, reconciler *Reconciler, limiter ratelimit.RateLimiter, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		sessions:   sessions,
		stores:     stores,
		reconciler: reconciler,
		limiter:    limiter,
		opts:       opts.withDefaults(),
		logger:     logger.With("component", "orchestrator"),
	}
}

type storeOutcome struct {
	store     models.Store
	validated int
	rejected  int
	reconcile models.ReconcileResult
	phase     string
	err       error
}

// Run scrapes the given stores, or every active store when storeIDs is
// empty. A single store's failure never aborts the run; only a store
// lookup failure is fatal. Cancellation is honored at category
// boundaries, never mid-interaction.
func (o *Orchestrator) Run(ctx context.Context, storeIDs []int64) (*models.RunSummary, error) {
	stores, err := o.loadStores(ctx, storeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load stores: %w", err)
	}

	summary := &models.RunSummary{StartedAt: time.Now()}
	validator := NewValidator(stores)

	o.logger.Info("run starting",
		"stores", len(stores), "chains", o.registry.Chains(),
		"concurrency", o.opts.ConcurrentLimit)

	var (
		mu                sync.Mutex
		wg                sync.WaitGroup
		sem               = make(chan struct{}, o.opts.ConcurrentLimit)
		unsupportedChains = make(map[string]bool)
	)

	for _, store := range stores {
		summary.StoresAttempted++

		strategy, ok := o.registry.Get(store.ChainName)
		if !ok {
			mu.Lock()
			if !unsupportedChains[store.ChainName] {
				unsupportedChains[store.ChainName] = true
				summary.Unsupported = append(summary.Unsupported, store.ChainName)
				o.logger.Warn("unsupported chain, skipping its stores",
					"chain", store.ChainName, "store_id", store.ID,
					"outcome", "skipped", "reason", "no strategy registered")
			}
			mu.Unlock()
			continue
		}

		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(store models.Store, strategy ChainScraper) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			outcome := o.scrapeStoreWithRetry(ctx, store, strategy, validator)

			mu.Lock()
			defer mu.Unlock()
			if outcome.err != nil {
				summary.StoresFailed++
				summary.Failures = append(summary.Failures, models.StoreFailure{
					StoreID:   store.ID,
					ChainName: store.ChainName,
					Phase:     outcome.phase,
					Reason:    outcome.err.Error(),
				})
				return
			}
			summary.StoresSucceeded++
			summary.RecordsValidated += outcome.validated
			summary.RecordsRejected += outcome.rejected
			summary.PricesInserted += outcome.reconcile.Inserted
			summary.MarkedUnavailable += outcome.reconcile.MarkedUnavailable
		}(store, strategy)
	}

	wg.Wait()
	summary.FinishedAt = time.Now()

	o.reportChainOutages(stores, summary)
	o.logger.Info("run finished",
		"attempted", summary.StoresAttempted,
		"succeeded", summary.StoresSucceeded,
		"failed", summary.StoresFailed,
		"validated", summary.RecordsValidated,
		"rejected", summary.RecordsRejected,
		"inserted", summary.PricesInserted,
		"marked_unavailable", summary.MarkedUnavailable,
		"unsupported", summary.Unsupported)

	return summary, ctx.Err()
}

func (o *Orchestrator) loadStores(ctx context.Context, storeIDs []int64) ([]models.Store, error) {
	if len(storeIDs) == 0 {
		return o.stores.ActiveStores(ctx)
	}
	return o.stores.StoresByID(ctx, storeIDs)
}

// scrapeStoreWithRetry retries transient failures up to the configured
// limit. Resolution failures are permanent: the retailer does not know
// this store, retrying cannot fix that.
func (o *Orchestrator) scrapeStoreWithRetry(ctx context.Context, store models.Store, strategy ChainScraper, validator *Validator) storeOutcome {
	var outcome storeOutcome

	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			o.logger.Info("retrying store scrape",
				"store_id", store.ID, "chain", store.ChainName, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				outcome.err = ctx.Err()
				outcome.phase = "orchestrate"
				return outcome
			case <-time.After(o.opts.RetryDelay):
			}
		}

		outcome = o.scrapeStore(ctx, store, strategy, validator)
		if outcome.err == nil || !IsTransient(outcome.err) {
			break
		}
	}

	if outcome.err != nil {
		o.logger.Error("store scrape failed",
			"store_id", store.ID, "chain", store.ChainName,
			"phase", outcome.phase, "outcome", "failed", "reason", outcome.err.Error())
	}
	return outcome
}

// scrapeStore performs one attempt: fresh session, context injection,
// category extraction, validation, reconciliation. The session is closed
// on every exit path so no state leaks to the next store.
func (o *Orchestrator) scrapeStore(ctx context.Context, store models.Store, strategy ChainScraper, validator *Validator) storeOutcome {
	outcome := storeOutcome{store: store, phase: "context"}

	session, err := o.sessions.NewSession(ctx)
	if err != nil {
		outcome.err = Transient("context", fmt.Errorf("open session: %w", err))
		return outcome
	}
	defer session.Close()

	storeCtx := models.ContextFor(store)

	if err := strategy.ApplyStoreContext(ctx, session, storeCtx); err != nil {
		outcome.err = err
		return outcome
	}

	outcome.phase = "extract"
	var raw []models.RawRecord
	for _, categoryURL := range strategy.Categories() {
		// Safe checkpoint: cancellation lands between categories, never
		// mid-DOM-interaction.
		if err := ctx.Err(); err != nil {
			outcome.err = err
			return outcome
		}

		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				outcome.err = err
				return outcome
			}
		}

		records, err := strategy.ExtractCategory(ctx, session, storeCtx, categoryURL)
		if err != nil {
			outcome.err = err
			return outcome
		}
		raw = append(raw, records...)
	}

	outcome.phase = "validate"
	result := validator.ValidateBatch(raw)
	outcome.validated = len(result.Accepted)
	outcome.rejected = len(result.Rejected)
	for _, rej := range result.Rejected {
		o.logger.Warn("record rejected",
			"store_id", store.ID, "chain", store.ChainName, "name", rej.Record.Name,
			"phase", "validate", "outcome", "rejected", "reason", rej.Reason)
	}

	outcome.phase = "reconcile"
	reconciled, err := o.reconciler.Reconcile(ctx, store, result.Accepted, time.Now())
	if err != nil {
		outcome.err = err
		return outcome
	}
	outcome.reconcile = reconciled

	return outcome
}

// reportChainOutages logs chains where every store failed. Reported,
// never fatal: other chains already completed.
func (o *Orchestrator) reportChainOutages(stores []models.Store, summary *models.RunSummary) {
	attempted := make(map[string]int)
	failed := make(map[string]int)
	for _, s := range stores {
		attempted[s.ChainName]++
	}
	for _, f := range summary.Failures {
		failed[f.ChainName]++
	}
	for chain, total := range attempted {
		if total > 0 && failed[chain] == total {
			o.logger.Error("chain-wide outage: every store of chain failed",
				"chain", chain, "stores", total, "outcome", "outage")
		}
	}
}
