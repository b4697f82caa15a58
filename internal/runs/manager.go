package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// ErrRunInProgress is returned when a run is requested while another is
// still executing. Retailer sites are rate sensitive; overlapping full
// passes are never allowed.
var ErrRunInProgress = errors.New("a scrape run is already in progress")

// RunStore is the slice of the persistence layer the manager needs.
type RunStore interface {
	CreateRun(ctx context.Context, runID, trigger string) (models.Run, error)
	MarkRunRunning(ctx context.Context, runID string) error
	FinishRun(ctx context.Context, runID, status string, summary *models.RunSummary, errMsg string) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	RecentRuns(ctx context.Context, limit int) ([]models.Run, error)
}

// Executor runs one scraping pass over the given stores. Empty storeIDs
// means all active stores.
type Executor interface {
	Run(ctx context.Context, storeIDs []int64) (*models.RunSummary, error)
}

// Manager tracks scrape runs, enforces single-flight execution and
// persists each run's lifecycle.
type Manager struct {
	store    RunStore
	executor Executor
	logger   *slog.Logger
	timeout  time.Duration

	mu     sync.Mutex
	active bool
}

// NewManager creates a run manager. timeout bounds a whole run; zero
// means no bound.
func NewManager(store RunStore, executor Executor, timeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		executor: executor,
		logger:   logger.With("component", "run_manager"),
		timeout:  timeout,
	}
}

// tryAcquire claims the single run slot.
func (m *Manager) tryAcquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return false
	}
	m.active = true
	return true
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// StartRun launches a run in the background and returns its record
// immediately. Returns ErrRunInProgress when another run holds the slot.
func (m *Manager) StartRun(ctx context.Context, storeIDs []int64, trigger string) (models.Run, error) {
	if !m.tryAcquire() {
		return models.Run{}, ErrRunInProgress
	}

	run, err := m.store.CreateRun(ctx, uuid.New().String(), trigger)
	if err != nil {
		m.release()
		return models.Run{}, err
	}

	go func() {
		defer m.release()
		m.execute(run.ID, storeIDs)
	}()

	m.logger.Info("run started", "run_id", run.ID, "trigger", trigger, "store_ids", storeIDs)
	return run, nil
}

// RunSync executes a run inline and returns the finished record. Used by
// the API's synchronous mode.
func (m *Manager) RunSync(ctx context.Context, storeIDs []int64, trigger string) (models.Run, error) {
	if !m.tryAcquire() {
		return models.Run{}, ErrRunInProgress
	}
	defer m.release()

	run, err := m.store.CreateRun(ctx, uuid.New().String(), trigger)
	if err != nil {
		return models.Run{}, err
	}

	m.execute(run.ID, storeIDs)

	finished, err := m.store.GetRun(ctx, run.ID)
	if err != nil {
		return models.Run{}, err
	}
	if finished == nil {
		return run, nil
	}
	return *finished, nil
}

// execute drives one run from running to a terminal state. It uses a
// background context so an HTTP-triggered run survives the request.
func (m *Manager) execute(runID string, storeIDs []int64) {
	ctx := context.Background()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.store.MarkRunRunning(ctx, runID); err != nil {
		m.logger.Error("failed to mark run running", "run_id", runID, "error", err)
		return
	}

	summary, err := m.executor.Run(ctx, storeIDs)

	// Bookkeeping must succeed even when the run context expired.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		m.logger.Error("run failed", "run_id", runID, "error", err)
		if finishErr := m.store.FinishRun(finishCtx, runID, models.RunStatusFailed, summary, err.Error()); finishErr != nil {
			m.logger.Error("failed to record run failure", "run_id", runID, "error", finishErr)
		}
		return
	}

	if err := m.store.FinishRun(finishCtx, runID, models.RunStatusCompleted, summary, ""); err != nil {
		m.logger.Error("failed to record run completion", "run_id", runID, "error", err)
		return
	}

	m.logger.Info("run completed",
		"run_id", runID,
		"stores_attempted", summary.StoresAttempted,
		"stores_succeeded", summary.StoresSucceeded,
		"stores_failed", summary.StoresFailed,
		"prices_inserted", summary.PricesInserted)
}

// GetRun retrieves one run, or nil when it does not exist.
func (m *Manager) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return m.store.GetRun(ctx, runID)
}

// ListRuns returns the most recent runs, newest first.
func (m *Manager) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return m.store.RecentRuns(ctx, limit)
}
