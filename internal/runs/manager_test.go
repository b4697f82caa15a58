package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]*models.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*models.Run)}
}

func (f *fakeRunStore) CreateRun(_ context.Context, runID, trigger string) (models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := models.Run{ID: runID, Status: models.RunStatusPending, Trigger: trigger, StartedAt: time.Now()}
	f.runs[runID] = &run
	return run, nil
}

func (f *fakeRunStore) MarkRunRunning(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.Status != models.RunStatusPending {
		return errors.New("run not pending")
	}
	run.Status = models.RunStatusRunning
	return nil
}

func (f *fakeRunStore) FinishRun(_ context.Context, runID, status string, summary *models.RunSummary, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	now := time.Now()
	run.Status = status
	run.Summary = summary
	run.Error = errMsg
	run.FinishedAt = &now
	return nil
}

func (f *fakeRunStore) GetRun(_ context.Context, runID string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (f *fakeRunStore) RecentRuns(_ context.Context, limit int) ([]models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Run
	for _, run := range f.runs {
		out = append(out, *run)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	summary *models.RunSummary
	err     error
}

func (f *fakeExecutor) Run(ctx context.Context, storeIDs []int64) (*models.RunSummary, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &models.RunSummary{StoresAttempted: 1, StoresSucceeded: 1}, nil
}

func TestManager_RunSync(t *testing.T) {
	ctx := context.Background()

	t.Run("completed run carries its summary", func(t *testing.T) {
		store := newFakeRunStore()
		exec := &fakeExecutor{summary: &models.RunSummary{StoresAttempted: 2, StoresSucceeded: 2, PricesInserted: 40}}
		m := NewManager(store, exec, 0, slog.Default())

		run, err := m.RunSync(ctx, nil, "manual")
		require.NoError(t, err)

		assert.Equal(t, models.RunStatusCompleted, run.Status)
		assert.Equal(t, "manual", run.Trigger)
		require.NotNil(t, run.Summary)
		assert.Equal(t, 40, run.Summary.PricesInserted)
		assert.NotNil(t, run.FinishedAt)
	})

	t.Run("executor failure marks the run failed", func(t *testing.T) {
		store := newFakeRunStore()
		exec := &fakeExecutor{err: errors.New("failed to load stores: db down")}
		m := NewManager(store, exec, 0, slog.Default())

		run, err := m.RunSync(ctx, nil, "manual")
		require.NoError(t, err)

		assert.Equal(t, models.RunStatusFailed, run.Status)
		assert.Contains(t, run.Error, "db down")
	})

	t.Run("slot is released after the run", func(t *testing.T) {
		store := newFakeRunStore()
		m := NewManager(store, &fakeExecutor{}, 0, slog.Default())

		_, err := m.RunSync(ctx, nil, "manual")
		require.NoError(t, err)
		_, err = m.RunSync(ctx, nil, "manual")
		require.NoError(t, err)
	})
}

func TestManager_StartRun(t *testing.T) {
	ctx := context.Background()

	t.Run("returns immediately and finishes in background", func(t *testing.T) {
		store := newFakeRunStore()
		exec := &fakeExecutor{}
		m := NewManager(store, exec, 0, slog.Default())

		run, err := m.StartRun(ctx, nil, "scheduled")
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusPending, run.Status)
		assert.Equal(t, "scheduled", run.Trigger)

		require.Eventually(t, func() bool {
			got, err := m.GetRun(ctx, run.ID)
			return err == nil && got != nil && got.Status == models.RunStatusCompleted
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("concurrent run is rejected", func(t *testing.T) {
		store := newFakeRunStore()
		block := make(chan struct{})
		exec := &fakeExecutor{block: block}
		m := NewManager(store, exec, 0, slog.Default())

		first, err := m.StartRun(ctx, nil, "manual")
		require.NoError(t, err)

		_, err = m.StartRun(ctx, nil, "manual")
		assert.ErrorIs(t, err, ErrRunInProgress)
		_, err = m.RunSync(ctx, nil, "manual")
		assert.ErrorIs(t, err, ErrRunInProgress)

		close(block)

		require.Eventually(t, func() bool {
			got, err := m.GetRun(ctx, first.ID)
			return err == nil && got != nil && got.Status == models.RunStatusCompleted
		}, 2*time.Second, 10*time.Millisecond)

		// Slot is free again.
		_, err = m.StartRun(ctx, nil, "manual")
		require.NoError(t, err)
	})
}

func TestManager_ListRuns(t *testing.T) {
	store := newFakeRunStore()
	m := NewManager(store, &fakeExecutor{}, 0, slog.Default())

	_, err := m.RunSync(context.Background(), nil, "manual")
	require.NoError(t, err)

	list, err := m.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
