package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
	"github.com/fiscusdev/grocery-price-scraper/internal/runs"
)

type fakeRunManager struct {
	started  []int64
	syncMode bool
	run      models.Run
	err      error
	runsList []models.Run
}

func (f *fakeRunManager) StartRun(_ context.Context, storeIDs []int64, trigger string) (models.Run, error) {
	f.started = storeIDs
	if f.err != nil {
		return models.Run{}, f.err
	}
	return f.run, nil
}

func (f *fakeRunManager) RunSync(_ context.Context, storeIDs []int64, trigger string) (models.Run, error) {
	f.syncMode = true
	f.started = storeIDs
	if f.err != nil {
		return models.Run{}, f.err
	}
	return f.run, nil
}

func (f *fakeRunManager) GetRun(_ context.Context, runID string) (*models.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.run.ID != runID {
		return nil, nil
	}
	copied := f.run
	return &copied, nil
}

func (f *fakeRunManager) ListRuns(_ context.Context, limit int) ([]models.Run, error) {
	return f.runsList, f.err
}

type fakeStoreLister struct {
	stores []models.Store
	err    error
}

func (f *fakeStoreLister) ActiveStores(context.Context) ([]models.Store, error) {
	return f.stores, f.err
}

const testToken = "test-operator-token"

func testRouter(manager *fakeRunManager, stores *fakeStoreLister) http.Handler {
	h := NewHandlers(manager, stores, testToken, slog.Default())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/scraper", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.RequireOperator)
				r.Post("/run", h.TriggerRun)
			})
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{runID}", h.GetRun)
		})
		r.Get("/stores", h.ListStores)
	})
	return r
}

func pendingRun() models.Run {
	return models.Run{
		ID:        "3c9038f7-0000-4000-8000-000000000001",
		Status:    models.RunStatusPending,
		Trigger:   "manual",
		StartedAt: time.Now(),
	}
}

func TestTriggerRun(t *testing.T) {
	t.Run("async trigger returns 202 with run id", func(t *testing.T) {
		manager := &fakeRunManager{run: pendingRun()}
		router := testRouter(manager, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/run",
			bytes.NewBufferString(`{"store_ids":[1,2]}`))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp TriggerRunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Started)
		assert.Equal(t, manager.run.ID, resp.RunID)
		assert.Equal(t, []int64{1, 2}, manager.started)
		assert.False(t, manager.syncMode)
	})

	t.Run("empty body triggers a full run", func(t *testing.T) {
		manager := &fakeRunManager{run: pendingRun()}
		router := testRouter(manager, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/run", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Nil(t, manager.started)
	})

	t.Run("sync trigger returns the finished run", func(t *testing.T) {
		run := pendingRun()
		run.Status = models.RunStatusCompleted
		run.Summary = &models.RunSummary{StoresAttempted: 1, StoresSucceeded: 1}
		manager := &fakeRunManager{run: run}
		router := testRouter(manager, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/run",
			bytes.NewBufferString(`{"sync":true}`))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, manager.syncMode)

		var got models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, models.RunStatusCompleted, got.Status)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		manager := &fakeRunManager{run: pendingRun()}
		router := testRouter(manager, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/run", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, manager.started)
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		router := testRouter(&fakeRunManager{run: pendingRun()}, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/run", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("empty configured token disables the endpoint", func(t *testing.T) {
		h := NewHandlers(&fakeRunManager{run: pendingRun()}, &fakeStoreLister{}, "", slog.Default())
		router := chi.NewRouter()
		router.With(h.RequireOperator).Post("/run", h.TriggerRun)

		req := httptest.NewRequest(http.MethodPost, "/run", nil)
		req.Header.Set("Authorization", "Bearer ")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("run in progress maps to 409", func(t *testing.T) {
		manager := &fakeRunManager{err: runs.ErrRunInProgress}
		router := testRouter(manager, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/run", nil)
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		router := testRouter(&fakeRunManager{run: pendingRun()}, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scraper/run",
			bytes.NewBufferString(`{store_ids:`))
		req.Header.Set("Authorization", "Bearer "+testToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetRun(t *testing.T) {
	manager := &fakeRunManager{run: pendingRun()}
	router := testRouter(manager, &fakeStoreLister{})

	t.Run("known run", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scraper/runs/"+manager.run.ID, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, manager.run.ID, got.ID)
	})

	t.Run("unknown run is a 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scraper/runs/unknown", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListRuns(t *testing.T) {
	t.Run("returns runs", func(t *testing.T) {
		manager := &fakeRunManager{runsList: []models.Run{pendingRun()}}
		router := testRouter(manager, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/scraper/runs", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got []models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got, 1)
	})

	t.Run("no runs yields empty array", func(t *testing.T) {
		router := testRouter(&fakeRunManager{}, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/scraper/runs", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})

	t.Run("invalid limit is a 400", func(t *testing.T) {
		router := testRouter(&fakeRunManager{}, &fakeStoreLister{})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/scraper/runs?limit=abc", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListStores(t *testing.T) {
	t.Run("returns the catalog", func(t *testing.T) {
		stores := &fakeStoreLister{stores: []models.Store{
			{ID: 1, ChainName: "ATB", ExternalStoreID: "atb-1017", Address: "вул. Тестова, 1", IsActive: true},
		}}
		router := testRouter(&fakeRunManager{}, stores)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/stores", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got []models.Store
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "ATB", got[0].ChainName)
	})

	t.Run("lister failure is a 500", func(t *testing.T) {
		router := testRouter(&fakeRunManager{}, &fakeStoreLister{err: errors.New("db down")})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/stores", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
