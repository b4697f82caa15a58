package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
	"github.com/fiscusdev/grocery-price-scraper/internal/runs"
)

// RunManager is the slice of the run manager the handlers need.
type RunManager interface {
	StartRun(ctx context.Context, storeIDs []int64, trigger string) (models.Run, error)
	RunSync(ctx context.Context, storeIDs []int64, trigger string) (models.Run, error)
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
}

// StoreLister exposes the seeded store catalog.
type StoreLister interface {
	ActiveStores(ctx context.Context) ([]models.Store, error)
}

type Handlers struct {
	runs          RunManager
	stores        StoreLister
	operatorToken string
	logger        *slog.Logger
}

func NewHandlers(runs RunManager, stores StoreLister, operatorToken string, logger *slog.Logger) *Handlers {
	return &Handlers{
		runs:          runs,
		stores:        stores,
		operatorToken: operatorToken,
		logger:        logger,
	}
}

// RequireOperator gates run triggering behind the operator token. The
// token arrives as a bearer token; a missing or wrong one is a 401
// without detail.
func (h *Handlers) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.operatorToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.operatorToken)) != 1 {
			h.respondError(w, http.StatusUnauthorized, "operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TriggerRunRequest represents a manual scrape run request
type TriggerRunRequest struct {
	StoreIDs []int64 `json:"store_ids,omitempty"`
	Sync     bool    `json:"sync,omitempty"`
}

// TriggerRunResponse represents the async run trigger response
type TriggerRunResponse struct {
	Started bool   `json:"started"`
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TriggerRun starts a scrape run over all active stores, or over the
// requested subset. Async by default; sync mode blocks until the run
// finishes and returns the full record.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if req.Sync {
		run, err := h.runs.RunSync(r.Context(), req.StoreIDs, "manual")
		if err != nil {
			h.respondRunError(w, err)
			return
		}
		h.respondJSON(w, http.StatusOK, run)
		return
	}

	run, err := h.runs.StartRun(r.Context(), req.StoreIDs, "manual")
	if err != nil {
		h.respondRunError(w, err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, TriggerRunResponse{
		Started: true,
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run started",
	})
}

func (h *Handlers) respondRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, runs.ErrRunInProgress) {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.logger.Error("failed to start run", "error", err)
	h.respondError(w, http.StatusInternalServerError, "failed to start run")
}

// GetRun handles run status retrieval
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("failed to get run", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

// ListRuns handles listing recent runs, newest first
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	list, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if list == nil {
		list = []models.Run{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

// ListStores handles listing the active store catalog
func (h *Handlers) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.stores.ActiveStores(r.Context())
	if err != nil {
		h.logger.Error("failed to list stores", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list stores")
		return
	}
	if stores == nil {
		stores = []models.Store{}
	}

	h.respondJSON(w, http.StatusOK, stores)
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
