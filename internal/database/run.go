package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// CreateRun records a new scraping pass in pending state.
func (db *DB) CreateRun(ctx context.Context, runID, trigger string) (models.Run, error) {
	run := models.Run{
		ID:      runID,
		Status:  models.RunStatusPending,
		Trigger: trigger,
	}

	query := `
		INSERT INTO scrape_runs (id, status, trigger)
		VALUES ($1, $2, $3)
		RETURNING started_at`

	err := db.pool.QueryRow(ctx, query, run.ID, run.Status, run.Trigger).Scan(&run.StartedAt)
	if err != nil {
		return models.Run{}, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// MarkRunRunning transitions a pending run to running.
func (db *DB) MarkRunRunning(ctx context.Context, runID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE scrape_runs SET status = $2 WHERE id = $1 AND status = $3`,
		runID, models.RunStatusRunning, models.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not in pending state", runID)
	}
	return nil
}

// FinishRun records the terminal state of a run together with its
// summary. errMsg is empty for completed runs.
func (db *DB) FinishRun(ctx context.Context, runID, status string, summary *models.RunSummary, errMsg string) error {
	var payload []byte
	if summary != nil {
		var err error
		payload, err = json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to marshal run summary: %w", err)
		}
	}

	query := `
		UPDATE scrape_runs
		SET status = $2, summary = $3, error_message = NULLIF($4, ''), finished_at = $5
		WHERE id = $1`

	tag, err := db.pool.Exec(ctx, query, runID, status, payload, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a single run, or nil when it does not exist.
func (db *DB) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var (
		run     models.Run
		payload []byte
		errMsg  *string
	)

	query := `
		SELECT id, status, trigger, summary, error_message, started_at, finished_at
		FROM scrape_runs WHERE id = $1`

	err := db.pool.QueryRow(ctx, query, runID).
		Scan(&run.ID, &run.Status, &run.Trigger, &payload, &errMsg, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if errMsg != nil {
		run.Error = *errMsg
	}
	if len(payload) > 0 {
		var summary models.RunSummary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
		}
		run.Summary = &summary
	}

	return &run, nil
}

// RecentRuns returns the newest runs first, capped at limit.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	query := `
		SELECT id, status, trigger, summary, error_message, started_at, finished_at
		FROM scrape_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var (
			run     models.Run
			payload []byte
			errMsg  *string
		)
		if err := rows.Scan(&run.ID, &run.Status, &run.Trigger, &payload, &errMsg, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if errMsg != nil {
			run.Error = *errMsg
		}
		if len(payload) > 0 {
			var summary models.RunSummary
			if err := json.Unmarshal(payload, &summary); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
			}
			run.Summary = &summary
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	return runs, nil
}
