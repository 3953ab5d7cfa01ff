package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"riskrun/internal/models"

	"github.com/jackc/pgx/v5"
)

// UpsertRun inserts the run row keyed by run_id. A re-submission with the
// same payload hash succeeds idempotently (created=false); a different hash
// is a conflict because run inputs are immutable.
func (r *Repository) UpsertRun(ctx context.Context, run *models.Run) (bool, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return false, fmt.Errorf("marshal run: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO run (run_id, payload, payload_hash, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO NOTHING`,
		run.RunID, payload, run.PayloadHash, run.Status,
	)
	if err != nil {
		return false, fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var existingHash string
	err = r.db.QueryRow(ctx, `SELECT payload_hash FROM run WHERE run_id = $1`, run.RunID).Scan(&existingHash)
	if err != nil {
		return false, fmt.Errorf("read run %s: %w", run.RunID, err)
	}
	if existingHash != run.PayloadHash {
		return false, fmt.Errorf("run %s re-submitted with different body: %w", run.RunID, models.ErrConflict)
	}
	return false, nil
}

func (r *Repository) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	var (
		payload            []byte
		status             string
		createdAt, updated time.Time
	)
	err := r.db.QueryRow(ctx, `
		SELECT payload, status, created_at, updated_at FROM run WHERE run_id = $1`,
		runID,
	).Scan(&payload, &status, &createdAt, &updated)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", runID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	var run models.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	run.Status = status
	run.CreatedAt = createdAt
	run.UpdatedAt = updated
	return &run, nil
}

// SetRunStatus advances the stored run status. Terminal statuses never move
// backwards; the guard keeps the transition monotonic under races.
func (r *Repository) SetRunStatus(ctx context.Context, runID, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE run SET status = $2, updated_at = NOW()
		WHERE run_id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`,
		runID, status,
	)
	if err != nil {
		return fmt.Errorf("set run %s status %s: %w", runID, status, err)
	}
	return nil
}

// ListRuns returns the most recent runs with their stored status.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT payload, status, created_at, updated_at
		FROM run ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var (
			payload            []byte
			status             string
			createdAt, updated time.Time
		)
		if err := rows.Scan(&payload, &status, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var run models.Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		run.Status = status
		run.CreatedAt = createdAt
		run.UpdatedAt = updated
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
