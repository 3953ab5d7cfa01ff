package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"riskrun/internal/models"

	"github.com/jackc/pgx/v5"
)

const taskColumns = `id, run_id, product_type, hash_bucket, state, attempts, max_attempts,
	leased_by, leased_until, last_error, payload, created_at, updated_at`

// InsertTasks inserts the fanned-out tasks for a run. Re-running fanout for
// an existing run is a no-op thanks to the (run_id, product_type,
// hash_bucket) unique constraint.
func (r *Repository) InsertTasks(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range tasks {
		payload, err := json.Marshal(t.Payload)
		if err != nil {
			return fmt.Errorf("marshal task payload: %w", err)
		}
		batch.Queue(`
			INSERT INTO run_task (run_id, product_type, hash_bucket, state, attempts, max_attempts, payload)
			VALUES ($1, $2, $3, 'QUEUED', 0, $4, $5)
			ON CONFLICT (run_id, product_type, hash_bucket) DO NOTHING`,
			t.RunID, t.ProductType, t.HashBucket, t.MaxAttempts, payload,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(tasks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert task batch: %w", err)
		}
	}
	return nil
}

// ClaimTasks atomically leases up to n claimable tasks for the worker.
// Claimable means QUEUED, or LEASED with an expired lease and attempts
// remaining; expired leases out of attempts are left for ReapExpiredLeases,
// so attempts never exceeds max_attempts. The SKIP LOCKED candidate scan
// guarantees two concurrent claimers never lease the same row. Each claim
// counts one attempt.
func (r *Repository) ClaimTasks(ctx context.Context, workerID string, n, leaseSeconds int) ([]models.Task, error) {
	rows, err := r.db.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM run_task
			WHERE state = 'QUEUED'
			   OR (state = 'LEASED' AND leased_until < NOW() AND attempts < max_attempts)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE run_task AS t
		SET state = 'LEASED',
		    leased_by = $1,
		    leased_until = NOW() + make_interval(secs => $3),
		    attempts = t.attempts + 1,
		    updated_at = NOW()
		FROM candidates AS c
		WHERE t.id = c.id
		RETURNING `+taskColumns,
		workerID, n, leaseSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	return collectTasks(rows)
}

// ExtendLease is the worker heartbeat. It only succeeds while the worker
// still owns the lease.
func (r *Repository) ExtendLease(ctx context.Context, taskID int64, workerID string, leaseSeconds int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE run_task
		SET leased_until = NOW() + make_interval(secs => $3), updated_at = NOW()
		WHERE id = $1 AND state = 'LEASED' AND leased_by = $2`,
		taskID, workerID, leaseSeconds,
	)
	if err != nil {
		return fmt.Errorf("extend lease on task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d: %w", taskID, models.ErrLeaseLost)
	}
	return nil
}

// CompleteTask writes all valuation results for the task and marks it DONE
// in one transaction. If the lease was lost in the meantime nothing is
// written, so a reclaimed task's second completion stays authoritative.
func (r *Repository) CompleteTask(ctx context.Context, taskID int64, workerID string, results []models.ValuationResult) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE run_task
		SET state = 'DONE', leased_by = '', leased_until = NULL, last_error = '', updated_at = NOW()
		WHERE id = $1 AND state = 'LEASED' AND leased_by = $2`,
		taskID, workerID,
	)
	if err != nil {
		return fmt.Errorf("mark task %d done: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d: %w", taskID, models.ErrLeaseLost)
	}

	for _, res := range results {
		measures, err := json.Marshal(res.Measures)
		if err != nil {
			return fmt.Errorf("marshal measures: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO valuation_result (
				run_id, position_id, scenario_id,
				product_type, portfolio_node_id, currency,
				measures, input_hash, computed_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (run_id, position_id, scenario_id) DO UPDATE SET
				measures = EXCLUDED.measures,
				input_hash = EXCLUDED.input_hash,
				computed_at = EXCLUDED.computed_at`,
			res.RunID, res.PositionID, res.ScenarioID,
			res.ProductType, res.PortfolioNodeID, res.Currency,
			measures, res.InputHash,
		)
		if err != nil {
			return fmt.Errorf("upsert result %s/%s/%s: %w", res.RunID, res.PositionID, res.ScenarioID, err)
		}
	}

	return tx.Commit(ctx)
}

// FailTask records a pricing failure. With attempts remaining the task goes
// back to QUEUED; otherwise, or when fatal, it becomes DEAD.
func (r *Repository) FailTask(ctx context.Context, taskID int64, workerID, errMsg string, fatal bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE run_task
		SET state = CASE WHEN $4 OR attempts >= max_attempts THEN 'DEAD' ELSE 'QUEUED' END,
		    leased_by = '', leased_until = NULL, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'LEASED' AND leased_by = $2`,
		taskID, workerID, errMsg, fatal,
	)
	if err != nil {
		return fmt.Errorf("fail task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d: %w", taskID, models.ErrLeaseLost)
	}
	return nil
}

// ReleaseTask returns a leased task to QUEUED without consuming an attempt.
// Used when the worker hit a transient store failure rather than a pricing
// error: the claim's attempt increment is rolled back.
func (r *Repository) ReleaseTask(ctx context.Context, taskID int64, workerID, errMsg string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE run_task
		SET state = 'QUEUED', leased_by = '', leased_until = NULL,
		    attempts = GREATEST(attempts - 1, 0), last_error = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'LEASED' AND leased_by = $2`,
		taskID, workerID, errMsg,
	)
	if err != nil {
		return fmt.Errorf("release task %d: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %d: %w", taskID, models.ErrLeaseLost)
	}
	return nil
}

// ReapExpiredLeases dead-letters expired leases that have exhausted their
// attempts. Leases with attempts remaining are left for the claim query to
// reclaim naturally. Returns the number of tasks reaped.
func (r *Repository) ReapExpiredLeases(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE run_task
		SET state = 'DEAD', leased_by = '', leased_until = NULL,
		    last_error = 'lease expired with no attempts remaining', updated_at = NOW()
		WHERE state = 'LEASED' AND leased_until < NOW() AND attempts >= max_attempts`)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TaskStateCounts returns the task count per state for a run. Run status is
// derived from this, never written racily by workers.
func (r *Repository) TaskStateCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT state, COUNT(*) FROM run_task WHERE run_id = $1 GROUP BY state`, runID)
	if err != nil {
		return nil, fmt.Errorf("task state counts for %s: %w", runID, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// ListRunTasks returns all tasks of a run for introspection (attempts,
// lease holder, last error).
func (r *Repository) ListRunTasks(ctx context.Context, runID string) ([]models.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+` FROM run_task WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", runID, err)
	}
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]models.Task, error) {
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var (
			t           models.Task
			leasedUntil *time.Time
			payload     []byte
		)
		if err := rows.Scan(
			&t.ID, &t.RunID, &t.ProductType, &t.HashBucket, &t.State, &t.Attempts, &t.MaxAttempts,
			&t.LeasedBy, &leasedUntil, &t.LastError, &payload, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.LeasedUntil = leasedUntil
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("decode task %d payload: %w", t.ID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
