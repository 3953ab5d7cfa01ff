package repository

import (
	"context"
	"fmt"

	"riskrun/internal/models"
)

// cubeGroupColumns whitelists the group_by values the cube supports. The
// key is interpolated into SQL, so only known column names pass.
var cubeGroupColumns = map[string]string{
	"product_type":      "product_type",
	"portfolio_node_id": "portfolio_node_id",
	"currency":          "currency",
}

// Summary returns the result row count and PV sum for one (run, scenario).
// Results missing a PV measure count as zero.
func (r *Repository) Summary(ctx context.Context, runID, scenarioID string) (*models.RunSummary, error) {
	s := models.RunSummary{RunID: runID, ScenarioID: scenarioID}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(COALESCE((measures->>'PV')::double precision, 0)), 0)
		FROM valuation_result
		WHERE run_id = $1 AND scenario_id = $2`,
		runID, scenarioID,
	).Scan(&s.Rows, &s.PVSum)
	if err != nil {
		return nil, fmt.Errorf("summary for %s/%s: %w", runID, scenarioID, err)
	}
	return &s, nil
}

// Cube sums the named measure across results grouped by the given attribute.
// Values stay in their native currency; conversion is the caller's problem.
func (r *Repository) Cube(ctx context.Context, runID, measure, groupBy, scenarioID string) ([]models.CubeCell, error) {
	col, ok := cubeGroupColumns[groupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported group_by %q: %w", groupBy, models.ErrInvalidInput)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+col+`, COALESCE(SUM(COALESCE((measures->>$3)::double precision, 0)), 0)
		FROM valuation_result
		WHERE run_id = $1 AND scenario_id = $2
		GROUP BY `+col,
		runID, scenarioID, measure,
	)
	if err != nil {
		return nil, fmt.Errorf("cube for %s/%s by %s: %w", runID, scenarioID, groupBy, err)
	}
	defer rows.Close()

	var cells []models.CubeCell
	for rows.Next() {
		var c models.CubeCell
		if err := rows.Scan(&c.Key, &c.Value); err != nil {
			return nil, fmt.Errorf("scan cube cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}
