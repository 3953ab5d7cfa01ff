// Package orchestrator turns run requests into leasable task slices.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"riskrun/internal/canonical"
	"riskrun/internal/models"

	"go.uber.org/zap"
)

// Store is the slice of the repository the orchestrator needs. Narrow on
// purpose so fanout is testable against an in-memory fake.
type Store interface {
	GetMarketSnapshot(ctx context.Context, snapshotID string) (*models.MarketSnapshot, error)
	GetPositionSnapshot(ctx context.Context, snapshotID string) (*models.PositionSnapshot, error)
	UpsertPositionSnapshot(ctx context.Context, snap *models.PositionSnapshot) error
	UpsertRun(ctx context.Context, run *models.Run) (bool, error)
	InsertTasks(ctx context.Context, tasks []models.Task) error
	SetRunStatus(ctx context.Context, runID, status string) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	TaskStateCounts(ctx context.Context, runID string) (map[string]int, error)
}

type Config struct {
	// DefaultHashMod applies when the request leaves execution.hash_mod unset.
	DefaultHashMod int
	MaxAttempts    int
	// PositionsPath is the out-of-band positions file used when the request
	// names no position_snapshot_id.
	PositionsPath string
}

type Orchestrator struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

func New(store Store, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.DefaultHashMod < 1 {
		cfg.DefaultHashMod = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Orchestrator{store: store, cfg: cfg, log: log}
}

// CreateRun validates and persists the run, resolves positions for the
// scope, fans them out into QUEUED tasks, and advances the run to RUNNING.
// Identical re-submissions are idempotent; a changed body conflicts.
func (o *Orchestrator) CreateRun(ctx context.Context, req *models.RunRequest) (*models.Run, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if len(req.Scenarios) == 0 {
		req.Scenarios = []string{models.ScenarioBase}
	}
	if req.Execution.HashMod < 1 {
		req.Execution.HashMod = o.cfg.DefaultHashMod
	}

	payloadHash, err := canonical.Hash(req)
	if err != nil {
		return nil, fmt.Errorf("hash run request: %w", err)
	}

	if _, err := o.store.GetMarketSnapshot(ctx, req.MarketSnapshotID); err != nil {
		return nil, err
	}

	positions, posSnapID, err := o.resolvePositions(ctx, req)
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		RunID:              req.RunID,
		RunType:            req.RunType,
		AsOfTime:           req.AsOfTime,
		MarketSnapshotID:   req.MarketSnapshotID,
		PositionSnapshotID: posSnapID,
		PortfolioScope:     req.PortfolioScope,
		Measures:           req.Measures,
		Scenarios:          req.Scenarios,
		HashMod:            req.Execution.HashMod,
		Status:             models.RunCreated,
		PayloadHash:        payloadHash,
	}

	created, err := o.store.UpsertRun(ctx, run)
	if err != nil {
		return nil, err
	}
	if !created {
		o.log.Info("run re-submitted idempotently", zap.String("run_id", run.RunID))
	}

	tasks := Partition(run, positions, o.cfg.MaxAttempts)
	if err := o.store.InsertTasks(ctx, tasks); err != nil {
		return nil, err
	}

	if err := o.store.SetRunStatus(ctx, run.RunID, models.RunRunning); err != nil {
		return nil, err
	}
	run.Status = models.RunRunning

	o.log.Info("run fanned out",
		zap.String("run_id", run.RunID),
		zap.Int("positions", len(positions)),
		zap.Int("tasks", len(tasks)))
	return run, nil
}

// GetRun returns the run with its derived status: COMPLETED once every task
// is DONE, FAILED as soon as any task is DEAD, RUNNING otherwise.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	counts, err := o.store.TaskStateCounts(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Status = models.DeriveRunStatus(run.Status, counts)
	return run, nil
}

func validateRequest(req *models.RunRequest) error {
	switch {
	case req.RunID == "":
		return fmt.Errorf("run_id is required: %w", models.ErrInvalidInput)
	case req.MarketSnapshotID == "":
		return fmt.Errorf("market_snapshot_id is required: %w", models.ErrInvalidInput)
	case len(req.Measures) == 0:
		return fmt.Errorf("measures must be non-empty: %w", models.ErrInvalidInput)
	case len(req.PortfolioScope) == 0:
		return fmt.Errorf("portfolio_scope must be non-empty: %w", models.ErrInvalidInput)
	}
	for _, s := range req.Scenarios {
		if !models.KnownScenario(s) {
			return fmt.Errorf("unknown scenario %q: %w", s, models.ErrInvalidInput)
		}
	}
	return nil
}

// resolvePositions loads the position universe (uploaded snapshot or the
// configured file), filters it to the portfolio scope, and persists the
// resolved list as a new content-addressed PositionSnapshot.
func (o *Orchestrator) resolvePositions(ctx context.Context, req *models.RunRequest) ([]models.Position, string, error) {
	var universe []models.Position
	if req.PositionSnapshotID != "" {
		snap, err := o.store.GetPositionSnapshot(ctx, req.PositionSnapshotID)
		if err != nil {
			return nil, "", err
		}
		universe = snap.Positions
	} else {
		data, err := os.ReadFile(o.cfg.PositionsPath)
		if err != nil {
			return nil, "", fmt.Errorf("read positions file %s: %w", o.cfg.PositionsPath, err)
		}
		if err := json.Unmarshal(data, &universe); err != nil {
			return nil, "", fmt.Errorf("decode positions file %s: %w", o.cfg.PositionsPath, err)
		}
	}

	scope := make(map[string]bool, len(req.PortfolioScope))
	for _, node := range req.PortfolioScope {
		scope[node] = true
	}
	var resolved []models.Position
	for _, pos := range universe {
		if scope[pos.PortfolioNodeID] {
			resolved = append(resolved, pos)
		}
	}
	if len(resolved) == 0 {
		return nil, "", fmt.Errorf("portfolio scope matches no positions: %w", models.ErrInvalidInput)
	}

	hash, err := canonical.Hash(resolved)
	if err != nil {
		return nil, "", fmt.Errorf("hash resolved positions: %w", err)
	}
	// Content-derived id keeps idempotent re-submissions pointing at the
	// same snapshot row.
	snapID := "resolved-" + hash[:16]
	snap := &models.PositionSnapshot{
		PositionSnapshotID: snapID,
		PayloadHash:        hash,
		Positions:          resolved,
	}
	if err := o.store.UpsertPositionSnapshot(ctx, snap); err != nil {
		return nil, "", err
	}
	return resolved, snapID, nil
}

// Partition groups positions by (product_type, stable_hash(position_id) mod
// hash_mod) and emits one QUEUED task per non-empty group.
func Partition(run *models.Run, positions []models.Position, maxAttempts int) []models.Task {
	type groupKey struct {
		productType string
		bucket      int
	}
	groups := make(map[groupKey][]string)
	for _, pos := range positions {
		key := groupKey{
			productType: pos.ProductType,
			bucket:      canonical.Bucket(pos.PositionID, run.HashMod),
		}
		groups[key] = append(groups[key], pos.PositionID)
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].productType != keys[j].productType {
			return keys[i].productType < keys[j].productType
		}
		return keys[i].bucket < keys[j].bucket
	})

	tasks := make([]models.Task, 0, len(keys))
	for _, key := range keys {
		tasks = append(tasks, models.Task{
			RunID:       run.RunID,
			ProductType: key.productType,
			HashBucket:  key.bucket,
			State:       models.TaskQueued,
			MaxAttempts: maxAttempts,
			Payload: models.TaskPayload{
				MarketSnapshotID:   run.MarketSnapshotID,
				PositionSnapshotID: run.PositionSnapshotID,
				PositionIDs:        groups[key],
				Measures:           run.Measures,
				Scenarios:          run.Scenarios,
			},
		})
	}
	return tasks
}
