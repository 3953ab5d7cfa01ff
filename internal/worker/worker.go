// Package worker implements the claim → price → commit loop. A worker is a
// single logical thread of control; horizontal scale comes from running
// more workers, and the store provides all cross-process synchronization.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"riskrun/internal/canonical"
	"riskrun/internal/models"
	"riskrun/internal/pricer"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Store is the slice of the repository the worker needs.
type Store interface {
	ClaimTasks(ctx context.Context, workerID string, n, leaseSeconds int) ([]models.Task, error)
	ExtendLease(ctx context.Context, taskID int64, workerID string, leaseSeconds int) error
	CompleteTask(ctx context.Context, taskID int64, workerID string, results []models.ValuationResult) error
	FailTask(ctx context.Context, taskID int64, workerID, errMsg string, fatal bool) error
	ReleaseTask(ctx context.Context, taskID int64, workerID, errMsg string) error
	GetMarketSnapshot(ctx context.Context, snapshotID string) (*models.MarketSnapshot, error)
	GetPositionSnapshot(ctx context.Context, snapshotID string) (*models.PositionSnapshot, error)
}

type Config struct {
	WorkerID     string
	LeaseSeconds int
	PollInterval time.Duration
	// ShutdownGrace bounds the attempt to finish the in-flight task after a
	// stop signal. Zero means half the lease.
	ShutdownGrace time.Duration
}

type Worker struct {
	store    Store
	registry *pricer.Registry
	cfg      Config
	log      *zap.Logger
	limiter  *rate.Limiter
}

func New(store Store, registry *pricer.Registry, cfg Config, log *zap.Logger) *Worker {
	if cfg.WorkerID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = uuid.NewString()[:8]
		}
		cfg.WorkerID = fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = 60
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = time.Duration(cfg.LeaseSeconds) * time.Second / 2
	}
	return &Worker{
		store:    store,
		registry: registry,
		cfg:      cfg,
		log:      log.With(zap.String("worker_id", cfg.WorkerID)),
		// The limiter paces claim polling so idle workers don't hammer the
		// store.
		limiter: rate.NewLimiter(rate.Every(cfg.PollInterval), 1),
	}
}

func (w *Worker) WorkerID() string { return w.cfg.WorkerID }

// Run executes the worker loop until ctx is cancelled. Cancellation stops
// claiming; the in-flight task gets the shutdown grace to finish cleanly,
// after which its lease is simply left to expire.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Int("lease_seconds", w.cfg.LeaseSeconds))
	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopping")
			return
		}

		tasks, err := w.store.ClaimTasks(ctx, w.cfg.WorkerID, 1, w.cfg.LeaseSeconds)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("worker stopping")
				return
			}
			w.log.Warn("claim failed", zap.Error(err))
		} else if len(tasks) > 0 {
			// Drain a non-empty queue at full speed; only an empty claim
			// falls through to the poll pacing below.
			w.ProcessTask(ctx, &tasks[0])
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			w.log.Info("worker stopping")
			return
		}
	}
}

// ProcessTask prices one claimed task and commits the outcome. The failure
// policy: store errors release the lease without consuming an attempt,
// pricing errors count against max_attempts, unknown product types
// dead-letter immediately.
func (w *Worker) ProcessTask(ctx context.Context, task *models.Task) {
	log := w.log.With(zap.Int64("task_id", task.ID), zap.String("run_id", task.RunID))
	log.Info("task claimed",
		zap.String("product_type", task.ProductType),
		zap.Int("attempt", task.Attempts))

	// Pricing must be able to outlive a shutdown signal for the grace
	// period, so it runs on its own context.
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ShutdownGrace+time.Duration(w.cfg.LeaseSeconds)*time.Second)
	defer cancel()

	stopHeartbeat := w.startHeartbeat(procCtx, task.ID, cancel)
	defer stopHeartbeat()

	results, err := w.priceTask(procCtx, task)
	if err != nil {
		w.handleFailure(procCtx, task, err, log)
		return
	}

	if err := w.store.CompleteTask(procCtx, task.ID, w.cfg.WorkerID, results); err != nil {
		if errors.Is(err, models.ErrLeaseLost) {
			// Another worker reclaimed and owns the outcome now.
			log.Warn("lease lost before commit, discarding results")
			return
		}
		log.Warn("commit failed, releasing lease", zap.Error(err))
		if relErr := w.store.ReleaseTask(procCtx, task.ID, w.cfg.WorkerID, err.Error()); relErr != nil {
			log.Warn("release failed", zap.Error(relErr))
		}
		return
	}
	log.Info("task done", zap.Int("results", len(results)))
}

// startHeartbeat extends the lease at half-lease cadence while the task is
// being priced. A lost lease cancels the processing context so stale work
// stops early.
func (w *Worker) startHeartbeat(ctx context.Context, taskID int64, onLost context.CancelFunc) func() {
	hbCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	interval := time.Duration(w.cfg.LeaseSeconds) * time.Second / 2

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.store.ExtendLease(hbCtx, taskID, w.cfg.WorkerID, w.cfg.LeaseSeconds); err != nil {
					if errors.Is(err, models.ErrLeaseLost) {
						w.log.Warn("heartbeat lost lease", zap.Int64("task_id", taskID))
						onLost()
						return
					}
					w.log.Warn("heartbeat failed", zap.Int64("task_id", taskID), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		stop()
		<-done
	}
}

// priceTask loads the task inputs and prices every (position, scenario)
// pair. Store load failures surface as transient.
func (w *Worker) priceTask(ctx context.Context, task *models.Task) ([]models.ValuationResult, error) {
	payload := task.Payload

	market, err := w.store.GetMarketSnapshot(ctx, payload.MarketSnapshotID)
	if err != nil {
		return nil, fmt.Errorf("load market snapshot: %w", errTransientUnlessMissing(err))
	}
	posSnap, err := w.store.GetPositionSnapshot(ctx, payload.PositionSnapshotID)
	if err != nil {
		return nil, fmt.Errorf("load position snapshot: %w", errTransientUnlessMissing(err))
	}

	wanted := make(map[string]bool, len(payload.PositionIDs))
	for _, id := range payload.PositionIDs {
		wanted[id] = true
	}
	var positions []models.Position
	for _, pos := range posSnap.Positions {
		if wanted[pos.PositionID] {
			positions = append(positions, pos)
		}
	}

	var results []models.ValuationResult
	for _, scenarioID := range payload.Scenarios {
		scenSnap, err := pricer.ApplyScenario(market.Payload, scenarioID)
		if err != nil {
			return nil, err
		}
		for _, pos := range positions {
			vals, err := w.registry.Price(pos, scenSnap, payload.Measures, scenarioID)
			if err != nil {
				return nil, err
			}
			inputHash, err := inputHash(pos, market.Payload, scenarioID, payload.Measures)
			if err != nil {
				return nil, err
			}
			results = append(results, models.ValuationResult{
				RunID:           task.RunID,
				PositionID:      pos.PositionID,
				ScenarioID:      scenarioID,
				ProductType:     pos.ProductType,
				PortfolioNodeID: pos.PortfolioNodeID,
				Currency:        pos.Attributes.Currency,
				Measures:        vals,
				InputHash:       inputHash,
			})
		}
	}
	return results, nil
}

func (w *Worker) handleFailure(ctx context.Context, task *models.Task, err error, log *zap.Logger) {
	switch {
	// Dispatch or input that can never succeed: retrying is pointless.
	case errors.Is(err, pricer.ErrUnknownProduct), errors.Is(err, models.ErrInvalidInput):
		log.Error("fatal pricing failure, dead-lettering task", zap.Error(err))
		if failErr := w.store.FailTask(ctx, task.ID, w.cfg.WorkerID, err.Error(), true); failErr != nil {
			log.Warn("fail-task update failed", zap.Error(failErr))
		}
	case errors.Is(err, models.ErrTransient):
		// Store hiccup, not a pricing problem: give the attempt back.
		log.Warn("transient failure, releasing lease", zap.Error(err))
		if relErr := w.store.ReleaseTask(ctx, task.ID, w.cfg.WorkerID, err.Error()); relErr != nil {
			log.Warn("release failed", zap.Error(relErr))
		}
	default:
		log.Warn("pricing failed", zap.Error(err), zap.Int("attempt", task.Attempts), zap.Int("max_attempts", task.MaxAttempts))
		if failErr := w.store.FailTask(ctx, task.ID, w.cfg.WorkerID, err.Error(), false); failErr != nil {
			log.Warn("fail-task update failed", zap.Error(failErr))
		}
	}
}

// errTransientUnlessMissing classifies store load errors: a missing
// snapshot will never appear on retry, anything else is worth retrying.
func errTransientUnlessMissing(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrTransient, err)
}

// inputHash fingerprints everything that went into one valuation for audit
// and reproducibility: the position (instrument embedded), the slice of the
// base snapshot the pricer can see, the scenario, and the measure list.
func inputHash(pos models.Position, snap models.SnapshotPayload, scenarioID string, measures []string) (string, error) {
	return canonical.Hash(map[string]any{
		"position":       pos,
		"instrument":     pos.Attributes.Instrument,
		"snapshot_slice": relevantSlice(snap, pos),
		"scenario_id":    scenarioID,
		"measures":       measures,
	})
}

// relevantSlice trims the snapshot to what pricing this position reads:
// curves in its currency, and for FX products the pair spot plus the quote
// currency curves.
func relevantSlice(snap models.SnapshotPayload, pos models.Position) models.SnapshotPayload {
	currencies := map[string]bool{pos.Attributes.Currency: true}
	out := models.SnapshotPayload{Curves: map[string]models.Curve{}}

	if pair, ok := pos.Attributes.Instrument["pair"].(string); ok && len(pair) == 6 {
		currencies[pair[3:]] = true
		if spot, ok := snap.FXSpots[pair]; ok {
			out.FXSpots = map[string]float64{pair: spot}
		}
	}
	for name, c := range snap.Curves {
		if currencies[c.Currency] {
			out.Curves[name] = c
		}
	}
	return out
}
