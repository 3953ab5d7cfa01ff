package models

import (
	"errors"
	"time"
)

// Sentinel errors shared across services. Handlers map these onto HTTP
// statuses; the worker uses them to decide between retry and dead-letter.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrTransient    = errors.New("transient failure")
	// ErrLeaseLost is returned when a commit is attempted after the task's
	// lease was reclaimed by another worker. The result must be discarded.
	ErrLeaseLost = errors.New("lease lost")
)

// Run statuses.
const (
	RunCreated   = "CREATED"
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
)

// Task states.
const (
	TaskQueued = "QUEUED"
	TaskLeased = "LEASED"
	TaskDone   = "DONE"
	TaskFailed = "FAILED"
	TaskDead   = "DEAD"
)

// Scenario identifiers.
const (
	ScenarioBase          = "BASE"
	ScenarioRatesParallel = "RATES_PARALLEL_1BP"
	ScenarioSpread        = "SPREAD_25BP"
	ScenarioFXSpot        = "FX_SPOT_1PCT"
)

// KnownScenario reports whether id names a supported scenario.
func KnownScenario(id string) bool {
	switch id {
	case ScenarioBase, ScenarioRatesParallel, ScenarioSpread, ScenarioFXSpot:
		return true
	}
	return false
}

// Measure names.
const (
	MeasurePV              = "PV"
	MeasureDV01            = "DV01"
	MeasureFXDelta         = "FX_DELTA"
	MeasureAccruedInterest = "ACCRUED_INTEREST"
)

// Curve kinds inside a market snapshot.
const (
	CurveKindRates  = "RATES"
	CurveKindSpread = "CREDIT_SPREAD"
)

// MarketSnapshot is an immutable, content-hashed market state record.
type MarketSnapshot struct {
	SnapshotID  string          `json:"snapshot_id"`
	PayloadHash string          `json:"payload_hash"`
	Payload     SnapshotPayload `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SnapshotPayload holds the priced market data: zero/spread curves keyed by
// name and FX spots keyed by pair (e.g. "EURUSD").
type SnapshotPayload struct {
	Curves  map[string]Curve   `json:"curves"`
	FXSpots map[string]float64 `json:"fx_spots,omitempty"`
}

type Curve struct {
	Currency string      `json:"currency"`
	Kind     string      `json:"kind"`
	Nodes    []CurveNode `json:"nodes"`
}

type CurveNode struct {
	TenorYears float64 `json:"tenor_years"`
	Rate       float64 `json:"rate"`
}

// PositionSnapshot is an immutable list of positions referenced by runs.
type PositionSnapshot struct {
	PositionSnapshotID string     `json:"position_snapshot_id"`
	PayloadHash        string     `json:"payload_hash"`
	Positions          []Position `json:"positions"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Position couples instrument data into the position payload (MVP contract;
// Instrument may become a first-class entity later).
type Position struct {
	PositionID      string             `json:"position_id"`
	ProductType     string             `json:"product_type"`
	PortfolioNodeID string             `json:"portfolio_node_id"`
	Attributes      PositionAttributes `json:"attributes"`
}

type PositionAttributes struct {
	Currency   string         `json:"currency"`
	Notional   float64        `json:"notional"`
	Instrument map[string]any `json:"instrument"`
}

// RunRequest is the client-facing body of POST /api/v1/runs. The whole body
// hashes into the run's payload_hash for idempotency checks.
type RunRequest struct {
	RunID              string       `json:"run_id"`
	RunType            string       `json:"run_type"`
	AsOfTime           string       `json:"as_of_time"`
	MarketSnapshotID   string       `json:"market_snapshot_id"`
	PositionSnapshotID string       `json:"position_snapshot_id,omitempty"`
	PortfolioScope     []string     `json:"portfolio_scope"`
	Measures           []string     `json:"measures"`
	Scenarios          []string     `json:"scenarios,omitempty"`
	Execution          RunExecution `json:"execution"`
}

type RunExecution struct {
	HashMod int `json:"hash_mod"`
}

// Run is the persisted batch valuation request. Fields other than Status are
// immutable after creation.
type Run struct {
	RunID              string    `json:"run_id"`
	RunType            string    `json:"run_type"`
	AsOfTime           string    `json:"as_of_time"`
	MarketSnapshotID   string    `json:"market_snapshot_id"`
	PositionSnapshotID string    `json:"position_snapshot_id"`
	PortfolioScope     []string  `json:"portfolio_scope"`
	Measures           []string  `json:"measures"`
	Scenarios          []string  `json:"scenarios"`
	HashMod            int       `json:"hash_mod"`
	Status             string    `json:"status"`
	PayloadHash        string    `json:"payload_hash"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Task is the unit of work a single worker claims: one slice of a run keyed
// by (run_id, product_type, hash_bucket).
type Task struct {
	ID          int64       `json:"id"`
	RunID       string      `json:"run_id"`
	ProductType string      `json:"product_type"`
	HashBucket  int         `json:"hash_bucket"`
	State       string      `json:"state"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LeasedBy    string      `json:"leased_by,omitempty"`
	LeasedUntil *time.Time  `json:"leased_until,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	Payload     TaskPayload `json:"payload"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TaskPayload names the inputs a worker needs to price the slice. Positions
// are referenced by id; the worker loads them from the position snapshot.
type TaskPayload struct {
	MarketSnapshotID   string   `json:"market_snapshot_id"`
	PositionSnapshotID string   `json:"position_snapshot_id"`
	PositionIDs        []string `json:"position_ids"`
	Measures           []string `json:"measures"`
	Scenarios          []string `json:"scenarios"`
}

// ValuationResult is one priced (run, position, scenario) cell. Upserts on
// the natural key keep replays idempotent.
type ValuationResult struct {
	RunID           string             `json:"run_id"`
	PositionID      string             `json:"position_id"`
	ScenarioID      string             `json:"scenario_id"`
	ProductType     string             `json:"product_type"`
	PortfolioNodeID string             `json:"portfolio_node_id"`
	Currency        string             `json:"currency"`
	Measures        map[string]float64 `json:"measures"`
	InputHash       string             `json:"input_hash"`
	ComputedAt      time.Time          `json:"computed_at"`
}

// RunSummary is the results-service summary row for one (run, scenario).
type RunSummary struct {
	RunID      string  `json:"run_id"`
	ScenarioID string  `json:"scenario_id"`
	Rows       int64   `json:"rows"`
	PVSum      float64 `json:"pv_sum"`
}

// CubeCell is one aggregated bucket of the results cube.
type CubeCell struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// DeriveRunStatus computes the externally visible run status from the stored
// status and the task state counts. Transitions are monotonic: a run never
// reports COMPLETED while any task is non-terminal, and any DEAD task pins
// the run to FAILED.
func DeriveRunStatus(stored string, counts map[string]int) string {
	if stored == RunCreated {
		return RunCreated
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if counts[TaskDead] > 0 {
		return RunFailed
	}
	if total > 0 && counts[TaskDone] == total {
		return RunCompleted
	}
	return stored
}
