package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"riskrun/internal/models"
	"riskrun/internal/pricer"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore records the outcome the worker committed for one task.
type fakeStore struct {
	mu        sync.Mutex
	market    *models.MarketSnapshot
	positions *models.PositionSnapshot
	marketErr error

	completed []models.ValuationResult
	failed    bool
	fatal     bool
	released  bool
	lastError string

	completeErr error
}

func (f *fakeStore) ClaimTasks(context.Context, string, int, int) ([]models.Task, error) {
	return nil, nil
}

func (f *fakeStore) ExtendLease(context.Context, int64, string, int) error { return nil }

func (f *fakeStore) CompleteTask(_ context.Context, _ int64, _ string, results []models.ValuationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = results
	return nil
}

func (f *fakeStore) FailTask(_ context.Context, _ int64, _, errMsg string, fatal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = true
	f.fatal = fatal
	f.lastError = errMsg
	return nil
}

func (f *fakeStore) ReleaseTask(_ context.Context, _ int64, _, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	f.lastError = errMsg
	return nil
}

func (f *fakeStore) GetMarketSnapshot(context.Context, string) (*models.MarketSnapshot, error) {
	if f.marketErr != nil {
		return nil, f.marketErr
	}
	return f.market, nil
}

func (f *fakeStore) GetPositionSnapshot(context.Context, string) (*models.PositionSnapshot, error) {
	return f.positions, nil
}

func testSnapshot() *models.MarketSnapshot {
	return &models.MarketSnapshot{
		SnapshotID:  "eod-1",
		PayloadHash: "abc",
		Payload: models.SnapshotPayload{
			Curves: map[string]models.Curve{
				"USD-OIS": {
					Currency: "USD",
					Kind:     models.CurveKindRates,
					Nodes:    []models.CurveNode{{TenorYears: 1, Rate: 0.04}, {TenorYears: 10, Rate: 0.045}},
				},
			},
			FXSpots: map[string]float64{"EURUSD": 1.10},
		},
	}
}

func testPositions(productType string) *models.PositionSnapshot {
	instrument := map[string]any{
		"coupon_rate":    0.05,
		"maturity_years": 5.0,
		"frequency":      2.0,
	}
	return &models.PositionSnapshot{
		PositionSnapshotID: "book-1",
		Positions: []models.Position{
			{
				PositionID:      "POS-1",
				ProductType:     productType,
				PortfolioNodeID: "DESK-A",
				Attributes: models.PositionAttributes{
					Currency:   "USD",
					Notional:   1_000_000,
					Instrument: instrument,
				},
			},
		},
	}
}

func testTask() *models.Task {
	return &models.Task{
		ID:          1,
		RunID:       "run-1",
		ProductType: "FIXED_BOND",
		State:       models.TaskLeased,
		Attempts:    1,
		MaxAttempts: 3,
		Payload: models.TaskPayload{
			MarketSnapshotID:   "eod-1",
			PositionSnapshotID: "book-1",
			PositionIDs:        []string{"POS-1"},
			Measures:           []string{models.MeasurePV, models.MeasureDV01},
			Scenarios:          []string{models.ScenarioBase, models.ScenarioRatesParallel},
		},
	}
}

func newTestWorker(store Store) *Worker {
	registry := pricer.NewRegistry()
	pricer.RegisterBuiltins(registry)
	return New(store, registry, Config{WorkerID: "w-test", LeaseSeconds: 60}, zap.NewNop())
}

func TestProcessTaskCommitsResults(t *testing.T) {
	t.Parallel()

	store := &fakeStore{market: testSnapshot(), positions: testPositions("FIXED_BOND")}
	w := newTestWorker(store)

	w.ProcessTask(context.Background(), testTask())

	// One result per (position, scenario).
	require.Len(t, store.completed, 2)
	require.False(t, store.failed)
	require.False(t, store.released)

	byScenario := make(map[string]models.ValuationResult)
	for _, res := range store.completed {
		byScenario[res.ScenarioID] = res
		require.Equal(t, "run-1", res.RunID)
		require.Equal(t, "POS-1", res.PositionID)
		require.Equal(t, "FIXED_BOND", res.ProductType)
		require.Equal(t, "DESK-A", res.PortfolioNodeID)
		require.Equal(t, "USD", res.Currency)
		require.NotEmpty(t, res.InputHash)
		require.Contains(t, res.Measures, models.MeasurePV)
		require.Contains(t, res.Measures, models.MeasureDV01)
	}

	base := byScenario[models.ScenarioBase]
	bumped := byScenario[models.ScenarioRatesParallel]
	require.Less(t, bumped.Measures[models.MeasurePV], base.Measures[models.MeasurePV],
		"a +1bp parallel shift must lower bond PV")
}

func TestProcessTaskUnknownProductDeadLetters(t *testing.T) {
	t.Parallel()

	store := &fakeStore{market: testSnapshot(), positions: testPositions("EXOTIC_SWAPTION")}
	w := newTestWorker(store)

	task := testTask()
	task.ProductType = "EXOTIC_SWAPTION"
	w.ProcessTask(context.Background(), task)

	require.True(t, store.failed)
	require.True(t, store.fatal, "unknown product must dead-letter immediately")
	require.Empty(t, store.completed)
}

func TestProcessTaskUnknownScenarioDeadLetters(t *testing.T) {
	t.Parallel()

	store := &fakeStore{market: testSnapshot(), positions: testPositions("FIXED_BOND")}
	w := newTestWorker(store)

	task := testTask()
	task.Payload.Scenarios = []string{"VOL_SURFACE_10PCT"}
	w.ProcessTask(context.Background(), task)

	require.True(t, store.failed)
	require.True(t, store.fatal, "an unknown scenario can never price; retrying must not burn attempts")
	require.Empty(t, store.completed)
}

func TestProcessTaskPricingErrorCountsAttempt(t *testing.T) {
	t.Parallel()

	// Snapshot without the USD curve: the pricer fails, the attempt is spent.
	store := &fakeStore{
		market:    &models.MarketSnapshot{SnapshotID: "eod-1", Payload: models.SnapshotPayload{}},
		positions: testPositions("FIXED_BOND"),
	}
	w := newTestWorker(store)

	w.ProcessTask(context.Background(), testTask())

	require.True(t, store.failed)
	require.False(t, store.fatal)
	require.False(t, store.released)
	require.NotEmpty(t, store.lastError)
}

func TestProcessTaskTransientStoreErrorReleases(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		marketErr: fmt.Errorf("connection refused"),
		positions: testPositions("FIXED_BOND"),
	}
	w := newTestWorker(store)

	w.ProcessTask(context.Background(), testTask())

	require.True(t, store.released, "store hiccups must give the attempt back")
	require.False(t, store.failed)
}

func TestProcessTaskLeaseLostDiscardsResults(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		market:      testSnapshot(),
		positions:   testPositions("FIXED_BOND"),
		completeErr: models.ErrLeaseLost,
	}
	w := newTestWorker(store)

	w.ProcessTask(context.Background(), testTask())

	// Lease lost at commit: nothing retried, nothing released.
	require.Empty(t, store.completed)
	require.False(t, store.failed)
	require.False(t, store.released)
}

func TestProcessTaskCommitErrorReleases(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		market:      testSnapshot(),
		positions:   testPositions("FIXED_BOND"),
		completeErr: errors.New("write timeout"),
	}
	w := newTestWorker(store)

	w.ProcessTask(context.Background(), testTask())

	require.True(t, store.released)
	require.False(t, store.failed)
}

// drainStore hands out a fixed backlog of tasks and cancels the context once
// it runs dry.
type drainStore struct {
	*fakeStore
	mu     sync.Mutex
	queue  []models.Task
	done   int
	cancel context.CancelFunc
}

func (d *drainStore) ClaimTasks(ctx context.Context, _ string, _, _ int) ([]models.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		d.cancel()
		return nil, ctx.Err()
	}
	task := d.queue[0]
	d.queue = d.queue[1:]
	return []models.Task{task}, nil
}

func (d *drainStore) CompleteTask(context.Context, int64, string, []models.ValuationResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done++
	return nil
}

func TestRunDrainsBacklogWithoutPollDelay(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &drainStore{
		fakeStore: &fakeStore{market: testSnapshot(), positions: testPositions("FIXED_BOND")},
		cancel:    cancel,
	}
	for i := 0; i < 5; i++ {
		task := testTask()
		task.ID = int64(i + 1)
		store.queue = append(store.queue, *task)
	}

	registry := pricer.NewRegistry()
	pricer.RegisterBuiltins(registry)
	// An hour-long poll interval: draining must not touch the pacing at all.
	w := New(store, registry, Config{WorkerID: "w-drain", LeaseSeconds: 60, PollInterval: time.Hour}, zap.NewNop())

	finished := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("worker throttled a non-empty queue instead of draining it")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, 5, store.done)
	require.Empty(t, store.queue)
}

func TestWorkerIDDefaultsToHostPid(t *testing.T) {
	t.Parallel()

	w := New(&fakeStore{}, pricer.NewRegistry(), Config{}, zap.NewNop())
	require.NotEmpty(t, w.WorkerID())
}

func TestInputHashSensitivity(t *testing.T) {
	t.Parallel()

	pos := testPositions("FIXED_BOND").Positions[0]
	snap := testSnapshot().Payload
	measures := []string{models.MeasurePV}

	h1, err := inputHash(pos, snap, models.ScenarioBase, measures)
	require.NoError(t, err)

	h2, err := inputHash(pos, snap, models.ScenarioBase, measures)
	require.NoError(t, err)
	require.Equal(t, h1, h2, "hash must be deterministic")

	h3, err := inputHash(pos, snap, models.ScenarioRatesParallel, measures)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3, "scenario must change the hash")

	other := pos
	other.Attributes.Notional = 2_000_000
	h4, err := inputHash(other, snap, models.ScenarioBase, measures)
	require.NoError(t, err)
	require.NotEqual(t, h1, h4, "position change must change the hash")
}

func TestRelevantSliceTrimsSnapshot(t *testing.T) {
	t.Parallel()

	snap := models.SnapshotPayload{
		Curves: map[string]models.Curve{
			"USD-OIS": {Currency: "USD", Kind: models.CurveKindRates},
			"EUR-OIS": {Currency: "EUR", Kind: models.CurveKindRates},
			"JPY-OIS": {Currency: "JPY", Kind: models.CurveKindRates},
		},
		FXSpots: map[string]float64{"EURUSD": 1.10, "USDJPY": 147.0},
	}

	fx := models.Position{
		PositionID:  "POS-FX",
		ProductType: "FX_FWD",
		Attributes: models.PositionAttributes{
			Currency:   "EUR",
			Instrument: map[string]any{"pair": "EURUSD"},
		},
	}
	slice := relevantSlice(snap, fx)
	require.Contains(t, slice.Curves, "EUR-OIS")
	require.Contains(t, slice.Curves, "USD-OIS", "quote currency curve is pricing input")
	require.NotContains(t, slice.Curves, "JPY-OIS")
	require.Equal(t, map[string]float64{"EURUSD": 1.10}, slice.FXSpots)

	bond := models.Position{
		PositionID:  "POS-B",
		ProductType: "FIXED_BOND",
		Attributes:  models.PositionAttributes{Currency: "USD", Instrument: map[string]any{}},
	}
	slice = relevantSlice(snap, bond)
	require.Contains(t, slice.Curves, "USD-OIS")
	require.NotContains(t, slice.Curves, "EUR-OIS")
	require.Empty(t, slice.FXSpots)
}
